package api

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medpolicy/internal/models"
)

type didCreateBody struct {
	Controller    string `json:"controller"`
	WalletAddress string `json:"walletAddress"`
}

func (s *Server) handleDIDCreate(w http.ResponseWriter, r *http.Request) {
	var body didCreateBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, false)
		return
	}
	controller := body.Controller
	if controller == "" {
		controller = body.WalletAddress
	}
	doc, err := s.engine.CreateIdentity(r.Context(), controller)
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "did": doc.ID, "didDocument": doc})
}

func (s *Server) handleIdentityByWallet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.DIDByWallet(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "did": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "did": doc.ID, "didDocument": doc})
}

func (s *Server) handleVerifyDID(w http.ResponseWriter, r *http.Request) {
	did := r.URL.Query().Get("did")
	if strings.TrimSpace(did) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":  false,
			"verified": false,
			"reason":   "DID parameter is required",
		})
		return
	}
	v, err := s.engine.ResolveAndVerifyDID(r.Context(), did)
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	out := map[string]any{"success": true, "verified": v.Verified, "reason": v.Reason}
	if v.Document != nil {
		out["didDocument"] = v.Document
	}
	writeJSON(w, http.StatusOK, out)
}

type uploadBody struct {
	Data string `json:"data"`
	File string `json:"file"`
}

// handleUpload 只接受 JSON 中的 base64（data 或 file），允许带 data URL 前缀。
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.writeError(w, r, models.Invalid("Multipart upload requires file upload library. Please use base64 format."), true)
		return
	}
	var body uploadBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, true)
		return
	}
	payload := body.Data
	if payload == "" {
		payload = body.File
	}
	if payload == "" {
		s.writeError(w, r, models.Invalid("File data required (base64 encoded)"), true)
		return
	}
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		s.writeError(w, r, models.Invalid("file data is not valid base64"), true)
		return
	}
	id, err := s.engine.UploadAttachment(r.Context(), data)
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "success": true, "cid": id})
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.Attachment(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.AuditTrail(r.Context(), chi.URLParam(r, "subjectId"))
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "evidence": list})
}
