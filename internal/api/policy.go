package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medpolicy/internal/lifecycle"
	"medpolicy/internal/models"
	"medpolicy/internal/request"
)

type policyRequestBody struct {
	PatientDID     string            `json:"patientDid"`
	PatientAddress string            `json:"patientAddress"`
	CoverageAmount models.FlexString `json:"coverageAmount"`
	Details        json.RawMessage   `json:"details"`
}

func (s *Server) handlePolicyRequest(w http.ResponseWriter, r *http.Request) {
	var body policyRequestBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, false)
		return
	}
	req, err := s.engine.SubmitRequest(r.Context(), &request.SubmitInput{
		PatientDID:     body.PatientDID,
		PatientAddress: body.PatientAddress,
		CoverageAmount: string(body.CoverageAmount),
		Details:        body.Details,
	})
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": req})
}

func (s *Server) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListRequests(r.Context())
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "requests": list})
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.GetRequest(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": req})
}

type policyRejectBody struct {
	RequestID  string `json:"requestId"`
	Reason     string `json:"reason"`
	InsurerDID string `json:"insurerDid"`
}

func (s *Server) handlePolicyReject(w http.ResponseWriter, r *http.Request) {
	var body policyRejectBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, true)
		return
	}
	req, err := s.engine.RejectRequest(r.Context(), body.RequestID, body.Reason, body.InsurerDID)
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"success": true,
		"message": "Policy request rejected successfully",
		"request": req,
	})
}

type policyApproveBody struct {
	RequestID           string         `json:"requestId"`
	IssuerDID           string         `json:"issuerDid"`
	Data                map[string]any `json:"data"`
	CreateOnChainPolicy bool           `json:"createOnChainPolicy"`
	PrivateKey          string         `json:"privateKey"`
}

func (s *Server) handlePolicyApprove(w http.ResponseWriter, r *http.Request) {
	var body policyApproveBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, true)
		return
	}
	anchor := body.CreateOnChainPolicy
	if v, ok := body.Data["createOnChainPolicy"].(bool); ok {
		anchor = anchor || v
		delete(body.Data, "createOnChainPolicy")
	}
	res, err := s.engine.ApproveAndIssue(r.Context(), &request.ApproveInput{
		RequestID:  body.RequestID,
		IssuerDID:  body.IssuerDID,
		Data:       body.Data,
		Anchor:     anchor,
		SigningKey: body.PrivateKey,
	})
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	out := map[string]any{
		"ok":      true,
		"success": true,
		"request": res.Request,
		"vc":      res.Issued.VC,
		"jwt":     res.Issued.JWT,
		"cid":     res.Issued.CID,
		"txHash":  res.Chain.Hash(),
	}
	if anchor && res.Chain.Err != nil {
		out["chainError"] = res.Chain.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

type issueBody struct {
	IssuerDID           string         `json:"issuerDid"`
	SubjectDID          string         `json:"subjectDid"`
	Role                string         `json:"role"`
	Data                map[string]any `json:"data"`
	CreateOnChainPolicy bool           `json:"createOnChainPolicy"`
	PrivateKey          string         `json:"privateKey"`
}

// handleIssue data.requestId 指向投保申请时走审批签发（404 / 409 照常返回），否则为通用签发。
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var body issueBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, false)
		return
	}
	anchor := body.CreateOnChainPolicy
	if v, ok := body.Data["createOnChainPolicy"].(bool); ok {
		anchor = anchor || v
	}
	res, err := s.engine.IssueCredential(r.Context(), &lifecycle.IssueInput{
		IssuerDID:  body.IssuerDID,
		SubjectDID: body.SubjectDID,
		Role:       body.Role,
		Data:       body.Data,
		Anchor:     anchor,
		SigningKey: body.PrivateKey,
	})
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	out := map[string]any{
		"success": true,
		"vc":      res.VC,
		"jwt":     res.JWT,
		"cid":     res.CID,
		"txHash":  res.Chain.Hash(),
	}
	if res.Request != nil {
		out["request"] = res.Request
	}
	if anchor && res.Chain.Err != nil {
		out["chainError"] = res.Chain.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCredentialForPolicy(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.CredentialForPolicy(r.Context(), chi.URLParam(r, "policyId"))
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "vc": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "vc": rec})
}
