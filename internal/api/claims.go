package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medpolicy/internal/claim"
	"medpolicy/internal/models"
)

func (s *Server) handleClaimList(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListClaims(r.Context())
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "claims": list})
}

func (s *Server) handleClaimsByProvider(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ClaimsByProvider(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "claims": list})
}

func (s *Server) handleClaimGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetClaim(r.Context(), chi.URLParam(r, "claimId"))
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "claim": c})
}

type claimSubmitBody struct {
	ProviderWallet     string            `json:"providerWallet"`
	PatientDIDOrWallet string            `json:"patientDidOrWallet"`
	PolicyID           string            `json:"policyId"`
	AmountWei          models.FlexString `json:"amountWei"`
	FileCIDs           flexList          `json:"fileCids"`
	TreatmentVCCID     string            `json:"treatmentVcCid"`
}

// handleClaimSubmit 响应体在理赔字段之外带 ok / success / message。
func (s *Server) handleClaimSubmit(w http.ResponseWriter, r *http.Request) {
	var body claimSubmitBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, true)
		return
	}
	c, err := s.engine.SubmitClaim(r.Context(), &claim.SubmitInput{
		ProviderWallet:     body.ProviderWallet,
		PatientDIDOrWallet: body.PatientDIDOrWallet,
		PolicyID:           body.PolicyID,
		AmountWei:          string(body.AmountWei),
		FileCIDs:           body.FileCIDs,
		TreatmentVCCID:     body.TreatmentVCCID,
	})
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	out, err := flatten(c)
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	out["ok"] = true
	out["success"] = true
	out["message"] = "Claim submitted successfully"
	writeJSON(w, http.StatusOK, out)
}

type claimDecisionBody struct {
	ClaimID        string `json:"claimId"`
	InsurerDID     string `json:"insurerDid"`
	InsurerAddress string `json:"insurerAddress"`
	PrivateKey     string `json:"privateKey"`
	Reason         string `json:"reason"`
}

func (b *claimDecisionBody) input() *claim.DecisionInput {
	return &claim.DecisionInput{
		ClaimID:        b.ClaimID,
		InsurerDID:     b.InsurerDID,
		InsurerAddress: b.InsurerAddress,
		SigningKey:     b.PrivateKey,
		Reason:         b.Reason,
	}
}

func (s *Server) handleClaimApprove(w http.ResponseWriter, r *http.Request) {
	var body claimDecisionBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, true)
		return
	}
	c, err := s.engine.ApproveClaim(r.Context(), body.input())
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "success": true, "message": "Claim approved", "claim": c})
}

func (s *Server) handleClaimReject(w http.ResponseWriter, r *http.Request) {
	var body claimDecisionBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, true)
		return
	}
	c, err := s.engine.RejectClaim(r.Context(), body.input())
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "success": true, "message": "Claim rejected", "claim": c})
}

type claimPaidBody struct {
	ClaimID    string `json:"claimId"`
	InsurerDID string `json:"insurerDid"`
}

func (s *Server) handleClaimPaid(w http.ResponseWriter, r *http.Request) {
	var body claimPaidBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, true)
		return
	}
	c, err := s.engine.MarkClaimPaid(r.Context(), body.ClaimID, body.InsurerDID)
	if err != nil {
		s.writeError(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "success": true, "message": "Claim marked as paid", "claim": c})
}

func (s *Server) handleTreatmentVerification(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.VerifyTreatment(r.Context(), chi.URLParam(r, "claimId"))
	if err != nil {
		s.writeError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "verification": v})
}

func flatten(c *models.Claim) (map[string]any, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
