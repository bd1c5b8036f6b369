package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medpolicy/pkg/ledger"
)

// LedgerHandler 暴露账本只读查询：DID 文档、批次与条目验真路径。
type LedgerHandler struct {
	Ledger ledger.Ledger
}

// NewLedgerHandler 构造账本 HTTP Handler。
func NewLedgerHandler(l ledger.Ledger) *LedgerHandler {
	return &LedgerHandler{Ledger: l}
}

// Routes 返回挂载在 /ledger 下的路由。
func (h *LedgerHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/did/{did}", h.handleDIDGet)
	r.Get("/batches/{batchID}", h.handleBatchGet)
	r.Get("/batches/{batchID}/verify", h.handleBatchVerify)
	r.Get("/proofs/{entryID}", h.handleProofGet)
	r.Get("/health", h.handleHealth)
	return r
}

// ProofResponse GET /ledger/proofs/{entryID}：路径与本地重算结果。
type ProofResponse struct {
	*ledger.MerkleProof
	Verified bool `json:"verified"`
}

// BatchVerifyResponse GET /ledger/batches/{batchID}/verify?entryId=：条目路径是否落在该批次的根上。
type BatchVerifyResponse struct {
	BatchID    string `json:"batch_id"`
	EntryID    string `json:"entry_id"`
	MerkleRoot string `json:"merkle_root"`
	Verified   bool   `json:"verified"`
	Reason     string `json:"reason,omitempty"`
}

// HealthResponse GET /ledger/health。
type HealthResponse struct {
	OK bool `json:"ok"`
}

func (h *LedgerHandler) handleDIDGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Ledger.GetDID(r.Context(), chi.URLParam(r, "did"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *LedgerHandler) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	b, err := h.Ledger.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *LedgerHandler) handleProofGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.GetMerkleProof(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProofResponse{MerkleProof: p, Verified: ledger.VerifyProof(p)})
}

func (h *LedgerHandler) handleBatchVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "batchID")
	entryID := r.URL.Query().Get("entryId")
	if entryID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entryId is required"})
		return
	}
	b, err := h.Ledger.GetBatch(ctx, batchID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	resp := BatchVerifyResponse{BatchID: b.BatchID, EntryID: entryID, MerkleRoot: b.MerkleRoot}
	p, err := h.Ledger.GetMerkleProof(ctx, entryID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		resp.Reason = "entry not anchored"
	case err != nil:
		writeLedgerError(w, err)
		return
	case p.BatchID != b.BatchID:
		resp.Reason = "entry anchored in batch " + p.BatchID
	case p.MerkleRoot != b.MerkleRoot:
		resp.Reason = "merkle root mismatch"
	case !ledger.VerifyProof(p):
		resp.Reason = "proof does not recompute to root"
	default:
		resp.Verified = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LedgerHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Ledger.Healthy(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{OK: false})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{OK: true})
}

func writeLedgerError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
