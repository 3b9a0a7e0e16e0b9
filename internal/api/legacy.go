package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/keygated-ledger/internal/transfer"
)

type legacyUIDRequest struct {
	UID string `json:"uid"`
}

func (h *Handler) legacySessionKey(w http.ResponseWriter, r *http.Request) {
	var req legacyUIDRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	material, err := h.keys.Issue(r.Context(), req.UID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"quantum_key": material})
}

func (h *Handler) legacyDeleteKey(w http.ResponseWriter, r *http.Request) {
	var req legacyUIDRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.keys.Invalidate(r.Context(), req.UID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type legacyTransferRequest struct {
	FromUser   string          `json:"from_user"`
	ToUser     string          `json:"to_user"`
	ToEmail    string          `json:"to_email"`
	Amount     decimal.Decimal `json:"amount"`
	QuantumKey string          `json:"quantum_key"`
}

func (h *Handler) legacyTransfer(w http.ResponseWriter, r *http.Request) {
	var req legacyTransferRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.transfers.Transfer(r.Context(), transfer.Request{
		From:    req.FromUser,
		To:      req.ToUser,
		ToEmail: req.ToEmail,
		Amount:  req.Amount,
		Key:     req.QuantumKey,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Transfer completed successfully.",
		"transfer_id": record.ID,
	})
}
