package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/transfer"
)

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type openAccountRequest struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	account, err := h.accounts.OpenAccount(r.Context(), req.ID, req.Email, req.Balance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetAccount(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) accountHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.accounts.History(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.TransferRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type issueKeyResponse struct {
	AccountID   string `json:"account_id"`
	KeyMaterial string `json:"key_material"`
}

func (h *Handler) issueKey(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	material, err := h.keys.Issue(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, issueKeyResponse{AccountID: accountID, KeyMaterial: material})
}

func (h *Handler) invalidateKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Invalidate(r.Context(), chi.URLParam(r, "account_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	ToEmail     string          `json:"to_email"`
	Amount      decimal.Decimal `json:"amount"`
	Key         string          `json:"key"`
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.transfers.Transfer(r.Context(), transfer.Request{
		From:    req.FromAccount,
		To:      req.ToAccount,
		ToEmail: req.ToEmail,
		Amount:  req.Amount,
		Key:     req.Key,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	records, err := h.accounts.Transfers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.TransferRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
