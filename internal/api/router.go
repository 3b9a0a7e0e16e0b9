// Package api exposes the ledger over HTTP/JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/transfer"
)

// Accounts is the account side of the ledger.
type Accounts interface {
	OpenAccount(ctx context.Context, id, email string, opening decimal.Decimal) (models.Account, error)
	GetAccount(ctx context.Context, id string) (models.Account, error)
	History(ctx context.Context, accountID string) ([]models.TransferRecord, error)
	Transfers(ctx context.Context) ([]models.TransferRecord, error)
}

// Keys issues and revokes transfer keys.
type Keys interface {
	Issue(ctx context.Context, accountID string) (string, error)
	Invalidate(ctx context.Context, accountID string) error
}

// Transfers settles transfer requests.
type Transfers interface {
	Transfer(ctx context.Context, req transfer.Request) (models.TransferRecord, error)
}

// Handler serves the HTTP API.
type Handler struct {
	accounts  Accounts
	keys      Keys
	transfers Transfers
	ready     func(ctx context.Context) error
	logger    *zap.Logger
}

// NewHandler builds the API. ready, when set, backs the /health check.
func NewHandler(accounts Accounts, keys Keys, transfers Transfers, ready func(ctx context.Context) error, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		accounts:  accounts,
		keys:      keys,
		transfers: transfers,
		ready:     ready,
		logger:    logger.Named("api"),
	}
}

// Routes returns the router with middleware attached.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.openAccount)
		r.Route("/{account_id}", func(r chi.Router) {
			r.Get("/", h.getAccount)
			r.Get("/transfers", h.accountHistory)
			r.Post("/keys", h.issueKey)
			r.Delete("/keys", h.invalidateKey)
		})
	})

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.createTransfer)
		r.Get("/", h.listTransfers)
	})

	// older request shapes, kept for existing clients
	r.Post("/session-key", h.legacySessionKey)
	r.Post("/delete-key", h.legacyDeleteKey)
	r.Post("/transfer", h.legacyTransfer)

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
