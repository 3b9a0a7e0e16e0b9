// Package keys issues single-use transfer keys and enforces that each one
// authorises at most one transfer.
//
// An account has at most one live key. Issuing a new key supersedes the old
// one, consuming a key or revoking it is terminal. Only the digest of the key
// material is stored; the material itself is handed to the caller once.
package keys

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/keygen"
	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/retry"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

// DefaultLength is the number of bits in a generated key.
const DefaultLength = 128

// Options tunes a Service. Zero values select defaults.
type Options struct {
	Length  int
	Limiter interfaces.IssueLimiter
	Retry   retry.Policy
}

// Service is the key store.
type Service struct {
	store   interfaces.Store
	gen     *keygen.Generator
	limiter interfaces.IssueLimiter
	length  int
	retry   retry.Policy
	logger  *zap.Logger
	now     func() time.Time
}

// NewService builds a key store over store, drawing material from gen.
func NewService(store interfaces.Store, gen *keygen.Generator, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Length <= 0 {
		opts.Length = DefaultLength
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy
	}
	return &Service{
		store:   store,
		gen:     gen,
		limiter: opts.Limiter,
		length:  opts.Length,
		retry:   opts.Retry,
		logger:  logger.Named("keys"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Issue generates a key for the account, supersedes its previous live key and
// returns the key material. The material is not retrievable afterwards.
func (s *Service) Issue(ctx context.Context, accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", apperr.ErrMissingField
	}

	// unknown ids must not use up an account's issuance window
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return "", storage.Classify(err, apperr.ErrAccountNotFound)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, accountID)
		switch {
		case err != nil:
			// the limiter is advisory; its outage must not block key issuance
			s.logger.Warn("issue limiter unavailable", zap.String("account_id", accountID), zap.Error(err))
		case !allowed:
			return "", apperr.ErrIssueRateLimited
		}
	}

	material, err := s.gen.Generate(s.length)
	if err != nil {
		s.logger.Error("key generation failed", zap.Error(err))
		return "", err
	}

	key := models.IssuedKey{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Digest:      keygen.Digest(material),
		Fingerprint: keygen.Fingerprint(material),
		Status:      models.KeyStatusLive,
	}

	var superseded int
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := s.store.GetAccount(ctx, accountID); err != nil {
				return storage.Classify(err, apperr.ErrAccountNotFound)
			}

			key.IssuedAt = s.now()
			n, err := s.store.CloseLiveKeys(ctx, accountID, models.KeyStatusSuperseded, key.IssuedAt)
			if err != nil {
				return storage.Classify(err, nil)
			}
			superseded = n

			return storage.Classify(s.store.SaveKey(ctx, key), nil)
		})
	})
	if err != nil {
		return "", storage.Classify(err, nil)
	}

	s.logger.Info("key issued",
		zap.String("account_id", accountID),
		zap.String("key_fingerprint", key.Fingerprint),
		zap.Int("superseded", superseded),
	)
	return material, nil
}

// ValidateAndConsume checks submitted against the account's live key and, on a
// match, marks the key consumed. It joins the transaction carried by ctx, so
// when the caller's transaction rolls back the key becomes live again.
//
// Every rejection is reported as apperr.ErrInvalidKey; the reason is only logged.
func (s *Service) ValidateAndConsume(ctx context.Context, accountID, submitted string) (models.IssuedKey, error) {
	var (
		consumed models.IssuedKey
		reason   string
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		key, err := s.store.GetLiveKey(ctx, accountID)
		if errors.Is(err, storage.ErrNotFound) {
			reason = "no_live_key"
			return apperr.ErrInvalidKey
		}
		if err != nil {
			return storage.Classify(err, nil)
		}

		if !keygen.Matches(key.Digest, submitted) {
			reason = "key_mismatch"
			return apperr.ErrInvalidKey
		}

		at := s.now()
		err = s.store.CloseKey(ctx, key.ID, models.KeyStatusConsumed, at)
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			reason = "already_consumed"
			return apperr.ErrInvalidKey
		}
		if err != nil {
			return storage.Classify(err, nil)
		}

		consumed = key
		consumed.Status = models.KeyStatusConsumed
		consumed.ClosedAt = &at
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidKey) {
			s.logger.Debug("key rejected", zap.String("account_id", accountID), zap.String("reason", reason))
		}
		return models.IssuedKey{}, storage.Classify(err, nil)
	}

	return consumed, nil
}

// Invalidate revokes the account's live key, if it has one.
func (s *Service) Invalidate(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return apperr.ErrMissingField
	}

	var revoked int
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := s.store.GetAccount(ctx, accountID); err != nil {
				return storage.Classify(err, apperr.ErrAccountNotFound)
			}
			n, err := s.store.CloseLiveKeys(ctx, accountID, models.KeyStatusRevoked, s.now())
			revoked = n
			return storage.Classify(err, nil)
		})
	})
	if err != nil {
		return storage.Classify(err, nil)
	}

	s.logger.Info("key invalidated", zap.String("account_id", accountID), zap.Int("revoked", revoked))
	return nil
}
