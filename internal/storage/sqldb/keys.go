package sqldb

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

type issuedKeyRow struct {
	bun.BaseModel `bun:"table:issued_keys,alias:k"`

	ID          string     `bun:"id,pk"`
	AccountID   string     `bun:"account_id"`
	Digest      string     `bun:"digest"`
	Fingerprint string     `bun:"fingerprint"`
	Status      string     `bun:"status"`
	IssuedAt    time.Time  `bun:"issued_at"`
	ClosedAt    *time.Time `bun:"closed_at"`
}

func (r issuedKeyRow) model() models.IssuedKey {
	k := models.IssuedKey{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Digest:      r.Digest,
		Fingerprint: r.Fingerprint,
		Status:      models.KeyStatus(r.Status),
		IssuedAt:    r.IssuedAt.UTC(),
	}
	if r.ClosedAt != nil {
		closed := r.ClosedAt.UTC()
		k.ClosedAt = &closed
	}
	return k
}

func (s *SQLLedgerStore) GetLiveKey(ctx context.Context, accountID string) (models.IssuedKey, error) {
	var row issuedKeyRow
	err := s.conn(ctx).NewSelect().
		Model(&row).
		Where("account_id = ?", accountID).
		Where("status = ?", string(models.KeyStatusLive)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return models.IssuedKey{}, mapError(err)
	}
	return row.model(), nil
}

// SaveKey inserts a key. The partial unique index on live keys turns a second
// live key for the same account into storage.ErrConflict.
func (s *SQLLedgerStore) SaveKey(ctx context.Context, key models.IssuedKey) error {
	row := issuedKeyRow{
		ID:          key.ID,
		AccountID:   key.AccountID,
		Digest:      key.Digest,
		Fingerprint: key.Fingerprint,
		Status:      string(key.Status),
		IssuedAt:    key.IssuedAt,
		ClosedAt:    key.ClosedAt,
	}
	_, err := s.conn(ctx).NewInsert().Model(&row).Exec(ctx)
	err = mapError(err)
	if errors.Is(err, storage.ErrDuplicate) && key.Status == models.KeyStatusLive {
		return storage.ErrConflict
	}
	return err
}

// CloseKey flips a live key to status. The status predicate makes this the
// single point where two concurrent consumers are told apart: only one UPDATE
// can match the live row.
func (s *SQLLedgerStore) CloseKey(ctx context.Context, keyID string, status models.KeyStatus, at time.Time) error {
	res, err := s.conn(ctx).NewUpdate().
		Table("issued_keys").
		Set("status = ?", string(status)).
		Set("closed_at = ?", at).
		Where("id = ?", keyID).
		Where("status = ?", string(models.KeyStatusLive)).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	exists, err := s.conn(ctx).NewSelect().Table("issued_keys").Where("id = ?", keyID).Exists(ctx)
	if err != nil {
		return mapError(err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *SQLLedgerStore) CloseLiveKeys(ctx context.Context, accountID string, status models.KeyStatus, at time.Time) (int, error) {
	res, err := s.conn(ctx).NewUpdate().
		Table("issued_keys").
		Set("status = ?", string(status)).
		Set("closed_at = ?", at).
		Where("account_id = ?", accountID).
		Where("status = ?", string(models.KeyStatusLive)).
		Exec(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
