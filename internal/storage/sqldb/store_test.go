package sqldb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newSQLite(t *testing.T) *SQLLedgerStore {
	t.Helper()
	s, err := Open(Options{Type: TypeSQLite, DSN: ":memory:", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seed(t *testing.T, s *SQLLedgerStore, id, email string, balance string) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), models.Account{
		ID:        id,
		Email:     email,
		Balance:   decimal.RequireFromString(balance),
		CreatedAt: t0,
		UpdatedAt: t0,
	}))
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(Options{Type: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))

	n, err := s.db.NewSelect().Model((*schemaMigration)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAccountsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	seed(t, s, "alice", "alice@example.com", "100.25")
	seed(t, s, "bob", "", "0")

	a, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", a.Email)
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("100.25")))
	assert.True(t, a.CreatedAt.Equal(t0))

	b, err := s.GetAccountByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", b.ID)

	_, err = s.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.CreateAccount(ctx, models.Account{ID: "alice", Balance: decimal.Zero, CreatedAt: t0, UpdatedAt: t0})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	// NULL emails do not collide
	seed(t, s, "carol", "", "1")

	total, err := s.SumBalances(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("101.25")), total.String())
}

func TestUpdateBalanceVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	seed(t, s, "alice", "", "10")

	require.NoError(t, s.UpdateBalance(ctx, "alice", decimal.NewFromInt(4), 0, t0))
	assert.ErrorIs(t, s.UpdateBalance(ctx, "alice", decimal.NewFromInt(1), 0, t0), storage.ErrConflict)

	locked, err := s.LockAccounts(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked["alice"].Balance.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, int64(1), locked["alice"].Version)

	_, err = s.LockAccounts(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKeysLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	seed(t, s, "alice", "", "10")

	k1 := models.IssuedKey{ID: "k1", AccountID: "alice", Digest: "d1", Fingerprint: "f1", Status: models.KeyStatusLive, IssuedAt: t0}
	require.NoError(t, s.SaveKey(ctx, k1))

	// the partial unique index allows one live key per account
	k2 := models.IssuedKey{ID: "k2", AccountID: "alice", Digest: "d2", Fingerprint: "f2", Status: models.KeyStatusLive, IssuedAt: t0}
	assert.ErrorIs(t, s.SaveKey(ctx, k2), storage.ErrConflict)

	live, err := s.GetLiveKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "d1", live.Digest)
	assert.Nil(t, live.ClosedAt)

	n, err := s.CloseLiveKeys(ctx, "alice", models.KeyStatusSuperseded, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.SaveKey(ctx, k2))

	require.NoError(t, s.CloseKey(ctx, "k2", models.KeyStatusConsumed, t0))
	assert.ErrorIs(t, s.CloseKey(ctx, "k2", models.KeyStatusConsumed, t0), storage.ErrConflict)
	assert.ErrorIs(t, s.CloseKey(ctx, "nope", models.KeyStatusConsumed, t0), storage.ErrNotFound)

	_, err = s.GetLiveKey(ctx, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	seed(t, s, "alice", "", "10")
	seed(t, s, "bob", "", "0")
	require.NoError(t, s.SaveKey(ctx, models.IssuedKey{ID: "k1", AccountID: "alice", Digest: "d", Fingerprint: "f", Status: models.KeyStatusLive, IssuedAt: t0}))

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.CloseKey(ctx, "k1", models.KeyStatusConsumed, t0); err != nil {
			return err
		}
		if err := s.UpdateBalance(ctx, "alice", decimal.NewFromInt(0), 0, t0); err != nil {
			return err
		}
		if err := s.SaveTransfer(ctx, models.TransferRecord{ID: "t1", FromAccount: "alice", ToAccount: "bob", Amount: decimal.NewFromInt(10), KeyFingerprint: "f", CreatedAt: t0}); err != nil {
			return err
		}
		return apperr.ErrInsufficientBalance
	})
	assert.Equal(t, apperr.ErrInsufficientBalance, err, "application errors pass through unchanged")

	live, err := s.GetLiveKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "k1", live.ID)

	alice, _ := s.GetAccount(ctx, "alice")
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(10)))

	transfers, err := s.GetTransfers(ctx)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestTransfersKeepCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		seed(t, s, id, "", "0")
	}

	ids := []string{"zz", "aa", "mm"}
	pairs := [][2]string{{"alice", "bob"}, {"bob", "carol"}, {"carol", "alice"}}
	for i, id := range ids {
		require.NoError(t, s.SaveTransfer(ctx, models.TransferRecord{
			ID:             id,
			FromAccount:    pairs[i][0],
			ToAccount:      pairs[i][1],
			Amount:         decimal.RequireFromString("0.5"),
			KeyFingerprint: "f",
			CreatedAt:      t0,
		}))
	}

	all, err := s.GetTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, ids[i], r.ID)
	}
	assert.True(t, all[0].Amount.Equal(decimal.RequireFromString("0.5")))

	history, err := s.GetTransfersByAccount(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "zz", history[0].ID)
	assert.Equal(t, "mm", history[1].ID)
}

func TestMapErrorRejectedValues(t *testing.T) {
	assert.ErrorIs(t, mapError(&pq.Error{Code: "22003", Message: "numeric field overflow"}), storage.ErrInvalidValue)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "23514", Message: "violates check constraint"}), storage.ErrInvalidValue)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "40001"}), storage.ErrConflict)

	ctx := context.Background()
	s := newSQLite(t)
	_, err := s.db.ExecContext(ctx, "CREATE TABLE positive_only (v INTEGER NOT NULL CHECK (v > 0))")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "INSERT INTO positive_only (v) VALUES (0)")
	require.Error(t, err)
	assert.ErrorIs(t, mapError(err), storage.ErrInvalidValue)
}

func TestConcurrentCloseKeyHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	seed(t, s, "alice", "", "10")
	require.NoError(t, s.SaveKey(ctx, models.IssuedKey{ID: "k1", AccountID: "alice", Digest: "d", Fingerprint: "f", Status: models.KeyStatusLive, IssuedAt: t0}))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(ctx context.Context) error {
				return s.CloseKey(ctx, "k1", models.KeyStatusConsumed, t0)
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, storage.ErrConflict), err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
