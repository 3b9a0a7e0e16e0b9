package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage/storagetest"
)

func newLedger(t *testing.T, store interfaces.Store) *Ledger {
	t.Helper()
	return NewLedger(store, zaptest.NewLogger(t))
}

func open(t *testing.T, l *Ledger, id, email string, balance string) {
	t.Helper()
	_, err := l.OpenAccount(context.Background(), id, email, decimal.RequireFromString(balance))
	require.NoError(t, err)
}

func TestOpenAccount(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, store interfaces.Store) {
		ctx := context.Background()
		l := newLedger(t, store)

		a, err := l.OpenAccount(ctx, " alice ", " Alice@Example.COM ", decimal.NewFromInt(50))
		require.NoError(t, err)
		assert.Equal(t, "alice", a.ID)
		assert.Equal(t, "alice@example.com", a.Email)

		_, err = l.OpenAccount(ctx, "alice", "", decimal.Zero)
		assert.ErrorIs(t, err, apperr.ErrAccountExists)

		_, err = l.OpenAccount(ctx, "", "", decimal.Zero)
		assert.ErrorIs(t, err, apperr.ErrMissingField)

		_, err = l.OpenAccount(ctx, "bob", "", decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

		_, err = l.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, apperr.ErrAccountNotFound)
	})
}

func TestResolveByEmail(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, store interfaces.Store) {
		ctx := context.Background()
		l := newLedger(t, store)
		open(t, l, "bob", "bob@example.com", "0")

		id, err := l.ResolveByEmail(ctx, "  BOB@example.com")
		require.NoError(t, err)
		assert.Equal(t, "bob", id)

		_, err = l.ResolveByEmail(ctx, "ghost@example.com")
		assert.ErrorIs(t, err, apperr.ErrRecipientNotFound)

		_, err = l.ResolveByEmail(ctx, " ")
		assert.ErrorIs(t, err, apperr.ErrRecipientNotFound)
	})
}

func TestCheckAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"1", true},
		{"0.000000000000000001", true},
		{"1.500000000000000000000", true}, // trailing zeros do not add precision
		{"99999999999999999999.999999999999999999", true},
		{"0.0000000000000000005", false},
		{"100.0000000000000000001", false},
		{"100000000000000000000", false},
		{"-100000000000000000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := CheckAmount(decimal.RequireFromString(tt.value))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestAmountsBeyondLedgerScaleAreRejected(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, store interfaces.Store) {
		ctx := context.Background()
		l := newLedger(t, store)
		open(t, l, "alice", "", "100")
		open(t, l, "bob", "", "99999999999999999999")

		_, err := l.OpenAccount(ctx, "carol", "", decimal.RequireFromString("1.0000000000000000001"))
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

		_, err = l.CommitTransfer(ctx, "alice", "bob", decimal.RequireFromString("0.0000000000000000005"), "fp")
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

		// the recipient's balance would leave the column range
		_, err = l.CommitTransfer(ctx, "alice", "bob", decimal.NewFromInt(1), "fp")
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

		alice, err := l.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, alice.Balance.Equal(decimal.NewFromInt(100)))

		records, err := l.Transfers(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestCommitTransferMovesValue(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, store interfaces.Store) {
		ctx := context.Background()
		l := newLedger(t, store)
		open(t, l, "alice", "", "100")
		open(t, l, "bob", "", "20")

		record, err := l.CommitTransfer(ctx, "alice", "bob", decimal.RequireFromString("30.5"), "fp")
		require.NoError(t, err)
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, "fp", record.KeyFingerprint)
		assert.Equal(t, "UTC", record.CreatedAt.Location().String())

		alice, _ := l.GetAccount(ctx, "alice")
		bob, _ := l.GetAccount(ctx, "bob")
		assert.True(t, alice.Balance.Equal(decimal.RequireFromString("69.5")))
		assert.True(t, bob.Balance.Equal(decimal.RequireFromString("50.5")))

		total, err := l.TotalBalance(ctx)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(120)))

		history, err := l.History(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, record.ID, history[0].ID)
	})
}

func TestCommitTransferRejections(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, store interfaces.Store) {
		ctx := context.Background()
		l := newLedger(t, store)
		open(t, l, "alice", "", "10")
		open(t, l, "bob", "", "0")

		tests := []struct {
			name   string
			from   string
			to     string
			amount decimal.Decimal
			want   error
		}{
			{"overdraft", "alice", "bob", decimal.NewFromInt(11), apperr.ErrInsufficientBalance},
			{"zero", "alice", "bob", decimal.Zero, apperr.ErrInvalidAmount},
			{"negative", "alice", "bob", decimal.NewFromInt(-5), apperr.ErrInvalidAmount},
			{"self", "alice", "alice", decimal.NewFromInt(1), apperr.ErrSelfTransfer},
			{"unknown recipient", "alice", "ghost", decimal.NewFromInt(1), apperr.ErrAccountNotFound},
			{"unknown sender", "ghost", "bob", decimal.NewFromInt(1), apperr.ErrAccountNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := l.CommitTransfer(ctx, tt.from, tt.to, tt.amount, "fp")
				assert.ErrorIs(t, err, tt.want)
			})
		}

		alice, _ := l.GetAccount(ctx, "alice")
		assert.True(t, alice.Balance.Equal(decimal.NewFromInt(10)))
		records, err := l.Transfers(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestCommitTransferDrainsExactly(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, store interfaces.Store) {
		ctx := context.Background()
		l := newLedger(t, store)
		open(t, l, "alice", "", "10")
		open(t, l, "bob", "", "0")

		_, err := l.CommitTransfer(ctx, "alice", "bob", decimal.NewFromInt(10), "fp")
		require.NoError(t, err)

		alice, _ := l.GetAccount(ctx, "alice")
		assert.True(t, alice.Balance.IsZero())
	})
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, store interfaces.Store) {
		ctx := context.Background()
		l := newLedger(t, store)
		open(t, l, "alice", "", "100")
		open(t, l, "bob", "", "0")

		const (
			workers = 25
			amount  = 7
		)
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.CommitTransfer(ctx, "alice", "bob", decimal.NewFromInt(amount), "fp")
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
			}()
		}
		wg.Wait()

		assert.Equal(t, 100/amount, successes)

		alice, _ := l.GetAccount(ctx, "alice")
		bob, _ := l.GetAccount(ctx, "bob")
		assert.True(t, alice.Balance.Equal(decimal.NewFromInt(100-int64(successes*amount))))
		assert.False(t, alice.Balance.IsNegative())
		assert.True(t, alice.Balance.Add(bob.Balance).Equal(decimal.NewFromInt(100)))

		records, _ := l.Transfers(ctx)
		assert.Len(t, records, successes)
	})
}
