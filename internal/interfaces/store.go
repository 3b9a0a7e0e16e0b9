package interfaces

import (
	"context"
	"time"

	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Transactor runs fn inside a single store transaction bound to the context
// passed to fn. Repository calls made with that context join the transaction;
// a nested WithinTx joins the outer one. The transaction commits only when fn
// returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountRepository persists balances and the append-only transfer log.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, id string) (models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
	// LockAccounts returns the accounts with the given ids, locked for the rest
	// of the enclosing transaction. Locks are taken in ascending id order.
	LockAccounts(ctx context.Context, ids ...string) (map[string]models.Account, error)
	// UpdateBalance writes a new balance if the stored version still equals
	// expectedVersion, otherwise it returns storage.ErrConflict.
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, expectedVersion int64, at time.Time) error
	SaveTransfer(ctx context.Context, record models.TransferRecord) error
	GetTransfersByAccount(ctx context.Context, accountID string) ([]models.TransferRecord, error)
	GetTransfers(ctx context.Context) ([]models.TransferRecord, error)
	SumBalances(ctx context.Context) (decimal.Decimal, error)
}

// KeyRepository persists issued keys.
type KeyRepository interface {
	// GetLiveKey returns the account's live key or storage.ErrNotFound.
	GetLiveKey(ctx context.Context, accountID string) (models.IssuedKey, error)
	SaveKey(ctx context.Context, key models.IssuedKey) error
	// CloseKey moves a live key to a terminal status. It returns
	// storage.ErrConflict if the key is no longer live.
	CloseKey(ctx context.Context, keyID string, status models.KeyStatus, at time.Time) error
	// CloseLiveKeys moves every live key of the account to status and reports
	// how many keys changed.
	CloseLiveKeys(ctx context.Context, accountID string, status models.KeyStatus, at time.Time) (int, error)
}

// Store is the full storage capability the services are built on.
type Store interface {
	Transactor
	AccountRepository
	KeyRepository
}
