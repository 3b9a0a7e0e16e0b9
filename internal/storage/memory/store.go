package memory

import (
	"context"
	"sync"
	"time"

	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
	"github.com/shopspring/decimal"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.Store.
//
// Transactions are serialised: WithinTx holds the write lock for the whole
// callback, and every write made inside it records an undo step that is
// replayed in reverse if the callback fails or the context is cancelled.
type MemoryLedgerStore struct {
	mu        sync.RWMutex
	accounts  map[string]models.Account
	emails    map[string]string // email -> account id
	keys      map[string]models.IssuedKey
	liveKeys  map[string]string // account id -> live key id
	transfers []models.TransferRecord
}

type txKey struct{}

type memTx struct {
	owner *MemoryLedgerStore
	undo  []func()
}

func (tx *memTx) onRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// NewMemoryLedgerStore creates and returns an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts:  make(map[string]models.Account),
		emails:    make(map[string]string),
		keys:      make(map[string]models.IssuedKey),
		liveKeys:  make(map[string]string),
		transfers: make([]models.TransferRecord, 0),
	}
}

func (m *MemoryLedgerStore) txFrom(ctx context.Context) *memTx {
	tx, ok := ctx.Value(txKey{}).(*memTx)
	if !ok || tx.owner != m {
		return nil
	}
	return tx
}

// WithinTx implements interfaces.Transactor.
func (m *MemoryLedgerStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txFrom(ctx) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{owner: m}
	err := fn(context.WithValue(ctx, txKey{}, tx))
	if err == nil {
		// a request abandoned mid-way must not leave partial writes behind
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// view runs fn with read access, reusing the write lock when ctx carries a transaction.
func (m *MemoryLedgerStore) view(ctx context.Context, fn func()) {
	if m.txFrom(ctx) != nil {
		fn()
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn()
}

// update runs fn inside the caller's transaction, or a fresh one.
func (m *MemoryLedgerStore) update(ctx context.Context, fn func(tx *memTx) error) error {
	if tx := m.txFrom(ctx); tx != nil {
		return fn(tx)
	}
	return m.WithinTx(ctx, func(ctx context.Context) error {
		return fn(m.txFrom(ctx))
	})
}

func (m *MemoryLedgerStore) putAccount(tx *memTx, account models.Account) {
	prev, existed := m.accounts[account.ID]
	m.accounts[account.ID] = account
	tx.onRollback(func() {
		if existed {
			m.accounts[account.ID] = prev
		} else {
			delete(m.accounts, account.ID)
		}
	})
}

func (m *MemoryLedgerStore) putKey(tx *memTx, key models.IssuedKey) {
	prev, existed := m.keys[key.ID]
	prevLive, hadLive := m.liveKeys[key.AccountID]

	m.keys[key.ID] = key
	if key.Status == models.KeyStatusLive {
		m.liveKeys[key.AccountID] = key.ID
	} else if hadLive && prevLive == key.ID {
		delete(m.liveKeys, key.AccountID)
	}

	tx.onRollback(func() {
		if existed {
			m.keys[key.ID] = prev
		} else {
			delete(m.keys, key.ID)
		}
		if hadLive {
			m.liveKeys[key.AccountID] = prevLive
		} else {
			delete(m.liveKeys, key.AccountID)
		}
	})
}

// CreateAccount stores a new account. Ids and emails are unique.
func (m *MemoryLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	return m.update(ctx, func(tx *memTx) error {
		if _, exists := m.accounts[account.ID]; exists {
			return storage.ErrDuplicate
		}
		if account.Email != "" {
			if _, exists := m.emails[account.Email]; exists {
				return storage.ErrDuplicate
			}
			m.emails[account.Email] = account.ID
			email := account.Email
			tx.onRollback(func() { delete(m.emails, email) })
		}
		m.putAccount(tx, account)
		return nil
	})
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	var (
		account models.Account
		ok      bool
	)
	m.view(ctx, func() {
		account, ok = m.accounts[id]
	})
	if !ok {
		return models.Account{}, storage.ErrNotFound
	}
	return account, nil
}

func (m *MemoryLedgerStore) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	var (
		account models.Account
		ok      bool
	)
	m.view(ctx, func() {
		var id string
		if id, ok = m.emails[email]; ok {
			account, ok = m.accounts[id]
		}
	})
	if !ok {
		return models.Account{}, storage.ErrNotFound
	}
	return account, nil
}

// LockAccounts returns the requested accounts. Inside a transaction the store
// lock is already held exclusively, so no further locking is needed.
func (m *MemoryLedgerStore) LockAccounts(ctx context.Context, ids ...string) (map[string]models.Account, error) {
	result := make(map[string]models.Account, len(ids))
	var missing bool
	m.view(ctx, func() {
		for _, id := range ids {
			account, ok := m.accounts[id]
			if !ok {
				missing = true
				return
			}
			result[id] = account
		}
	})
	if missing {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

func (m *MemoryLedgerStore) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, expectedVersion int64, at time.Time) error {
	return m.update(ctx, func(tx *memTx) error {
		account, ok := m.accounts[id]
		if !ok {
			return storage.ErrNotFound
		}
		if account.Version != expectedVersion {
			return storage.ErrConflict
		}
		account.Balance = balance
		account.Version++
		account.UpdatedAt = at
		m.putAccount(tx, account)
		return nil
	})
}

// SaveTransfer appends a record to the transfer log.
func (m *MemoryLedgerStore) SaveTransfer(ctx context.Context, record models.TransferRecord) error {
	return m.update(ctx, func(tx *memTx) error {
		n := len(m.transfers)
		m.transfers = append(m.transfers, record)
		tx.onRollback(func() { m.transfers = m.transfers[:n] })
		return nil
	})
}

func (m *MemoryLedgerStore) GetTransfersByAccount(ctx context.Context, accountID string) ([]models.TransferRecord, error) {
	var result []models.TransferRecord
	m.view(ctx, func() {
		for _, r := range m.transfers {
			if r.Touches(accountID) {
				result = append(result, r)
			}
		}
	})
	return result, nil
}

// GetTransfers returns a copy of the whole transfer log in commit order.
func (m *MemoryLedgerStore) GetTransfers(ctx context.Context) ([]models.TransferRecord, error) {
	var copied []models.TransferRecord
	m.view(ctx, func() {
		copied = make([]models.TransferRecord, len(m.transfers))
		copy(copied, m.transfers)
	})
	return copied, nil
}

func (m *MemoryLedgerStore) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	m.view(ctx, func() {
		for _, a := range m.accounts {
			total = total.Add(a.Balance)
		}
	})
	return total, nil
}

func (m *MemoryLedgerStore) GetLiveKey(ctx context.Context, accountID string) (models.IssuedKey, error) {
	var (
		key models.IssuedKey
		ok  bool
	)
	m.view(ctx, func() {
		var id string
		if id, ok = m.liveKeys[accountID]; ok {
			key, ok = m.keys[id]
		}
	})
	if !ok {
		return models.IssuedKey{}, storage.ErrNotFound
	}
	return key, nil
}

// SaveKey stores a new key. A second live key for the same account is a conflict.
func (m *MemoryLedgerStore) SaveKey(ctx context.Context, key models.IssuedKey) error {
	return m.update(ctx, func(tx *memTx) error {
		if _, exists := m.keys[key.ID]; exists {
			return storage.ErrDuplicate
		}
		if _, live := m.liveKeys[key.AccountID]; live && key.Status == models.KeyStatusLive {
			return storage.ErrConflict
		}
		m.putKey(tx, key)
		return nil
	})
}

func (m *MemoryLedgerStore) CloseKey(ctx context.Context, keyID string, status models.KeyStatus, at time.Time) error {
	return m.update(ctx, func(tx *memTx) error {
		key, ok := m.keys[keyID]
		if !ok {
			return storage.ErrNotFound
		}
		if key.Closed() {
			return storage.ErrConflict
		}
		key.Status = status
		closedAt := at
		key.ClosedAt = &closedAt
		m.putKey(tx, key)
		return nil
	})
}

func (m *MemoryLedgerStore) CloseLiveKeys(ctx context.Context, accountID string, status models.KeyStatus, at time.Time) (int, error) {
	closed := 0
	err := m.update(ctx, func(tx *memTx) error {
		id, ok := m.liveKeys[accountID]
		if !ok {
			return nil
		}
		key := m.keys[id]
		key.Status = status
		closedAt := at
		key.ClosedAt = &closedAt
		m.putKey(tx, key)
		closed = 1
		return nil
	})
	return closed, err
}

// Compile-time check: ensure MemoryLedgerStore implements the Store interface
var _ interfaces.Store = (*MemoryLedgerStore)(nil)
