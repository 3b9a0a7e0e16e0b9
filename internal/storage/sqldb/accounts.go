package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

type accountRow struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID        string          `bun:"id,pk"`
	Email     string          `bun:"email,nullzero"`
	Balance   decimal.Decimal `bun:"balance"`
	Version   int64           `bun:"version"`
	CreatedAt time.Time       `bun:"created_at"`
	UpdatedAt time.Time       `bun:"updated_at"`
}

func (r accountRow) model() models.Account {
	return models.Account{
		ID:        r.ID,
		Email:     r.Email,
		Balance:   r.Balance,
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type transferRow struct {
	bun.BaseModel `bun:"table:transfers,alias:t"`

	Seq            int64           `bun:"seq"`
	ID             string          `bun:"id"`
	FromAccount    string          `bun:"from_account"`
	ToAccount      string          `bun:"to_account"`
	Amount         decimal.Decimal `bun:"amount"`
	KeyFingerprint string          `bun:"key_fingerprint"`
	CreatedAt      time.Time       `bun:"created_at"`
}

func (r transferRow) model() models.TransferRecord {
	return models.TransferRecord{
		ID:             r.ID,
		FromAccount:    r.FromAccount,
		ToAccount:      r.ToAccount,
		Amount:         r.Amount,
		KeyFingerprint: r.KeyFingerprint,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (s *SQLLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	row := accountRow{
		ID:        account.ID,
		Email:     account.Email,
		Balance:   account.Balance,
		Version:   account.Version,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}
	_, err := s.conn(ctx).NewInsert().Model(&row).Exec(ctx)
	return mapError(err)
}

func (s *SQLLedgerStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	var row accountRow
	err := s.conn(ctx).NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return models.Account{}, mapError(err)
	}
	return row.model(), nil
}

func (s *SQLLedgerStore) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	var row accountRow
	err := s.conn(ctx).NewSelect().Model(&row).Where("email = ?", email).Limit(1).Scan(ctx)
	if err != nil {
		return models.Account{}, mapError(err)
	}
	return row.model(), nil
}

// LockAccounts selects the rows in id order; on PostgreSQL the rows stay
// locked until the enclosing transaction ends. Locking in a fixed order keeps
// two transfers between the same pair of accounts from deadlocking.
func (s *SQLLedgerStore) LockAccounts(ctx context.Context, ids ...string) (map[string]models.Account, error) {
	var rows []accountRow
	q := s.conn(ctx).NewSelect().Model(&rows).Where("id IN (?)", bun.In(ids)).Order("id ASC")
	if s.isPostgres() {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapError(err)
	}

	result := make(map[string]models.Account, len(rows))
	for _, r := range rows {
		result[r.ID] = r.model()
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, storage.ErrNotFound
		}
	}
	return result, nil
}

func (s *SQLLedgerStore) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, expectedVersion int64, at time.Time) error {
	res, err := s.conn(ctx).NewUpdate().
		Table("accounts").
		Set("balance = ?", balance).
		Set("version = version + 1").
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *SQLLedgerStore) SaveTransfer(ctx context.Context, record models.TransferRecord) error {
	row := transferRow{
		ID:             record.ID,
		FromAccount:    record.FromAccount,
		ToAccount:      record.ToAccount,
		Amount:         record.Amount,
		KeyFingerprint: record.KeyFingerprint,
		CreatedAt:      record.CreatedAt,
	}
	// seq is assigned by the database and defines commit order
	_, err := s.conn(ctx).NewInsert().Model(&row).ExcludeColumn("seq").Exec(ctx)
	return mapError(err)
}

func (s *SQLLedgerStore) GetTransfersByAccount(ctx context.Context, accountID string) ([]models.TransferRecord, error) {
	var rows []transferRow
	err := s.conn(ctx).NewSelect().
		Model(&rows).
		WhereOr("from_account = ?", accountID).
		WhereOr("to_account = ?", accountID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return transferModels(rows), nil
}

func (s *SQLLedgerStore) GetTransfers(ctx context.Context) ([]models.TransferRecord, error) {
	var rows []transferRow
	if err := s.conn(ctx).NewSelect().Model(&rows).Order("seq ASC").Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	return transferModels(rows), nil
}

// SumBalances adds balances in Go; SQLite stores them as text.
func (s *SQLLedgerStore) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	var balances []string
	err := s.conn(ctx).NewSelect().Table("accounts").Column("balance").Scan(ctx, &balances)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum balances: %w", mapError(err))
	}
	total := decimal.Zero
	for _, raw := range balances {
		b, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum balances: %w", err)
		}
		total = total.Add(b)
	}
	return total, nil
}

func transferModels(rows []transferRow) []models.TransferRecord {
	out := make([]models.TransferRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}
