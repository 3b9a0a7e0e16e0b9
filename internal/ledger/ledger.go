package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

// Scale is the number of fractional digits a balance or amount may carry. The
// SQL balance columns are NUMERIC(38, 18), so values are limited to 20
// integer digits as well.
const Scale = 18

var maxValue = decimal.New(1, 38-Scale)

var errAmountOutOfRange = apperr.New(apperr.KindValidation, apperr.CodeInvalidAmount,
	"amount must have at most 18 decimal places and fewer than 21 integer digits")

// CheckAmount rejects values that the ledger cannot store exactly.
func CheckAmount(v decimal.Decimal) error {
	if !v.Equal(v.Truncate(Scale)) || v.Abs().GreaterThanOrEqual(maxValue) {
		return errAmountOutOfRange
	}
	return nil
}

// Ledger owns account balances and the transfer log.
// CommitTransfer is the only code path that moves money between accounts.
type Ledger struct {
	store  interfaces.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger on top of the given store.
func NewLedger(store interfaces.Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		logger: logger.Named("ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OpenAccount creates an account holding an opening balance. This is the
// only way value enters the system; transfers only move it.
func (l *Ledger) OpenAccount(ctx context.Context, id, email string, opening decimal.Decimal) (models.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Account{}, apperr.ErrMissingField
	}
	if opening.IsNegative() {
		return models.Account{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidAmount, "opening balance must not be negative")
	}
	if err := CheckAmount(opening); err != nil {
		return models.Account{}, err
	}

	now := l.now()
	account := models.Account{
		ID:        id,
		Email:     NormalizeEmail(email),
		Balance:   opening,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.store.CreateAccount(ctx, account); err != nil {
		if storage.IsDuplicate(err) {
			return models.Account{}, apperr.ErrAccountExists
		}
		return models.Account{}, storage.Classify(err, nil)
	}

	l.logger.Info("account opened",
		zap.String("account_id", account.ID),
		zap.String("opening_balance", opening.String()),
	)
	return account, nil
}

func (l *Ledger) GetAccount(ctx context.Context, id string) (models.Account, error) {
	account, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return models.Account{}, storage.Classify(err, apperr.ErrAccountNotFound)
	}
	return account, nil
}

// ResolveByEmail returns the id of the account registered with email.
func (l *Ledger) ResolveByEmail(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", apperr.ErrRecipientNotFound
	}
	account, err := l.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return "", storage.Classify(err, apperr.ErrRecipientNotFound)
	}
	return account.ID, nil
}

// CommitTransfer moves amount from one account to another and appends the
// transfer record. Both balances and the record are written in one store
// transaction (or the caller's, if ctx carries one), with the rows locked
// between the balance check and the writes.
func (l *Ledger) CommitTransfer(ctx context.Context, from, to string, amount decimal.Decimal, keyFingerprint string) (models.TransferRecord, error) {
	if !amount.IsPositive() {
		return models.TransferRecord{}, apperr.ErrInvalidAmount
	}
	if err := CheckAmount(amount); err != nil {
		return models.TransferRecord{}, err
	}
	if from == to {
		return models.TransferRecord{}, apperr.ErrSelfTransfer
	}

	var record models.TransferRecord
	err := l.store.WithinTx(ctx, func(ctx context.Context) error {
		accounts, err := l.store.LockAccounts(ctx, from, to)
		if err != nil {
			return storage.Classify(err, apperr.ErrAccountNotFound)
		}
		sender, recipient := accounts[from], accounts[to]

		if sender.Balance.LessThan(amount) {
			return apperr.ErrInsufficientBalance
		}
		if err := CheckAmount(recipient.Balance.Add(amount)); err != nil {
			return err
		}

		now := l.now()
		if err := l.store.UpdateBalance(ctx, sender.ID, sender.Balance.Sub(amount), sender.Version, now); err != nil {
			return storage.Classify(err, apperr.ErrAccountNotFound)
		}
		if err := l.store.UpdateBalance(ctx, recipient.ID, recipient.Balance.Add(amount), recipient.Version, now); err != nil {
			return storage.Classify(err, apperr.ErrAccountNotFound)
		}

		record = models.TransferRecord{
			ID:             uuid.New().String(),
			FromAccount:    from,
			ToAccount:      to,
			Amount:         amount,
			KeyFingerprint: keyFingerprint,
			CreatedAt:      now,
		}
		return storage.Classify(l.store.SaveTransfer(ctx, record), nil)
	})
	if err != nil {
		return models.TransferRecord{}, storage.Classify(err, nil)
	}
	return record, nil
}

// History returns every transfer that debited or credited the account, in commit order.
func (l *Ledger) History(ctx context.Context, accountID string) ([]models.TransferRecord, error) {
	if _, err := l.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	records, err := l.store.GetTransfersByAccount(ctx, accountID)
	if err != nil {
		return nil, storage.Classify(err, nil)
	}
	return records, nil
}

// Transfers returns the whole transfer log in commit order.
func (l *Ledger) Transfers(ctx context.Context) ([]models.TransferRecord, error) {
	records, err := l.store.GetTransfers(ctx)
	if err != nil {
		return nil, storage.Classify(err, nil)
	}
	return records, nil
}

// TotalBalance is the sum of all balances. Transfers never change it.
func (l *Ledger) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	total, err := l.store.SumBalances(ctx)
	if err != nil {
		return decimal.Zero, storage.Classify(err, nil)
	}
	return total, nil
}
