package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRecord is the immutable ledger entry written when a transfer settles.
// It references the key that authorised it by fingerprint only.
type TransferRecord struct {
	ID             string          `json:"id"`
	FromAccount    string          `json:"from_account"`
	ToAccount      string          `json:"to_account"`
	Amount         decimal.Decimal `json:"amount"`
	KeyFingerprint string          `json:"key_fingerprint"`
	CreatedAt      time.Time       `json:"created_at"` // server-assigned commit time (UTC)
}

// Touches reports whether the record debits or credits accountID.
func (r TransferRecord) Touches(accountID string) bool {
	return r.FromAccount == accountID || r.ToAccount == accountID
}
