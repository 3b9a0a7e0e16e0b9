package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferCompleted is published after a transfer has been committed.
type TransferCompleted struct {
	TransferID     string          `json:"transfer_id"`
	FromAccount    string          `json:"from_account"`
	ToAccount      string          `json:"to_account"`
	Amount         decimal.Decimal `json:"amount"`
	KeyFingerprint string          `json:"key_fingerprint"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// EventKey keys events by sender so one account's transfers stay ordered.
func (e TransferCompleted) EventKey() string {
	return e.FromAccount
}
