package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the current balance for a single account.
type Account struct {
	ID        string          `json:"id"`
	Email     string          `json:"email,omitempty"`
	Balance   decimal.Decimal `json:"balance"` // never negative
	Version   int64           `json:"-"`       // bumped on every balance write
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
