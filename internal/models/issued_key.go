package models

import "time"

// KeyStatus is the lifecycle state of an issued key. Every status other than
// KeyStatusLive is terminal.
type KeyStatus string

const (
	KeyStatusLive       KeyStatus = "live"
	KeyStatusConsumed   KeyStatus = "consumed"
	KeyStatusSuperseded KeyStatus = "superseded"
	KeyStatusRevoked    KeyStatus = "revoked"
)

// IssuedKey binds a single-use authorisation key to an account.
// Raw key material is never stored, only its digest.
type IssuedKey struct {
	ID          string
	AccountID   string
	Digest      string // hex BLAKE2b-256 of the key material
	Fingerprint string // short form recorded on transfers
	Status      KeyStatus
	IssuedAt    time.Time
	ClosedAt    *time.Time // set when the key leaves the live state
}

// Closed reports whether the key can no longer authorise a transfer.
func (k IssuedKey) Closed() bool {
	return k.Status != KeyStatusLive
}
