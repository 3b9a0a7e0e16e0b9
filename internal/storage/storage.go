// Package storage holds what every backend shares: the sentinel errors that
// repositories return and the services translate into apperr kinds.
package storage

import (
	"errors"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a guarded write lost a race (version
	// mismatch, key already closed, serialization failure). Callers retry the
	// whole transaction, never the single statement.
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicate is returned when inserting a record whose id already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidValue is returned when the database refuses a value, such as a
	// number outside a column's precision or a failed CHECK constraint.
	ErrInvalidValue = errors.New("value rejected by storage")
)

// Classify converts a repository error into the apperr taxonomy. notFound is
// returned for ErrNotFound so each caller can name what was missing. Errors
// that are already classified pass through unchanged.
func Classify(err error, notFound *apperr.Error) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, ErrInvalidValue):
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAmount, "amount is out of range", err)
	case errors.Is(err, ErrConflict):
		return apperr.Wrap(apperr.KindConflict, apperr.CodeStorageConflict, apperr.ErrStorageConflict.Message, err)
	default:
		return apperr.Wrap(apperr.KindUnavailable, apperr.CodeStorageUnavailable, apperr.ErrStorageUnavailable.Message, err)
	}
}

// IsDuplicate reports whether err is, or wraps, ErrDuplicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
