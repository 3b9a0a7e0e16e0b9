// Package retry re-runs operations that failed on a transient storage conflict.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

const maxShift = 62

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy is used when a service is built without an explicit policy.
var DefaultPolicy = Policy{MaxAttempts: 5, BaseDelay: 5 * time.Millisecond}

// Exponential returns base * 2^attempt, saturating instead of overflowing.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return delay / 2
	}
	return time.Duration(n.Int64())
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, fails with anything other than a storage
// conflict, or runs out of attempts. Exhaustion is reported as an Unavailable
// error wrapping the last conflict.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := SleepWithContext(ctx, FullJitter(Exponential(p.BaseDelay, attempt-1))); werr != nil {
				return werr
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}

	return apperr.Wrap(apperr.KindUnavailable, apperr.CodeStorageUnavailable,
		"storage is busy, try again later", err)
}

func retryable(err error) bool {
	return errors.Is(err, apperr.ErrStorageConflict) || errors.Is(err, storage.ErrConflict)
}
