package interfaces

import "context"

// IssueLimiter throttles how often keys are issued for one account.
type IssueLimiter interface {
	Allow(ctx context.Context, accountID string) (bool, error)
}
