// Package ratelimit throttles key issuance per account with a fixed window
// counter kept in Redis, so the limit holds across service instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
)

const keyPrefix = "ratelimit:key-issue:"

// incrWindow counts a hit and opens the window in the same step. A counter
// found without a TTL gets one, so no account can be throttled forever.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisIssueLimiter allows at most Limit issuances per account per Window.
type RedisIssueLimiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
}

// NewRedisIssueLimiter returns nil when client is nil or limit or window is
// not positive. A nil limiter allows everything.
func NewRedisIssueLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisIssueLimiter {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	if window < time.Millisecond {
		window = time.Millisecond
	}
	return &RedisIssueLimiter{client: client, limit: int64(limit), window: window}
}

// Allow counts one issuance attempt for accountID and reports whether it is
// within the limit.
func (l *RedisIssueLimiter) Allow(ctx context.Context, accountID string) (bool, error) {
	if l == nil {
		return true, nil
	}

	key := keyPrefix + accountID

	n, err := incrWindow.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis issue counter: %w", err)
	}

	return n <= l.limit, nil
}

var _ interfaces.IssueLimiter = (*RedisIssueLimiter)(nil)
