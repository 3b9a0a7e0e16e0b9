package events

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
)

// BreakerConfig controls when the breaker opens and how long it stays open.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	Timeout             time.Duration // time spent open before probing again
	MaxRequests         uint32        // probes allowed while half-open
}

// DefaultBreakerConfig opens after five straight failures and probes every 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		MaxRequests:         1,
	}
}

// BreakerPublisher stops calling a failing broker for a while instead of
// adding its timeout to every request.
type BreakerPublisher struct {
	next interfaces.EventPublisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps next in a circuit breaker named name.
func NewBreakerPublisher(name string, next interfaces.EventPublisher, cfg BreakerConfig, logger *zap.Logger) *BreakerPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("publisher circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerPublisher) Publish(ctx context.Context, topic string, event any) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, topic, event)
	})
	return err
}

// State reports the breaker state, mainly for health output.
func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}

var _ interfaces.EventPublisher = (*BreakerPublisher)(nil)
