package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/keygated-ledger/internal/api"
	"github.com/sheikh-saqib/keygated-ledger/internal/config"
	"github.com/sheikh-saqib/keygated-ledger/internal/events"
	"github.com/sheikh-saqib/keygated-ledger/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/keygen"
	"github.com/sheikh-saqib/keygated-ledger/internal/keys"
	"github.com/sheikh-saqib/keygated-ledger/internal/ledger"
	"github.com/sheikh-saqib/keygated-ledger/internal/ratelimit"
	"github.com/sheikh-saqib/keygated-ledger/internal/retry"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage/sqldb"
	"github.com/sheikh-saqib/keygated-ledger/internal/transfer"
)

// app holds the wired service and everything that must be released on exit.
type app struct {
	handler http.Handler
	closers []func() error
	logger  *zap.Logger
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	policy := retry.Policy{MaxAttempts: cfg.Transfer.MaxAttempts, BaseDelay: cfg.Transfer.RetryBase}

	keyOpts := keys.Options{Length: cfg.Keys.Length, Retry: policy}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)

		if limiter := ratelimit.NewRedisIssueLimiter(client, cfg.Keys.IssueLimit, cfg.Keys.IssueWindow); limiter != nil {
			keyOpts.Limiter = limiter
		}
	}

	var publisher interfaces.EventPublisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Brokers)
		a.closers = append(a.closers, kp.Close)
		publisher = events.NewBreakerPublisher("kafka", kp, events.DefaultBreakerConfig(), logger)
	}

	gen := keygen.NewGenerator(keygen.NewCryptoSource(nil))
	keyService := keys.NewService(store, gen, logger, keyOpts)
	ledgerService := ledger.NewLedger(store, logger)
	engine := transfer.NewEngine(store, keyService, ledgerService, logger, transfer.Options{
		Publisher: publisher,
		Topic:     cfg.Kafka.Topic,
		Retry:     policy,
	})

	var ready func(ctx context.Context) error
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		ready = p.Ping
	}

	a.handler = api.NewHandler(ledgerService, keyService, engine, ready, logger).Routes()
	return a, nil
}

// openStore builds the configured backend. SQL stores are migrated before
// they are returned.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (interfaces.Store, func() error, error) {
	switch cfg.Database.Type {
	case "memory":
		return memory.NewMemoryLedgerStore(), func() error { return nil }, nil
	case sqldb.TypeSQLite, sqldb.TypePostgres:
		s, err := sqldb.Open(sqldb.Options{
			Type:         cfg.Database.Type,
			DSN:          cfg.Database.DSN,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := s.Ping(ctx); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("database unreachable: %w", err), s.Close())
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, nil, errors.Join(err, s.Close())
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}
