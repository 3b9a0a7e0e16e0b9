// Package sqldb implements interfaces.Store on a SQL database through bun.
//
// Two backends are supported: PostgreSQL (lib/pq) for production and SQLite
// (modernc, pure Go) for single-node deployments and tests. Balance moves lock
// the affected rows with SELECT ... FOR UPDATE on PostgreSQL; SQLite runs on a
// single connection, which serialises transactions. Every balance write also
// carries a version check, so a lost race surfaces as storage.ErrConflict
// rather than a silent overwrite.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = time.Minute
)

// Options configures Open.
type Options struct {
	Type         string // TypePostgres or TypeSQLite
	DSN          string
	MaxOpenConns int // PostgreSQL only; SQLite always uses one connection
	Logger       *zap.Logger
}

// SQLLedgerStore is the bun-backed implementation of interfaces.Store.
type SQLLedgerStore struct {
	db     *bun.DB
	logger *zap.Logger
}

// Open connects to the database described by opts. It does not create the
// schema; call Migrate for that.
func Open(opts Options) (*SQLLedgerStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		sqlDB *sql.DB
		bunDB *bun.DB
		err   error
	)

	switch opts.Type {
	case TypePostgres:
		// lib/pq registers itself as "postgres"
		sqlDB, err = sql.Open("postgres", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		maxOpen := opts.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = defaultMaxOpenConns
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(min(maxOpen, defaultMaxIdleConns))
		sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(defaultConnMaxIdleTime)
		bunDB = bun.NewDB(sqlDB, pgdialect.New())
	case TypeSQLite:
		sqlDB, err = sql.Open("sqlite", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// A single connection that is never recycled keeps in-memory
		// databases alive and turns every transaction into an exclusive one.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported database type %q", opts.Type)
	}

	logger.Debug("database opened", zap.String("type", opts.Type))

	return &SQLLedgerStore{db: bunDB, logger: logger}, nil
}

// Ping verifies the database is reachable.
func (s *SQLLedgerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLLedgerStore) Close() error {
	return s.db.Close()
}

func (s *SQLLedgerStore) isPostgres() bool {
	return s.db.Dialect().Name() == dialect.PG
}

type txKey struct{}

// WithinTx implements interfaces.Transactor.
func (s *SQLLedgerStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	// commit itself can fail with a serialization error
	return mapError(err)
}

// conn returns the transaction bound to ctx, or the pool.
func (s *SQLLedgerStore) conn(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return s.db
}

// mapError translates driver errors into storage sentinels. Errors that are
// already sentinels pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, pqErr.Constraint)
		case "22003", "23514": // numeric_value_out_of_range, check_violation
			return fmt.Errorf("%w: %s", storage.ErrInvalidValue, pqErr.Message)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch {
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s", storage.ErrConflict, liteErr.Error())
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, liteErr.Error())
		case code == sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%w: %s", storage.ErrInvalidValue, liteErr.Error())
		}
		return err
	}

	// conservative fallback for wrapped driver errors
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, err.Error())
	}
	return err
}

var _ interfaces.Store = (*SQLLedgerStore)(nil)
