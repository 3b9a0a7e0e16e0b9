package sqldb

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

//go:embed migrations
var embeddedMigrations embed.FS

type schemaMigration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version   string    `bun:"version,pk"`
	AppliedAt time.Time `bun:"applied_at"`
}

// Migrate applies the embedded migrations for the store's dialect that have
// not been recorded in schema_migrations yet.
func (s *SQLLedgerStore) Migrate(ctx context.Context) error {
	start := time.Now()

	dir := "migrations/" + TypeSQLite
	if s.isPostgres() {
		dir = "migrations/" + TypePostgres
	}

	entries, err := fs.ReadDir(embeddedMigrations, dir)
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations (%s): %w", dir, err)
	}

	var ups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	if _, err := s.db.NewCreateTable().Model((*schemaMigration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, name := range ups {
		version := strings.TrimSuffix(name, ".up.sql")

		applied, err := s.db.NewSelect().Model((*schemaMigration)(nil)).Where("version = ?", version).Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", version, err)
		}
		if applied {
			continue
		}

		body, err := fs.ReadFile(embeddedMigrations, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, stmt := range strings.Split(string(body), ";") {
				if strings.TrimSpace(stmt) == "" {
					continue
				}
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.NewInsert().Model(&schemaMigration{Version: version, AppliedAt: time.Now().UTC()}).Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", version, err)
		}
		s.logger.Info("migration applied", zap.String("version", version))
	}

	s.logger.Debug("migrations complete", zap.Duration("took", time.Since(start)))
	return nil
}
