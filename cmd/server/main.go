package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/keygated-ledger/internal/config"
	"github.com/sheikh-saqib/keygated-ledger/internal/logging"
)

var version = "dev" // set by the linker

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "keygated-ledger",
		Short:        "Ledger service whose transfers are authorised by single-use keys",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./keygated-ledger.yaml)")
	cmd.PersistentFlags().String("addr", ":8080", "HTTP listen address")
	cmd.PersistentFlags().String("db-type", "memory", "storage backend: memory, sqlite or postgres")
	cmd.PersistentFlags().String("dsn", "", "database connection string")
	cmd.PersistentFlags().String("log-level", "info", "log level")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfgFile)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, cfgFile)
		},
	})

	return cmd
}

func setup(cmd *cobra.Command, cfgFile string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd, cfgFile)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func runMigrate(cmd *cobra.Command, cfgFile string) error {
	cfg, logger, err := setup(cmd, cfgFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Database.Type == "memory" {
		return errors.New("migrate needs database.type sqlite or postgres")
	}

	// building the store applies the migrations
	_, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	return closeStore()
}

func runServe(cmd *cobra.Command, cfgFile string) error {
	cfg, logger, err := setup(cmd, cfgFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("database", cfg.Database.Type),
			zap.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
