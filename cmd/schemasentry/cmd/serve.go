package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/schemasentry/internal/cache"
	"github.com/dbsmedya/schemasentry/internal/config"
	"github.com/dbsmedya/schemasentry/internal/dedup"
	"github.com/dbsmedya/schemasentry/internal/executor"
	"github.com/dbsmedya/schemasentry/internal/gateway"
	"github.com/dbsmedya/schemasentry/internal/inspector"
	"github.com/dbsmedya/schemasentry/internal/logger"
	"github.com/dbsmedya/schemasentry/internal/metrics"
	"github.com/dbsmedya/schemasentry/internal/ratelimit"
	"github.com/dbsmedya/schemasentry/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the schema intelligence service",
	Long: `Starts both transports: the HTTP tool endpoints and the persistent
NDJSON channel. The process runs until SIGINT/SIGTERM and shuts down
gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(logLevel, logFormat)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Infow("starting schemasentry", "version", Version, "commit", Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(&cfg.Database, log)
	if err := gw.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	store := cache.New(cfg.Cache.MaxEntries, cfg.Cache.SweepInterval)
	defer store.Close()

	group := dedup.New()

	limiter := ratelimit.New(cfg.RateLimit)
	defer limiter.Close()

	m := metrics.New()

	ins := inspector.New(gw, store, group, cfg.Cache, cfg.Query.FallbackOnError, log)
	exec := executor.New(gw, store, group, limiter, cfg.Query, cfg.Cache, m, log)

	srv := server.New(cfg.Server, ins, exec, store, group, limiter, m, log)
	return srv.Start(ctx)
}
