package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"carflow/config"
	"carflow/services"
	"carflow/storage"
	"carflow/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "carflow: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	store  *storage.PostgresStore
}

// openApp loads configuration, builds the logger and connects to Postgres.
func openApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := utils.NewLogger(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger.Info("[carflow] Connecting to %s", config.RedactedDSN(cfg.DSN()))

	store, err := storage.NewPostgresStore(ctx, cfg.DSN(), logger)
	if err != nil {
		logger.Error("[carflow] Failed to connect to PostgreSQL: %v", err)
		logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("[carflow] Closing store: %v", err)
	}
	a.logger.Sync()
}

func (a *app) aggregator() (*services.Aggregator, error) {
	loc, err := a.cfg.MonthLocation()
	if err != nil {
		return nil, err
	}
	return services.NewAggregator(a.store, services.AggregatorConfig{
		Location:    loc,
		MaxGroups:   a.cfg.MaxSummaryGroups,
		ChunkSize:   a.cfg.BatchChunkSize,
		MaxAttempts: a.cfg.MaxRetries,
		BaseDelay:   a.cfg.RetryBaseDelay(),
	}, a.logger), nil
}

// openCache connects the catalog cache when REDIS_ADDR is set. A nil cache
// means the catalog is served uncached.
func (a *app) openCache(ctx context.Context) *storage.RedisCache {
	if a.cfg.RedisAddr == "" {
		return nil
	}
	cache, err := storage.NewRedisCache(ctx, a.cfg.RedisAddr, a.cfg.CacheTTL, a.store, a.logger)
	if err != nil {
		a.logger.Warn("[carflow] Redis unavailable, catalog cache disabled: %v", err)
		return nil
	}
	return cache
}

// cacheInvalidator is the part of the catalog cache a committed run touches.
type cacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// invalidateOnCommit drops cached catalog lists after every committed run,
// whichever process ran it.
func invalidateOnCommit(agg *services.Aggregator, cache cacheInvalidator, logger *utils.Logger) {
	agg.OnCommit(services.CommitListenerFunc(func(ctx context.Context, r services.RunReport) {
		if err := cache.Invalidate(ctx); err != nil {
			logger.Warn("[cache] Invalidation after run %s failed: %v", r.RunID, err)
		}
	}))
}
