package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"playerpoints/internal/admin"
	"playerpoints/pkg/config"
	"playerpoints/pkg/logger"
	"playerpoints/pkg/store"

	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// app bundles everything a command needs once the store is up
type app struct {
	cfg    *config.AppConfig
	logger *logger.Logger
	store  *store.PointsStore
}

func bootstrap(ctx context.Context, opts *rootOptions) (*app, error) {
	// 1. Load config
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize logger. store.debug implies debug level so its lines are visible.
	level := cfg.LogLevel
	if cfg.Store.Debug {
		level = "debug"
	}
	l, err := logger.New(logger.Config{
		Level:       level,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	l.Debug("pointsctl initializing", zap.String("env", cfg.Environment))

	// 3. Initialize the points store
	s, err := store.New(ctx, store.PoolDialer(store.PoolConfig{
		DSN:      cfg.Database.DSN(),
		Schema:   cfg.Database.Schema,
		MinConns: int32(cfg.Database.MinConns),
		MaxConns: int32(cfg.Database.MaxConns),
	}), store.Options{
		Table:                cfg.Database.Table,
		Debug:                cfg.Store.Debug,
		RetryLimit:           cfg.Store.RetryLimit,
		RetryInitialInterval: cfg.Store.RetryInitialInterval,
		RetryMaxInterval:     cfg.Store.RetryMaxInterval,
		ConnectTimeout:       cfg.Database.ConnectTimeout,
	}, l)
	if err != nil {
		l.Sync()
		return nil, err
	}

	return &app{cfg: cfg, logger: l, store: s}, nil
}

func (a *app) service(opts *rootOptions) *admin.Service {
	return admin.NewService(a.logger, a.store, os.Stdout, opts.json)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close store", err)
	}
	a.logger.Sync()
}
