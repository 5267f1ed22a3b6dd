package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/config"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(openFromEnv, os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code := 1
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			code = exit.ExitCode()
		}
		stop()
		os.Exit(code)
	}
}

func openFromEnv(_ context.Context) (*workspace, func(), error) {
	cfg, err := config.LoadAdmin()
	if err != nil {
		return nil, nil, err
	}
	config.ConfigureLogging(cfg.Debug)
	logger := log.StandardLogger()

	backend, err := cfg.Storage.OpenBackend()
	if err != nil {
		return nil, nil, fmt.Errorf("event log backend: %w", err)
	}
	// Snapshots are taken on request only.
	l := eventlog.New(backend, eventlog.WithSnapshotInterval(0), eventlog.WithTimeout(cfg.EventLog.StoreTimeout), eventlog.WithLogger(logger))
	store, err := cfg.Storage.OpenReadModel()
	if err != nil {
		_ = l.Close()
		return nil, nil, fmt.Errorf("read model: %w", err)
	}
	if cfg.Storage.ReadModelBackend == config.BackendMemory {
		logger.Warn("READ_MODEL_BACKEND is memory; rebuild results are discarded on exit")
	}

	var (
		rc    *redis.Client
		cache *projection.Cache
	)
	if cfg.Redis.Enabled() {
		if rc, err = cfg.Redis.Client(); err != nil {
			_ = l.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		// Rebuilds refresh cached views without announcing them.
		cache = projection.NewCache(store, rc, cfg.Redis.CacheTTL, "")
	}

	ws := newWorkspace(l, store, cache, logger)
	l.Open()
	cleanup := func() {
		if err := l.Close(); err != nil {
			logger.WithError(err).Error("event log close failed")
		}
		if rc != nil {
			_ = rc.Close()
		}
	}
	return ws, cleanup, nil
}
