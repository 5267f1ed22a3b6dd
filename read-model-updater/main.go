package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/config"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog/queue"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/notify"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/telemetry"
)

func main() {
	log.Info("Read-Model Updater Service starting")

	cfg, err := config.LoadUpdater()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	config.ConfigureLogging(cfg.Debug)
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "read-model-updater", cfg.Telemetry)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	backend, err := cfg.Storage.OpenBackend()
	if err != nil {
		log.Fatalf("event log backend: %v", err)
	}
	// Only read here; snapshots are taken by the command service.
	l := eventlog.New(backend, eventlog.WithSnapshotInterval(0), eventlog.WithTimeout(cfg.EventLog.StoreTimeout), eventlog.WithLogger(logger))
	l.Open()
	defer l.Close()

	store, err := cfg.Storage.OpenReadModel()
	if err != nil {
		log.Fatalf("read model: %v", err)
	}

	qc, err := queue.NewClient(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	var (
		cache      *projection.Cache
		dispatcher *notify.Dispatcher
	)
	if cfg.Redis.Enabled() {
		rc, err := cfg.Redis.Client()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		cache = projection.NewCache(store, rc, cfg.Redis.CacheTTL, cfg.Redis.UpdatesChannel)
		dispatcher = notify.NewDispatcher(store, notify.NewRedisPublisher(rc, cfg.Notify.Channel), cfg.Notify, logger)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; order cache and notification delivery are disabled")
	}

	u := newUpdater(l, store, qc, cache, dispatcher, cfg.ReconcileInterval, cfg.MaxAttempts, logger,
		queue.WithBatchSize(cfg.QueueBatchSize),
		queue.WithIdleDelay(cfg.QueueIdleDelay),
	)
	if err := u.run(ctx); err != nil {
		logger.WithError(err).Error("read-model updater stopped")
	}
}
