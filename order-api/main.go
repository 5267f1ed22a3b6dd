package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/command"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/config"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog/queue"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/notify"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/order-api/api"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/telemetry"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	config.ConfigureLogging(cfg.Debug)
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "order-api", cfg.Telemetry)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	backend, err := cfg.Storage.OpenBackend()
	if err != nil {
		log.Fatalf("event log backend: %v", err)
	}
	l := eventlog.New(backend, cfg.EventLog.Options(logger)...)

	// Handlers register the snapshot builders, so they exist before Open.
	cmdOpts := []command.Option{
		command.WithConflictRetries(cfg.ConflictRetries),
		command.WithLogger(logger),
	}
	svc := api.Services{
		Orders:      command.NewOrders(l, cmdOpts...),
		Restaurants: command.NewRestaurants(l, cmdOpts...),
		Users:       command.NewUsers(l, cmdOpts...),
	}
	l.Open()
	defer func() {
		if err := l.Close(); err != nil {
			logger.WithError(err).Error("event log close failed")
		}
	}()

	store, err := cfg.Storage.OpenReadModel()
	if err != nil {
		log.Fatalf("read model: %v", err)
	}
	svc.Reader = store

	var (
		rc      *redis.Client
		deduper api.Deduper
		cache   *projection.Cache
	)
	if cfg.Redis.Enabled() {
		if rc, err = cfg.Redis.Client(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		cache = projection.NewCache(store, rc, cfg.Redis.CacheTTL, cfg.Redis.UpdatesChannel)
		svc.Reader = cache
		svc.Ready = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; idempotency keys, order cache and notifications are disabled")
	}

	if cfg.Storage.EventsQueue != "" {
		qc, err := queue.NewClient(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		queue.NewRelay(qc).Attach(l)
		logger.Infof("relaying committed events to queue %s", cfg.Storage.EventsQueue)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.InlineProjectors {
		opts := []projection.Option{projection.WithLogger(logger)}
		if cache != nil {
			opts = append(opts, projection.WithAfterApply(cache.AfterApply))
		}
		projectors := projection.NewSet(l, store, opts...)
		projectors.Start()
		defer projectors.Stop()
		g.Go(func() error { return projectors.Run(gctx, cfg.ReconcileInterval) })

		if rc != nil {
			d := notify.NewDispatcher(store, notify.NewRedisPublisher(rc, cfg.Notify.Channel), cfg.Notify, logger)
			g.Go(func() error { return d.Run(gctx) })
		}
	}

	auth, err := api.NewAuthenticator(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key", "X-Source", "X-Correlation-ID"},
	}))
	e.Use(echoprometheus.NewMiddleware("order_api"))
	e.GET("/metrics", echoprometheus.NewHandler())
	api.Register(e, svc, auth, deduper, logger)

	g.Go(func() error {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("order-api stopped")
	}
}
