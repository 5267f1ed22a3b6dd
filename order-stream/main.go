package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/config"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/order-api/api"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/order-stream/stream"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/telemetry"
)

func main() {
	cfg, err := config.LoadStream()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	config.ConfigureLogging(cfg.Debug)
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "order-stream", cfg.Telemetry)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, err := cfg.Storage.OpenReadModel()
	if err != nil {
		log.Fatalf("read model: %v", err)
	}
	rc, err := cfg.Redis.Client()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rc.Close()
	// Views come from the cache the projectors keep current.
	reader := projection.NewCache(store, rc, cfg.Redis.CacheTTL, "")

	auth, err := api.NewAuthenticator(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	hub := stream.NewHub(cfg.Buffer)
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	stream.Register(e, hub, reader, auth, cfg.Heartbeat, logger)

	g, gctx := errgroup.WithContext(ctx)
	// Open streams end with the process context, otherwise Shutdown waits on them.
	e.Server.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		stream.Listen(gctx, rc, cfg.Redis.UpdatesChannel, hub, logger)
		return nil
	})
	g.Go(func() error {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("order-stream stopped")
	}
}
