package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog/queue"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/notify"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

// updater republishes relayed events on the local bus, where the projectors
// pick them up. The reconcile loop repairs whatever the queue lost.
type updater struct {
	projectors projection.Set
	consumer   *queue.Consumer
	dispatcher *notify.Dispatcher
	reconcile  time.Duration
	logger     *log.Logger
}

func newUpdater(l *eventlog.Log, st projection.Store, client queue.Client, cache *projection.Cache, dispatcher *notify.Dispatcher, reconcile time.Duration, maxAttempts int, logger *log.Logger, opts ...queue.ConsumerOption) *updater {
	popts := []projection.Option{projection.WithLogger(logger), projection.WithMaxAttempts(maxAttempts)}
	if cache != nil {
		popts = append(popts, projection.WithAfterApply(cache.AfterApply))
	}
	opts = append(opts, queue.WithLogger(logger))
	return &updater{
		projectors: projection.NewSet(l, st, popts...),
		consumer:   queue.NewConsumer(client, l.Bus().Publish, opts...),
		dispatcher: dispatcher,
		reconcile:  reconcile,
		logger:     logger,
	}
}

func (u *updater) run(ctx context.Context) error {
	u.projectors.Start()
	defer u.projectors.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return u.consumer.Run(gctx) })
	g.Go(func() error { return u.projectors.Run(gctx, u.reconcile) })
	if u.dispatcher != nil {
		g.Go(func() error { return u.dispatcher.Run(gctx) })
	}
	u.logger.Info("read-model updater running")
	return g.Wait()
}
