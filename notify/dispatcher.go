// Package notify delivers the notification intents recorded by the projectors.
package notify

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

// Message is what reaches the push transport.
type Message struct {
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Type        string `json:"type"`
	ReferenceID string `json:"referenceId,omitempty"`
}

// Publisher hands a message to the push transport.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Store is the part of the read model the dispatcher needs.
type Store interface {
	PendingNotifications(ctx context.Context, dueBy time.Time, limit int) ([]projection.Notification, error)
	UpdateNotification(ctx context.Context, n projection.Notification) error
}

type Config struct {
	Channel        string        `env:"NOTIFY_CHANNEL" envDefault:"notifications"`
	Workers        int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	BatchSize      int           `env:"NOTIFY_BATCH" envDefault:"100"`
	PollInterval   time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"2s"`
	MaxAttempts    int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitial   time.Duration `env:"NOTIFY_RETRY_INITIAL" envDefault:"1s"`
	RetryMax       time.Duration `env:"NOTIFY_RETRY_MAX" envDefault:"1m"`
	PublishTimeout time.Duration `env:"NOTIFY_PUBLISH_TIMEOUT" envDefault:"5s"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher polls pending notifications and publishes them with a pool of
// workers. A failed publish is retried with exponential backoff until
// MaxAttempts, then the notification is marked failed.
type Dispatcher struct {
	cfg    Config
	store  Store
	pub    Publisher
	logger *log.Logger
	now    func() time.Time
}

func NewDispatcher(st Store, pub Publisher, cfg Config, logger *log.Logger) *Dispatcher {
	if st == nil || pub == nil {
		panic("notify.NewDispatcher: store and publisher are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Dispatcher{
		cfg:    cfg.withDefaults(),
		store:  st,
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
}

// Run dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Infof("notification dispatcher started, workers: %d, batch: %d, poll: %v", d.cfg.Workers, d.cfg.BatchSize, d.cfg.PollInterval)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Error("notification poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce publishes the pending notifications that are due and returns
// how many were delivered. Rows still backing off are left out of the batch.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.store.PendingNotifications(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	jobs := make(chan projection.Notification)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		errs      []error
	)
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				ok, err := d.deliver(ctx, n)
				mu.Lock()
				if ok {
					delivered++
				}
				if err != nil {
					errs = append(errs, err)
				}
				mu.Unlock()
			}
		}()
	}

	for _, n := range pending {
		select {
		case jobs <- n:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	return delivered, errors.Join(errs...)
}

// deliver publishes n and records the outcome. The returned error is a read
// model write failure; publish failures are recorded on the notification.
func (d *Dispatcher) deliver(ctx context.Context, n projection.Notification) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	err := d.pub.Publish(pctx, Message{
		UserID:      n.UserID,
		Title:       n.Title,
		Message:     n.Message,
		Type:        n.Type,
		ReferenceID: n.ReferenceID,
	})
	cancel()

	n.Attempts++
	if err == nil {
		at := d.now().UTC()
		n.Status = projection.NotificationDelivered
		n.DeliveredAt = &at
		n.LastError = ""
		n.NextAttemptAt = nil
		return true, d.store.UpdateNotification(ctx, n)
	}

	fields := log.Fields{"notification": n.ID, "user": n.UserID, "attempt": n.Attempts}
	n.LastError = err.Error()
	if n.Attempts >= d.cfg.MaxAttempts {
		n.Status = projection.NotificationFailed
		n.NextAttemptAt = nil
		d.logger.WithError(err).WithFields(fields).Error("notification delivery gave up")
	} else {
		next := d.now().UTC().Add(exponentialBackoff(n.Attempts, d.cfg.RetryInitial, d.cfg.RetryMax))
		n.NextAttemptAt = &next
		d.logger.WithError(err).WithFields(fields).Warn("notification delivery failed")
	}
	return false, d.store.UpdateNotification(ctx, n)
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if attempt <= 0 {
		return initial
	}
	if max <= 0 {
		max = time.Minute
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
