// Package command exposes one method per business command. Handlers validate
// input shape, load the aggregate, run its decision and persist the result.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

const tracerName = "github.com/Soyelijah/dashboard-dysaeats-sub001/command"

// ErrInvalidInput is matched by ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports malformed command input detected before the
// aggregate is loaded. It also matches domain.ErrInvariantViolation so
// callers can treat every rejected command alike.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput || target == domain.ErrInvariantViolation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type options struct {
	retries int
	tracer  trace.Tracer
	newID   func() string
	logger  *log.Logger
}

// Option configures a handler.
type Option func(*options)

// WithConflictRetries reloads and re-runs a command up to n times when its
// append loses an optimistic concurrency race. The default is 0.
func WithConflictRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.retries = n
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithIDGenerator replaces uuid.NewString for new aggregate ids.
func WithIDGenerator(f func() string) Option {
	return func(o *options) { o.newID = f }
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		tracer: otel.Tracer(tracerName),
		newID:  uuid.NewString,
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// execute loads the aggregate, runs decide and appends the result, retrying
// on concurrency conflicts as configured.
func execute[S domain.State[S], E domain.Event](
	ctx context.Context,
	o options,
	repo *domain.Repository[S, E],
	name, id string,
	md eventlog.Metadata,
	decide domain.Decision[S, E],
) (eventlog.Event, error) {
	ctx, span := o.tracer.Start(ctx, "command."+name, trace.WithAttributes(
		attribute.String("aggregate.type", string(repo.Type())),
		attribute.String("aggregate.id", id),
	))
	defer span.End()

	for attempt := 0; ; attempt++ {
		root, err := repo.Load(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
			return eventlog.Event{}, err
		}
		evt, err := root.Execute(ctx, md, decide)
		if err == nil {
			span.SetAttributes(
				attribute.String("event.type", evt.Type),
				attribute.Int64("event.version", evt.Version),
			)
			return evt, nil
		}
		if errors.Is(err, eventlog.ErrConcurrencyConflict) && attempt < o.retries {
			o.logger.WithFields(log.Fields{
				"command":      name,
				"aggregate_id": id,
				"attempt":      attempt + 1,
			}).Debug("retrying after concurrency conflict")
			continue
		}
		span.RecordError(err)
		if !errors.Is(err, domain.ErrInvariantViolation) {
			span.SetStatus(codes.Error, err.Error())
		}
		return eventlog.Event{}, err
	}
}

// amount checks a money input: finite, within domain.MaxAmount, and positive
// (or non-negative when zero is allowed).
func amount(field string, v float64, allowZero bool) error {
	if !domain.ValidAmount(v) {
		return invalid(field, "must be at most %.0f", domain.MaxAmount)
	}
	c := domain.Cents(v)
	if allowZero && c < 0 {
		return invalid(field, "must not be negative")
	}
	if !allowZero && c <= 0 {
		return invalid(field, "must be positive")
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return invalid(field, "is required")
	}
	return nil
}
