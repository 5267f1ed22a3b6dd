package eventlog

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is matched by errors returned when an append
	// carries a version other than the stream head + 1.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNotFound is returned when a snapshot or event does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleSnapshot is returned when a snapshot older than the stored one is saved.
	ErrStaleSnapshot = errors.New("snapshot is older than the latest stored snapshot")
	// ErrStoreIO is matched by every persistence failure surfaced by Log.
	ErrStoreIO = errors.New("event store unavailable")
	// ErrInvalidArgument is matched by request validation failures.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed is returned by operations on a closed bus or log.
	ErrClosed = errors.New("event log closed")
)

// ConcurrencyConflictError reports an optimistic concurrency failure on append.
// Actual is -1 when the backend could not determine the current head.
type ConcurrencyConflictError struct {
	Stream   StreamKey
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("concurrency conflict on %s: version %d already taken", e.Stream, e.Expected)
	}
	return fmt.Sprintf("concurrency conflict on %s: expected version %d, stream is at %d", e.Stream, e.Expected, e.Actual)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Conflict builds a ConcurrencyConflictError for an append of version expected.
func Conflict(stream StreamKey, expected, actual int64) error {
	return &ConcurrencyConflictError{Stream: stream, Expected: expected, Actual: actual}
}

// StoreIOError wraps an underlying persistence failure.
type StoreIOError struct {
	Op  string
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("event store %s: %v", e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

func (e *StoreIOError) Is(target error) bool {
	return target == ErrStoreIO
}

// Retryable reports whether the failure was a timeout, which callers may
// treat as transient.
func (e *StoreIOError) Retryable() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	var ioErr *StoreIOError
	if errors.As(err, &ioErr) {
		return ioErr.Retryable()
	}
	return false
}

// ioError classifies a backend error. Domain-level outcomes pass through
// unchanged; everything else becomes a StoreIOError.
func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStaleSnapshot) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	var ioErr *StoreIOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &StoreIOError{Op: op, Err: err}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
