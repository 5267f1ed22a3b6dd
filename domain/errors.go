package domain

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is matched by every rejected command.
var ErrInvariantViolation = errors.New("domain invariant violation")

// Violation codes.
const (
	CodeInvalidState   = "invalid_state"
	CodeNotFound       = "not_found"
	CodeAlreadyExists  = "already_exists"
	CodeInvalidInput   = "invalid_input"
	CodeEmptyOrder     = "empty_order"
	CodeInsufficient   = "insufficient_quantity"
	CodePriceMismatch  = "price_mismatch"
	CodeInvalidRefund  = "invalid_refund"
	CodeInactiveEntity = "inactive"
)

// InvariantError reports a command rejected by an aggregate. No event was
// appended.
type InvariantError struct {
	Code    string
	Message string
}

func (e *InvariantError) Error() string {
	return e.Message
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}

// Violation builds an InvariantError.
func Violation(code, format string, args ...any) error {
	return &InvariantError{Code: code, Message: fmt.Sprintf(format, args...)}
}
