package api

import (
	"errors"
	"net/http"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/command"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// statusFor maps a command or query error to an HTTP status and body.
// Validation errors also match ErrInvariantViolation, so they go first.
func statusFor(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}

	var ve *command.ValidationError
	if errors.As(err, &ve) {
		resp.Code, resp.Field = domain.CodeInvalidInput, ve.Field
		return http.StatusBadRequest, resp
	}
	var ie *domain.InvariantError
	if errors.As(err, &ie) {
		resp.Code = ie.Code
		if ie.Code == domain.CodeNotFound {
			return http.StatusNotFound, resp
		}
		return http.StatusUnprocessableEntity, resp
	}
	switch {
	case errors.Is(err, eventlog.ErrConcurrencyConflict):
		resp.Code = "concurrency_conflict"
		return http.StatusConflict, resp
	case errors.Is(err, eventlog.ErrStoreIO):
		resp.Code = "store_unavailable"
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, projection.ErrNotFound):
		resp.Code = domain.CodeNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, eventlog.ErrInvalidArgument):
		return http.StatusBadRequest, resp
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}
