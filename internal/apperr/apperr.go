// Package apperr holds the error kinds shared by every service and the
// mapping from those kinds onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrIsolationViolation = errors.New("access denied: row level security violation")
	ErrForbidden          = errors.New("forbidden")
	ErrContextWrite       = errors.New("tenant context write failed")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrConflict           = errors.New("conflict")
)

// Validation returns an ErrValidation carrying a client-facing message.
func Validation(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound returns an ErrNotFound naming the missing resource.
func NotFound(resource string) error {
	return &kindError{kind: ErrNotFound, msg: resource + " not found"}
}

// Forbidden returns an ErrForbidden with a client-facing message.
func Forbidden(msg string) error {
	return &kindError{kind: ErrForbidden, msg: msg}
}

// Conflict returns an ErrConflict with a client-facing message.
func Conflict(msg string) error {
	return &kindError{kind: ErrConflict, msg: msg}
}

// Unauthenticated returns an ErrUnauthenticated with a client-facing message.
func Unauthenticated(msg string) error {
	return &kindError{kind: ErrUnauthenticated, msg: msg}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string        { return e.msg }
func (e *kindError) Is(target error) bool { return target == e.kind }

// Message returns the text safe to show a client for err.
func Message(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	switch {
	case errors.Is(err, ErrIsolationViolation):
		return ErrIsolationViolation.Error()
	case errors.Is(err, ErrContextWrite):
		return ErrContextWrite.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	case errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated.Error()
	case errors.Is(err, ErrConflict):
		return ErrConflict.Error()
	case errors.Is(err, ErrValidation):
		return err.Error()
	}
	return "internal error"
}

// HTTPStatus maps err to a status code and a stable error code.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrIsolationViolation):
		return http.StatusForbidden, "isolation_violation"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrContextWrite):
		return http.StatusInternalServerError, "context_write_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Write renders err as JSON. Server-side failures are logged at error level,
// client errors at debug.
func Write(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	status, code := HTTPStatus(err)
	if logger != nil {
		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed", "code", code, "err", err)
		} else {
			logger.Debugw("request rejected", "code", code, "err", err)
		}
	}
	utilities.WriteJSON(w, status, ErrorResponse{Error: Message(err), Code: code})
}
