package api

import (
	"errors"
	"fmt"
	"net/http"

	service "github.com/okian/rhythmboard/internal/app"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrTooLarge   = errors.New("request body too large")
)

// Error tags an underlying error with the operation that failed and, when
// known, a sentinel kind used for status mapping.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap tags err with op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// NewKind returns an error of the given kind with no further cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind tags err with op and kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// statusFor maps an error to its HTTP status and a short machine code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusInternalServerError, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
