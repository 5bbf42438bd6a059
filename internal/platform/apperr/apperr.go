// Package apperr defines the error kinds shared by the billing and payment
// domains and maps them onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Sentinel kinds. Every error produced by the domains wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidState     = errors.New("invalid state")
	ErrGateway          = errors.New("payment gateway error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Error carries the operation that failed alongside its kind.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound builds a NotFound error for op.
func NotFound(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds an InvalidArgument error for op.
func InvalidArgument(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidArgument, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState builds an InvalidState error for op.
func InvalidState(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Gateway wraps a failure returned by the external payment provider.
func Gateway(op string, err error) error {
	return &Error{Kind: ErrGateway, Op: op, Err: err}
}

// InvalidSignature wraps a webhook authentication failure.
func InvalidSignature(op string, err error) error {
	return &Error{Kind: ErrInvalidSignature, Op: op, Err: err}
}

// Message returns the human readable part of err, without the op prefix,
// when err is an *Error.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Msg != "" {
			return ae.Msg
		}
		return ae.Kind.Error()
	}
	return err.Error()
}

// HTTPError converts err into the echo error returned by handlers.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, Message(err))
	case errors.Is(err, ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, Message(err))
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, Message(err))
	case errors.Is(err, ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook signature")
	case errors.Is(err, ErrGateway):
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
