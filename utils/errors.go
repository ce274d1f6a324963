package utils

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// AppError is an error that maps onto an HTTP status and a websocket close
// code.
type AppError struct {
	Status  int    `json:"-"`
	Message string `json:"content"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// CloseCode derives the websocket close code, e.g. 403 -> 4030.
func (e *AppError) CloseCode() int {
	return e.Status * 10
}

// Is matches any AppError with the same status.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Status == e.Status && t.Message == ""
}

func newError(status int, fallback string, msg []string) *AppError {
	m := fallback
	if len(msg) > 0 && msg[0] != "" {
		m = msg[0]
	}
	return &AppError{Status: status, Message: m}
}

// Sentinels for errors.Is checks; they match any error of the same status.
var (
	ErrBadRequest      = &AppError{Status: http.StatusBadRequest}
	ErrAccessDenied    = &AppError{Status: http.StatusForbidden}
	ErrNotFound        = &AppError{Status: http.StatusNotFound}
	ErrAlreadyExists   = &AppError{Status: http.StatusConflict}
	ErrTooManyRequests = &AppError{Status: http.StatusTooManyRequests}
)

func BadRequest(msg ...string) error {
	return newError(http.StatusBadRequest, "Bad request", msg)
}

func AccessDenied(msg ...string) error {
	return newError(http.StatusForbidden, "Access denied", msg)
}

func NotFound(msg ...string) error {
	return newError(http.StatusNotFound, "Not Found", msg)
}

func AlreadyExists(msg ...string) error {
	return newError(http.StatusConflict, "Already exists", msg)
}

func TooManyRequests(msg ...string) error {
	return newError(http.StatusTooManyRequests, "Too many requests", msg)
}

// Internal hides cause from clients; it is still logged.
func Internal(cause error) error {
	return &AppError{Status: http.StatusInternalServerError, Message: "Internal server error", Cause: cause}
}

// AsAppError converts any error into an AppError, treating unknown errors
// as internal failures.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Status: http.StatusInternalServerError, Message: "Internal server error", Cause: err}
}
