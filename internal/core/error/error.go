package errx

import (
	"errors"
	"net/http"
)

const (
	RedisErrorMessage    = "redis operation failed"
	RedisNotFoundMessage = "redis key not found"
)

// AppError tags an infrastructure failure with the HTTP status a caller should
// surface and a message that is safe to log next to user data.
type AppError struct {
	Err     error
	Status  int
	Message string
}

func New(err error, status int, message string) *AppError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &AppError{Err: err, Status: status, Message: message}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Kind reports rate limiting from the status and otherwise classifies the
// wrapped cause.
func (e *AppError) Kind() Kind {
	if e.Status == http.StatusTooManyRequests {
		return KindRateLimited
	}
	return Classify(e.Err)
}

// StatusOf returns the status carried by the first AppError in err's chain,
// or 500 when there is none.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
