package errx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Kind is the classification used by the retry policy and the stream error path.
type Kind int

const (
	KindUnclassified Kind = iota
	KindContentFiltered
	KindRateLimited
	KindTransientIO
	KindValidationMismatch
	KindIterationBudgetExceeded
)

func (k Kind) String() string {
	switch k {
	case KindContentFiltered:
		return "content_filtered"
	case KindRateLimited:
		return "rate_limited"
	case KindTransientIO:
		return "transient_io"
	case KindValidationMismatch:
		return "validation_mismatch"
	case KindIterationBudgetExceeded:
		return "iteration_budget_exceeded"
	default:
		return "unclassified"
	}
}

var (
	// ErrIterationBudgetExceeded marks a loop that stopped at its iteration ceiling.
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")
	// ErrMalformedOutput marks a model reply that could not be decoded into the expected shape.
	ErrMalformedOutput = errors.New("malformed model output")
)

const (
	// GenericUserMessage is sent to clients for errors that carry no safe detail.
	GenericUserMessage = "An error occurred while processing your request."
	// RateLimitedUserMessage is sent to clients when upstream quota is exhausted.
	RateLimitedUserMessage = "The service is currently busy. Please try again in a moment."
)

// ContentFilteredError is raised when a provider blocks a prompt or a completion.
type ContentFilteredError struct {
	// Categories holds "name (severity: level)" entries for every filtered category.
	Categories []string
	Message    string
	Err        error
}

func (e *ContentFilteredError) Error() string {
	return "content filtered: " + e.Reason()
}

func (e *ContentFilteredError) Unwrap() error { return e.Err }

// Reason is the user-safe explanation recorded on the conversation state.
func (e *ContentFilteredError) Reason() string {
	if len(e.Categories) > 0 {
		return "Content blocked by safety filters: " + strings.Join(e.Categories, ", ")
	}
	if e.Message != "" {
		return e.Message
	}
	return "Content blocked by safety filters"
}

// RateLimitedError is raised on provider quota exhaustion.
type RateLimitedError struct {
	// RetryAfter is the provider hint, zero when none was given.
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// TransientIOError wraps a connection failure or a retryable upstream status.
type TransientIOError struct {
	Status int
	Err    error
}

func (e *TransientIOError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient upstream failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient upstream failure: %v", e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// ValidationMismatchError carries the corrective instruction sent back to the model
// when a listwise reply does not cover the expected indices.
type ValidationMismatchError struct {
	ItemType string
	Detail   string
}

func (e *ValidationMismatchError) Error() string { return e.Detail }

// Classify maps err onto the taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindUnclassified
	}

	var (
		cf *ContentFilteredError
		rl *RateLimitedError
		tr *TransientIOError
		vm *ValidationMismatchError
	)
	switch {
	case errors.As(err, &cf):
		return KindContentFiltered
	case errors.As(err, &rl):
		return KindRateLimited
	case errors.As(err, &tr):
		return KindTransientIO
	case errors.As(err, &vm), errors.Is(err, ErrMalformedOutput):
		return KindValidationMismatch
	case errors.Is(err, ErrIterationBudgetExceeded):
		return KindIterationBudgetExceeded
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if k := appErr.Kind(); k != KindUnclassified {
			return k
		}
	}

	if isTransientNetwork(err) {
		return KindTransientIO
	}
	return KindUnclassified
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindRateLimited, KindTransientIO:
		return true
	default:
		return false
	}
}

// UserMessage returns the text that is safe to send to a client for err.
func UserMessage(err error) string {
	var cf *ContentFilteredError
	if errors.As(err, &cf) {
		return cf.Reason()
	}
	if Classify(err) == KindRateLimited {
		return RateLimitedUserMessage
	}
	return GenericUserMessage
}

func isTransientNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
