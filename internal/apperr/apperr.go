// Package apperr is the core's single error taxonomy, grounded on the
// teacher's common/utils/ErrorHandling.go IAROSError type. It is reserved
// for programmer-bug-class and composition-root failures; outcomes that
// cross a pipeline component boundary travel as model.ScrapeOutcome tagged
// variants instead, never as ambient errors (see spec.md §7).
package apperr

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind mirrors spec.md §7's error taxonomy.
type Kind string

const (
	InvalidInput  Kind = "INVALID_INPUT"
	DomainBlocked Kind = "DOMAIN_BLOCKED"
	Timeout       Kind = "TIMEOUT"
	NetworkError  Kind = "NETWORK_ERROR"
	RateLimited   Kind = "RATE_LIMITED"
	BrowserError  Kind = "BROWSER_ERROR"
	HTTPStatus    Kind = "HTTP_STATUS"
	ParseMiss     Kind = "PARSE_MISS"
	Blocked       Kind = "BLOCKED"
	Internal      Kind = "INTERNAL"
)

// Error is the standardized error structure for programmer-facing failures
// (configuration, store, migration) raised at or above the composition root.
type Error struct {
	ID        string
	Kind      Kind
	Operation string
	Message   string
	Retryable bool
	RetryAfter *time.Duration
	Cause     error
	Timestamp time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, operation, message string, retryable bool, cause error) *Error {
	return &Error{
		ID:        uuid.New().String(),
		Kind:      kind,
		Operation: operation,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func NewInvalidInput(operation, message string) *Error {
	return newError(InvalidInput, operation, message, false, nil)
}

func NewDomainBlocked(operation, message string) *Error {
	return newError(DomainBlocked, operation, message, false, nil)
}

func Wrap(kind Kind, operation, message string, retryable bool, cause error) *Error {
	return newError(kind, operation, message, retryable, cause)
}

func NewInternal(operation, message string, cause error) *Error {
	return newError(Internal, operation, message, false, cause)
}

// IsRetryable reports whether err (or anything it wraps) is a retryable
// apperr.Error.
func IsRetryable(err error) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Retryable
}
