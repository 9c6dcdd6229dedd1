package errors

import (
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for Lodestone.
// It carries the failure kind, optional key-value context, and the
// underlying cause for error-chain support.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates if the operation can be retried as-is.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string

	// CorrelationID links an internal error to its log entry.
	// Only set for KindInternal.
	CorrelationID string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.CorrelationID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is against sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable hint for the operator.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates an Error of the given kind. Retryability is derived from
// the kind.
func New(kind Kind, message string, cause error) *Error {
	e := &Error{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retryable: kind.retryable(),
	}
	if kind == KindInternal {
		e.CorrelationID = NewCorrelationID()
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// Wrap classifies an existing error. The original message is preserved
// as the Error message and the error itself as the cause.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return New(kind, err.Error(), err)
}

// InvalidArgument creates a validation error for caller-supplied input.
func InvalidArgument(message string) *Error {
	return New(KindInvalidArgument, message, nil)
}

// InvalidArgumentf creates a validation error with a formatted message.
func InvalidArgumentf(format string, args ...any) *Error {
	return Newf(KindInvalidArgument, format, args...)
}

// NotFound creates an error for a missing entity.
func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// Unavailable creates an error for an unreachable backend.
func Unavailable(message string, cause error) *Error {
	return New(KindBackendUnavailable, message, cause)
}

// Rejected creates an error for a backend that refused the request.
func Rejected(message string, cause error) *Error {
	return New(KindBackendRejected, message, cause)
}

// DeadlineExceeded creates a timeout error.
func DeadlineExceeded(message string, cause error) *Error {
	return New(KindTimeout, message, cause)
}

// Internal creates an internal error with a fresh correlation ID.
func Internal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// IsRetryable reports whether an error may be retried as-is. Unclassified
// errors are not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetKind extracts the kind from an error chain. Unclassified errors
// report KindInternal.
func GetKind(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NewCorrelationID returns a short random hex token for correlating a
// returned internal error with its log entry.
func NewCorrelationID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}
