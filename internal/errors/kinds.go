// Package errors provides structured error handling for Lodestone.
//
// Every failure that crosses a component boundary is classified into one
// of seven kinds so callers can branch on the failure class instead of
// string-matching messages. Kinds also determine retryability.
package errors

// Kind classifies an error by what the caller can do about it.
type Kind string

const (
	// KindInvalidArgument indicates a caller-supplied value that failed
	// validation. Never retryable.
	KindInvalidArgument Kind = "invalid_argument"

	// KindNotFound indicates a referenced entity (source, repository,
	// collection) that does not exist.
	KindNotFound Kind = "not_found"

	// KindBackendUnavailable indicates an unreachable dependency such as
	// the vector store, embedding service, or graph database. Retryable.
	KindBackendUnavailable Kind = "backend_unavailable"

	// KindBackendRejected indicates a dependency that was reached but
	// refused the request (auth failure, malformed response, bot
	// detection, dimension mismatch).
	KindBackendRejected Kind = "backend_rejected"

	// KindTimeout indicates an operation that exceeded its deadline.
	// Retryable.
	KindTimeout Kind = "timeout"

	// KindPartialFailure indicates a batch operation where some items
	// succeeded and some failed. The error carries per-item detail.
	KindPartialFailure Kind = "partial_failure"

	// KindInternal indicates a bug or unclassified failure. Carries a
	// correlation ID that is also written to the log.
	KindInternal Kind = "internal"
)

// retryable reports whether operations failing with this kind may be
// retried without changing the request.
func (k Kind) retryable() bool {
	switch k {
	case KindBackendUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// String returns the wire form of the kind.
func (k Kind) String() string {
	return string(k)
}
