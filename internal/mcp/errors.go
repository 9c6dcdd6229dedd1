// Package mcp implements the Model Context Protocol server for Lodestone.
//
// Tool-layer failures never surface as JSON-RPC protocol errors: every
// handler converts them into a success response whose content is a
// structured {success:false, ...} object, so clients always receive a
// parseable result.
package mcp

import (
	"errors"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// URLFailure reports one failed URL inside a batch result.
type URLFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ToolFailure is the wire shape of a failed tool call.
type ToolFailure struct {
	Success       bool         `json:"success"`
	Error         string       `json:"error"`
	ErrorKind     string       `json:"error_kind"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Suggestion    string       `json:"suggestion,omitempty"`
	Failures      []URLFailure `json:"failures,omitempty"`
}

// wireKind maps internal error kinds to their external names.
func wireKind(kind lserrors.Kind) string {
	switch kind {
	case lserrors.KindInvalidArgument:
		return "InvalidArgument"
	case lserrors.KindNotFound:
		return "NotFound"
	case lserrors.KindBackendUnavailable:
		return "BackendUnavailable"
	case lserrors.KindBackendRejected:
		return "BackendRejected"
	case lserrors.KindTimeout:
		return "Timeout"
	case lserrors.KindPartialFailure:
		return "PartialFailure"
	default:
		return "Internal"
	}
}

// failureBody converts any error into the wire failure shape. Internal
// errors carry their correlation ID and never a stack trace.
func failureBody(err error) ToolFailure {
	body := ToolFailure{
		Success:   false,
		Error:     "internal error",
		ErrorKind: wireKind(lserrors.KindInternal),
	}
	if err == nil {
		return body
	}

	var lsErr *lserrors.Error
	if !errors.As(err, &lsErr) {
		lsErr = lserrors.Internal("unexpected failure", err)
	}

	body.ErrorKind = wireKind(lsErr.Kind)
	body.Error = lsErr.Message
	body.CorrelationID = lsErr.CorrelationID
	body.Suggestion = lsErr.Suggestion
	return body
}
