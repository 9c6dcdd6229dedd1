package mcp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

func TestWireKindCoversAllKinds(t *testing.T) {
	tests := []struct {
		kind lserrors.Kind
		want string
	}{
		{lserrors.KindInvalidArgument, "InvalidArgument"},
		{lserrors.KindNotFound, "NotFound"},
		{lserrors.KindBackendUnavailable, "BackendUnavailable"},
		{lserrors.KindBackendRejected, "BackendRejected"},
		{lserrors.KindTimeout, "Timeout"},
		{lserrors.KindPartialFailure, "PartialFailure"},
		{lserrors.KindInternal, "Internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wireKind(tt.kind))
	}
}

func TestFailureBodyStructuredError(t *testing.T) {
	err := lserrors.InvalidArgument("url list must not be empty").
		WithSuggestion("pass at least one URL")

	body := failureBody(err)
	assert.False(t, body.Success)
	assert.Equal(t, "InvalidArgument", body.ErrorKind)
	assert.Equal(t, "url list must not be empty", body.Error)
	assert.Equal(t, "pass at least one URL", body.Suggestion)
	assert.Empty(t, body.CorrelationID)
}

func TestFailureBodyUnclassifiedError(t *testing.T) {
	body := failureBody(errors.New("boom"))
	assert.False(t, body.Success)
	assert.Equal(t, "Internal", body.ErrorKind)
	assert.NotEmpty(t, body.CorrelationID, "internal failures carry a correlation id")
	assert.NotContains(t, body.Error, "boom", "raw cause stays out of the user-visible field")
}

func TestFailureBodyInternalCarriesCorrelationID(t *testing.T) {
	err := lserrors.Internal("tool handler panicked", nil)
	body := failureBody(err)
	assert.Equal(t, "Internal", body.ErrorKind)
	assert.Equal(t, err.CorrelationID, body.CorrelationID)
}
