package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	// Given: a breaker that opens after 3 failures
	cb := NewCircuitBreaker("searxng", WithMaxFailures(3))
	boom := errors.New("boom")

	// When: three calls fail
	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	// Then: the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	err := cb.Execute(func() error {
		t.Fatal("must not be called while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("embeddings", WithMaxFailures(3))
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })
	require.Equal(t, 2, cb.Failures())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeRecovers(t *testing.T) {
	// Given: an open breaker with a short reset timeout
	cb := NewCircuitBreaker("searxng",
		WithMaxFailures(1),
		WithResetTimeout(time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	// When: the cooldown elapses and a probe succeeds
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())
	err := cb.Execute(func() error { return nil })

	// Then: the circuit closes again
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("searxng",
		WithMaxFailures(1),
		WithResetTimeout(time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("boom") })

	time.Sleep(5 * time.Millisecond)
	_ = cb.Execute(func() error { return errors.New("still down") })

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitExecute_ReturnsResult(t *testing.T) {
	cb := NewCircuitBreaker("reranker")

	got, err := CircuitExecute(cb, func() ([]string, error) {
		return []string{"a", "b"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}
