package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute, nil)
	cb.now = func() time.Time { return now }

	boom := errors.New("broker down")
	require.ErrorIs(t, cb.Execute("publish", func() error { return boom }), boom)
	require.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Execute("publish", func() error { return boom }), boom)
	require.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("publish", func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute("publish", func() error { return nil }))
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Second, nil)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	require.Error(t, cb.Execute("op", func() error { return boom }))
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.ErrorIs(t, cb.Execute("op", func() error { return boom }), boom)
	require.Equal(t, CircuitOpen, cb.State())
	require.Equal(t, "open", cb.State().String())
}
