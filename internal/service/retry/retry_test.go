package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

func newTestRetrier(cfg Config) (*Retrier, *[]time.Duration) {
	delays := &[]time.Duration{}
	r := New(cfg, log.New().WithField("test", "retry"))
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return r, delays
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Greater(t, cfg.MaxAttempts, 1)
	require.Positive(t, cfg.InitialDelay)
	require.GreaterOrEqual(t, cfg.MaxDelay, cfg.InitialDelay)
	require.Greater(t, cfg.BackoffFactor, 1.0)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := New(Config{InitialDelay: -time.Second}, nil).Config()
	require.Equal(t, DefaultConfig().MaxAttempts, cfg.MaxAttempts)
	require.Zero(t, cfg.InitialDelay)
	require.Equal(t, DefaultConfig().MaxDelay, cfg.MaxDelay)
	require.Equal(t, DefaultConfig().BackoffFactor, cfg.BackoffFactor)
}

func TestRetrier_RetriesConflictThenSucceeds(t *testing.T) {
	r, delays := newTestRetrier(Config{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, BackoffFactor: 2})

	attempts := 0
	err := r.Do(context.Background(), "place order", func(context.Context) error {
		attempts++
		if attempts < 4 {
			return domain.ConcurrencyConflict("lock product 1", errors.New("deadlock"))
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 4, attempts)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, *delays)
}

func TestRetrier_OnRetryHook(t *testing.T) {
	var calls []int
	r := New(Config{MaxAttempts: 3, InitialDelay: 0, MaxDelay: time.Millisecond, BackoffFactor: 2}, nil,
		WithOnRetry(func(operation string, attempt int) {
			require.Equal(t, "update product", operation)
			calls = append(calls, attempt)
		}),
	)

	err := r.Do(context.Background(), "update product", func(context.Context) error {
		return domain.ConcurrencyConflict("lock", errors.New("deadlock"))
	})
	require.True(t, domain.IsConcurrencyConflict(err))
	require.Equal(t, []int{1, 2}, calls)
}

func TestRetrier_DoesNotRetryOtherErrors(t *testing.T) {
	r, delays := newTestRetrier(Config{MaxAttempts: 5})

	for _, want := range []error{
		domain.ErrProductNotFound,
		domain.UnknownProductError(7),
		domain.StorageFault("insert order", errors.New("disk full")),
	} {
		attempts := 0
		err := r.Do(context.Background(), "op", func(context.Context) error {
			attempts++
			return want
		})
		require.ErrorIs(t, err, want)
		require.Equal(t, 1, attempts)
	}
	require.Empty(t, *delays)
}

func TestRetrier_ExhaustedReturnsConflict(t *testing.T) {
	r, delays := newTestRetrier(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2})

	attempts := 0
	err := r.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return domain.ConcurrencyConflict("op", errors.New("serialization failure"))
	})

	require.True(t, domain.IsConcurrencyConflict(err))
	require.Equal(t, 3, attempts)
	require.Len(t, *delays, 2)
}

func TestRetrier_StopsOnContextCancel(t *testing.T) {
	r := New(Config{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := r.Do(ctx, "op", func(context.Context) error {
		attempts++
		cancel()
		return domain.ConcurrencyConflict("op", errors.New("lock timeout"))
	})

	require.ErrorIs(t, err, context.Canceled)
	require.True(t, domain.IsConcurrencyConflict(err))
	require.Equal(t, 1, attempts)
}
