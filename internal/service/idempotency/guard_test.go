package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
)

func TestGuard_ReplaysStoredResponse(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, WithKeyTTL(time.Minute))
	hash := HashRequest("PlaceOrder", []byte(`{"product_ids":[1,2]}`))

	calls := 0
	run := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"order_id":1}`)}
	}

	first, replayed, err := guard.Execute(context.Background(), "key-1", hash, run)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, first.Status)

	second, replayed, err := guard.Execute(context.Background(), "key-1", hash, run)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)

	record, err := repo.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestGuard_ReplaysStoredFailure(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository())
	hash := HashRequest("PlaceOrder", []byte(`{}`))
	failed := Response{Status: http.StatusBadRequest, Body: []byte(`{"error":"no products"}`), Failed: true}

	_, _, err := guard.Execute(context.Background(), "key-2", hash, func(context.Context) Response { return failed })
	require.NoError(t, err)

	replay, replayed, err := guard.Execute(context.Background(), "key-2", hash, func(context.Context) Response {
		t.Fatal("run must not be called for a stored failure")
		return Response{}
	})
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, failed, replay)
}

func TestGuard_RetryableFailureReleasesKey(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)
	hash := HashRequest("PlaceOrder", []byte(`{"product_ids":[1]}`))

	conflict := Response{Status: http.StatusConflict, Body: []byte(`{"error":"conflict"}`), Failed: true, Retryable: true}
	first, replayed, err := guard.Execute(context.Background(), "key-retry", hash, func(context.Context) Response { return conflict })
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, conflict, first)

	_, err = repo.Get(context.Background(), "key-retry")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound, "transient failure must not be stored")

	calls := 0
	second, replayed, err := guard.Execute(context.Background(), "key-retry", hash, func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"order_id":7}`)}
	})
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, 1, calls)
	require.Equal(t, http.StatusCreated, second.Status)

	record, err := repo.Get(context.Background(), "key-retry")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestGuard_Conflicts(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)

	_, err := repo.CreateProcessing(context.Background(), "key-3", HashRequest("m", []byte("a")), time.Time{})
	require.NoError(t, err)

	never := func(context.Context) Response {
		t.Fatal("run must not be called")
		return Response{}
	}

	_, _, err = guard.Execute(context.Background(), "key-3", HashRequest("m", []byte("a")), never)
	require.ErrorIs(t, err, ErrRequestInFlight)

	_, _, err = guard.Execute(context.Background(), "key-3", HashRequest("m", []byte("b")), never)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_WithoutKeyOrRepo(t *testing.T) {
	t.Parallel()

	calls := 0
	run := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusOK}
	}

	_, replayed, err := NewGuard(memory.NewIdempotencyRepository()).Execute(context.Background(), "  ", "hash", run)
	require.NoError(t, err)
	require.False(t, replayed)

	_, _, err = NewGuard(nil).Execute(context.Background(), "key", "hash", run)
	require.NoError(t, err)

	var nilGuard *Guard
	_, _, err = nilGuard.Execute(context.Background(), "key", "hash", run)
	require.NoError(t, err)

	require.Equal(t, 3, calls)
}

func TestGuard_RepositoryFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("redis down")
	guard := NewGuard(failingRepo{err: boom})

	_, _, err := guard.Execute(context.Background(), "key", "hash", func(context.Context) Response {
		t.Fatal("run must not be called")
		return Response{}
	})
	require.ErrorIs(t, err, boom)
}

func TestHashRequest(t *testing.T) {
	t.Parallel()

	a := HashRequest("CreateProduct", []byte(`{"name":"Tea"}`))
	require.Len(t, a, 64)
	require.Equal(t, a, HashRequest("CreateProduct", []byte(`{"name":"Tea"}`)))
	require.NotEqual(t, a, HashRequest("UpdateProduct", []byte(`{"name":"Tea"}`)))
	require.NotEqual(t, a, HashRequest("CreateProduct", []byte(`{"name":"Coffee"}`)))
}

type failingRepo struct {
	domain.IdempotencyRepository
	err error
}

func (r failingRepo) CreateProcessing(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, r.err
}
