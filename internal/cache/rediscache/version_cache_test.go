package rediscache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
)

type countingSource struct {
	calls atomic.Int32
	inner VersionSource
}

func (s *countingSource) GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, error) {
	s.calls.Add(1)
	return s.inner.GetVersion(ctx, productID, version)
}

func (s *countingSource) LatestVersionNumber(ctx context.Context, productID int64) (int, error) {
	return s.inner.LatestVersionNumber(ctx, productID)
}

func seedVersion(t *testing.T, store *memory.Store, price string) domain.ProductVersion {
	t.Helper()

	var created domain.ProductVersion
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.CatalogTx) error {
		id, err := tx.NextProductID(ctx)
		if err != nil {
			return err
		}
		created, err = tx.AppendVersion(ctx, id, domain.ProductDraft{Name: "Tea", Price: decimal.RequireFromString(price)})
		return err
	})
	require.NoError(t, err)
	return created
}

func TestVersionCache_ReadThrough(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()

	store := memory.NewStore()
	created := seedVersion(t, store, "15.5")
	require.NoError(t, client.Del(ctx, versionKey(created.ProductID, created.Version)).Err())

	source := &countingSource{inner: store}
	cache := NewVersionCache(client, source, WithMetrics(metrics.NewCatalogMetricsWithRegisterer(prometheus.NewRegistry())))

	first, err := cache.GetVersion(ctx, created.ProductID, created.Version)
	require.NoError(t, err)
	second, err := cache.GetVersion(ctx, created.ProductID, created.Version)
	require.NoError(t, err)

	require.Equal(t, int32(1), source.calls.Load(), "second read must be served from redis")
	require.True(t, first.Price.Equal(second.Price))
	require.Equal(t, "Tea", second.Name)
	require.True(t, second.CreatedAt.Equal(created.CreatedAt))
}

func TestVersionCache_HitAndMissAgreeOnLatestFlag(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()

	store := memory.NewStore()
	created := seedVersion(t, store, "3.5")
	for v := 1; v <= 2; v++ {
		require.NoError(t, client.Del(ctx, versionKey(created.ProductID, v)).Err())
	}

	source := &countingSource{inner: store}
	cache := NewVersionCache(client, source)

	miss, err := cache.GetVersion(ctx, created.ProductID, 1)
	require.NoError(t, err)
	hit, err := cache.GetVersion(ctx, created.ProductID, 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), source.calls.Load())
	require.True(t, miss.IsLatest)
	require.Equal(t, miss.IsLatest, hit.IsLatest)

	err = store.WithinTx(ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		_, err := tx.AppendVersion(ctx, created.ProductID, domain.ProductDraft{Name: "Tea", Price: decimal.RequireFromString("4.5")})
		return err
	})
	require.NoError(t, err)

	stale, err := cache.GetVersion(ctx, created.ProductID, 1)
	require.NoError(t, err)
	require.False(t, stale.IsLatest, "superseded version must not be reported as latest")

	fresh, err := cache.GetVersion(ctx, created.ProductID, 2)
	require.NoError(t, err)
	cached, err := cache.GetVersion(ctx, created.ProductID, 2)
	require.NoError(t, err)
	require.True(t, fresh.IsLatest)
	require.True(t, cached.IsLatest)
	require.Equal(t, int32(2), source.calls.Load())
}

func TestVersionCache_MissPropagatesNotFound(t *testing.T) {
	client := getRedisClient(t)

	cache := NewVersionCache(client, memory.NewStore())
	_, err := cache.GetVersion(context.Background(), 999999, 1)
	require.ErrorIs(t, err, domain.ErrProductVersionNotFound)
}

func TestVersionCache_FallsBackWhenRedisDown(t *testing.T) {
	store := memory.NewStore()
	created := seedVersion(t, store, "2.5")

	source := &countingSource{inner: store}
	cache := NewVersionCache(unreachableRedisClient(t), source)

	got, err := cache.GetVersion(context.Background(), created.ProductID, created.Version)
	require.NoError(t, err)
	require.True(t, got.Price.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, int32(1), source.calls.Load())
}

func TestVersionKey(t *testing.T) {
	require.Equal(t, "catalog:version:12:3", versionKey(12, 3))
}
