package mysql

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/storage/storetest"
)

func TestCatalogStore_MySQLContract(t *testing.T) {
	store := openMySQLStoreForIntegrationTest(t)

	suite.Run(t, &storetest.CatalogStoreSuite{
		NewStore: func() domain.CatalogStore {
			truncateAllTablesForIntegrationTest(t, store)
			return NewCatalogStore(store)
		},
	})
}

func TestCatalogStore_MySQLSingleLatestKey(t *testing.T) {
	store := openMySQLStoreForIntegrationTest(t)
	catalog := NewCatalogStore(store)
	ctx := context.Background()

	var productID int64
	err := catalog.WithinTx(ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		var err error
		if productID, err = tx.NextProductID(ctx); err != nil {
			return err
		}
		_, err = tx.AppendVersion(ctx, productID, domain.ProductDraft{Name: "Tea", Price: decimal.NewFromInt(1)})
		return err
	})
	require.NoError(t, err)

	// Вторая строка is_latest упирается в уникальный ключ по latest_marker.
	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO product_versions (product_id, version, name, price, is_latest, created_at)
		VALUES (?, 2, 'Tea', 2, TRUE, UTC_TIMESTAMP(6))
	`, productID)
	require.Error(t, err)
	require.True(t, isDuplicateEntry(err))

	// Сколько угодно исторических строк допустимо.
	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO product_versions (product_id, version, name, price, is_latest, created_at)
		VALUES (?, 7, 'Tea', 2, FALSE, UTC_TIMESTAMP(6)), (?, 8, 'Tea', 3, FALSE, UTC_TIMESTAMP(6))
	`, productID, productID)
	require.NoError(t, err)
}

func TestCatalogStore_MySQLPriceRoundTrip(t *testing.T) {
	store := openMySQLStoreForIntegrationTest(t)
	catalog := NewCatalogStore(store)
	ctx := context.Background()

	var created domain.ProductVersion
	err := catalog.WithinTx(ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		id, err := tx.NextProductID(ctx)
		if err != nil {
			return err
		}
		created, err = tx.AppendVersion(ctx, id, domain.ProductDraft{Name: "Precise", Price: decimal.RequireFromString("1015.5")})
		return err
	})
	require.NoError(t, err)

	got, err := catalog.GetLatest(ctx, created.ProductID)
	require.NoError(t, err)
	require.True(t, got.Price.Equal(decimal.RequireFromString("1015.5")), "got %s", got.Price)
	require.Equal(t, "Precise", got.Name)
}
