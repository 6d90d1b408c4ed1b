package mysql

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

const defaultLocalIntegrationDSN = "catalog:catalog@tcp(localhost:3306)/catalog"

func openMySQLStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	candidates := []string{
		strings.TrimSpace(os.Getenv("CATALOG_MYSQL_TEST_DSN")),
		strings.TrimSpace(os.Getenv("CATALOG_MYSQL_DSN")),
		defaultLocalIntegrationDSN,
	}

	seen := map[string]struct{}{}
	var openErrs []string
	for _, dsn := range candidates {
		if dsn == "" {
			continue
		}
		if _, ok := seen[dsn]; ok {
			continue
		}
		seen[dsn] = struct{}{}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		store, err := Open(ctx, dsn)
		cancel()
		if err != nil {
			openErrs = append(openErrs, fmt.Sprintf("%s: %v", dsn, err))
			continue
		}
		t.Cleanup(func() {
			_ = store.Close()
		})

		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("ensure mysql schema: %v", err)
		}
		truncateAllTablesForIntegrationTest(t, store)
		return store
	}

	t.Skipf("mysql is not available for integration tests: %s", strings.Join(openErrs, " | "))
	return nil
}

func truncateAllTablesForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// TRUNCATE таблицы, на которую ссылается внешний ключ, требует отключить проверки
	// на том же соединении.
	conn, err := store.DB().Conn(ctx)
	if err != nil {
		t.Fatalf("acquire mysql connection: %v", err)
	}
	defer conn.Close()

	stmts := []string{
		"SET FOREIGN_KEY_CHECKS = 0",
		"TRUNCATE TABLE idempotency_keys",
		"TRUNCATE TABLE outbox_messages",
		"TRUNCATE TABLE order_product_pins",
		"TRUNCATE TABLE orders",
		"TRUNCATE TABLE product_versions",
		"TRUNCATE TABLE product_ids",
		"SET FOREIGN_KEY_CHECKS = 1",
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("truncate integration tables (%s): %v", stmt, err)
		}
	}
}
