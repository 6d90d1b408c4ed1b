package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

const (
	opTimeout = 5 * time.Second
	// Сколько раз перечитать последнюю версию, если она сменилась,
	// пока транзакция ждала блокировку строки.
	lockRelatchAttempts = 5
)

// queryer — общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type catalogStore struct {
	store *Store
	db    *sql.DB
}

// NewCatalogStore создаёт PostgreSQL-реализацию CatalogStore.
func NewCatalogStore(store *Store) domain.CatalogStore {
	return &catalogStore{store: store, db: store.DB()}
}

func (s *catalogStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *catalogStore) LatestVersionNumber(ctx context.Context, productID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return latestVersionNumber(ctx, s.db, productID)
}

func (s *catalogStore) GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return getVersion(ctx, s.db, productID, version)
}

func (s *catalogStore) GetLatest(ctx context.Context, productID int64) (domain.ProductVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return getLatest(ctx, s.db, productID)
}

func (s *catalogStore) ListLatest(ctx context.Context) ([]domain.ProductVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return listLatest(ctx, s.db)
}

func (s *catalogStore) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var order domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, buyer_email_id, order_time
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.BuyerEmailID, &order.OrderTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classify("select order", err)
	}
	order.OrderTime = order.OrderTime.UTC()
	return order, nil
}

func (s *catalogStore) ListOrdersBetween(ctx context.Context, start, end time.Time) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer_email_id, order_time
		FROM orders
		WHERE order_time BETWEEN $1 AND $2
		ORDER BY id
	`, start, end)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.BuyerEmailID, &order.OrderTime); err != nil {
			return nil, classify("scan order row", err)
		}
		order.OrderTime = order.OrderTime.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate order rows", err)
	}
	return orders, nil
}

func (s *catalogStore) ListPins(ctx context.Context, orderID int64) ([]domain.OrderProductPin, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, version
		FROM order_product_pins
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, classify("list pins", err)
	}
	defer rows.Close()

	pins := make([]domain.OrderProductPin, 0)
	for rows.Next() {
		var pin domain.OrderProductPin
		if err := rows.Scan(&pin.OrderID, &pin.ProductID, &pin.Version); err != nil {
			return nil, classify("scan pin row", err)
		}
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate pin rows", err)
	}
	return pins, nil
}

// WithinTx выполняет fn в транзакции READ COMMITTED: каждый запрос видит
// последние закоммиченные данные, а FOR UPDATE держит строки до commit.
func (s *catalogStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.CatalogTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &catalogTx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

type catalogTx struct {
	tx *sql.Tx
}

func (t *catalogTx) LatestVersionNumber(ctx context.Context, productID int64) (int, error) {
	return latestVersionNumber(ctx, t.tx, productID)
}

func (t *catalogTx) GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, error) {
	return getVersion(ctx, t.tx, productID, version)
}

func (t *catalogTx) GetLatest(ctx context.Context, productID int64) (domain.ProductVersion, error) {
	return getLatest(ctx, t.tx, productID)
}

func (t *catalogTx) ListLatest(ctx context.Context) ([]domain.ProductVersion, error) {
	return listLatest(ctx, t.tx)
}

func (t *catalogTx) NextProductID(ctx context.Context) (int64, error) {
	var id int64
	if err := t.tx.QueryRowContext(ctx, `SELECT nextval('product_id_seq')`).Scan(&id); err != nil {
		return 0, classify("allocate product id", err)
	}
	return id, nil
}

// LockLatestForUpdate блокирует строку is_latest. Если пока мы ждали, конкурент
// добавил новую версию, старая строка уже не проходит фильтр is_latest и
// выборка пуста: тогда перечитываем, уже видя закоммиченную новую версию.
func (t *catalogTx) LockLatestForUpdate(ctx context.Context, productID int64) error {
	op := fmt.Sprintf("lock product %d", productID)

	for attempt := 0; attempt < lockRelatchAttempts; attempt++ {
		var version int
		err := t.tx.QueryRowContext(ctx, `
			SELECT version
			FROM product_versions
			WHERE product_id = $1 AND is_latest
			FOR UPDATE
		`, productID).Scan(&version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return classify(op, err)
		}

		n, err := latestVersionNumber(ctx, t.tx, productID)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrProductNotFound
		}
	}

	return domain.ConcurrencyConflict(op, errors.New("latest version kept moving while waiting for lock"))
}

func (t *catalogTx) AppendVersion(ctx context.Context, productID int64, draft domain.ProductDraft) (domain.ProductVersion, error) {
	if err := t.LockLatestForUpdate(ctx, productID); err != nil && !errors.Is(err, domain.ErrProductNotFound) {
		return domain.ProductVersion{}, err
	}

	var previous int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE product_versions
		SET is_latest = FALSE
		WHERE product_id = $1 AND is_latest
		RETURNING version
	`, productID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.ProductVersion{}, classify("unset latest version", err)
	}

	created := domain.ProductVersion{
		ProductID: productID,
		Version:   previous + 1,
		Name:      draft.Name,
		Price:     draft.Price,
		IsLatest:  true,
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO product_versions (product_id, version, name, price, is_latest)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING created_at
	`, created.ProductID, created.Version, created.Name, created.Price).Scan(&created.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ProductVersion{}, domain.ConcurrencyConflict("insert product version", err)
		}
		return domain.ProductVersion{}, classify("insert product version", err)
	}
	created.CreatedAt = created.CreatedAt.UTC()
	return created, nil
}

func (t *catalogTx) InsertOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (buyer_email_id, order_time)
		VALUES ($1, $2)
		RETURNING id
	`, order.BuyerEmailID, order.OrderTime).Scan(&order.ID)
	if err != nil {
		return domain.Order{}, classify("insert order", err)
	}
	return order, nil
}

func (t *catalogTx) InsertPin(ctx context.Context, pin domain.OrderProductPin) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_product_pins (order_id, product_id, version)
		VALUES ($1, $2, $3)
	`, pin.OrderID, pin.ProductID, pin.Version); err != nil {
		return classify("insert order pin", err)
	}
	return nil
}

func (t *catalogTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$6)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt,
	); err != nil {
		return domain.OutboxMessage{}, classify("enqueue outbox message", err)
	}
	return msg, nil
}

func latestVersionNumber(ctx context.Context, q queryer, productID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM product_versions
		WHERE product_id = $1
	`, productID).Scan(&n); err != nil {
		return 0, classify("select latest version number", err)
	}
	return n, nil
}

func getVersion(ctx context.Context, q queryer, productID int64, version int) (domain.ProductVersion, error) {
	row := q.QueryRowContext(ctx, `
		SELECT product_id, version, name, price, is_latest, created_at
		FROM product_versions
		WHERE product_id = $1 AND version = $2
	`, productID, version)

	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductVersion{}, domain.ErrProductVersionNotFound
		}
		return domain.ProductVersion{}, classify("select product version", err)
	}
	return v, nil
}

func getLatest(ctx context.Context, q queryer, productID int64) (domain.ProductVersion, error) {
	row := q.QueryRowContext(ctx, `
		SELECT product_id, version, name, price, is_latest, created_at
		FROM product_versions
		WHERE product_id = $1 AND is_latest
	`, productID)

	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductVersion{}, domain.ErrProductNotFound
		}
		return domain.ProductVersion{}, classify("select latest product version", err)
	}
	return v, nil
}

func listLatest(ctx context.Context, q queryer) ([]domain.ProductVersion, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, version, name, price, is_latest, created_at
		FROM product_versions
		WHERE is_latest
		ORDER BY product_id
	`)
	if err != nil {
		return nil, classify("list latest versions", err)
	}
	defer rows.Close()

	result := make([]domain.ProductVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, classify("scan product version", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate product versions", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (domain.ProductVersion, error) {
	var v domain.ProductVersion
	if err := row.Scan(&v.ProductID, &v.Version, &v.Name, &v.Price, &v.IsLatest, &v.CreatedAt); err != nil {
		return domain.ProductVersion{}, err
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

var (
	_ domain.CatalogStore = (*catalogStore)(nil)
	_ domain.CatalogTx    = (*catalogTx)(nil)
)
