package domain

import (
	"context"
	"time"
)

// ProductVersionReader — чтение хранилища версий. Вне транзакции чтения не берут
// блокировок и могут видеть слегка устаревшее состояние.
type ProductVersionReader interface {
	// LatestVersionNumber возвращает номер последней версии или 0, если товара нет.
	LatestVersionNumber(ctx context.Context, productID int64) (int, error)
	// GetVersion возвращает конкретную версию или ErrProductVersionNotFound.
	GetVersion(ctx context.Context, productID int64, version int) (ProductVersion, error)
	// GetLatest возвращает последнюю версию или ErrProductNotFound.
	GetLatest(ctx context.Context, productID int64) (ProductVersion, error)
	// ListLatest возвращает последние версии всех товаров по возрастанию ProductID.
	ListLatest(ctx context.Context) ([]ProductVersion, error)
}

// OrderReader — чтение заказов и их закреплённых версий.
type OrderReader interface {
	// GetOrder возвращает заказ или ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	// ListOrdersBetween возвращает заказы с OrderTime в [start, end] по возрастанию ID.
	ListOrdersBetween(ctx context.Context, start, end time.Time) ([]Order, error)
	// ListPins возвращает закрепления заказа по возрастанию ProductID.
	ListPins(ctx context.Context, orderID int64) ([]OrderProductPin, error)
}

// CatalogTx — операции внутри одной атомарной транзакции. Блокировки, взятые через
// LockLatestForUpdate, держатся до конца транзакции.
type CatalogTx interface {
	ProductVersionReader

	// NextProductID выделяет новый стабильный идентификатор товара.
	NextProductID(ctx context.Context) (int64, error)
	// LockLatestForUpdate берёт эксклюзивную блокировку последней версии товара.
	// Возвращает ErrProductNotFound, если у товара нет версий.
	LockLatestForUpdate(ctx context.Context, productID int64) error
	// AppendVersion снимает флаг latest с текущей версии и добавляет версию N+1 (или 1).
	AppendVersion(ctx context.Context, productID int64, draft ProductDraft) (ProductVersion, error)
	// InsertOrder сохраняет заказ и возвращает его с выделенным ID.
	InsertOrder(ctx context.Context, order Order) (Order, error)
	// InsertPin сохраняет закрепление версии за заказом.
	InsertPin(ctx context.Context, pin OrderProductPin) error
	// EnqueueOutbox кладёт событие в outbox в рамках той же транзакции.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// CatalogStore — корневой контракт хранилища каталога и заказов.
type CatalogStore interface {
	ProductVersionReader
	OrderReader

	// WithinTx выполняет fn в транзакции: commit при nil, rollback при ошибке.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx CatalogTx) error) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}
