package domain

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Конкретные ошибки ниже оборачивают один из видов через %w,
// поэтому транспортный слой проверяет только вид: errors.Is(err, ErrNotFound).
var (
	// ErrNotFound — запрошенная сущность (товар, версия, заказ) не существует.
	ErrNotFound = errors.New("not found")
	// ErrValidation — входные данные нарушают предусловие операции.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict — хранилище сообщило о deadlock/serialization failure.
	// Операция не оставила изменений и может быть повторена целиком.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStorage — прочие ошибки хранилища (I/O, соединение, нарушение схемы).
	ErrStorage = errors.New("storage fault")
)

var (
	// ErrProductNotFound возвращается, если у товара нет ни одной версии.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrProductVersionNotFound возвращается, если запрошенной версии товара нет.
	ErrProductVersionNotFound = fmt.Errorf("product version %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)

	// Ошибка пустого названия товара.
	ErrProductNameRequired = fmt.Errorf("%w: product name is required", ErrValidation)
	// Ошибка отрицательной цены товара.
	ErrProductPriceNegative = fmt.Errorf("%w: product price must be non-negative", ErrValidation)
	// Ошибка цены, которую хранилище не может сохранить без округления.
	ErrProductPricePrecision = fmt.Errorf("%w: product price must have at most 4 decimal places and 15 integer digits", ErrValidation)
	// Ошибка некорректного идентификатора товара (<= 0).
	ErrProductIDInvalid = fmt.Errorf("%w: product_id must be positive", ErrValidation)
	// Ошибка пустого набора товаров в заказе.
	ErrOrderProductsRequired = fmt.Errorf("%w: order must contain at least one product", ErrValidation)
	// Ошибка ссылки на товар, который никогда не создавался.
	ErrOrderUnknownProduct = fmt.Errorf("%w: no such product", ErrValidation)
	// Ошибка отсутствующего email покупателя.
	ErrBuyerEmailRequired = fmt.Errorf("%w: buyer_email_id is required", ErrValidation)
	// Ошибка отсутствующего времени заказа.
	ErrOrderTimeRequired = fmt.Errorf("%w: order_time is required", ErrValidation)
	// Ошибка перевёрнутого интервала выборки заказов.
	ErrOrderRangeInvalid = fmt.Errorf("%w: start must not be after end", ErrValidation)

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound — сообщение outbox с таким ID отсутствует.
	ErrOutboxMessageNotFound = fmt.Errorf("outbox message %w", ErrNotFound)

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ идемпотентности не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// UnknownProductError сообщает, какой именно товар из заказа не существует.
func UnknownProductError(productID int64) error {
	return fmt.Errorf("%w: %d", ErrOrderUnknownProduct, productID)
}

// ConcurrencyConflict оборачивает ошибку драйвера как временный конфликт блокировок.
func ConcurrencyConflict(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConcurrencyConflict, err)
}

// StorageFault оборачивает ошибку драйвера как отказ хранилища.
func StorageFault(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsNotFound проверяет, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation проверяет, что ошибка вызвана некорректным вводом.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConcurrencyConflict проверяет, является ли ошибка временным конфликтом блокировок.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsStorageFault проверяет, что ошибка пришла из хранилища.
func IsStorageFault(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
