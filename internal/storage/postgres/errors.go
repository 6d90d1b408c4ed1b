package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// SQLSTATE, которые означают проигранную гонку за блокировки.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateUniqueViolation      = "23505"
)

// classify переводит ошибку драйвера в доменный вид: конфликт блокировок
// можно повторить, всё остальное — отказ хранилища.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConcurrencyFailure(err) {
		return domain.ConcurrencyConflict(op, err)
	}
	return domain.StorageFault(op, err)
}

func isConcurrencyFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		return true
	default:
		return false
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}
