package mysql

import (
	"errors"

	driver "github.com/go-sql-driver/mysql"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// Коды ошибок InnoDB.
const (
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
	errDuplicateEntry  = 1062
)

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
	var myErr *driver.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == errLockDeadlock || myErr.Number == errLockWaitTimeout
}

func isDuplicateEntry(err error) bool {
	var myErr *driver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}
