package storetest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// FlakyStore оборачивает хранилище и отклоняет первые N транзакций конфликтом,
// как это делает СУБД при deadlock. Транзакция при этом не начинается.
type FlakyStore struct {
	domain.CatalogStore

	conflicts atomic.Int32
	attempts  atomic.Int32
}

// NewFlakyStore создаёт обёртку, которая вернёт conflicts конфликтов подряд.
func NewFlakyStore(store domain.CatalogStore, conflicts int) *FlakyStore {
	s := &FlakyStore{CatalogStore: store}
	s.conflicts.Store(int32(conflicts))
	return s
}

// WithinTx возвращает конфликт, пока не исчерпан заданный лимит.
func (s *FlakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.CatalogTx) error) error {
	s.attempts.Add(1)
	if s.conflicts.Add(-1) >= 0 {
		return domain.ConcurrencyConflict("begin tx", errors.New("deadlock detected"))
	}
	return s.CatalogStore.WithinTx(ctx, fn)
}

// Attempts возвращает число вызовов WithinTx.
func (s *FlakyStore) Attempts() int {
	return int(s.attempts.Load())
}
