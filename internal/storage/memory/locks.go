package memory

import (
	"context"
	"sync"
)

// lockTable — эксклюзивные блокировки по идентификатору товара.
// Каждый слот — канал ёмкостью 1: запись захватывает, чтение освобождает.
type lockTable struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[int64]chan struct{})}
}

func (l *lockTable) slot(id int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// acquire ждёт освобождения слота или отмены контекста.
func (l *lockTable) acquire(ctx context.Context, id int64) error {
	select {
	case l.slot(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lockTable) release(id int64) {
	<-l.slot(id)
}
