package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	updatedAt  time.Time
}

// outboxLog — журнал outbox в порядке поступления. Пишется только при commit транзакции.
type outboxLog struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*outboxRecord
}

func newOutboxLog() *outboxLog {
	return &outboxLog{records: make(map[string]*outboxRecord)}
}

func (l *outboxLog) append(msg domain.OutboxMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = append(l.order, msg.ID)
	l.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		updatedAt: msg.CreatedAt,
	}
}

// outboxRepositoryInMemory — представление outbox-журнала Store для воркера публикации.
type outboxRepositoryInMemory struct {
	log *outboxLog
}

// NewOutboxRepository создаёт in-memory реализацию OutboxRepository поверх Store.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepositoryInMemory{log: store.outbox}
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке поступления.
func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.log.mu.RLock()
	defer r.log.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.log.order {
		rec := r.log.records[id]
		if rec.status != outboxStatusPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *outboxRepositoryInMemory) Stats(context.Context) (domain.OutboxStats, error) {
	r.log.mu.RLock()
	defer r.log.mu.RUnlock()

	var stats domain.OutboxStats
	for _, id := range r.log.order {
		rec := r.log.records[id]
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepositoryInMemory) markStatus(id, status string) error {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()

	record, ok := r.log.records[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
