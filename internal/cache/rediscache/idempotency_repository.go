package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

const idempotencyKeyPrefix = "catalog:idempotency:"

type idempotencyEntry struct {
	RequestHash    string    `json:"request_hash"`
	Status         string    `json:"status"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	ResponseStatus int       `json:"response_status,omitempty"`
	TTLAt          time.Time `json:"ttl_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type idempotencyRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewIdempotencyRepository создаёт Redis-реализацию IdempotencyRepository.
// Срок жизни записи задаётся TTL ключа, поэтому Redis сам удаляет истёкшие ключи.
func NewIdempotencyRepository(client redis.UniversalClient) domain.IdempotencyRepository {
	return &idempotencyRepository{client: client, now: time.Now}
}

func idempotencyKey(key string) string {
	return idempotencyKeyPrefix + key
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ttl := record.TTLAt.Sub(record.CreatedAt)
	if ttl <= 0 {
		// Истёкшая запись всё равно должна сработать для текущего запроса.
		ttl = time.Second
	}

	payload, err := json.Marshal(newIdempotencyEntry(record))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	created, err := r.client.SetNX(ctx, idempotencyKey(record.Key), payload, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if created {
		return record, nil
	}

	existing, getErr := r.Get(ctx, record.Key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != record.RequestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	raw, err := r.client.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}

	record, err := entry.toRecord(key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency record %s: %w", key, err)
	}
	return record, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// Release удаляет ключ в статусе processing. Освобождает его только владелец
// запроса, поэтому чтение и удаление не обязаны быть атомарными.
func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	current, err := r.Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyNotFound):
		return nil
	case err != nil:
		return err
	case current.Status != domain.IdempotencyStatusProcessing:
		return nil
	}

	if err := r.client.Del(ctx, idempotencyKey(current.Key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired ничего не делает: истёкшие ключи удаляет сам Redis.
func (r *idempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// ExpiresNatively сообщает воркеру очистки, что ключи живут по TTL.
func (r *idempotencyRepository) ExpiresNatively() bool {
	return true
}

func (r *idempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	current, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(idempotencyEntry{
		RequestHash:    current.RequestHash,
		Status:         string(status),
		ResponseBody:   responseBody,
		ResponseStatus: httpStatus,
		TTLAt:          current.TTLAt,
		CreatedAt:      current.CreatedAt,
		UpdatedAt:      r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	// XX + KEEPTTL: обновляем только существующий ключ и не продлеваем ему жизнь.
	err = r.client.SetArgs(ctx, idempotencyKey(key), payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	return nil
}

func newIdempotencyEntry(record domain.IdempotencyRecord) idempotencyEntry {
	return idempotencyEntry{
		RequestHash: record.RequestHash,
		Status:      string(record.Status),
		TTLAt:       record.TTLAt,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func (e idempotencyEntry) toRecord(key string) (domain.IdempotencyRecord, error) {
	status, err := domain.ParseIdempotencyStatus(e.Status)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return domain.IdempotencyRecord{
		Key:            key,
		RequestHash:    e.RequestHash,
		Status:         status,
		ResponseBody:   append([]byte(nil), e.ResponseBody...),
		ResponseStatus: e.ResponseStatus,
		TTLAt:          e.TTLAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
