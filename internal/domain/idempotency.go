package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок жизни ключа, если вызывающий его не задал.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus — состояние ключа идемпотентности мутирующего запроса.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: запрос выполняется, повтор получит ErrRequestInFlight.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: ответ сохранён и отдаётся повторам.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: сохранён детерминированный отказ (валидация, not found).
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord — сохранённое выполнение запроса. ResponseStatus хранит код
// транспорта, которым ответили: HTTP-статус для REST или код gRPC.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	ResponseBody   []byte
	ResponseStatus int
	Status         IdempotencyStatus
	TTLAt          time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewIdempotencyRecord готовит запись processing для хранилищ: обрезает ключ и отпечаток,
// проверяет их и подставляет срок жизни по умолчанию.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	case requestHash == "":
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}

	now = now.UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Finished сообщает, что по ключу уже сохранён ответ.
func (r IdempotencyRecord) Finished() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// ParseIdempotencyStatus разбирает статус, прочитанный из хранилища.
func ParseIdempotencyStatus(raw string) (IdempotencyStatus, error) {
	status := IdempotencyStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown idempotency status %q", ErrStorage, raw)
	}
	return status, nil
}
