package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

const defaultKeyTTL = domain.DefaultIdempotencyTTL

// ErrRequestInFlight возвращается, пока запрос с тем же ключом ещё обрабатывается.
var ErrRequestInFlight = errors.New("request with the same idempotency key is already processing")

// Response — закодированный транспортом ответ. Status хранит код транспорта
// (HTTP-статус или код gRPC), Failed отличает сохранённую ошибку от успеха.
// Retryable помечает временную ошибку (конфликт, сбой хранилища): такой ответ
// не сохраняется, ключ освобождается для повтора.
type Response struct {
	Status    int
	Body      []byte
	Failed    bool
	Retryable bool
}

// Guard выполняет мутирующую операцию не более одного раза на ключ
// и повторяет сохранённый ответ для дубликатов.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithKeyTTL задаёт время жизни ключа.
func WithKeyTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard поверх репозитория ключей. nil-репозиторий отключает защиту.
func NewGuard(repo domain.IdempotencyRepository, options ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    defaultKeyTTL,
		logger: log.WithField("component", "idempotency-guard"),
		now:    time.Now,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// HashRequest строит отпечаток запроса: метод и канонический payload.
func HashRequest(method string, payload []byte) string {
	buf := make([]byte, 0, len(method)+1+len(payload))
	buf = append(buf, method...)
	buf = append(buf, ':')
	buf = append(buf, payload...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Execute выполняет run под ключом key. Пустой ключ или отсутствие репозитория
// означает обычный вызов без сохранения ответа. replayed=true, если ответ взят из хранилища.
func (g *Guard) Execute(ctx context.Context, key, requestHash string, run func(context.Context) Response) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(ctx), false, nil
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().UTC().Add(g.ttl))
	if err != nil {
		resp, err := g.replay(key, record, err)
		return resp, err == nil, err
	}

	resp = run(ctx)

	if resp.Failed && resp.Retryable {
		if releaseErr := g.repo.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			g.logger.WithError(releaseErr).WithField("idempotency_key", key).Warn("failed to release idempotency key")
		}
		return resp, false, nil
	}

	mark := g.repo.MarkDone
	if resp.Failed {
		mark = g.repo.MarkFailed
	}
	// Ответ уже получен: сохраняем его даже если клиент успел отменить запрос.
	if markErr := mark(context.WithoutCancel(ctx), key, resp.Body, resp.Status); markErr != nil {
		g.logger.WithError(markErr).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}

func (g *Guard) replay(key string, record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			return Response{Status: record.ResponseStatus, Body: record.ResponseBody}, nil
		case domain.IdempotencyStatusFailed:
			return Response{Status: record.ResponseStatus, Body: record.ResponseBody, Failed: true}, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, ErrRequestInFlight
		default:
			return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		g.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
