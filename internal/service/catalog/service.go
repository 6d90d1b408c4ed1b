// Package catalog создаёт товары и добавляет им версии. Каждая мутация пишет
// новую неизменяемую версию и событие ProductVersionCreated в одной транзакции.
package catalog

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
	"github.com/vladislavdragonenkov/catalog/internal/service/retry"
)

const (
	opCreate = "create_product"
	opUpdate = "update_product"
)

// Service — сервис каталога товаров.
type Service struct {
	store   domain.CatalogStore
	retrier *retry.Retrier
	metrics *metrics.CatalogMetrics
	logger  *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRetrier задаёт политику повторов при конфликтах блокировок.
func WithRetrier(retrier *retry.Retrier) Option {
	return func(s *Service) {
		s.retrier = retrier
	}
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.CatalogMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService создаёт сервис каталога поверх хранилища.
func NewService(store domain.CatalogStore, options ...Option) *Service {
	s := &Service{store: store}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "catalog-service")
	}
	if s.retrier == nil {
		s.retrier = retry.New(retry.DefaultConfig(), s.logger)
	}
	return s
}

// Create выделяет новый productId и записывает версию 1.
func (s *Service) Create(ctx context.Context, draft domain.ProductDraft) (created domain.ProductVersion, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(opCreate, metrics.ResultOf(err), time.Since(start)) }()

	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return domain.ProductVersion{}, err
	}

	err = s.retrier.Do(ctx, opCreate, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.CatalogTx) error {
			id, err := tx.NextProductID(ctx)
			if err != nil {
				return err
			}
			if created, err = tx.AppendVersion(ctx, id, draft); err != nil {
				return err
			}
			return s.enqueueVersionCreated(ctx, tx, created)
		})
	})
	if err != nil {
		return domain.ProductVersion{}, err
	}

	s.metrics.RecordProductVersion()
	s.metrics.RecordOutboxEvent()
	s.logger.WithFields(log.Fields{
		"product_id": created.ProductID,
		"version":    created.Version,
	}).Info("product created")

	return created, nil
}

// Update добавляет товару следующую версию. Последняя версия блокируется до
// конца транзакции, поэтому параллельные обновления одного товара и закрепления
// его в заказах выполняются строго по очереди.
func (s *Service) Update(ctx context.Context, productID int64, draft domain.ProductDraft) (updated domain.ProductVersion, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(opUpdate, metrics.ResultOf(err), time.Since(start)) }()

	if productID <= 0 {
		return domain.ProductVersion{}, domain.ErrProductIDInvalid
	}
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return domain.ProductVersion{}, err
	}

	n, err := s.store.LatestVersionNumber(ctx, productID)
	if err != nil {
		return domain.ProductVersion{}, err
	}
	if n == 0 {
		return domain.ProductVersion{}, domain.ErrProductNotFound
	}

	err = s.retrier.Do(ctx, opUpdate, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.CatalogTx) error {
			if err := tx.LockLatestForUpdate(ctx, productID); err != nil {
				return err
			}
			var err error
			if updated, err = tx.AppendVersion(ctx, productID, draft); err != nil {
				return err
			}
			return s.enqueueVersionCreated(ctx, tx, updated)
		})
	})
	if err != nil {
		return domain.ProductVersion{}, err
	}

	s.metrics.RecordProductVersion()
	s.metrics.RecordOutboxEvent()
	s.logger.WithFields(log.Fields{
		"product_id": updated.ProductID,
		"version":    updated.Version,
	}).Info("product version appended")

	return updated, nil
}

// GetLatestByID возвращает последнюю версию товара; found=false, если товара нет.
func (s *Service) GetLatestByID(ctx context.Context, productID int64) (domain.ProductVersion, bool, error) {
	v, err := s.store.GetLatest(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.ProductVersion{}, false, nil
	}
	if err != nil {
		return domain.ProductVersion{}, false, err
	}
	return v, true, nil
}

// GetAllLatest возвращает последние версии всех товаров по возрастанию productId.
func (s *Service) GetAllLatest(ctx context.Context) ([]domain.ProductVersion, error) {
	return s.store.ListLatest(ctx)
}

// GetVersion возвращает конкретную версию товара; found=false, если её нет.
func (s *Service) GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, bool, error) {
	v, err := s.store.GetVersion(ctx, productID, version)
	if errors.Is(err, domain.ErrProductVersionNotFound) {
		return domain.ProductVersion{}, false, nil
	}
	if err != nil {
		return domain.ProductVersion{}, false, err
	}
	return v, true, nil
}

// GetLatestVersionNumber возвращает номер последней версии; 0 означает, что товара нет.
// Читает без блокировки и может отставать от параллельных обновлений.
func (s *Service) GetLatestVersionNumber(ctx context.Context, productID int64) (int, error) {
	return s.store.LatestVersionNumber(ctx, productID)
}

func (s *Service) enqueueVersionCreated(ctx context.Context, tx domain.CatalogTx, v domain.ProductVersion) error {
	msg, err := domain.NewProductVersionCreatedMessage(v)
	if err != nil {
		return err
	}
	_, err = tx.EnqueueOutbox(ctx, msg)
	return err
}
