// Package ordering размещает заказы с закреплением версий товаров и считает
// их стоимость: по закреплённым версиям и по текущим ценам.
package ordering

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
	"github.com/vladislavdragonenkov/catalog/internal/service/retry"
)

const (
	opPlace       = "place_order"
	opAssemble    = "assemble_order"
	opList        = "list_orders"
	opRecalculate = "recalculate_order"

	defaultAssembleConcurrency = 8
)

// VersionGetter читает конкретную версию товара. Версии неизменяемы, поэтому
// реализация может отдавать их из кэша.
type VersionGetter interface {
	GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, error)
}

// Service — сервис размещения и ценообразования заказов.
type Service struct {
	store               domain.CatalogStore
	versions            VersionGetter
	retrier             *retry.Retrier
	metrics             *metrics.CatalogMetrics
	logger              *log.Entry
	assembleConcurrency int
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

// WithVersionGetter задаёт источник закреплённых версий (например, кэш).
func WithVersionGetter(versions VersionGetter) Option {
	return func(s *Service) {
		s.versions = versions
	}
}

// WithAssembleConcurrency ограничивает число заказов, собираемых параллельно в ListBetween.
func WithAssembleConcurrency(n int) Option {
	return func(s *Service) {
		s.assembleConcurrency = n
	}
}

// NewService создаёт сервис заказов поверх хранилища.
func NewService(store domain.CatalogStore, options ...Option) *Service {
	s := &Service{store: store}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "ordering-service")
	}
	if s.retrier == nil {
		s.retrier = retry.New(retry.DefaultConfig(), s.logger)
	}
	if s.versions == nil {
		s.versions = store
	}
	if s.assembleConcurrency <= 0 {
		s.assembleConcurrency = defaultAssembleConcurrency
	}
	return s
}

// PlaceOrder создаёт заказ и закрепляет за ним текущие последние версии товаров.
//
// Существование товаров проверяется до транзакции, чтобы неверный запрос не
// оставил даже частичного заказа. Внутри транзакции каждый товар блокируется,
// номер его последней версии читается под блокировкой и записывается в закрепление.
// Товары блокируются по возрастанию id; конфликт, о котором сообщило хранилище,
// приводит к повтору всей транзакции.
func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (view domain.OrderView, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(opPlace, metrics.ResultOf(err), time.Since(start)) }()

	if err := req.Validate(); err != nil {
		return domain.OrderView{}, err
	}
	productIDs := req.LockOrder()

	for _, id := range productIDs {
		n, err := s.store.LatestVersionNumber(ctx, id)
		if err != nil {
			return domain.OrderView{}, err
		}
		if n == 0 {
			return domain.OrderView{}, domain.UnknownProductError(id)
		}
	}

	order := domain.Order{
		BuyerEmailID: strings.TrimSpace(req.BuyerEmailID),
		OrderTime:    req.OrderTime.UTC(),
	}

	err = s.retrier.Do(ctx, opPlace, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.CatalogTx) error {
			var err error
			view, err = s.pin(ctx, tx, order, productIDs)
			if err != nil {
				return err
			}

			msg, err := domain.NewOrderPlacedMessage(view)
			if err != nil {
				return err
			}
			_, err = tx.EnqueueOutbox(ctx, msg)
			return err
		})
	})
	if err != nil {
		return domain.OrderView{}, err
	}

	s.metrics.RecordOrderPlaced(len(view.Products))
	s.metrics.RecordOutboxEvent()
	s.logger.WithFields(log.Fields{
		"order_id": view.ID,
		"products": len(view.Products),
		"cost":     view.Cost.String(),
	}).Info("order placed")

	return view, nil
}

func (s *Service) pin(ctx context.Context, tx domain.CatalogTx, order domain.Order, productIDs []int64) (domain.OrderView, error) {
	order, err := tx.InsertOrder(ctx, order)
	if err != nil {
		return domain.OrderView{}, err
	}

	products := make([]domain.ProductVersion, 0, len(productIDs))
	for _, id := range productIDs {
		if err := tx.LockLatestForUpdate(ctx, id); err != nil {
			return domain.OrderView{}, err
		}
		n, err := tx.LatestVersionNumber(ctx, id)
		if err != nil {
			return domain.OrderView{}, err
		}
		if n == 0 {
			return domain.OrderView{}, domain.ErrProductNotFound
		}
		v, err := tx.GetVersion(ctx, id, n)
		if err != nil {
			return domain.OrderView{}, err
		}
		if err := tx.InsertPin(ctx, domain.OrderProductPin{OrderID: order.ID, ProductID: id, Version: n}); err != nil {
			return domain.OrderView{}, err
		}
		products = append(products, v)
	}

	return domain.OrderView{
		Order:    order,
		Products: products,
		Cost:     domain.SumPrices(products),
	}, nil
}

// AssembleOrder собирает заказ с закреплёнными версиями и их суммарной стоимостью.
// Результат не меняется от последующих обновлений товаров.
func (s *Service) AssembleOrder(ctx context.Context, orderID int64) (view domain.OrderView, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(opAssemble, metrics.ResultOf(err), time.Since(start)) }()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderView{}, err
	}
	return s.assemble(ctx, order)
}

func (s *Service) assemble(ctx context.Context, order domain.Order) (domain.OrderView, error) {
	pins, err := s.store.ListPins(ctx, order.ID)
	if err != nil {
		return domain.OrderView{}, err
	}

	products := make([]domain.ProductVersion, 0, len(pins))
	for _, pin := range pins {
		v, err := s.versions.GetVersion(ctx, pin.ProductID, pin.Version)
		if err != nil {
			return domain.OrderView{}, err
		}
		products = append(products, v)
	}

	return domain.OrderView{
		Order:    order,
		Products: products,
		Cost:     domain.SumPrices(products),
	}, nil
}

// ListBetween возвращает собранные заказы с OrderTime в [start, end] по возрастанию id.
func (s *Service) ListBetween(ctx context.Context, startTime, endTime time.Time) (views []domain.OrderView, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(opList, metrics.ResultOf(err), time.Since(start)) }()

	if startTime.After(endTime) {
		return nil, domain.ErrOrderRangeInvalid
	}

	orders, err := s.store.ListOrdersBetween(ctx, startTime.UTC(), endTime.UTC())
	if err != nil {
		return nil, err
	}

	views = make([]domain.OrderView, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.assembleConcurrency)
	for i, order := range orders {
		g.Go(func() error {
			view, err := s.assemble(gctx, order)
			if err != nil {
				return err
			}
			views[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// Recalculate считает стоимость заказа по текущим последним версиям его товаров.
// Заказ и закрепления не меняются.
func (s *Service) Recalculate(ctx context.Context, orderID int64) (total decimal.Decimal, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(opRecalculate, metrics.ResultOf(err), time.Since(start)) }()

	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return decimal.Zero, err
	}
	pins, err := s.store.ListPins(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}

	current := make([]domain.ProductVersion, 0, len(pins))
	for _, pin := range pins {
		v, err := s.store.GetLatest(ctx, pin.ProductID)
		if err != nil {
			return decimal.Zero, err
		}
		current = append(current, v)
	}
	return domain.SumPrices(current), nil
}
