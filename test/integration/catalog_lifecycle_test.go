package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	catalogv1 "github.com/vladislavdragonenkov/catalog/api/catalog/v1"
	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/catalog/internal/service/grpc"
	"github.com/vladislavdragonenkov/catalog/internal/service/idempotency"
	"github.com/vladislavdragonenkov/catalog/internal/service/ordering"
	"github.com/vladislavdragonenkov/catalog/internal/service/outbox"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
)

// warmCache — кэш версий, который наполняется только через события.
type warmCache struct {
	mu       sync.Mutex
	store    *memory.Store
	versions map[string]domain.ProductVersion
	hits     int
}

func cacheKey(productID int64, version int) string {
	return fmt.Sprintf("%d:%d", productID, version)
}

func (c *warmCache) Prime(_ context.Context, v domain.ProductVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[cacheKey(v.ProductID, v.Version)] = v
}

func (c *warmCache) GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, error) {
	c.mu.Lock()
	v, ok := c.versions[cacheKey(productID, version)]
	if ok {
		c.hits++
	}
	c.mu.Unlock()
	if ok {
		return v, nil
	}
	return c.store.GetVersion(ctx, productID, version)
}

func (c *warmCache) hitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// loopbackPublisher отдаёт outbox-сообщения consumer-обработчику так, как их увидел бы Kafka consumer.
type loopbackPublisher struct {
	mu      sync.Mutex
	handler kafka.MessageHandler
	events  []string
	offset  int64
}

func (p *loopbackPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	envelope := kafka.NewEnvelope(event, time.Now())
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.events = append(p.events, event.EventType)
	p.offset++
	msg := &sarama.ConsumerMessage{
		Topic:  kafka.TopicCatalogEvents,
		Key:    []byte(envelope.Key()),
		Value:  value,
		Offset: p.offset,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(event.EventType)},
		},
	}
	p.mu.Unlock()

	return p.handler(ctx, msg)
}

func (p *loopbackPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// CatalogLifecycleTestSuite прогоняет полный путь: API → хранилище → outbox → прогрев кэша.
type CatalogLifecycleTestSuite struct {
	suite.Suite

	ctx       context.Context
	store     *memory.Store
	cache     *warmCache
	publisher *loopbackPublisher
	worker    *outbox.Worker
	service   *grpcsvc.CatalogService
}

func (s *CatalogLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.cache = &warmCache{store: s.store, versions: make(map[string]domain.ProductVersion)}
	s.publisher = &loopbackPublisher{handler: kafka.NewCacheWarmerHandler(s.cache, logger)}
	s.worker = outbox.NewWorker(
		memory.NewOutboxRepository(s.store),
		s.publisher,
		outbox.WithLogger(logger),
		outbox.WithRetryBaseDelay(0),
	)
	s.service = grpcsvc.NewCatalogService(
		catalog.NewService(s.store, catalog.WithLogger(logger)),
		ordering.NewService(s.store, ordering.WithLogger(logger), ordering.WithVersionGetter(s.cache)),
		idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(logger)),
		logger,
	)
}

func (s *CatalogLifecycleTestSuite) createProducts(n int) []int64 {
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		resp, err := s.service.CreateProduct(s.ctx, &catalogv1.CreateProductRequest{
			Name:  fmt.Sprintf("product-%d", i),
			Price: fmt.Sprintf("%d.5", i),
		})
		s.Require().NoError(err)
		s.Require().EqualValues(1, resp.Product.Version)
		ids = append(ids, resp.Product.ProductID)
	}
	return ids
}

func (s *CatalogLifecycleTestSuite) TestPricingLifecycle() {
	ids := s.createProducts(5)
	orderTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Цена заказа — сумма последних версий на момент размещения.
	first, err := s.service.PlaceOrder(s.ctx, &catalogv1.PlaceOrderRequest{
		BuyerEmailID: "buyer@example.com",
		ProductIDs:   ids,
		OrderTime:    &orderTime,
	})
	s.Require().NoError(err)
	s.Require().Equal("17.5", first.Order.Cost)
	s.Require().Len(first.Order.Products, 5)

	// Обновление товара не меняет собранную стоимость, но меняет пересчёт.
	updated, err := s.service.UpdateProduct(s.ctx, &catalogv1.UpdateProductRequest{
		ProductID: ids[0],
		Name:      "product-1",
		Price:     "1000",
	})
	s.Require().NoError(err)
	s.Require().EqualValues(2, updated.Product.Version)

	recalculated, err := s.service.RecalculateOrder(s.ctx, &catalogv1.RecalculateOrderRequest{OrderID: first.Order.OrderID})
	s.Require().NoError(err)
	s.Require().Equal("1016", recalculated.Cost)

	assembled, err := s.service.GetOrder(s.ctx, &catalogv1.GetOrderRequest{OrderID: first.Order.OrderID})
	s.Require().NoError(err)
	s.Require().Equal("17.5", assembled.Order.Cost)
	for _, p := range assembled.Order.Products {
		s.Require().EqualValues(1, p.Version, "product %d must stay pinned to version 1", p.ProductID)
	}

	second, err := s.service.PlaceOrder(s.ctx, &catalogv1.PlaceOrderRequest{
		BuyerEmailID: "buyer@example.com",
		ProductIDs:   ids,
		OrderTime:    &orderTime,
	})
	s.Require().NoError(err)
	s.Require().Equal("1016", second.Order.Cost)

	listed, err := s.service.ListOrders(s.ctx, &catalogv1.ListOrdersRequest{Start: orderTime, End: orderTime})
	s.Require().NoError(err)
	s.Require().Len(listed.Orders, 2)
	s.Require().Equal("17.5", listed.Orders[0].Cost)
	s.Require().Equal("1016", listed.Orders[1].Cost)
}

func (s *CatalogLifecycleTestSuite) TestOutboxWarmsVersionCache() {
	ids := s.createProducts(3)
	_, err := s.service.UpdateProduct(s.ctx, &catalogv1.UpdateProductRequest{ProductID: ids[1], Name: "product-2", Price: "20"})
	s.Require().NoError(err)

	placed, err := s.service.PlaceOrder(s.ctx, &catalogv1.PlaceOrderRequest{BuyerEmailID: "warm@example.com", ProductIDs: ids})
	s.Require().NoError(err)
	s.Require().Equal("25", placed.Order.Cost)

	sent := s.worker.ProcessOnce(s.ctx)
	s.Require().Equal(5, sent)
	s.Require().Equal([]string{
		domain.EventProductVersionCreated,
		domain.EventProductVersionCreated,
		domain.EventProductVersionCreated,
		domain.EventProductVersionCreated,
		domain.EventOrderPlaced,
	}, s.publisher.published())
	s.Require().Zero(s.worker.ProcessOnce(s.ctx), "sent messages must not be published twice")

	before := s.cache.hitCount()
	assembled, err := s.service.GetOrder(s.ctx, &catalogv1.GetOrderRequest{OrderID: placed.Order.OrderID})
	s.Require().NoError(err)
	s.Require().Equal("25", assembled.Order.Cost)
	s.Require().Equal(before+3, s.cache.hitCount(), "pinned versions must come from the warmed cache")
}

func (s *CatalogLifecycleTestSuite) TestFailedOrderLeavesNoTrace() {
	ids := s.createProducts(2)
	s.Require().Equal(2, s.worker.ProcessOnce(s.ctx))

	_, err := s.service.PlaceOrder(s.ctx, &catalogv1.PlaceOrderRequest{
		BuyerEmailID: "buyer@example.com",
		ProductIDs:   []int64{ids[0], 424242},
	})
	s.Require().Error(err)

	listed, err := s.service.ListOrders(s.ctx, &catalogv1.ListOrdersRequest{
		Start: time.Unix(0, 0).UTC(),
		End:   time.Now().UTC().Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Require().Empty(listed.Orders)
	s.Require().Zero(s.worker.ProcessOnce(s.ctx), "rolled back order must not emit events")
}

func TestCatalogLifecycleSuite(t *testing.T) {
	suite.Run(t, new(CatalogLifecycleTestSuite))
}
