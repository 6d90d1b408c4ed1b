package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	catalogv1 "github.com/vladislavdragonenkov/catalog/api/catalog/v1"
)

const maxAuditSamples = 10

type seededProduct struct {
	id   int64
	name string
}

// orderLedger запоминает размещённые заказы для финальной сверки.
type orderLedger struct {
	mu  sync.Mutex
	ids []int64
}

func (l *orderLedger) add(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *orderLedger) snapshot() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.ids...)
}

// seedProducts создаёт товары с ценами i+0.5 (i = 1..count).
func seedProducts(client catalogv1.CatalogServiceClient, cfg config, runID string, col *collector) ([]seededProduct, error) {
	products := make([]seededProduct, 0, cfg.products)
	for i := 1; i <= cfg.products; i++ {
		req := &catalogv1.CreateProductRequest{
			Name:  fmt.Sprintf("%s-%s-%d", cfg.productTag, runID, i),
			Price: decimal.NewFromInt(int64(i)).Add(decimal.RequireFromString("0.5")).String(),
		}
		key := fmt.Sprintf("lt-seed-%s-%d", runID, i)
		resp, err := callCreateProduct(client, cfg.timeout, req, key, col)
		if err != nil {
			return nil, fmt.Errorf("seed product %d: %w", i, err)
		}
		if resp.Product.ProductID <= 0 {
			return nil, fmt.Errorf("seed product %d: empty product id", i)
		}
		products = append(products, seededProduct{id: resp.Product.ProductID, name: resp.Product.Name})
	}
	return products, nil
}

// orderProducts выбирает для сценария index подряд идущие товары каталога,
// начиная со смещения index.
func orderProducts(products []seededProduct, index, items int) []int64 {
	if len(products) == 0 {
		return nil
	}
	if items > len(products) {
		items = len(products)
	}
	ids := make([]int64, 0, items)
	for i := 0; i < items; i++ {
		ids = append(ids, products[(index+i)%len(products)].id)
	}
	return ids
}

func runScenario(
	client catalogv1.CatalogServiceClient,
	cfg config,
	index int,
	runID string,
	products []seededProduct,
	col *collector,
	ledger *orderLedger,
) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode)
	}()

	placeReq := &catalogv1.PlaceOrderRequest{
		BuyerEmailID: fmt.Sprintf("%s-%d@%s.load", cfg.buyerTag, index, runID),
		ProductIDs:   orderProducts(products, index, cfg.itemsPerOrder),
	}
	placeKey := fmt.Sprintf("lt-place-%s-%d", runID, index)
	placed, err := callPlaceOrder(client, cfg.timeout, placeReq, placeKey, col)
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	if placed.Order.OrderID <= 0 {
		scenarioCode = codes.Internal
		return errors.New("place response returned empty order id")
	}
	if err := checkOrderCost(placed.Order); err != nil {
		scenarioCode = codes.DataLoss
		return err
	}
	if ledger != nil {
		ledger.add(placed.Order.OrderID)
	}

	switch cfg.mode {
	case modePlaceUpdate:
		if !shouldUpdateScenario(index, cfg.updateRate) {
			return nil
		}
		target := products[index%len(products)]
		updateReq := &catalogv1.UpdateProductRequest{
			ProductID: target.id,
			Name:      target.name,
			Price:     updatedPrice(index).String(),
		}
		updateKey := fmt.Sprintf("lt-update-%s-%d", runID, index)
		if err := callUpdateProduct(client, cfg.timeout, updateReq, updateKey, col); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
	case modePlaceRecalculate:
		cost, err := callRecalculateOrder(client, cfg.timeout, placed.Order.OrderID, col)
		if err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
		if _, err := decimal.NewFromString(cost); err != nil {
			scenarioCode = codes.DataLoss
			return fmt.Errorf("recalculate returned invalid cost %q: %w", cost, err)
		}
	}
	return nil
}

// checkOrderCost сверяет стоимость заказа с суммой цен его версий.
func checkOrderCost(order catalogv1.Order) error {
	cost, err := decimal.NewFromString(order.Cost)
	if err != nil {
		return fmt.Errorf("order %d: invalid cost %q: %w", order.OrderID, order.Cost, err)
	}
	sum := decimal.Zero
	for _, p := range order.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return fmt.Errorf("order %d: product %d: invalid price %q: %w", order.OrderID, p.ProductID, p.Price, err)
		}
		sum = sum.Add(price)
	}
	if !sum.Equal(cost) {
		return fmt.Errorf("order %d: cost %s does not match pinned prices sum %s", order.OrderID, cost, sum)
	}
	return nil
}

// auditOrders перечитывает заказы и их закреплённые версии: стоимость заказа
// должна совпадать с ценами версий, какие бы обновления ни прошли параллельно.
func auditOrders(
	ctx context.Context,
	client catalogv1.CatalogServiceClient,
	cfg config,
	ids []int64,
	col *collector,
) *auditReport {
	result := &auditReport{Orders: int64(len(ids))}
	var mu sync.Mutex
	fail := func(mismatch bool, msg string) {
		mu.Lock()
		defer mu.Unlock()
		if mismatch {
			result.Mismatches++
		} else {
			result.Errors++
		}
		if len(result.Samples) < maxAuditSamples {
			result.Samples = append(result.Samples, msg)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			order, err := callGetOrder(gctx, client, cfg.timeout, id, col)
			if err != nil {
				fail(false, fmt.Sprintf("order %d: %v", id, err))
				return nil
			}
			if err := checkOrderCost(order); err != nil {
				fail(true, err.Error())
				return nil
			}
			for _, p := range order.Products {
				pinned, err := callGetProductVersion(gctx, client, cfg.timeout, p.ProductID, p.Version, col)
				if err != nil {
					fail(false, fmt.Sprintf("order %d: product %d v%d: %v", id, p.ProductID, p.Version, err))
					return nil
				}
				if pinned.Price != p.Price {
					fail(true, fmt.Sprintf("order %d: product %d v%d price %s, stored version has %s",
						id, p.ProductID, p.Version, p.Price, pinned.Price))
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
}

func callCreateProduct(
	client catalogv1.CatalogServiceClient,
	timeout time.Duration,
	req *catalogv1.CreateProductRequest,
	key string,
	col *collector,
) (*catalogv1.CreateProductResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.CreateProduct(withIdempotencyKey(ctx, key), req)
	col.record("CreateProduct", time.Since(start), grpcCode(err))
	return resp, err
}

func callUpdateProduct(
	client catalogv1.CatalogServiceClient,
	timeout time.Duration,
	req *catalogv1.UpdateProductRequest,
	key string,
	col *collector,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := client.UpdateProduct(withIdempotencyKey(ctx, key), req)
	col.record("UpdateProduct", time.Since(start), grpcCode(err))
	return err
}

func callPlaceOrder(
	client catalogv1.CatalogServiceClient,
	timeout time.Duration,
	req *catalogv1.PlaceOrderRequest,
	key string,
	col *collector,
) (*catalogv1.PlaceOrderResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.PlaceOrder(withIdempotencyKey(ctx, key), req)
	col.record("PlaceOrder", time.Since(start), grpcCode(err))
	return resp, err
}

func callRecalculateOrder(
	client catalogv1.CatalogServiceClient,
	timeout time.Duration,
	orderID int64,
	col *collector,
) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.RecalculateOrder(ctx, &catalogv1.RecalculateOrderRequest{OrderID: orderID})
	col.record("RecalculateOrder", time.Since(start), grpcCode(err))
	if err != nil {
		return "", err
	}
	return resp.Cost, nil
}

func callGetOrder(
	ctx context.Context,
	client catalogv1.CatalogServiceClient,
	timeout time.Duration,
	orderID int64,
	col *collector,
) (catalogv1.Order, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.GetOrder(ctx, &catalogv1.GetOrderRequest{OrderID: orderID})
	col.record("GetOrder", time.Since(start), grpcCode(err))
	if err != nil {
		return catalogv1.Order{}, err
	}
	return resp.Order, nil
}

func callGetProductVersion(
	ctx context.Context,
	client catalogv1.CatalogServiceClient,
	timeout time.Duration,
	productID int64,
	version int32,
	col *collector,
) (catalogv1.Product, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.GetProductVersion(ctx, &catalogv1.GetProductVersionRequest{ProductID: productID, Version: version})
	col.record("GetProductVersion", time.Since(start), grpcCode(err))
	if err != nil {
		return catalogv1.Product{}, err
	}
	return resp.Product, nil
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldUpdateScenario(index, updateRate int) bool {
	if updateRate <= 0 {
		return false
	}
	if updateRate >= 100 {
		return true
	}
	return index%100 < updateRate
}

// updatedPrice даёт новую цену, отличную от посевных (у тех дробная часть .5).
func updatedPrice(index int) decimal.Decimal {
	return decimal.NewFromInt(int64(index%1000) + 1).Add(decimal.RequireFromString("0.25"))
}
