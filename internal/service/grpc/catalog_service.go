package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	catalogv1 "github.com/vladislavdragonenkov/catalog/api/catalog/v1"
	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/catalog/internal/service/idempotency"
	"github.com/vladislavdragonenkov/catalog/internal/service/ordering"
)

const idempotencyKeyHeader = "idempotency-key"

// CatalogService реализует gRPC API поверх каталога и ценообразования заказов.
type CatalogService struct {
	catalogv1.UnimplementedCatalogServiceServer

	catalog  *catalog.Service
	ordering *ordering.Service
	guard    *idempotency.Guard
	logger   *log.Entry
	now      func() time.Time
}

// NewCatalogService конструирует сервис с зависимостями. guard может быть nil:
// тогда idempotency-key игнорируется.
func NewCatalogService(catalogSvc *catalog.Service, orderingSvc *ordering.Service, guard *idempotency.Guard, logger *log.Entry) *CatalogService {
	if logger == nil {
		logger = log.New().WithField("component", "catalog-grpc")
	}
	return &CatalogService{
		catalog:  catalogSvc,
		ordering: orderingSvc,
		guard:    guard,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateProduct создаёт товар с версией 1.
func (s *CatalogService) CreateProduct(ctx context.Context, req *catalogv1.CreateProductRequest) (*catalogv1.CreateProductResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(s, ctx, catalogv1.MethodCreateProduct, req, func(ctx context.Context) (*catalogv1.CreateProductResponse, error) {
		draft, err := parseDraft(req.Name, req.Price)
		if err != nil {
			return nil, err
		}
		created, err := s.catalog.Create(ctx, draft)
		if err != nil {
			return nil, s.toStatus(err, "CreateProduct")
		}
		return &catalogv1.CreateProductResponse{Product: toAPIProduct(created)}, nil
	})
}

// UpdateProduct добавляет новую версию существующего товара.
func (s *CatalogService) UpdateProduct(ctx context.Context, req *catalogv1.UpdateProductRequest) (*catalogv1.UpdateProductResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	return withIdempotency(s, ctx, catalogv1.MethodUpdateProduct, req, func(ctx context.Context) (*catalogv1.UpdateProductResponse, error) {
		draft, err := parseDraft(req.Name, req.Price)
		if err != nil {
			return nil, err
		}
		updated, err := s.catalog.Update(ctx, req.ProductID, draft)
		if err != nil {
			return nil, s.toStatus(err, "UpdateProduct")
		}
		return &catalogv1.UpdateProductResponse{Product: toAPIProduct(updated)}, nil
	})
}

// GetProduct возвращает последнюю версию товара.
func (s *CatalogService) GetProduct(ctx context.Context, req *catalogv1.GetProductRequest) (*catalogv1.GetProductResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}

	v, found, err := s.catalog.GetLatestByID(ctx, req.ProductID)
	if err != nil {
		return nil, s.toStatus(err, "GetProduct")
	}
	if !found {
		return nil, status.Error(codes.NotFound, domain.ErrProductNotFound.Error())
	}
	return &catalogv1.GetProductResponse{Product: toAPIProduct(v)}, nil
}

// ListProducts возвращает последние версии всех товаров по возрастанию id.
func (s *CatalogService) ListProducts(ctx context.Context, _ *catalogv1.ListProductsRequest) (*catalogv1.ListProductsResponse, error) {
	latest, err := s.catalog.GetAllLatest(ctx)
	if err != nil {
		return nil, s.toStatus(err, "ListProducts")
	}

	products := make([]catalogv1.Product, 0, len(latest))
	for _, v := range latest {
		products = append(products, toAPIProduct(v))
	}
	return &catalogv1.ListProductsResponse{Products: products}, nil
}

// GetProductVersion возвращает конкретную версию товара.
func (s *CatalogService) GetProductVersion(ctx context.Context, req *catalogv1.GetProductVersionRequest) (*catalogv1.GetProductVersionResponse, error) {
	if req == nil || req.ProductID <= 0 || req.Version <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id and version are required")
	}

	v, found, err := s.catalog.GetVersion(ctx, req.ProductID, int(req.Version))
	if err != nil {
		return nil, s.toStatus(err, "GetProductVersion")
	}
	if !found {
		return nil, status.Error(codes.NotFound, domain.ErrProductVersionNotFound.Error())
	}
	return &catalogv1.GetProductVersionResponse{Product: toAPIProduct(v)}, nil
}

// PlaceOrder размещает заказ и закрепляет за ним текущие версии товаров.
func (s *CatalogService) PlaceOrder(ctx context.Context, req *catalogv1.PlaceOrderRequest) (*catalogv1.PlaceOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(s, ctx, catalogv1.MethodPlaceOrder, req, func(ctx context.Context) (*catalogv1.PlaceOrderResponse, error) {
		orderTime := s.now().UTC()
		if req.OrderTime != nil && !req.OrderTime.IsZero() {
			orderTime = req.OrderTime.UTC()
		}

		view, err := s.ordering.PlaceOrder(ctx, domain.PlaceOrderRequest{
			BuyerEmailID: req.BuyerEmailID,
			ProductIDs:   req.ProductIDs,
			OrderTime:    orderTime,
		})
		if err != nil {
			return nil, s.toStatus(err, "PlaceOrder")
		}
		return &catalogv1.PlaceOrderResponse{Order: toAPIOrder(view)}, nil
	})
}

// GetOrder собирает заказ по закреплённым версиям.
func (s *CatalogService) GetOrder(ctx context.Context, req *catalogv1.GetOrderRequest) (*catalogv1.GetOrderResponse, error) {
	if req == nil || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	view, err := s.ordering.AssembleOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "GetOrder")
	}
	return &catalogv1.GetOrderResponse{Order: toAPIOrder(view)}, nil
}

// ListOrders возвращает заказы за интервал [start, end] по возрастанию id.
func (s *CatalogService) ListOrders(ctx context.Context, req *catalogv1.ListOrdersRequest) (*catalogv1.ListOrdersResponse, error) {
	if req == nil || req.End.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "end is required")
	}

	views, err := s.ordering.ListBetween(ctx, req.Start.UTC(), req.End.UTC())
	if err != nil {
		return nil, s.toStatus(err, "ListOrders")
	}

	orders := make([]catalogv1.Order, 0, len(views))
	for _, view := range views {
		orders = append(orders, toAPIOrder(view))
	}
	return &catalogv1.ListOrdersResponse{Orders: orders}, nil
}

// RecalculateOrder считает стоимость заказа по текущим ценам, ничего не меняя.
func (s *CatalogService) RecalculateOrder(ctx context.Context, req *catalogv1.RecalculateOrderRequest) (*catalogv1.RecalculateOrderResponse, error) {
	if req == nil || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	cost, err := s.ordering.Recalculate(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "RecalculateOrder")
	}
	return &catalogv1.RecalculateOrderResponse{OrderID: req.OrderID, Cost: cost.String()}, nil
}

func (s *CatalogService) toStatus(err error, operation string) error {
	if _, ok := status.FromError(err); ok && !isDomainError(err) {
		return err
	}

	switch {
	case domain.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case domain.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.IsConcurrencyConflict(err):
		s.logger.WithError(err).WithField("operation", operation).Warn("concurrency conflict survived retries")
		return status.Error(codes.Aborted, "concurrent modification, retry the request")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.WithError(err).WithField("operation", operation).Error("catalog operation failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func isDomainError(err error) bool {
	return domain.IsNotFound(err) || domain.IsValidation(err) || domain.IsConcurrencyConflict(err) || domain.IsStorageFault(err)
}

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func withIdempotency[Req, Resp any](
	s *CatalogService,
	ctx context.Context,
	method string,
	req *Req,
	handler func(context.Context) (*Resp, error),
) (*Resp, error) {
	key := readIdempotencyKey(ctx)
	if key == "" || s.guard == nil {
		return handler(ctx)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	var (
		out    *Resp
		runErr error
	)
	stored, replayed, err := s.guard.Execute(ctx, key, idempotency.HashRequest(method, payload), func(ctx context.Context) idempotency.Response {
		out, runErr = handler(ctx)
		return encodeResponse(out, runErr)
	})
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, idempotency.ErrRequestInFlight):
		return nil, status.Error(codes.Aborted, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	if !replayed {
		return out, runErr
	}
	return decodeResponse[Resp](stored)
}

func encodeResponse(resp any, runErr error) idempotency.Response {
	if runErr != nil {
		st := status.Convert(runErr)
		code := st.Code()
		if code == codes.OK {
			code = codes.Internal
		}
		body, _ := json.Marshal(idempotencyErrorPayload{Code: int32(code), Message: st.Message()}) //nolint:gosec // codes.Code is a bounded enum value.
		return idempotency.Response{Status: int(code), Body: body, Failed: true, Retryable: retryableCode(code)}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return idempotency.Response{Status: int(codes.Internal), Failed: true, Retryable: true}
	}
	return idempotency.Response{Status: int(codes.OK), Body: body}
}

// retryableCode: сохраняются только детерминированные отказы.
func retryableCode(code codes.Code) bool {
	return code != codes.InvalidArgument && code != codes.NotFound
}

func decodeResponse[Resp any](stored idempotency.Response) (*Resp, error) {
	if stored.Failed {
		return nil, decodeFailure(stored)
	}
	if len(stored.Body) == 0 {
		return nil, status.Error(codes.Internal, "idempotency cache is empty")
	}
	out := new(Resp)
	if err := json.Unmarshal(stored.Body, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return out, nil
}

func decodeFailure(stored idempotency.Response) error {
	const fallback = "previous request with the same idempotency key failed"

	var payload idempotencyErrorPayload
	if len(stored.Body) > 0 && json.Unmarshal(stored.Body, &payload) == nil {
		if code, ok := grpcCode(int(payload.Code)); ok {
			if payload.Message == "" {
				payload.Message = fallback
			}
			return status.Error(code, payload.Message)
		}
	}
	if code, ok := grpcCode(stored.Status); ok {
		return status.Error(code, fallback)
	}
	return status.Error(codes.Internal, fallback)
}

func grpcCode(value int) (codes.Code, bool) {
	if value <= int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(idempotencyKeyHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func parseDraft(name, price string) (domain.ProductDraft, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return domain.ProductDraft{}, status.Error(codes.InvalidArgument, "price must be a decimal number")
	}
	return domain.ProductDraft{Name: name, Price: amount}, nil
}

func toAPIProduct(v domain.ProductVersion) catalogv1.Product {
	return catalogv1.Product{
		ProductID: v.ProductID,
		Version:   int32(v.Version), //nolint:gosec // versions are small positive counters.
		Name:      v.Name,
		Price:     v.Price.String(),
		IsLatest:  v.IsLatest,
		CreatedAt: v.CreatedAt,
	}
}

func toAPIOrder(view domain.OrderView) catalogv1.Order {
	products := make([]catalogv1.Product, 0, len(view.Products))
	for _, v := range view.Products {
		products = append(products, toAPIProduct(v))
	}
	return catalogv1.Order{
		OrderID:      view.ID,
		BuyerEmailID: view.BuyerEmailID,
		OrderTime:    view.OrderTime,
		Products:     products,
		Cost:         view.Cost.String(),
	}
}
