// Package httpapi — REST-шлюз каталога и заказов поверх тех же сервисов, что и gRPC.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	catalogv1 "github.com/vladislavdragonenkov/catalog/api/catalog/v1"
	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/catalog/internal/service/idempotency"
	"github.com/vladislavdragonenkov/catalog/internal/service/ordering"
)

// IdempotencyKeyHeader — заголовок с ключом идемпотентности для мутирующих запросов.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// ErrorResponse — тело ответа при ошибке.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RecalculateResponse — текущая стоимость заказа.
type RecalculateResponse struct {
	OrderID int64  `json:"order_id"`
	Cost    string `json:"cost"`
}

// Handler обслуживает REST API.
type Handler struct {
	catalog  *catalog.Service
	ordering *ordering.Service
	guard    *idempotency.Guard
	logger   *log.Entry
	now      func() time.Time
}

// New создаёт обработчик. guard может быть nil.
func New(catalogSvc *catalog.Service, orderingSvc *ordering.Service, guard *idempotency.Guard, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Handler{
		catalog:  catalogSvc,
		ordering: orderingSvc,
		guard:    guard,
		logger:   logger.WithField("component", "httpapi"),
		now:      time.Now,
	}
}

// Routes собирает chi-роутер со всеми маршрутами API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(h.logger))

	r.Route("/api/v1/product", func(r chi.Router) {
		r.Post("/create", h.CreateProduct)
		r.Get("/retrieve", h.ListProducts)
		r.Put("/update", h.UpdateProduct)
		r.Get("/{productID}", h.GetProduct)
		r.Get("/{productID}/version/{version}", h.GetProductVersion)
	})
	r.Route("/api/v1/order", func(r chi.Router) {
		r.Post("/place", h.PlaceOrder)
		r.Get("/retrieve", h.ListOrders)
		r.Get("/{orderID}", h.GetOrder)
		r.Get("/price/recalculate/{orderID}", h.RecalculateOrder)
	})

	return r
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "product.create", func(ctx context.Context, body []byte) (int, any, error) {
		var req catalogv1.CreateProductRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		draft, err := parseDraft(req.Name, req.Price)
		if err != nil {
			return 0, nil, err
		}
		created, err := h.catalog.Create(ctx, draft)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toAPIProduct(created), nil
	})
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "product.update", func(ctx context.Context, body []byte) (int, any, error) {
		var req catalogv1.UpdateProductRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		draft, err := parseDraft(req.Name, req.Price)
		if err != nil {
			return 0, nil, err
		}
		updated, err := h.catalog.Update(ctx, req.ProductID, draft)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toAPIProduct(updated), nil
	})
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	latest, err := h.catalog.GetAllLatest(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	products := make([]catalogv1.Product, 0, len(latest))
	for _, v := range latest {
		products = append(products, toAPIProduct(v))
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	v, found, err := h.catalog.GetLatestByID(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", domain.ErrProductNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAPIProduct(v))
}

func (h *Handler) GetProductVersion(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "version must be a positive integer")
		return
	}

	v, found, err := h.catalog.GetVersion(r.Context(), productID, version)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", domain.ErrProductVersionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAPIProduct(v))
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "order.place", func(ctx context.Context, body []byte) (int, any, error) {
		var req catalogv1.PlaceOrderRequest
		if err := decodeBody(body, &req); err != nil {
			return 0, nil, err
		}
		orderTime := h.now().UTC()
		if req.OrderTime != nil && !req.OrderTime.IsZero() {
			orderTime = req.OrderTime.UTC()
		}
		view, err := h.ordering.PlaceOrder(ctx, domain.PlaceOrderRequest{
			BuyerEmailID: req.BuyerEmailID,
			ProductIDs:   req.ProductIDs,
			OrderTime:    orderTime,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toAPIOrder(view), nil
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start", "startTime")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	end, err := parseTimeParam(r, "end", "endTime")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	views, err := h.ordering.ListBetween(r.Context(), start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	orders := make([]catalogv1.Order, 0, len(views))
	for _, view := range views {
		orders = append(orders, toAPIOrder(view))
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	view, err := h.ordering.AssembleOrder(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIOrder(view))
}

func (h *Handler) RecalculateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	cost, err := h.ordering.Recalculate(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{OrderID: orderID, Cost: cost.String()})
}

// mutate выполняет изменяющий запрос под защитой ключа идемпотентности, если он передан.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, method string, run func(context.Context, []byte) (int, any, error)) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}

	execute := func(ctx context.Context) idempotency.Response {
		status, payload, err := run(ctx, body)
		if err != nil {
			status, payload = h.errorPayload(err)
		}
		encoded, encErr := json.Marshal(payload)
		if encErr != nil {
			h.logger.WithError(encErr).WithField("method", method).Error("failed to encode response")
			status = http.StatusInternalServerError
			encoded, _ = json.Marshal(ErrorResponse{Error: "internal", Message: "internal error"})
		}
		return idempotency.Response{
			Status:    status,
			Body:      encoded,
			Failed:    status >= http.StatusBadRequest,
			Retryable: status == http.StatusConflict || status >= http.StatusInternalServerError,
		}
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	resp, replayed, err := h.guard.Execute(r.Context(), key, idempotency.HashRequest(method, body), execute)
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key is already used with different request payload")
		return
	case errors.Is(err, idempotency.ErrRequestInFlight):
		writeError(w, http.StatusConflict, "request_in_flight", err.Error())
		return
	case err != nil:
		h.logger.WithError(err).WithField("method", method).Error("idempotency guard failed")
		writeError(w, http.StatusInternalServerError, "internal", "failed to initialize idempotency request")
		return
	}

	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeRaw(w, resp.Status, resp.Body)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, payload := h.errorPayload(err)
	writeJSON(w, status, payload)
}

func (h *Handler) errorPayload(err error) (int, ErrorResponse) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: reqErr.msg}
	case domain.IsNotFound(err):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()}
	case domain.IsValidation(err):
		return http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: err.Error()}
	case domain.IsConcurrencyConflict(err):
		h.logger.WithError(err).Warn("concurrency conflict survived retries")
		return http.StatusConflict, ErrorResponse{Error: "conflict", Message: "concurrent modification, retry the request"}
	default:
		h.logger.WithError(err).Error("request failed")
		return http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal error"}
	}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func decodeBody(body []byte, dst any) error {
	if len(body) == 0 {
		return &requestError{msg: "request body is required"}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &requestError{msg: "invalid JSON body"}
	}
	return nil
}

func parseDraft(name, price string) (domain.ProductDraft, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return domain.ProductDraft{}, &requestError{msg: "price must be a decimal number"}
	}
	return domain.ProductDraft{Name: name, Price: amount}, nil
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// localDateTime — ISO-время без зоны, его считаем UTC.
const localDateTime = "2006-01-02T15:04:05.999999999"

// parseTimeParam читает первый непустой из параметров name и aliases.
func parseTimeParam(r *http.Request, name string, aliases ...string) (time.Time, error) {
	query := r.URL.Query()
	raw := strings.TrimSpace(query.Get(name))
	for _, alias := range aliases {
		if raw != "" {
			break
		}
		raw = strings.TrimSpace(query.Get(alias))
	}
	if raw == "" {
		return time.Time{}, errors.New(name + " is required")
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		ts, err = time.ParseInLocation(localDateTime, raw, time.UTC)
	}
	if err != nil {
		return time.Time{}, errors.New(name + " must be an ISO 8601 date-time")
	}
	return ts.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal"}`)
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
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
