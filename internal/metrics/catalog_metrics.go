package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// Результаты операций для метки result.
const (
	ResultOK         = "ok"
	ResultNotFound   = "not_found"
	ResultValidation = "validation"
	ResultConflict   = "conflict"
	ResultError      = "error"
)

// ResultOf сводит ошибку операции к значению метки result.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case domain.IsNotFound(err):
		return ResultNotFound
	case domain.IsValidation(err):
		return ResultValidation
	case domain.IsConcurrencyConflict(err):
		return ResultConflict
	default:
		return ResultError
	}
}

// CatalogMetrics содержит метрики каталога и ценообразования заказов.
type CatalogMetrics struct {
	// Счётчики операций
	operations *prometheus.CounterVec
	// Время выполнения операций
	operationDuration *prometheus.HistogramVec
	// Повторы после конфликтов блокировок
	conflictRetries *prometheus.CounterVec

	productVersions prometheus.Counter
	ordersPlaced    prometheus.Counter
	pinnedProducts  prometheus.Histogram
	outboxEvents    prometheus.Counter

	// Попадания в кэш версий
	cacheLookups *prometheus.CounterVec
}

// NewCatalogMetrics создаёт метрики в DefaultRegisterer.
func NewCatalogMetrics() *CatalogMetrics {
	return NewCatalogMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCatalogMetricsWithRegisterer создаёт метрики в заданном registry.
// Повторная регистрация возвращает уже зарегистрированные коллекторы.
func NewCatalogMetricsWithRegisterer(registerer prometheus.Registerer) *CatalogMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CatalogMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_operations_total",
			Help: "Total number of catalog and pricing operations grouped by result",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "catalog_operation_duration_seconds",
			Help:    "Duration of catalog and pricing operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		conflictRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_conflict_retries_total",
			Help: "Total number of transaction retries after a concurrency conflict",
		}, []string{"operation"}),
		productVersions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "catalog_product_versions_created_total",
			Help: "Total number of product versions appended",
		}),
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "catalog_orders_placed_total",
			Help: "Total number of orders placed",
		}),
		pinnedProducts: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "catalog_order_pinned_products",
			Help:    "Number of distinct products pinned per order",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "catalog_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		cacheLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_version_cache_lookups_total",
			Help: "Product version cache lookups grouped by outcome",
		}, []string{"outcome"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation фиксирует результат и длительность операции.
// Безопасен для nil-получателя, чтобы сервисы работали без метрик.
func (m *CatalogMetrics) RecordOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConflictRetry увеличивает счётчик повторов после конфликта.
func (m *CatalogMetrics) RecordConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(operation).Inc()
}

// RecordProductVersion увеличивает счётчик созданных версий.
func (m *CatalogMetrics) RecordProductVersion() {
	if m == nil {
		return
	}
	m.productVersions.Inc()
}

// RecordOrderPlaced фиксирует размещённый заказ и число закреплённых товаров.
func (m *CatalogMetrics) RecordOrderPlaced(pinned int) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	m.pinnedProducts.Observe(float64(pinned))
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CatalogMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordCacheLookup фиксирует попадание (hit) или промах (miss) кэша версий.
func (m *CatalogMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}
