package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewCatalogMetrics(t *testing.T) {
	metrics := NewCatalogMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics.operations == nil || metrics.operationDuration == nil {
		t.Fatal("operation collectors should not be nil")
	}
	if metrics.conflictRetries == nil {
		t.Error("conflictRetries counter should not be nil")
	}
	if metrics.productVersions == nil || metrics.ordersPlaced == nil {
		t.Error("domain counters should not be nil")
	}
	if metrics.pinnedProducts == nil {
		t.Error("pinnedProducts histogram should not be nil")
	}
	if metrics.cacheLookups == nil {
		t.Error("cacheLookups counter should not be nil")
	}
}

func TestNewCatalogMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewCatalogMetricsWithRegisterer(reg)
	second := NewCatalogMetricsWithRegisterer(reg)

	first.RecordOrderPlaced(2)
	if got := counterValue(t, second.ordersPlaced); got != 1.0 {
		t.Fatalf("expected shared counter value 1.0, got %f", got)
	}
}

func TestRecordOperation(t *testing.T) {
	metrics := NewCatalogMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOperation("place_order", ResultOK, 10*time.Millisecond)
	metrics.RecordOperation("place_order", ResultOK, 20*time.Millisecond)
	metrics.RecordOperation("place_order", ResultValidation, time.Millisecond)

	if got := counterValue(t, metrics.operations.WithLabelValues("place_order", ResultOK)); got != 2.0 {
		t.Errorf("expected 2 ok operations, got %f", got)
	}
	if got := counterValue(t, metrics.operations.WithLabelValues("place_order", ResultValidation)); got != 1.0 {
		t.Errorf("expected 1 validation failure, got %f", got)
	}

	histogram := &dto.Metric{}
	observer := metrics.operationDuration.WithLabelValues("place_order")
	if err := observer.(prometheus.Histogram).Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", histogram.Histogram.GetSampleCount())
	}
}

func TestRecordOrderPlaced(t *testing.T) {
	metrics := NewCatalogMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOrderPlaced(3)
	metrics.RecordOrderPlaced(1)

	if got := counterValue(t, metrics.ordersPlaced); got != 2.0 {
		t.Errorf("expected 2 orders, got %f", got)
	}

	histogram := &dto.Metric{}
	if err := metrics.pinnedProducts.Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleSum() != 4 {
		t.Errorf("expected pinned sum 4, got %f", histogram.Histogram.GetSampleSum())
	}
}

func TestRecordCacheLookupAndRetries(t *testing.T) {
	metrics := NewCatalogMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordCacheLookup(true)
	metrics.RecordCacheLookup(false)
	metrics.RecordCacheLookup(false)
	metrics.RecordConflictRetry("update_product")
	metrics.RecordProductVersion()
	metrics.RecordOutboxEvent()

	if got := counterValue(t, metrics.cacheLookups.WithLabelValues("miss")); got != 2.0 {
		t.Errorf("expected 2 misses, got %f", got)
	}
	if got := counterValue(t, metrics.conflictRetries.WithLabelValues("update_product")); got != 1.0 {
		t.Errorf("expected 1 retry, got %f", got)
	}
	if got := counterValue(t, metrics.productVersions); got != 1.0 {
		t.Errorf("expected 1 version, got %f", got)
	}
	if got := counterValue(t, metrics.outboxEvents); got != 1.0 {
		t.Errorf("expected 1 outbox event, got %f", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var metrics *CatalogMetrics

	metrics.RecordOperation("op", ResultOK, time.Millisecond)
	metrics.RecordConflictRetry("op")
	metrics.RecordProductVersion()
	metrics.RecordOrderPlaced(1)
	metrics.RecordOutboxEvent()
	metrics.RecordCacheLookup(true)
}

func TestRegisterCounterPanicsOnTypeClash(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "clash_total", Help: "gauge"}))

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on collector type clash")
		}
		if _, ok := r.(string); !ok {
			t.Fatalf("unexpected panic value: %v", r)
		}
	}()
	registerCounter(reg, prometheus.CounterOpts{Name: "clash_total", Help: "counter"})
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{domain.ErrOrderNotFound, ResultNotFound},
		{domain.UnknownProductError(3), ResultValidation},
		{domain.ConcurrencyConflict("lock", errors.New("deadlock")), ResultConflict},
		{domain.StorageFault("insert", errors.New("io")), ResultError},
		{errors.New("unexpected"), ResultError},
	}

	for _, tt := range tests {
		if got := ResultOf(tt.err); got != tt.want {
			t.Errorf("ResultOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
