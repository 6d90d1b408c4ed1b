// Package app собирает сервис каталога: хранилище, кэш, Kafka, воркеры и серверы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	catalogv1 "github.com/vladislavdragonenkov/catalog/api/catalog/v1"
	healthcheck "github.com/vladislavdragonenkov/catalog/internal/health"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/catalog/internal/service/grpc"
	"github.com/vladislavdragonenkov/catalog/internal/service/httpapi"
	"github.com/vladislavdragonenkov/catalog/internal/service/idempotency"
	"github.com/vladislavdragonenkov/catalog/internal/service/ordering"
	"github.com/vladislavdragonenkov/catalog/internal/service/outbox"
	"github.com/vladislavdragonenkov/catalog/internal/service/retry"
	"github.com/vladislavdragonenkov/catalog/internal/version"
)

const httpRequestTimeout = 30 * time.Second

// Run поднимает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	a, err := newApplication(ctx, cfg, log.WithField("component", "app"))
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

type application struct {
	cfg    Config
	logger *log.Entry

	deps  *runtimeDependencies
	kafka *kafkaRuntime

	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	apiServer     *http.Server
	metricsServer *http.Server

	grpcListener    net.Listener
	apiListener     net.Listener
	metricsListener net.Listener

	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (_ *application, err error) {
	a := &application{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	catalogMetrics := metrics.NewCatalogMetrics()

	a.deps, err = initRuntimeDependencies(ctx, cfg, catalogMetrics, logger)
	if err != nil {
		return nil, err
	}

	a.kafka, err = initKafka(cfg, a.deps.versionCache, logger)
	if err != nil {
		logger.WithError(err).Warn("kafka is unavailable, outbox events stay pending")
		a.kafka = nil
	}

	retrier := retry.New(retry.Config{
		MaxAttempts:   cfg.ConflictRetryMaxAttempts,
		InitialDelay:  cfg.ConflictRetryInitialDelay,
		MaxDelay:      cfg.ConflictRetryMaxDelay,
		BackoffFactor: 2,
	}, logger.WithField("component", "retry"), retry.WithOnRetry(func(operation string, _ int) {
		catalogMetrics.RecordConflictRetry(operation)
	}))

	catalogSvc := catalog.NewService(a.deps.store,
		catalog.WithLogger(logger.WithField("component", "catalog")),
		catalog.WithRetrier(retrier),
		catalog.WithMetrics(catalogMetrics),
	)
	orderingOptions := []ordering.Option{
		ordering.WithLogger(logger.WithField("component", "ordering")),
		ordering.WithRetrier(retrier),
		ordering.WithMetrics(catalogMetrics),
	}
	if a.deps.versionCache != nil {
		orderingOptions = append(orderingOptions, ordering.WithVersionGetter(a.deps.versionCache))
	}
	orderingSvc := ordering.NewService(a.deps.store, orderingOptions...)
	guard := idempotency.NewGuard(a.deps.idempotencyRepo,
		idempotency.WithKeyTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(logger.WithField("component", "idempotency")),
	)

	a.grpcServer, a.grpcHealth = newGRPCServer(grpcsvc.NewCatalogService(catalogSvc, orderingSvc, guard, logger.WithField("layer", "grpc")), logger)

	apiHandler := httpapi.New(catalogSvc, orderingSvc, guard, logger.WithField("layer", "http"))
	a.apiServer = &http.Server{
		Handler:           httpapi.NewServerHandler(apiHandler, httpRequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", a.deps.storageChecker)
	if a.deps.redisChecker != nil {
		healthHandler.RegisterChecker("redis", a.deps.redisChecker)
	}
	a.metricsServer = &http.Server{
		Handler:           newMetricsMux(healthHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if a.kafka != nil {
		a.outboxWorker = outbox.NewWorker(a.deps.outboxRepo, a.kafka.publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(a.kafka.dlq),
			outbox.WithCircuitBreaker(retry.NewCircuitBreaker(cfg.OutboxBreakerFailure, cfg.OutboxBreakerReset, logger.WithField("component", "outbox-breaker"))),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
	} else {
		logger.Info("kafka brokers are not configured, outbox worker is disabled")
	}
	a.cleanupWorker = idempotency.NewCleanupWorker(a.deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	if a.grpcListener, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	if cfg.HTTPAddr != "" {
		if a.apiListener, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
	}
	if cfg.MetricsAddr != "" {
		if a.metricsListener, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
		}
	}

	logger.WithFields(version.Fields()).WithFields(log.Fields{
		"storage": cfg.StorageDriver,
		"redis":   a.deps.redis != nil,
		"kafka":   a.kafka != nil,
	}).Info("catalog service initialized")
	return a, nil
}

func newGRPCServer(service catalogv1.CatalogServiceServer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	catalogv1.RegisterCatalogServiceServer(server, service)
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(catalogv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

func (a *application) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.WithField("addr", a.grpcListener.Addr().String()).Info("grpc server listening")
		if err := a.grpcServer.Serve(a.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if a.apiListener != nil {
		g.Go(func() error {
			a.logger.WithField("addr", a.apiListener.Addr().String()).Info("http api listening")
			return serveHTTP(a.apiServer, a.apiListener, "http api")
		})
	}
	if a.metricsListener != nil {
		g.Go(func() error {
			a.logger.WithField("addr", a.metricsListener.Addr().String()).Info("metrics and health checks listening")
			return serveHTTP(a.metricsServer, a.metricsListener, "metrics server")
		})
	}
	if a.outboxWorker != nil {
		g.Go(func() error {
			a.outboxWorker.Run(gctx)
			return nil
		})
	}
	if a.cleanupWorker.Enabled() {
		g.Go(func() error {
			a.cleanupWorker.Run(gctx)
			return nil
		})
	}
	if err := a.kafka.start(gctx); err != nil {
		a.logger.WithError(err).Warn("failed to start cache warmer consumer")
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	err := g.Wait()
	a.close()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func serveHTTP(srv *http.Server, lis net.Listener, name string) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// shutdown останавливает серверы: сначала gRPC (health → NOT_SERVING), затем HTTP.
func (a *application) shutdown() {
	a.logger.Info("shutting down")
	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	a.grpcHealth.Shutdown()
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		a.logger.Warn("graceful stop timed out, forcing grpc stop")
		a.grpcServer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, srv := range []*http.Server{a.apiServer, a.metricsServer} {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Warn("http shutdown with error")
		}
	}
}

// close освобождает внешние ресурсы. Безопасен при частичной инициализации.
func (a *application) close() {
	for _, lis := range []net.Listener{a.grpcListener, a.apiListener, a.metricsListener} {
		if lis != nil {
			_ = lis.Close()
		}
	}
	a.kafka.close(a.logger)
	a.kafka = nil
	a.deps.close(a.logger)
}
