package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/cache/rediscache"
	"github.com/vladislavdragonenkov/catalog/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/catalog/internal/health"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
	"github.com/vladislavdragonenkov/catalog/internal/storage/mysql"
	"github.com/vladislavdragonenkov/catalog/internal/storage/postgres"
)

// runtimeDependencies — инфраструктура, выбранная конфигурацией.
type runtimeDependencies struct {
	store           domain.CatalogStore
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker

	redis        *redis.Client
	redisChecker healthcheck.Checker
	versionCache *rediscache.VersionCache
	closers      []func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies открывает хранилище выбранного драйвера и, если задан адрес,
// подключает Redis. Недоступный Redis не мешает старту: сервис работает без кэша.
func initRuntimeDependencies(ctx context.Context, cfg Config, catalogMetrics *metrics.CatalogMetrics, logger *log.Entry) (*runtimeDependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		initRedis(ctx, cfg, deps, catalogMetrics, logger)
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store:           store,
			outboxRepo:      memory.NewOutboxRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewPingChecker("storage", store),
		}, nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres storage: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			store:           postgres.NewCatalogStore(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewPingChecker("storage", store),
			closers:         []func() error{store.Close},
		}, nil

	case StorageDriverMySQL:
		store, err := mysql.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql storage: %w", err)
		}
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply mysql schema: %w", err)
			}
		}
		logger.Info("using mysql storage")
		return &runtimeDependencies{
			store:           mysql.NewCatalogStore(store),
			outboxRepo:      mysql.NewOutboxRepository(store),
			idempotencyRepo: mysql.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewPingChecker("storage", store),
			closers:         []func() error{store.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initRedis(ctx context.Context, cfg Config, deps *runtimeDependencies, catalogMetrics *metrics.CatalogMetrics, logger *log.Entry) {
	client, err := rediscache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Warn("redis is unavailable, continuing without version cache")
		return
	}

	deps.redis = client
	deps.closers = append(deps.closers, func() error {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
		return nil
	})
	deps.versionCache = rediscache.NewVersionCache(client, deps.store,
		rediscache.WithTTL(cfg.VersionCacheTTL),
		rediscache.WithMetrics(catalogMetrics),
		rediscache.WithLogger(logger.WithField("component", "version-cache")),
	)
	deps.idempotencyRepo = rediscache.NewIdempotencyRepository(client)
	deps.redisChecker = healthcheck.NewOptionalPingChecker("redis", healthcheck.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	logger.WithField("addr", cfg.RedisAddr).Info("redis version cache and idempotency keys enabled")
}
