package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
)

const (
	versionKeyPrefix  = "catalog:version:"
	defaultVersionTTL = 24 * time.Hour
)

// VersionSource — источник версий, к которому кэш обращается при промахе.
// LatestVersionNumber нужен для флага IsLatest у версии, взятой из кэша.
type VersionSource interface {
	GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, error)
	LatestVersionNumber(ctx context.Context, productID int64) (int, error)
}

// cachedVersion — форма версии в Redis. Флаг IsLatest не кэшируется: он меняется,
// а остальные поля версии неизменяемы. При попадании флаг вычисляется заново.
type cachedVersion struct {
	ProductID int64           `json:"product_id"`
	Version   int             `json:"version"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// VersionCache — read-through кэш версий товаров. Ошибки Redis не прерывают
// чтение: запрос уходит в источник.
type VersionCache struct {
	client  redis.UniversalClient
	source  VersionSource
	ttl     time.Duration
	metrics *metrics.CatalogMetrics
	logger  *log.Entry
}

// VersionCacheOption настраивает VersionCache.
type VersionCacheOption func(*VersionCache)

// WithTTL задаёт время жизни записей кэша.
func WithTTL(ttl time.Duration) VersionCacheOption {
	return func(c *VersionCache) {
		c.ttl = ttl
	}
}

// WithMetrics задаёт метрики попаданий.
func WithMetrics(m *metrics.CatalogMetrics) VersionCacheOption {
	return func(c *VersionCache) {
		c.metrics = m
	}
}

// WithLogger задаёт logger кэша.
func WithLogger(logger *log.Entry) VersionCacheOption {
	return func(c *VersionCache) {
		c.logger = logger
	}
}

// NewVersionCache создаёт кэш поверх источника.
func NewVersionCache(client redis.UniversalClient, source VersionSource, options ...VersionCacheOption) *VersionCache {
	c := &VersionCache{
		client: client,
		source: source,
		ttl:    defaultVersionTTL,
	}
	for _, option := range options {
		option(c)
	}
	if c.ttl <= 0 {
		c.ttl = defaultVersionTTL
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "version-cache")
	}
	return c
}

func versionKey(productID int64, version int) string {
	return fmt.Sprintf("%s%d:%d", versionKeyPrefix, productID, version)
}

// GetVersion возвращает версию из кэша или из источника с последующей записью в кэш.
func (c *VersionCache) GetVersion(ctx context.Context, productID int64, version int) (domain.ProductVersion, error) {
	key := versionKey(productID, version)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedVersion
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr != nil {
			c.logger.WithField("key", key).Warn("dropping malformed cached version")
			_ = c.client.Del(ctx, key).Err()
			break
		}
		latest, latestErr := c.source.LatestVersionNumber(ctx, productID)
		if latestErr != nil {
			return domain.ProductVersion{}, latestErr
		}
		c.metrics.RecordCacheLookup(true)
		v := cached.toDomain()
		v.IsLatest = v.Version == latest
		return v, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WithError(err).WithField("key", key).Warn("version cache read failed")
	}
	c.metrics.RecordCacheLookup(false)

	v, err := c.source.GetVersion(ctx, productID, version)
	if err != nil {
		return domain.ProductVersion{}, err
	}
	c.Prime(ctx, v)
	return v, nil
}

// Prime кладёт версию в кэш. Ошибки только логируются.
func (c *VersionCache) Prime(ctx context.Context, v domain.ProductVersion) {
	payload, err := json.Marshal(cachedVersion{
		ProductID: v.ProductID,
		Version:   v.Version,
		Name:      v.Name,
		Price:     v.Price,
		CreatedAt: v.CreatedAt,
	})
	if err != nil {
		c.logger.WithError(err).Warn("marshal version for cache")
		return
	}

	if err := c.client.Set(ctx, versionKey(v.ProductID, v.Version), payload, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"product_id": v.ProductID,
			"version":    v.Version,
		}).Warn("version cache write failed")
	}
}

func (v cachedVersion) toDomain() domain.ProductVersion {
	return domain.ProductVersion{
		ProductID: v.ProductID,
		Version:   v.Version,
		Name:      v.Name,
		Price:     v.Price,
		CreatedAt: v.CreatedAt,
	}
}
