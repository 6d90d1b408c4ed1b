package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMySQL    = "mysql"
)

// ConfigFileEnv — переменная с путём к YAML-файлу конфигурации.
const ConfigFileEnv = "CATALOG_CONFIG_FILE"

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver string `yaml:"storage_driver"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	MySQLDSN      string `yaml:"mysql_dsn"`
	AutoMigrate   bool   `yaml:"auto_migrate"`

	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	VersionCacheTTL time.Duration `yaml:"version_cache_ttl"`

	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaTopic         string   `yaml:"kafka_topic"`
	KafkaDLQTopic      string   `yaml:"kafka_dlq_topic"`
	CacheWarmerEnabled bool     `yaml:"cache_warmer_enabled"`

	OutboxPollInterval   time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize      int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts    int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay     time.Duration `yaml:"outbox_retry_delay"`
	OutboxBreakerFailure int           `yaml:"outbox_breaker_failures"`
	OutboxBreakerReset   time.Duration `yaml:"outbox_breaker_reset"`

	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	ConflictRetryMaxAttempts  int           `yaml:"conflict_retry_max_attempts"`
	ConflictRetryInitialDelay time.Duration `yaml:"conflict_retry_initial_delay"`
	ConflictRetryMaxDelay     time.Duration `yaml:"conflict_retry_max_delay"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver: StorageDriverMemory,
		AutoMigrate:   true,

		VersionCacheTTL: 24 * time.Hour,

		KafkaTopic:         "catalog.events",
		KafkaDLQTopic:      "catalog.dlq",
		CacheWarmerEnabled: true,

		OutboxPollInterval:   time.Second,
		OutboxBatchSize:      100,
		OutboxMaxAttempts:    3,
		OutboxRetryDelay:     100 * time.Millisecond,
		OutboxBreakerFailure: 5,
		OutboxBreakerReset:   30 * time.Second,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ConflictRetryMaxAttempts:  5,
		ConflictRetryInitialDelay: 10 * time.Millisecond,
		ConflictRetryMaxDelay:     500 * time.Millisecond,

		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate проверяет согласованность настроек, без которых сервис не стартует.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage driver requires CATALOG_POSTGRES_DSN")
		}
	case StorageDriverMySQL:
		if strings.TrimSpace(c.MySQLDSN) == "" {
			return fmt.Errorf("mysql storage driver requires CATALOG_MYSQL_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		return fmt.Errorf("grpc address is required")
	}
	return nil
}

// LookupFunc читает переменную окружения; сигнатура совпадает с os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadConfig собирает конфигурацию: дефолты, затем YAML-файл (если задан), затем
// переменные окружения. Некорректные значения пропускаются с предупреждением.
func LoadConfig(lookup LookupFunc) (Config, []string) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := DefaultConfig()
	var warnings []string

	if path, ok := lookup(ConfigFileEnv); ok && strings.TrimSpace(path) != "" {
		if err := mergeYAMLFile(&cfg, strings.TrimSpace(path)); err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	env := envReader{lookup: lookup}
	env.str("CATALOG_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("CATALOG_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("CATALOG_METRICS_ADDR", &cfg.MetricsAddr)

	env.str("CATALOG_STORAGE_DRIVER", &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	env.str("CATALOG_POSTGRES_DSN", &cfg.PostgresDSN)
	env.str("CATALOG_MYSQL_DSN", &cfg.MySQLDSN)
	env.boolean("CATALOG_AUTO_MIGRATE", &cfg.AutoMigrate)

	env.str("CATALOG_REDIS_ADDR", &cfg.RedisAddr)
	env.str("CATALOG_REDIS_PASSWORD", &cfg.RedisPassword)
	env.nonNegativeInt("CATALOG_REDIS_DB", &cfg.RedisDB)
	env.positiveDuration("CATALOG_VERSION_CACHE_TTL", &cfg.VersionCacheTTL)

	env.list("CATALOG_KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("CATALOG_KAFKA_TOPIC", &cfg.KafkaTopic)
	env.str("CATALOG_KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	env.boolean("CATALOG_CACHE_WARMER_ENABLED", &cfg.CacheWarmerEnabled)

	env.positiveDuration("CATALOG_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.positiveInt("CATALOG_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.positiveInt("CATALOG_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.nonNegativeDuration("CATALOG_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.positiveInt("CATALOG_OUTBOX_BREAKER_FAILURES", &cfg.OutboxBreakerFailure)
	env.positiveDuration("CATALOG_OUTBOX_BREAKER_RESET", &cfg.OutboxBreakerReset)

	env.positiveDuration("CATALOG_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.positiveDuration("CATALOG_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.positiveInt("CATALOG_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	env.positiveInt("CATALOG_CONFLICT_RETRY_MAX_ATTEMPTS", &cfg.ConflictRetryMaxAttempts)
	env.nonNegativeDuration("CATALOG_CONFLICT_RETRY_INITIAL_DELAY", &cfg.ConflictRetryInitialDelay)
	env.positiveDuration("CATALOG_CONFLICT_RETRY_MAX_DELAY", &cfg.ConflictRetryMaxDelay)

	env.positiveDuration("CATALOG_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	return cfg, append(warnings, env.warnings...)
}

func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	// Разбираем в копию: битый файл не должен оставить конфиг наполовину заполненным.
	merged := *cfg
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	*cfg = merged
	return nil
}

type envReader struct {
	lookup   LookupFunc
	warnings []string
}

func (r *envReader) value(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) warn(key, raw, reason string) {
	r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q: %s, using default", key, raw, reason))
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = raw
	}
}

func (r *envReader) list(key string, dst *[]string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		r.warn(key, raw, "expected boolean")
		return
	}
	*dst = parsed
}

func (r *envReader) positiveInt(key string, dst *int) {
	r.integer(key, dst, 1)
}

func (r *envReader) nonNegativeInt(key string, dst *int) {
	r.integer(key, dst, 0)
}

func (r *envReader) integer(key string, dst *int, minValue int) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < minValue {
		r.warn(key, raw, fmt.Sprintf("expected integer >= %d", minValue))
		return
	}
	*dst = parsed
}

func (r *envReader) positiveDuration(key string, dst *time.Duration) {
	r.duration(key, dst, false)
}

func (r *envReader) nonNegativeDuration(key string, dst *time.Duration) {
	r.duration(key, dst, true)
}

func (r *envReader) duration(key string, dst *time.Duration, allowZero bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 || (parsed == 0 && !allowZero) {
		r.warn(key, raw, "expected duration like 500ms or 2s")
		return
	}
	*dst = parsed
}
