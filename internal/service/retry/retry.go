// Package retry повторяет операции, упавшие с domain.ErrConcurrencyConflict,
// с экспоненциальной задержкой.
package retry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// Config конфигурация повторов.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// Retrier выполняет операцию, повторяя её при конфликте конкурентного доступа.
// Остальные ошибки возвращаются сразу.
type Retrier struct {
	config  Config
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(operation string, attempt int)
}

// Option настраивает Retrier.
type Option func(*Retrier)

// WithOnRetry задаёт callback, вызываемый перед каждым повтором.
func WithOnRetry(fn func(operation string, attempt int)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New создаёт Retrier.
func New(config Config, logger *log.Entry, options ...Option) *Retrier {
	if logger == nil {
		logger = log.WithField("component", "retry")
	}
	r := &Retrier{
		config: config.withDefaults(),
		logger: logger,
		sleep:  sleepContext,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Config возвращает нормализованную конфигурацию.
func (r *Retrier) Config() Config {
	return r.config
}

// Do вызывает fn до MaxAttempts раз. Каждая попытка должна быть самостоятельной
// транзакцией: повтор запускает её заново целиком.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !ShouldRetry(err) {
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		r.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Warn("concurrency conflict, retrying")
		if r.onRetry != nil {
			r.onRetry(operation, attempt)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	r.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": r.config.MaxAttempts,
		"error":        lastErr,
	}).Error("operation failed after all retry attempts")

	return lastErr
}

// ShouldRetry сообщает, имеет ли смысл повторять операцию.
func ShouldRetry(err error) bool {
	return domain.IsConcurrencyConflict(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
