package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// CacheWarmerGroup — consumer group прогрева кэша версий.
const CacheWarmerGroup = "catalog-cache-warmer"

// VersionPrimer кладёт версию товара в кэш.
type VersionPrimer interface {
	Prime(ctx context.Context, v domain.ProductVersion)
}

// NewCacheWarmerHandler возвращает обработчик, который по событиям
// ProductVersionCreated заранее кладёт новые версии в кэш. Остальные события пропускаются.
func NewCacheWarmerHandler(primer VersionPrimer, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "cache-warmer")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		if eventType, ok := headerValue(message.Headers, HeaderEventType); ok && eventType != domain.EventProductVersionCreated {
			return nil
		}

		envelope, err := ParseEnvelope(message)
		if err != nil {
			return err
		}
		if envelope.EventType != domain.EventProductVersionCreated {
			return nil
		}

		var payload domain.ProductVersionCreatedPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
		}
		if payload.ProductID <= 0 || payload.Version <= 0 {
			return fmt.Errorf("%s payload has no product version", envelope.EventType)
		}

		primer.Prime(ctx, payload.ProductVersion())
		logger.WithFields(log.Fields{
			"product_id": payload.ProductID,
			"version":    payload.Version,
		}).Debug("product version primed")
		return nil
	}
}
