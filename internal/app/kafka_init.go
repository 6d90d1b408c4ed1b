package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/cache/rediscache"
	"github.com/vladislavdragonenkov/catalog/internal/messaging/kafka"
)

// kafkaRuntime — producer, публикаторы outbox и необязательный consumer прогрева кэша.
type kafkaRuntime struct {
	producer  *kafka.Producer
	publisher *kafka.OutboxTopicPublisher
	dlq       *kafka.OutboxTopicPublisher
	consumer  *kafka.Consumer
}

// initKafka поднимает Kafka, если заданы брокеры. Возвращает nil, nil без брокеров.
func initKafka(cfg Config, versionCache *rediscache.VersionCache, logger *log.Entry) (*kafkaRuntime, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	rt := &kafkaRuntime{
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:       kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic),
	}
	logger.WithFields(log.Fields{
		"brokers": cfg.KafkaBrokers,
		"topic":   rt.publisher.Topic(),
	}).Info("kafka producer initialized")

	if versionCache == nil || !cfg.CacheWarmerEnabled {
		return rt, nil
	}

	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		kafka.CacheWarmerGroup,
		[]string{rt.publisher.Topic()},
		kafka.NewCacheWarmerHandler(versionCache, logger.WithField("component", "cache-warmer")),
		kafka.WithDLQProducer(producer),
		kafka.WithDLQTopic(cfg.KafkaDLQTopic),
		kafka.WithConsumerLogger(logger.WithFields(log.Fields{"component": "kafka-consumer", "group": kafka.CacheWarmerGroup})),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create cache warmer consumer, continuing without it")
		return rt, nil
	}
	rt.consumer = consumer
	return rt, nil
}

func (rt *kafkaRuntime) start(ctx context.Context) error {
	if rt == nil || rt.consumer == nil {
		return nil
	}
	return rt.consumer.Start(ctx)
}

// close останавливает consumer, затем producer: consumer пишет в DLQ через тот же producer.
func (rt *kafkaRuntime) close(logger *log.Entry) {
	if rt == nil {
		return
	}
	if rt.consumer != nil {
		if err := rt.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if rt.producer != nil {
		if err := rt.producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}
