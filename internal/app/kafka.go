package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

// initKafkaProducer подключается к брокерам. Без брокеров возвращает nil, nil:
// сервис работает, события копятся в outbox.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return producer, nil
}

// startEscalationConsumer запускает автоматический повтор эскалированных сверок.
func startEscalationConsumer(ctx context.Context, cfg Config, reconciler *reconcile.Reconciler, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	handler := kafka.NewEscalationHandler(reconciler, kafka.EscalationOptions{
		MaxAttempts: cfg.EscalationMaxAttempts,
		Delay:       cfg.EscalationDelay,
		Logger:      logger.WithField("component", "escalation-consumer"),
	})
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.EscalationGroupID,
		Topics:  []string{kafka.TopicEscalations},
		DLQ:     dlq,
	}, handler)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}
	return consumer, nil
}

func closeKafka(producer *kafka.Producer, consumer *kafka.Consumer, logger *log.Entry) {
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop escalation consumer")
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}
