package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var producedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkout_kafka_produced_messages_total",
	Help: "Messages sent to Kafka by topic and result",
}, []string{"topic", "result"})

// Producer синхронно публикует события сверки в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// producerConfig: идемпотентная отправка с подтверждением от всех реплик.
func producerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer to %v: %w", brokers, err)
	}
	return &Producer{
		producer: producer,
		logger:   log.WithFields(log.Fields{"component": "kafka-producer", "client_id": clientID}),
	}, nil
}

// PublishJSON сериализует value и публикует его с ключом key.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, value any, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, data, headers)
}

// Publish отправляет готовое сообщение. Отменённый ctx не доходит до брокера.
// Ключом служит TxnRef, и события одной транзакции попадают в одну партицию.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(headers),
		Timestamp: time.Now(),
	})
	if err != nil {
		producedMessages.WithLabelValues(topic, "failed").Inc()
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	producedMessages.WithLabelValues(topic, "sent").Inc()
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return nil
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// recordHeaders раскладывает заголовки в порядке ключей.
func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}
	return out
}
