package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неисправимую: сообщение сразу уходит в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ConsumerConfig задаёт параметры Consumer.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	MaxRetries int
	RetryDelay time.Duration
	// DLQ получает сообщения после исчерпания повторов; nil оставляет их неподтверждёнными.
	DLQ *Producer
}

// Consumer читает consumer group и передаёт сообщения в handler с повторами и DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer подключается к consumer group.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	c := newConsumer(group, cfg, handler)
	return c, nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler) *Consumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Consumer{
		consumer:    group,
		topics:      cfg.Topics,
		handler:     handler,
		logger:      log.WithFields(log.Fields{"component": "kafka-consumer", "group": cfg.GroupID}),
		dlqProducer: cfg.DLQ,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("consume failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт завершения горутин.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции. Неподтверждённые сообщения перечитываются после rebalance.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.handle(session.Context(), entry, message); err != nil {
				entry.WithError(err).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handle повторяет обработку до maxRetries раз и отправляет сообщение в DLQ, если не вышло.
func (c *Consumer) handle(ctx context.Context, entry *log.Entry, message *sarama.ConsumerMessage) error {
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		if isPermanent(err) || ctx.Err() != nil {
			break
		}
		entry.WithError(err).WithField("attempt", attempt).Warn("message handling failed")
		if attempt < c.maxRetries && c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, err); dlqErr != nil {
		return fmt.Errorf("send to dlq: %w (handler: %v)", dlqErr, err)
	}
	entry.WithError(err).Warn("message moved to dlq")
	return nil
}

// retryCount читает счётчик переотправок из заголовков.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == HeaderRetryCount {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause error) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	headers := map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt,
		HeaderRetryCount:    strconv.Itoa(retryCount(message) + 1),
	}
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == HeaderEventType {
			headers[HeaderEventType] = string(header.Value)
		}
	}
	return c.dlqProducer.Publish(ctx, TopicDeadLetterQueue, string(message.Key), message.Value, headers)
}
