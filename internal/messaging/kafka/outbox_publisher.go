package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// OutboxPublisher публикует события outbox. Эскалации уходят в отдельный topic,
// который читает EscalationConsumer; остальные события идут в общий topic сверок.
type OutboxPublisher struct {
	producer *Producer
	routes   map[string]string
	fallback string
	now      func() time.Time
}

// PublisherOption настраивает OutboxPublisher.
type PublisherOption func(*OutboxPublisher)

// WithRoute направляет события eventType в topic.
func WithRoute(eventType, topic string) PublisherOption {
	return func(p *OutboxPublisher) { p.routes[eventType] = topic }
}

// WithPublisherClock подменяет время published_at.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *OutboxPublisher) { p.now = now }
}

// NewOutboxPublisher создаёт publisher; пустой topic заменяется на TopicReconciliationEvents.
func NewOutboxPublisher(producer *Producer, topic string, options ...PublisherOption) *OutboxPublisher {
	if topic == "" {
		topic = TopicReconciliationEvents
	}
	p := &OutboxPublisher{
		producer: producer,
		routes: map[string]string{
			domain.EventReconciliationEscalated: TopicEscalations,
		},
		fallback: topic,
		now:      time.Now,
	}
	for _, apply := range options {
		apply(p)
	}
	return p
}

// NewDLQPublisher публикует все события в TopicDeadLetterQueue.
func NewDLQPublisher(producer *Producer) *OutboxPublisher {
	p := NewOutboxPublisher(producer, TopicDeadLetterQueue)
	p.routes = map[string]string{}
	return p
}

// TopicFor возвращает topic для типа события.
func (p *OutboxPublisher) TopicFor(eventType string) string {
	if topic, ok := p.routes[eventType]; ok {
		return topic
	}
	return p.fallback
}

func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	headers := map[string]string{HeaderEventType: event.EventType}
	return p.producer.PublishJSON(ctx, p.TopicFor(event.EventType), key, NewEnvelope(event, p.now()), headers)
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
