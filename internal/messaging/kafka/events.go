package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Topics сервиса оформления.
const (
	TopicReconciliationEvents = "checkout.reconciliation.events"
	TopicEscalations          = "checkout.reconciliation.escalations"
	TopicDeadLetterQueue      = "checkout.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — формат событий outbox в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// EscalationEvent — полезная нагрузка ReconciliationEscalated.
type EscalationEvent struct {
	TxnRef       string `json:"txn_ref"`
	FailureKind  string `json:"failure_kind"`
	ResponseCode string `json:"response_code,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// NewEnvelope упаковывает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   at.UTC(),
	}
}

// ParseEscalation разбирает событие эскалации; TxnRef берётся из агрегата, если его нет в payload.
func ParseEscalation(value []byte) (EscalationEvent, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return EscalationEvent{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.EventType != domain.EventReconciliationEscalated {
		return EscalationEvent{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}

	var event EscalationEvent
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			return EscalationEvent{}, fmt.Errorf("unmarshal escalation payload: %w", err)
		}
	}
	if event.TxnRef == "" {
		event.TxnRef = env.AggregateID
	}
	if event.TxnRef == "" {
		return EscalationEvent{}, domain.ErrTxnRefRequired
	}
	return event, nil
}
