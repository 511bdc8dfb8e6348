package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type stubPublisher struct {
	mu     sync.Mutex
	errs   []error
	err    error
	events []domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return s.err
}

func (s *stubPublisher) published() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxMessage(nil), s.events...)
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func enqueueEscalation(t *testing.T, repo *memory.OutboxRepository, txnRef string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateReconciliation,
		AggregateID:   txnRef,
		EventType:     domain.EventReconciliationEscalated,
		Payload:       []byte(`{"failure_kind":"post_payment_order_creation_failed"}`),
	})
	require.NoError(t, err)
	return msg
}

func TestRelay_FlushMarksSent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueueEscalation(t, repo, "TXN-1")
	publisher := &stubPublisher{}

	relay := NewRelay(repo, publisher, WithRetryBaseDelay(0))

	assert.Equal(t, 1, relay.Flush(context.Background()))
	assert.Empty(t, repo.AllPending())
	require.Len(t, publisher.published(), 1)
	assert.Equal(t, "TXN-1", publisher.published()[0].AggregateID)
}

func TestRelay_SucceedsAfterTransientErrors(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueueEscalation(t, repo, "TXN-2")
	publisher := &stubPublisher{errs: []error{errors.New("broker down"), errors.New("broker down")}}

	relay := NewRelay(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	assert.Equal(t, 1, relay.Flush(context.Background()))
	assert.Len(t, publisher.published(), 3)
	assert.Empty(t, repo.AllPending())
}

func TestRelay_DeadLettersAfterMaxAttempts(t *testing.T) {
	repo := memory.NewOutboxRepository()
	original := enqueueEscalation(t, repo, "TXN-3")
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	relay := NewRelay(repo, publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(2),
		WithClock(func() time.Time { return fixed }),
	)

	assert.Equal(t, 0, relay.Flush(context.Background()))
	assert.Len(t, publisher.published(), 2)
	assert.Empty(t, repo.AllPending(), "failed event must leave the pending backlog")

	letters := dlq.published()
	require.Len(t, letters, 1)
	assert.Equal(t, original.ID, letters[0].ID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(letters[0].Payload, &body))
	assert.Equal(t, "TXN-3", body["txn_ref"])
	assert.Equal(t, domain.EventReconciliationEscalated, body["event_type"])
	assert.Contains(t, body["publish_error"], "broker down")
	assert.Equal(t, "2026-03-01T12:00:00Z", body["failed_at"])
}

func TestRelay_CanceledContextKeepsEventPending(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueueEscalation(t, repo, "TXN-4")
	publisher := &stubPublisher{err: errors.New("broker down")}

	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(repo, publisher, WithRetryBaseDelay(time.Hour), WithMaxAttempts(3))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.Equal(t, 0, relay.Flush(ctx))
	assert.Len(t, repo.AllPending(), 1)
}

func TestRelay_BackoffIsCapped(t *testing.T) {
	relay := NewRelay(nil, nil, WithRetryBaseDelay(time.Second))

	assert.Equal(t, time.Second, relay.backoff(1))
	assert.Equal(t, 2*time.Second, relay.backoff(2))
	assert.Equal(t, maxRetryDelay, relay.backoff(10))
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	relay := NewRelay(repo, &stubPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancel")
	}
}

func TestRelay_RunWithoutPublisherReturns(t *testing.T) {
	relay := NewRelay(memory.NewOutboxRepository(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled relay must return immediately")
	}
}
