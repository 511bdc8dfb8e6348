package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type outboxStatus uint8

const (
	outboxPending outboxStatus = iota
	outboxSent
	outboxFailed
)

type outboxEntry struct {
	msg        domain.OutboxMessage
	status     outboxStatus
	attempts   int
	enqueuedAt time.Time
	settledAt  time.Time
}

// OutboxRepository держит события в порядке постановки.
// Завершённые записи остаются в queue, чтобы повторный Enqueue того же ID оставался no-op.
type OutboxRepository struct {
	mu    sync.RWMutex
	now   func() time.Time
	queue []*outboxEntry
	byID  map[string]*outboxEntry
}

// NewOutboxRepository создаёт in-memory outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		now:  func() time.Time { return time.Now().UTC() },
		byID: make(map[string]*outboxEntry),
	}
}

// Enqueue ставит событие в очередь; событие с уже известным ID не перезаписывается.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[msg.ID]; ok {
		return msg, nil
	}
	entry := &outboxEntry{msg: msg, status: outboxPending, enqueuedAt: r.now()}
	r.queue = append(r.queue, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending возвращает до limit ожидающих событий, старые первыми.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, entry := range r.queue {
		if len(out) == limit {
			break
		}
		if entry.status == outboxPending {
			out = append(out, entry.msg)
		}
	}
	return out, nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.queue {
		if entry.status != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = entry.enqueuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent)
}

// MarkFailed закрывает событие, ушедшее в DLQ.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxFailed)
}

func (r *OutboxRepository) settle(id string, status outboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok || entry.status != outboxPending {
		return fmt.Errorf("settle outbox event %s: %w", id, domain.ErrOutboxPublish)
	}
	entry.status = status
	entry.attempts++
	entry.settledAt = r.now()
	return nil
}

// AllPending возвращает все ожидающие события.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	n := len(r.queue)
	r.mu.RUnlock()

	pending, _ := r.PullPending(context.Background(), n+1)
	return pending
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
