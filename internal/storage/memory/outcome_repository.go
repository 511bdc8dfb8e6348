package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultOutcomeTTL = 30 * 24 * time.Hour

type outcomeRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.ReconcileOutcome
}

// NewOutcomeRepository создаёт in-memory реализацию журнала сверок.
func NewOutcomeRepository() domain.OutcomeRepository {
	return &outcomeRepositoryInMemory{
		items: make(map[string]domain.ReconcileOutcome),
	}
}

func (r *outcomeRepositoryInMemory) Begin(_ context.Context, txnRef, sessionID string, ttlAt time.Time) (domain.ReconcileOutcome, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ReconcileOutcome{}, domain.ErrTxnRefRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultOutcomeTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[txnRef]; ok {
		return cloneOutcome(existing), domain.ErrOutcomeAlreadyExists
	}

	record := domain.ReconcileOutcome{
		TxnRef:    txnRef,
		SessionID: sessionID,
		State:     domain.ReconcileStateReconciling,
		Attempts:  1,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.items[txnRef] = cloneOutcome(record)
	return cloneOutcome(record), nil
}

func (r *outcomeRepositoryInMemory) Get(_ context.Context, txnRef string) (domain.ReconcileOutcome, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ReconcileOutcome{}, domain.ErrTxnRefRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[txnRef]
	if !ok {
		return domain.ReconcileOutcome{}, domain.ErrOutcomeNotFound
	}
	return cloneOutcome(record), nil
}

func (r *outcomeRepositoryInMemory) Finish(_ context.Context, txnRef string, update domain.OutcomeUpdate) error {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ErrTxnRefRequired
	}
	if !update.State.IsTerminal() {
		return domain.ErrInvalidStateTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[txnRef]
	if !ok {
		return domain.ErrOutcomeNotFound
	}
	if !record.State.CanTransitionTo(update.State) {
		return domain.ErrInvalidStateTransition
	}

	record.State = update.State
	record.FailureKind = update.FailureKind
	record.ResponseCode = update.ResponseCode
	record.Message = update.Message
	record.OrderID = update.OrderID
	if len(update.Callback) > 0 {
		record.Callback = append([]byte(nil), update.Callback...)
	}
	if len(update.Draft) > 0 {
		record.Draft = append([]byte(nil), update.Draft...)
	}
	record.UpdatedAt = time.Now().UTC()
	r.items[txnRef] = record

	return nil
}

func (r *outcomeRepositoryInMemory) Resume(_ context.Context, txnRef string, staleBefore time.Time) (domain.ReconcileOutcome, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ReconcileOutcome{}, domain.ErrTxnRefRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[txnRef]
	if !ok {
		return domain.ReconcileOutcome{}, domain.ErrOutcomeNotFound
	}

	stale := record.State == domain.ReconcileStateReconciling &&
		!staleBefore.IsZero() && record.UpdatedAt.Before(staleBefore)
	if !record.Escalated() && !stale {
		return cloneOutcome(record), domain.ErrOutcomeNotRetryable
	}

	record.State = domain.ReconcileStateReconciling
	record.Attempts++
	record.UpdatedAt = time.Now().UTC()
	r.items[txnRef] = record

	return cloneOutcome(record), nil
}

func (r *outcomeRepositoryInMemory) ListEscalated(_ context.Context, limit int) ([]domain.ReconcileOutcome, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	result := make([]domain.ReconcileOutcome, 0)
	for _, record := range r.items {
		if record.Escalated() {
			result = append(result, cloneOutcome(record))
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *outcomeRepositoryInMemory) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.items {
		// Эскалированные записи ждут ручной сверки и не удаляются по ttl.
		if !record.State.IsTerminal() || record.Escalated() || record.TTLAt.After(before) {
			continue
		}

		delete(r.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

func cloneOutcome(src domain.ReconcileOutcome) domain.ReconcileOutcome {
	dst := src
	dst.Callback = append([]byte(nil), src.Callback...)
	dst.Draft = append([]byte(nil), src.Draft...)
	return dst
}

var _ domain.OutcomeRepository = (*outcomeRepositoryInMemory)(nil)
