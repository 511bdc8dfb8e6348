package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// TimelineRepository хранит события сверок по TxnRef, упорядоченные по Occurred.
type TimelineRepository struct {
	mu    sync.RWMutex
	now   func() time.Time
	byTxn map[string][]domain.TimelineEvent
}

func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{
		now:   time.Now,
		byTxn: make(map[string][]domain.TimelineEvent),
	}
}

// Append вставляет событие после всех событий с тем же или более ранним временем.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byTxn[event.TxnRef]
	pos := slices.IndexFunc(events, func(e domain.TimelineEvent) bool {
		return e.Occurred.After(event.Occurred)
	})
	if pos < 0 {
		pos = len(events)
	}
	r.byTxn[event.TxnRef] = slices.Insert(events, pos, event)
	return nil
}

func (r *TimelineRepository) List(_ context.Context, txnRef string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.byTxn[txnRef]), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
