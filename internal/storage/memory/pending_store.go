package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// pendingOrderStoreInMemory хранит по одному черновику на сессию (для разработки/тестов).
type pendingOrderStoreInMemory struct {
	mu     sync.RWMutex
	drafts map[string]domain.DraftOrder
	ttl    time.Duration
	now    func() time.Time
}

// NewPendingOrderStore создаёт in-memory реализацию PendingOrderStore.
// ttl <= 0 отключает устаревание черновиков.
func NewPendingOrderStore(ttl time.Duration) domain.PendingOrderStore {
	return &pendingOrderStoreInMemory{
		drafts: make(map[string]domain.DraftOrder),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *pendingOrderStoreInMemory) Save(_ context.Context, sessionID string, draft domain.DraftOrder) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}
	draft.SessionID = sessionID

	s.mu.Lock()
	defer s.mu.Unlock()

	// Новый черновик всегда вытесняет предыдущий: на сессию одна запись.
	s.drafts[sessionID] = cloneDraft(draft)
	return nil
}

func (s *pendingOrderStoreInMemory) Load(_ context.Context, sessionID string) (domain.DraftOrder, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.DraftOrder{}, domain.ErrSessionRequired
	}

	s.mu.RLock()
	draft, ok := s.drafts[sessionID]
	s.mu.RUnlock()

	if !ok || draft.Expired(s.now(), s.ttl) {
		return domain.DraftOrder{}, domain.ErrDraftNotFound
	}
	return cloneDraft(draft), nil
}

func (s *pendingOrderStoreInMemory) Clear(_ context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, sessionID)
	return nil
}

func cloneDraft(src domain.DraftOrder) domain.DraftOrder {
	dst := src
	dst.Items = append([]domain.DraftItem(nil), src.Items...)
	return dst
}

var _ domain.PendingOrderStore = (*pendingOrderStoreInMemory)(nil)
