package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	keyPrefix  = "checkout:pending:"
	defaultTTL = 24 * time.Hour
)

// PendingOrderStore хранит черновик заказа в Redis, ключ живёт ttl.
type PendingOrderStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewPendingOrderStore создаёт хранилище черновиков поверх Redis.
// ttl <= 0 заменяется значением по умолчанию (24 часа).
func NewPendingOrderStore(client *goredis.Client, ttl time.Duration) *PendingOrderStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PendingOrderStore{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *PendingOrderStore) Save(ctx context.Context, sessionID string, draft domain.DraftOrder) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}
	draft.SessionID = sessionID

	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft failed: %w", err)
	}
	if err := s.client.Set(ctx, pendingKey(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *PendingOrderStore) Load(ctx context.Context, sessionID string) (domain.DraftOrder, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.DraftOrder{}, domain.ErrSessionRequired
	}

	data, err := s.client.Get(ctx, pendingKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.DraftOrder{}, domain.ErrDraftNotFound
	}
	if err != nil {
		return domain.DraftOrder{}, fmt.Errorf("redis get failed: %w", err)
	}

	var draft domain.DraftOrder
	if err := json.Unmarshal(data, &draft); err != nil {
		return domain.DraftOrder{}, fmt.Errorf("unmarshal draft failed: %w", err)
	}
	// Ключ мог пережить TTL черновика, если его пересохранили с устаревшим CreatedAt.
	if draft.Expired(s.now(), s.ttl) {
		return domain.DraftOrder{}, domain.ErrDraftNotFound
	}
	return draft, nil
}

func (s *PendingOrderStore) Clear(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	if err := s.client.Del(ctx, pendingKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis для health-check.
func (s *PendingOrderStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func pendingKey(sessionID string) string {
	return keyPrefix + sessionID
}
