package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type pendingOrderStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPendingOrderStore создаёт PostgreSQL-реализацию PendingOrderStore.
// Черновик хранится как JSONB, одна строка на сессию.
func NewPendingOrderStore(store *Store, ttl time.Duration) domain.PendingOrderStore {
	return &pendingOrderStore{db: store.DB(), ttl: ttl}
}

func (s *pendingOrderStore) Save(ctx context.Context, sessionID string, draft domain.DraftOrder) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	draft.SessionID = sessionID

	body, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_orders (session_id, checkout_id, txn_ref, draft, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NOW())
		ON CONFLICT (session_id) DO UPDATE
		SET checkout_id = EXCLUDED.checkout_id,
		    txn_ref = EXCLUDED.txn_ref,
		    draft = EXCLUDED.draft,
		    created_at = EXCLUDED.created_at,
		    updated_at = NOW()
	`, sessionID, draft.CheckoutID, draft.TxnRef, body, draft.CreatedAt)
	if err != nil {
		return fmt.Errorf("save pending order: %w", err)
	}

	return nil
}

func (s *pendingOrderStore) Load(ctx context.Context, sessionID string) (domain.DraftOrder, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.DraftOrder{}, domain.ErrSessionRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT draft FROM pending_orders WHERE session_id = $1
	`, sessionID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DraftOrder{}, domain.ErrDraftNotFound
		}
		return domain.DraftOrder{}, fmt.Errorf("load pending order: %w", err)
	}

	var draft domain.DraftOrder
	if err := json.Unmarshal(body, &draft); err != nil {
		return domain.DraftOrder{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	if draft.Expired(time.Now().UTC(), s.ttl) {
		return domain.DraftOrder{}, domain.ErrDraftNotFound
	}

	return draft, nil
}

func (s *pendingOrderStore) Clear(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear pending order: %w", err)
	}
	return nil
}

var _ domain.PendingOrderStore = (*pendingOrderStore)(nil)
