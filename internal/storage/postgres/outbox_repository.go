package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultOutboxBatch = 100

	// outboxClaimLease — сколько событие остаётся за relay, забравшим его, прежде чем его сможет забрать другая реплика.
	outboxClaimLease = 30 * time.Second
)

type outboxRepository struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// PullPending захватывает пачку через FOR UPDATE SKIP LOCKED, поэтому relay можно запускать в нескольких репликах.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:    store.DB(),
		lease: outboxClaimLease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue идемпотентен по ID: повторная вставка того же события ничего не меняет.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, r.now())
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox event %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending переводит до limit событий в publishing и возвращает их в порядке создания.
// Событие, застрявшее в publishing дольше аренды, забирается повторно.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	now := r.now()

	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			SELECT id
			FROM outbox_messages
			WHERE status = 'pending'
			   OR (status = 'publishing' AND updated_at < $2)
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET status = 'publishing', updated_at = $3
		FROM claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.created_at
	`, limit, now.Add(-r.lease), now)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	type claimedRow struct {
		msg       domain.OutboxMessage
		createdAt time.Time
	}
	var batch []claimedRow
	for rows.Next() {
		var row claimedRow
		if err := rows.Scan(
			&row.msg.ID, &row.msg.AggregateType, &row.msg.AggregateID,
			&row.msg.EventType, &row.msg.Payload, &row.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed outbox event: %w", err)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read claimed outbox batch: %w", err)
	}

	// RETURNING не сохраняет порядок CTE.
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].createdAt.Equal(batch[j].createdAt) {
			return batch[i].createdAt.Before(batch[j].createdAt)
		}
		return batch[i].msg.ID < batch[j].msg.ID
	})

	result := make([]domain.OutboxMessage, 0, len(batch))
	for _, row := range batch {
		result = append(result, row.msg)
	}
	return result, nil
}

// Stats считает backlog вместе с захваченными, но ещё не подтверждёнными событиями.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status IN ('pending', 'publishing')
	`).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("query outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, "sent")
}

// MarkFailed фиксирует событие, ушедшее в DLQ; повторно relay его не публикует.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.settle(ctx, id, "failed")
}

// settle переводит незавершённое событие в финальный статус.
// Уже завершённое или неизвестное событие даёт ErrOutboxPublish.
func (r *outboxRepository) settle(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'publishing')
	`, id, status, r.now())
	if err != nil {
		return fmt.Errorf("settle outbox event %s as %s: %w", id, status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle outbox event %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("outbox event %s is not in flight: %w", id, domain.ErrOutboxPublish)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
