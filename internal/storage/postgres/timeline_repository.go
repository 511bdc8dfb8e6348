package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO timeline_events (txn_ref, type, reason, occurred) VALUES ($1, $2, $3, $4)`,
		event.TxnRef, event.Type, event.Reason, event.Occurred,
	)
	if err != nil {
		return fmt.Errorf("append %s to timeline of %s: %w", event.Type, event.TxnRef, err)
	}
	return nil
}

// List отдаёт журнал транзакции по времени; события с одинаковым временем идут в порядке записи.
func (r *timelineRepository) List(ctx context.Context, txnRef string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT type, reason, occurred FROM timeline_events WHERE txn_ref = $1 ORDER BY occurred, id`,
		txnRef,
	)
	if err != nil {
		return nil, fmt.Errorf("load timeline of %s: %w", txnRef, err)
	}
	defer rows.Close()

	events := []domain.TimelineEvent{}
	for rows.Next() {
		event := domain.TimelineEvent{TxnRef: txnRef}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline of %s: %w", txnRef, err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timeline of %s: %w", txnRef, err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
