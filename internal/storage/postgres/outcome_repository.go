package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultOutcomeTTL = 30 * 24 * time.Hour

	outcomeColumns = `txn_ref, session_id, state, failure_kind, response_code, message,
		order_id, callback, draft, attempts, ttl_at, created_at, updated_at`
)

type outcomeRepository struct {
	db *sql.DB
}

// NewOutcomeRepository создаёт PostgreSQL-реализацию журнала сверок.
func NewOutcomeRepository(store *Store) domain.OutcomeRepository {
	return &outcomeRepository{db: store.DB()}
}

func (r *outcomeRepository) Begin(ctx context.Context, txnRef, sessionID string, ttlAt time.Time) (domain.ReconcileOutcome, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ReconcileOutcome{}, domain.ErrTxnRefRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultOutcomeTTL)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(opCtx, `
		INSERT INTO reconcile_outcomes (
			txn_ref, session_id, state, attempts, ttl_at, created_at, updated_at
		) VALUES ($1, $2, $3, 1, $4, $5, $5)
	`, txnRef, sessionID, string(domain.ReconcileStateReconciling), ttlAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(ctx, txnRef)
			if getErr != nil {
				return domain.ReconcileOutcome{}, domain.ErrOutcomeAlreadyExists
			}
			return existing, domain.ErrOutcomeAlreadyExists
		}
		return domain.ReconcileOutcome{}, fmt.Errorf("begin reconcile outcome: %w", err)
	}

	return domain.ReconcileOutcome{
		TxnRef:    txnRef,
		SessionID: sessionID,
		State:     domain.ReconcileStateReconciling,
		Attempts:  1,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *outcomeRepository) Get(ctx context.Context, txnRef string) (domain.ReconcileOutcome, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ReconcileOutcome{}, domain.ErrTxnRefRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM reconcile_outcomes WHERE txn_ref = $1`, txnRef)
	record, err := scanOutcome(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReconcileOutcome{}, domain.ErrOutcomeNotFound
		}
		return domain.ReconcileOutcome{}, fmt.Errorf("get reconcile outcome: %w", err)
	}
	return record, nil
}

func (r *outcomeRepository) Finish(ctx context.Context, txnRef string, update domain.OutcomeUpdate) error {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ErrTxnRefRequired
	}
	if !update.State.IsTerminal() {
		return domain.ErrInvalidStateTransition
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Финальный результат фиксируется только для записи в reconciling.
	res, err := r.db.ExecContext(ctx, `
		UPDATE reconcile_outcomes
		SET state = $2,
		    failure_kind = $3,
		    response_code = $4,
		    message = $5,
		    order_id = $6,
		    callback = COALESCE($7, callback),
		    draft = COALESCE($10, draft),
		    updated_at = $8
		WHERE txn_ref = $1 AND state = $9
	`,
		txnRef,
		string(update.State),
		string(update.FailureKind),
		update.ResponseCode,
		update.Message,
		update.OrderID,
		nullableJSON(update.Callback),
		time.Now().UTC(),
		string(domain.ReconcileStateReconciling),
		nullableJSON(update.Draft),
	)
	if err != nil {
		return fmt.Errorf("finish reconcile outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reconcile outcome rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, txnRef); errors.Is(getErr, domain.ErrOutcomeNotFound) {
			return domain.ErrOutcomeNotFound
		}
		return domain.ErrInvalidStateTransition
	}

	return nil
}

func (r *outcomeRepository) Resume(ctx context.Context, txnRef string, staleBefore time.Time) (domain.ReconcileOutcome, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.ReconcileOutcome{}, domain.ErrTxnRefRequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stale sql.NullTime
	if !staleBefore.IsZero() {
		stale = sql.NullTime{Time: staleBefore, Valid: true}
	}

	row := r.db.QueryRowContext(opCtx, `
		UPDATE reconcile_outcomes
		SET state = $2,
		    attempts = attempts + 1,
		    updated_at = $3
		WHERE txn_ref = $1
		  AND (
		    (state = $4 AND failure_kind = $5)
		    OR (state = $2 AND $6::timestamptz IS NOT NULL AND updated_at < $6)
		  )
		RETURNING `+outcomeColumns,
		txnRef,
		string(domain.ReconcileStateReconciling),
		time.Now().UTC(),
		string(domain.ReconcileStateFailed),
		string(domain.FailureKindPostPaymentOrderCreationFailed),
		stale,
	)

	record, err := scanOutcome(row)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.ReconcileOutcome{}, fmt.Errorf("resume reconcile outcome: %w", err)
	}

	existing, getErr := r.Get(ctx, txnRef)
	if getErr != nil {
		return domain.ReconcileOutcome{}, getErr
	}
	return existing, domain.ErrOutcomeNotRetryable
}

func (r *outcomeRepository) ListEscalated(ctx context.Context, limit int) ([]domain.ReconcileOutcome, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outcomeColumns+`
		FROM reconcile_outcomes
		WHERE state = $1 AND failure_kind = $2
		ORDER BY updated_at ASC
		LIMIT $3
	`,
		string(domain.ReconcileStateFailed),
		string(domain.FailureKindPostPaymentOrderCreationFailed),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list escalated outcomes: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReconcileOutcome, 0)
	for rows.Next() {
		record, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalated outcome: %w", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalated outcomes: %w", err)
	}

	return result, nil
}

func (r *outcomeRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 1000
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Вместе с записью удаляется и её журнал событий.
	var deleted int
	err := r.db.QueryRowContext(ctx, `
		WITH expired AS (
			DELETE FROM reconcile_outcomes
			WHERE txn_ref IN (
				SELECT txn_ref
				FROM reconcile_outcomes
				WHERE ttl_at <= $1
				  AND state IN ($2, $3)
				  AND NOT (state = $3 AND failure_kind = $4)
				ORDER BY ttl_at ASC
				LIMIT $5
			)
			RETURNING txn_ref
		), dropped AS (
			DELETE FROM timeline_events t
			USING expired e
			WHERE t.txn_ref = e.txn_ref
		)
		SELECT COUNT(*) FROM expired
	`,
		before,
		string(domain.ReconcileStateCompleted),
		string(domain.ReconcileStateFailed),
		string(domain.FailureKindPostPaymentOrderCreationFailed),
		limit,
	).Scan(&deleted)
	if err != nil {
		return 0, fmt.Errorf("delete expired outcomes: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (domain.ReconcileOutcome, error) {
	var (
		record   domain.ReconcileOutcome
		state    string
		kind     string
		callback []byte
		draft    []byte
	)

	if err := row.Scan(
		&record.TxnRef,
		&record.SessionID,
		&state,
		&kind,
		&record.ResponseCode,
		&record.Message,
		&record.OrderID,
		&callback,
		&draft,
		&record.Attempts,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return domain.ReconcileOutcome{}, err
	}

	record.State = domain.ReconcileState(state)
	if !record.State.Valid() {
		return domain.ReconcileOutcome{}, fmt.Errorf("invalid reconcile state %q for %s", state, record.TxnRef)
	}
	record.FailureKind = domain.FailureKind(kind)
	record.Callback = append([]byte(nil), callback...)
	record.Draft = append([]byte(nil), draft...)

	return record, nil
}

// nullableJSON превращает пустой срез в NULL, чтобы COALESCE сохранил прежнее значение.
func nullableJSON(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	return string(body)
}

var _ domain.OutcomeRepository = (*outcomeRepository)(nil)
