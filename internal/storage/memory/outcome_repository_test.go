package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestOutcomeRepository_BeginAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutcomeRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.Begin(ctx, "TX1", "sess-1", ttl)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if created.State != domain.ReconcileStateReconciling {
		t.Fatalf("expected state %s, got %s", domain.ReconcileStateReconciling, created.State)
	}

	got, err := repo.Get(ctx, "TX1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SessionID != "sess-1" {
		t.Fatalf("expected session sess-1, got %s", got.SessionID)
	}
	if !got.TTLAt.Equal(ttl) {
		t.Fatalf("expected ttl %s, got %s", ttl, got.TTLAt)
	}

	existing, err := repo.Begin(ctx, "TX1", "sess-2", ttl)
	if !errors.Is(err, domain.ErrOutcomeAlreadyExists) {
		t.Fatalf("expected ErrOutcomeAlreadyExists, got %v", err)
	}
	if existing.SessionID != "sess-1" {
		t.Fatalf("expected existing record to be returned, got %+v", existing)
	}

	if _, err := repo.Get(ctx, "TX-missing"); !errors.Is(err, domain.ErrOutcomeNotFound) {
		t.Fatalf("expected ErrOutcomeNotFound, got %v", err)
	}
}

func TestOutcomeRepository_FinishAndResume(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutcomeRepository()

	if _, err := repo.Begin(ctx, "TX2", "sess-2", time.Time{}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// Незавершённая сверка не может быть возобновлена, пока не устарела.
	if _, err := repo.Resume(ctx, "TX2", time.Now().Add(-time.Minute)); !errors.Is(err, domain.ErrOutcomeNotRetryable) {
		t.Fatalf("expected ErrOutcomeNotRetryable, got %v", err)
	}

	err := repo.Finish(ctx, "TX2", domain.OutcomeUpdate{
		State:        domain.ReconcileStateFailed,
		FailureKind:  domain.FailureKindPostPaymentOrderCreationFailed,
		ResponseCode: "00",
		Callback:     []byte(`{"transactionId":"TX2"}`),
	})
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	escalated, err := repo.ListEscalated(ctx, 10)
	if err != nil {
		t.Fatalf("ListEscalated failed: %v", err)
	}
	if len(escalated) != 1 || escalated[0].TxnRef != "TX2" {
		t.Fatalf("expected TX2 to be escalated, got %+v", escalated)
	}

	resumed, err := repo.Resume(ctx, "TX2", time.Time{})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.State != domain.ReconcileStateReconciling || resumed.Attempts != 2 {
		t.Fatalf("unexpected resumed record: %+v", resumed)
	}
	if string(resumed.Callback) != `{"transactionId":"TX2"}` {
		t.Fatalf("expected callback to be kept, got %s", resumed.Callback)
	}

	if err := repo.Finish(ctx, "TX2", domain.OutcomeUpdate{State: domain.ReconcileStateCompleted, OrderID: "ord-1"}); err != nil {
		t.Fatalf("Finish completed failed: %v", err)
	}
	if err := repo.Finish(ctx, "TX2", domain.OutcomeUpdate{State: domain.ReconcileStateFailed}); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestOutcomeRepository_ResumeStale(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutcomeRepository()

	if _, err := repo.Begin(ctx, "TX3", "sess-3", time.Time{}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	resumed, err := repo.Resume(ctx, "TX3", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("expected stale record to be resumable, got %v", err)
	}
	if resumed.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", resumed.Attempts)
	}
}

func TestOutcomeRepository_DeleteExpiredKeepsEscalated(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutcomeRepository()
	expired := time.Now().UTC().Add(-time.Minute)

	for _, ref := range []string{"TX-done", "TX-escalated", "TX-inflight"} {
		if _, err := repo.Begin(ctx, ref, "sess", expired); err != nil {
			t.Fatalf("Begin %s failed: %v", ref, err)
		}
	}
	if err := repo.Finish(ctx, "TX-done", domain.OutcomeUpdate{State: domain.ReconcileStateCompleted}); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := repo.Finish(ctx, "TX-escalated", domain.OutcomeUpdate{
		State:       domain.ReconcileStateFailed,
		FailureKind: domain.FailureKindPostPaymentOrderCreationFailed,
	}); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1, got %d", removed)
	}
	if _, err := repo.Get(ctx, "TX-done"); !errors.Is(err, domain.ErrOutcomeNotFound) {
		t.Fatalf("expected completed record to be deleted, got %v", err)
	}
	if _, err := repo.Get(ctx, "TX-escalated"); err != nil {
		t.Fatalf("escalated record must survive cleanup: %v", err)
	}
}
