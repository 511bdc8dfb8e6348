package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestPendingOrderStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	store := NewPendingOrderStore(time.Hour)

	draft := domain.DraftOrder{
		ShippingAddress: "12 Lê Lợi, Quận 1",
		Items:           []domain.DraftItem{{ProductID: 1, Quantity: 1, Price: 150000}},
		TotalAmount:     150000,
	}
	if err := store.Save(ctx, "sess-1", draft); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SessionID != "sess-1" || loaded.CreatedAt.IsZero() {
		t.Fatalf("expected session and timestamp to be set, got %+v", loaded)
	}

	// Мутация возвращённой копии не должна влиять на хранилище.
	loaded.Items[0].Quantity = 99
	again, _ := store.Load(ctx, "sess-1")
	if again.Items[0].Quantity != 1 {
		t.Fatalf("store leaked internal slice")
	}

	if err := store.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := store.Load(ctx, "sess-1"); !errors.Is(err, domain.ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
	if err := store.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("Clear of missing draft must be a no-op, got %v", err)
	}
}

func TestPendingOrderStore_OverwriteAndExpiry(t *testing.T) {
	ctx := context.Background()
	raw := NewPendingOrderStore(time.Hour).(*pendingOrderStoreInMemory)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	raw.now = func() time.Time { return now }

	if err := raw.Save(ctx, "sess", domain.DraftOrder{TxnRef: "TX-old"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := raw.Save(ctx, "sess", domain.DraftOrder{TxnRef: "TX-new"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := raw.Load(ctx, "sess")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.TxnRef != "TX-new" {
		t.Fatalf("expected latest draft to win, got %s", got.TxnRef)
	}

	now = now.Add(2 * time.Hour)
	if _, err := raw.Load(ctx, "sess"); !errors.Is(err, domain.ErrDraftNotFound) {
		t.Fatalf("expected expired draft to be treated as absent, got %v", err)
	}

	if err := raw.Save(ctx, " ", domain.DraftOrder{}); !errors.Is(err, domain.ErrSessionRequired) {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
}
