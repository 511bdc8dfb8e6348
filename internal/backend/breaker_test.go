package backend

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestCircuitBreaker_OpensAfterTemporaryFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, nil)
	temp := fmt.Errorf("boom: %w", domain.ErrUpstreamTemporary)

	for i := 0; i < 3; i++ {
		if err := cb.Execute("op", func() error { return temp }); !errors.Is(err, temp) {
			t.Fatalf("attempt %d: expected original error, got %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	called := false
	err := cb.Execute("op", func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not be called while open")
	}
}

func TestCircuitBreaker_RejectionsDoNotOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, nil)
	rejected := fmt.Errorf("bad request: %w", domain.ErrUpstreamRejected)

	for i := 0; i < 5; i++ {
		_ = cb.Execute("op", func() error { return rejected })
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Second, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	_ = cb.Execute("op", func() error { return domain.ErrUpstreamTemporary })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	now = now.Add(2 * time.Second)
	if err := cb.Execute("op", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Execute("op", func() error { return domain.ErrUpstreamTemporary })
	}
	now = now.Add(2 * time.Second)
	_ = cb.Execute("op", func() error { return domain.ErrUpstreamTemporary })

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state after half-open failure, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Second, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	_ = cb.Execute("op", func() error { return domain.ErrUpstreamTemporary })
	now = now.Add(2 * time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute("op", func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	called := false
	if err := cb.Execute("op", func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while probe is in flight, got %v", err)
	}
	if called {
		t.Fatal("second call must not reach the backend during the probe")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed state after successful probe, got %s", cb.State())
	}
}
