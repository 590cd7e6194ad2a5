package circuitbreaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	b := New("test", Config{MaxFailures: 2, ResetTimeout: time.Hour}, discardLogger())
	boom := errors.New("boom")
	op := func(ctx context.Context) error { return boom }

	if err := b.Execute(context.Background(), op); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := b.Execute(context.Background(), op); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen after second failure, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected Open state, got %v", b.State())
	}

	if err := b.Execute(context.Background(), op); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fast-fail ErrOpen while open, got %v", err)
	}
}

func TestBreakerRecoversAfterResetTimeout(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, ResetTimeout: time.Millisecond}, discardLogger())
	boom := errors.New("boom")
	if err := b.Execute(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if err := b.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected probe success to close breaker, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed after successful probe, got %v", b.State())
	}
}
