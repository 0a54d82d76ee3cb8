package verifier

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryUntilFirstAttemptSucceeds(t *testing.T) {
	p := RetryPolicy{Attempts: 2, Delay: time.Hour}
	calls := 0
	err := p.Until(context.Background(), func() (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}

func TestRetryUntilSecondAttempt(t *testing.T) {
	p := RetryPolicy{Attempts: 2, Delay: time.Millisecond}
	calls := 0
	err := p.Until(context.Background(), func() (bool, error) {
		calls++
		return calls == 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected two attempts, got %d", calls)
	}
}

func TestRetryUntilExhaustedReturnsLastError(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Delay: 0}
	wantErr := errors.New("still stale")
	calls := 0
	err := p.Until(context.Background(), func() (bool, error) {
		calls++
		return false, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected three attempts, got %d", calls)
	}
}

func TestRetryUntilCancelledDuringDelay(t *testing.T) {
	p := RetryPolicy{Attempts: 2, Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- p.Until(ctx, func() (bool, error) {
			return false, nil
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not honor cancellation")
	}
}
