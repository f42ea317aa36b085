package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	e := New("test", Config{Attempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	attempts := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecutorTripsBreaker(t *testing.T) {
	e := New("test-trip", Config{
		Attempts:                    1,
		BaseDelay:                   time.Millisecond,
		ConsecutiveFailureThreshold: 2,
		OpenTimeout:                 time.Hour,
	})

	always := func(ctx context.Context) error { return errors.New("boom") }

	_ = e.Do(context.Background(), always)
	_ = e.Do(context.Background(), always)

	err := e.Do(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn should not run while breaker is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
