package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAttemptSucceedsOnThirdTry(t *testing.T) {
	calls := 0
	got, attempts, err := Attempt(context.Background(), 3, 0, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("malformed")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Attempt = %q, %v", got, err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d", attempts, calls)
	}
}

func TestAttemptReturnsLastError(t *testing.T) {
	last := errors.New("third")
	_, attempts, err := Attempt(context.Background(), 3, 0, func(ctx context.Context, attempt int) (int, error) {
		if attempt == 3 {
			return 0, last
		}
		return 0, errors.New("earlier")
	})
	if !errors.Is(err, last) {
		t.Fatalf("err = %v, want the last error", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d", attempts)
	}
}

func TestAttemptStopsOnPermanent(t *testing.T) {
	denied := errors.New("denied")
	calls := 0
	_, attempts, err := Attempt(context.Background(), 3, 0, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Permanent(denied)
	})
	if !errors.Is(err, denied) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d", calls, attempts)
	}
}

func TestAttemptHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := Attempt(ctx, 3, time.Hour, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("slow")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}
