package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// fakeSink fails the first fail calls, then succeeds.
type fakeSink struct {
	fail  int
	err   error
	calls int
}

func (f *fakeSink) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	f.calls++
	if f.calls <= f.fail {
		return f.err
	}
	return nil
}

var loc = models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 2, At: time.Now()}

func TestUpdateWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSink{fail: 2, err: errors.New("geo fail")}
	start := time.Now()
	if err := updateWithRetry(context.Background(), f, loc, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestUpdateWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSink{fail: 5, err: errors.New("geo fail")}
	if err := updateWithRetry(context.Background(), f, loc, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestUpdateWithRetry_UnknownDriverNotRetried(t *testing.T) {
	f := &fakeSink{fail: 5, err: storage.ErrNotFound}
	if err := updateWithRetry(context.Background(), f, loc, 3, 5*time.Millisecond); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single call, got %d", f.calls)
	}
}

func TestUpdateWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeSink{fail: 5, err: errors.New("geo fail")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := updateWithRetry(ctx, f, loc, 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
