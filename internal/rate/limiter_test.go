package rate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketBurstThenBlocks(t *testing.T) {
	tb := NewTokenBucket(1, 2)
	defer tb.Stop()

	for i := range 2 {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if err := tb.Wait(ctx); err != nil {
			cancel()
			t.Fatalf("token %d should be available: %v", i, err)
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error on empty bucket, got %v", err)
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(50, 1)
	defer tb.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := range 3 {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("wait %d failed: %v", i, err)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tb := NewTokenBucket(10, 1)
	tb.Stop()
	tb.Stop()
}

func TestUnlimited(t *testing.T) {
	if err := (Unlimited{}).Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Unlimited{}).Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
