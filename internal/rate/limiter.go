// Package rate paces calls to the Gmail API.
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter gates outbound API calls so we stay under the per-user quota.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

// Wait only reports cancellation.
func (Unlimited) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate wait canceled: %w", err)
	}
	return nil
}

// TokenBucket releases rps tokens per second and holds up to burst of them.
type TokenBucket struct {
	ticker *time.Ticker
	tokens chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// NewTokenBucket returns a full bucket refilled at rps tokens per second.
// A burst below one is treated as one.
func NewTokenBucket(rps, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	tb := &TokenBucket{
		ticker: time.NewTicker(time.Second / time.Duration(rps)),
		tokens: make(chan struct{}, burst),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for range burst {
		tb.tokens <- struct{}{}
	}
	go tb.refill()
	return tb
}

func (t *TokenBucket) refill() {
	defer close(t.exited)
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or ctx is done.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop halts the refill goroutine. It is safe to call more than once.
func (t *TokenBucket) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
	<-t.exited
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)
