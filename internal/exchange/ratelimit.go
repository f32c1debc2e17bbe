// ratelimit.go implements token-bucket rate limiting for the Binance USDT-M
// futures REST API.
//
// Binance enforces a shared request-weight budget per minute (1200 by
// default) plus a per-IP order-rate limit. This file provides a smooth
// token-bucket implementation that refills continuously rather than in
// fixed windows, to avoid bursting into the hard limit.
//
// Two buckets are maintained:
//   - Order:  300 burst / 5 per sec  (order placement/cancellation, weight 1 each typical)
//   - Weight: 1200 burst / 20 per sec (general request-weight budget, refilled per minute)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by Binance futures REST endpoint category.
type RateLimiter struct {
	Order  *TokenBucket // POST/DELETE order endpoints
	Weight *TokenBucket // general request-weight budget (depth, account, position)
}

// NewRateLimiter creates rate limiters tuned to Binance's published limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(300, 5),
		Weight: NewTokenBucket(1200, 20),
	}
}
