// ratelimit.go implements token-bucket rate limiting for exchange requests.
//
// Betting exchanges throttle per account. The bucket refills continuously
// (rather than in window-sized bursts) so a burst of legs from one
// opportunity is spread out just enough to stay under the limit.
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
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
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

// RateLimiter groups token buckets by request category.
type RateLimiter struct {
	Bet *TokenBucket // POST /bets
}

// NewRateLimiter sizes the bet bucket from config.
func NewRateLimiter(betsPerSecond, betBurst float64) *RateLimiter {
	if betsPerSecond <= 0 {
		betsPerSecond = 1
	}
	if betBurst < 1 {
		betBurst = 1
	}
	return &RateLimiter{
		Bet: NewTokenBucket(betBurst, betsPerSecond),
	}
}
