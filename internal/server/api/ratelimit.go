package api

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/time/rate"
)

const limiterSweepInterval = 10 * time.Minute

// rateLimiter holds one token bucket per client key.
type rateLimiter struct {
	limiters cmap.ConcurrentMap[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// newRateLimiter creates a limiter. rps <= 0 disables limiting.
func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limiters: cmap.New[*rate.Limiter](),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	if rl.rate <= 0 {
		return true
	}
	limiter := rl.limiters.Upsert(key, nil, func(exist bool, inMap, _ *rate.Limiter) *rate.Limiter {
		if exist {
			return inMap
		}
		return rate.NewLimiter(rl.rate, rl.burst)
	})
	return limiter.Allow()
}

// sweep drops buckets that have refilled completely.
func (rl *rateLimiter) sweep() {
	now := time.Now()
	for item := range rl.limiters.IterBuffered() {
		rl.limiters.RemoveCb(item.Key, func(_ string, l *rate.Limiter, exists bool) bool {
			return exists && l.TokensAt(now) >= float64(rl.burst)
		})
	}
}

func (rl *rateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-ctx.Done():
			return
		}
	}
}
