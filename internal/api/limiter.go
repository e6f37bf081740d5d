package api

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Limiter is a per-key token bucket. Idle buckets are forgotten after ten
// minutes, which only ever makes a key less limited.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewLimiter allows perMinute events per key with a burst of the same size.
// perMinute <= 0 disables limiting.
func NewLimiter(perMinute, size int) *Limiter {
	if perMinute <= 0 {
		return &Limiter{limit: rate.Inf}
	}
	return &Limiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		buckets: expirable.NewLRU[string, *rate.Limiter](size, nil, 10*time.Minute),
	}
}

func (l *Limiter) Allow(key string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()
	return b.Allow()
}
