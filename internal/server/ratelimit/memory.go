package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryLimiter is an in-memory token bucket limiter. Buckets live in an LRU
// cache, so idle clients are evicted without a cleanup goroutine.
type memoryLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *tokenBucket]
	config  Config
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(cfg Config) Limiter {
	return newMemoryLimiter(cfg, time.Now)
}

func newMemoryLimiter(cfg Config, now func() time.Time) *memoryLimiter {
	size := cfg.MaxKeys
	if size <= 0 {
		size = DefaultMaxKeys
	}
	// lru.New only fails for a non-positive size.
	buckets, _ := lru.New[string, *tokenBucket](size)
	return &memoryLimiter{buckets: buckets, config: cfg, now: now}
}

// Allow refills the key's bucket at Requests per Window and takes one token.
func (l *memoryLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(l.config.Requests)

	b, ok := l.buckets.Get(key)
	if !ok {
		l.buckets.Add(key, &tokenBucket{tokens: capacity - 1, lastUpdate: now})
		return capacity >= 1
	}

	fillRate := capacity / l.config.Window.Seconds()
	b.tokens = min(capacity, b.tokens+now.Sub(b.lastUpdate).Seconds()*fillRate)
	b.lastUpdate = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(key)
}

func (l *memoryLimiter) keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}
