package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/watzon/hookd/internal/config"
	"github.com/watzon/hookd/internal/metrics"
	"github.com/watzon/hookd/internal/server/handlers"
	"github.com/watzon/hookd/internal/source"
)

// KeyFunc derives the bucket key for a request.
type KeyFunc func(r *http.Request) string

// RateLimiter is a fixed-window request counter keyed per request.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rule    config.RateLimitRule
	key     KeyFunc
	now     func() time.Time
	cleanup *time.Ticker
	wg      sync.WaitGroup
	stopCh  chan struct{}
	stop    sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a rate limiter. A nil key counts requests per source
// and connection address.
func NewRateLimiter(rule config.RateLimitRule, key KeyFunc) *RateLimiter {
	return newRateLimiter(rule, key, time.Now)
}

func newRateLimiter(rule config.RateLimitRule, key KeyFunc, now func() time.Time) *RateLimiter {
	if key == nil {
		key = SourceClientKey(RemoteIP)
	}
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rule:    rule,
		key:     key,
		now:     now,
		cleanup: time.NewTicker(rule.Window * 2),
		stopCh:  make(chan struct{}),
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		rl.cleanupLoop()
	}()

	return rl
}

// Allow consumes a token for key and reports whether one was available.
func (rl *RateLimiter) Allow(key string) bool {
	_, ok := rl.take(key)
	return ok
}

// take returns the time until the bucket refills when no token is left.
func (rl *RateLimiter) take(key string) (time.Duration, bool) {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		b, exists = rl.buckets[key]
		if !exists {
			b = &bucket{
				tokens:     rl.rule.Max,
				lastRefill: rl.now(),
			}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed >= rl.rule.Window {
		b.tokens = rl.rule.Max
		b.lastRefill = now
		elapsed = 0
	}

	if b.tokens > 0 {
		b.tokens--
		return 0, true
	}

	return rl.rule.Window - elapsed, false
}

// Len reports the number of tracked buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanup.C:
			rl.sweep()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > rl.rule.Window*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stop.Do(func() {
		close(rl.stopCh)
		rl.cleanup.Stop()
		rl.wg.Wait()
	})
}

// Middleware rejects requests over the limit with 429 before any body is read.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, ok := rl.take(rl.key(r))
		if !ok {
			metrics.RecordDelivery(metrics.UnknownSourceLabel, metrics.OutcomeRateLimited)

			secs := int(retryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			handlers.TooManyRequests(w, "Too many requests. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SourceClientKey keys buckets by the normalized source path segment and the
// address clientIP derives.
func SourceClientKey(clientIP func(*http.Request) string) KeyFunc {
	return func(r *http.Request) string {
		return source.Normalize(r.PathValue("source")) + "|" + clientIP(r)
	}
}
