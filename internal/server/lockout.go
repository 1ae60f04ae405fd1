package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/hookd/internal/config"
	"github.com/watzon/hookd/internal/metrics"
	"github.com/watzon/hookd/internal/server/handlers"
)

// AuthLockout refuses clients that keep failing signature verification.
type AuthLockout struct {
	mu        sync.RWMutex
	attempts  map[string]*attemptRecord
	threshold int
	window    time.Duration
	clientIP  func(*http.Request) string
	now       func() time.Time
	cleanup   *time.Ticker
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stop      sync.Once
}

type attemptRecord struct {
	count        int
	firstAttempt time.Time
	mu           sync.Mutex
}

// NewAuthLockout blocks a client once it records rule.Max failures within
// rule.Window. Clients are keyed by clientIP, or the connection address when
// nil.
func NewAuthLockout(rule config.RateLimitRule, clientIP func(*http.Request) string) *AuthLockout {
	return newAuthLockout(rule, clientIP, time.Now)
}

func newAuthLockout(rule config.RateLimitRule, clientIP func(*http.Request) string, now func() time.Time) *AuthLockout {
	if clientIP == nil {
		clientIP = RemoteIP
	}
	al := &AuthLockout{
		attempts:  make(map[string]*attemptRecord),
		threshold: rule.Max,
		window:    rule.Window,
		clientIP:  clientIP,
		now:       now,
		cleanup:   time.NewTicker(rule.Window * 2),
		stopCh:    make(chan struct{}),
	}

	al.wg.Add(1)
	go func() {
		defer al.wg.Done()
		al.cleanupLoop()
	}()

	return al
}

// RecordFailure counts a failed verification for key.
func (al *AuthLockout) RecordFailure(key string) {
	al.mu.RLock()
	record, exists := al.attempts[key]
	al.mu.RUnlock()

	if !exists {
		al.mu.Lock()
		record, exists = al.attempts[key]
		if !exists {
			record = &attemptRecord{firstAttempt: al.now()}
			al.attempts[key] = record
		}
		al.mu.Unlock()
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	now := al.now()
	if now.Sub(record.firstAttempt) >= al.window {
		record.count = 1
		record.firstAttempt = now
	} else {
		record.count++
	}
}

// Blocked reports whether key is locked out and, if so, for how much longer.
func (al *AuthLockout) Blocked(key string) (time.Duration, bool) {
	al.mu.RLock()
	record, exists := al.attempts[key]
	al.mu.RUnlock()

	if !exists {
		return 0, false
	}

	record.mu.Lock()
	defer record.mu.Unlock()

	elapsed := al.now().Sub(record.firstAttempt)
	if elapsed >= al.window || record.count < al.threshold {
		return 0, false
	}
	return al.window - elapsed, true
}

// Clear forgets failures for key after a verified delivery.
func (al *AuthLockout) Clear(key string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.attempts, key)
}

func (al *AuthLockout) cleanupLoop() {
	for {
		select {
		case <-al.cleanup.C:
			al.sweep()
		case <-al.stopCh:
			return
		}
	}
}

func (al *AuthLockout) sweep() {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	for key, record := range al.attempts {
		record.mu.Lock()
		if now.Sub(record.firstAttempt) > al.window*2 {
			delete(al.attempts, key)
		}
		record.mu.Unlock()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (al *AuthLockout) Stop() {
	al.stop.Do(func() {
		close(al.stopCh)
		al.cleanup.Stop()
		al.wg.Wait()
	})
}

// Middleware refuses locked out clients with 429 and tracks the outcome of
// every other delivery: 401 counts as a failure, 2xx clears the record.
func (al *AuthLockout) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := al.clientIP(r)

		if remaining, blocked := al.Blocked(key); blocked {
			metrics.RecordDelivery(metrics.UnknownSourceLabel, metrics.OutcomeLockedOut)

			secs := int(remaining.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			handlers.TooManyRequests(w, "Too many failed signature checks. Please try again later.")
			return
		}

		wrapped := &responseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		next.ServeHTTP(wrapped, r)

		switch {
		case wrapped.status == http.StatusUnauthorized:
			al.RecordFailure(key)
			if _, blocked := al.Blocked(key); blocked {
				log.Warn().Str("client_ip", key).Dur("window", al.window).Msg("Client locked out after repeated signature failures")
			}
		case wrapped.status >= 200 && wrapped.status < 300:
			al.Clear(key)
		}
	})
}
