// Package deliverylog keeps recent webhook delivery attempts in an in-memory
// ring buffer for operators.
package deliverylog

import (
	"sync"
	"time"
)

// Entry is one delivery attempt.
type Entry struct {
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Status     int       `json:"status"`
	Outcome    string    `json:"outcome"`
	Location   string    `json:"location,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	BytesIn    int64     `json:"bytes_in"`
	ClientIP   string    `json:"client_ip"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// Store is a thread-safe ring buffer of entries.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

const defaultCapacity = 500

// NewStore creates a store holding at most capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when full.
func (s *Store) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.head] = entry
	s.head = (s.head + 1) % s.capacity
	if s.count < s.capacity {
		s.count++
	}
}

// FilterOptions narrows a listing. Zero values match everything.
type FilterOptions struct {
	Source    string
	Outcome   string
	MinStatus int
	MaxStatus int
	Since     time.Time
	Limit     int
	Offset    int
}

// ListResult is one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// List returns matching entries, newest first.
func (s *Store) List(opts FilterOptions) ListResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Limit > maxLimit {
		opts.Limit = maxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	filtered := make([]Entry, 0)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.capacity) % s.capacity
		if opts.matches(s.entries[idx]) {
			filtered = append(filtered, s.entries[idx])
		}
	}

	total := len(filtered)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)

	return ListResult{
		Entries: filtered[start:end],
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
}

func (o FilterOptions) matches(e Entry) bool {
	if o.Source != "" && e.Source != o.Source {
		return false
	}
	if o.Outcome != "" && e.Outcome != o.Outcome {
		return false
	}
	if o.MinStatus != 0 && e.Status < o.MinStatus {
		return false
	}
	if o.MaxStatus != 0 && e.Status > o.MaxStatus {
		return false
	}
	if !o.Since.IsZero() && e.Timestamp.Before(o.Since) {
		return false
	}
	return true
}

// Count returns the number of entries held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Capacity returns the maximum number of entries held.
func (s *Store) Capacity() int {
	return s.capacity
}
