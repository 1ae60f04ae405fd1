package deliverylog

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/hookd/internal/requestctx"
)

func TestStore_Add(t *testing.T) {
	store := NewStore(3)

	store.Add(Entry{RequestID: "1", Source: "stripe"})
	store.Add(Entry{RequestID: "2", Source: "github"})

	if store.Count() != 2 {
		t.Errorf("Count() = %d, want 2", store.Count())
	}
}

func TestStore_RingBuffer(t *testing.T) {
	store := NewStore(3)

	for i := 1; i <= 4; i++ {
		store.Add(Entry{RequestID: strconv.Itoa(i)})
	}

	if store.Count() != 3 {
		t.Errorf("Count() = %d, want 3 (capacity)", store.Count())
	}

	result := store.List(FilterOptions{Limit: 10})
	require.Len(t, result.Entries, 3)

	// Newest first
	require.Equal(t, "4", result.Entries[0].RequestID)
	require.Equal(t, "2", result.Entries[2].RequestID)
}

func TestStore_Filters(t *testing.T) {
	store := NewStore(10)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	store.Add(Entry{RequestID: "1", Source: "stripe", Status: 201, Outcome: "created", Timestamp: now.Add(-2 * time.Hour)})
	store.Add(Entry{RequestID: "2", Source: "stripe", Status: 401, Outcome: "unauthenticated", Timestamp: now.Add(-time.Hour)})
	store.Add(Entry{RequestID: "3", Source: "github", Status: 200, Outcome: "duplicate", Timestamp: now})
	store.Add(Entry{RequestID: "4", Source: "github", Status: 503, Outcome: "unavailable", Timestamp: now})

	tests := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{name: "no filter", opts: FilterOptions{}, want: 4},
		{name: "source", opts: FilterOptions{Source: "stripe"}, want: 2},
		{name: "outcome", opts: FilterOptions{Outcome: "duplicate"}, want: 1},
		{name: "min status", opts: FilterOptions{MinStatus: 400}, want: 2},
		{name: "max status", opts: FilterOptions{MaxStatus: 299}, want: 2},
		{name: "status range", opts: FilterOptions{MinStatus: 400, MaxStatus: 499}, want: 1},
		{name: "since", opts: FilterOptions{Since: now.Add(-90 * time.Minute)}, want: 3},
		{name: "combined", opts: FilterOptions{Source: "github", MinStatus: 500}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, store.List(tt.opts).Total)
		})
	}
}

func TestStore_Pagination(t *testing.T) {
	store := NewStore(100)

	for i := 0; i < 25; i++ {
		store.Add(Entry{RequestID: strconv.Itoa(i)})
	}

	tests := []struct {
		name   string
		limit  int
		offset int
		want   int
	}{
		{name: "first page", limit: 10, offset: 0, want: 10},
		{name: "second page", limit: 10, offset: 10, want: 10},
		{name: "last page", limit: 10, offset: 20, want: 5},
		{name: "beyond end", limit: 10, offset: 100, want: 0},
		{name: "negative offset", limit: 10, offset: -3, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := store.List(FilterOptions{Limit: tt.limit, Offset: tt.offset})
			require.Len(t, result.Entries, tt.want)
			require.Equal(t, 25, result.Total)
		})
	}
}

func TestStore_DefaultCapacity(t *testing.T) {
	require.Equal(t, defaultCapacity, NewStore(0).Capacity())
	require.Equal(t, defaultCapacity, NewStore(-5).Capacity())
	require.Equal(t, 7, NewStore(7).Capacity())
}

func TestStore_LimitCapping(t *testing.T) {
	store := NewStore(10)

	require.Equal(t, defaultLimit, store.List(FilterOptions{}).Limit)
	require.Equal(t, maxLimit, store.List(FilterOptions{Limit: 5000}).Limit)
	require.NotNil(t, store.List(FilterOptions{}).Entries)
}

func TestMiddleware(t *testing.T) {
	store := NewStore(10)
	logged := Middleware(store, func(*http.Request) string { return "203.0.113.5" })

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{source}", logged(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/webhooks/stripe/evt_1")
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusInternalServerError)
	})))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/Stripe", strings.NewReader(`{}`))
	req.Header.Set("User-Agent", "stripe-test/1.0")
	req = req.WithContext(requestctx.WithRequestID(req.Context(), "req-1"))
	mux.ServeHTTP(httptest.NewRecorder(), req)

	result := store.List(FilterOptions{})
	require.Len(t, result.Entries, 1)

	entry := result.Entries[0]
	require.Equal(t, "req-1", entry.RequestID)
	require.Equal(t, "stripe", entry.Source)
	require.Equal(t, http.StatusCreated, entry.Status)
	require.Equal(t, "created", entry.Outcome)
	require.Equal(t, "/webhooks/stripe/evt_1", entry.Location)
	require.Equal(t, "203.0.113.5", entry.ClientIP)
	require.Equal(t, "stripe-test/1.0", entry.UserAgent)
	require.EqualValues(t, 2, entry.BytesIn)
}

func TestOutcomeFor(t *testing.T) {
	tests := map[int]string{
		http.StatusCreated:               "created",
		http.StatusOK:                    "duplicate",
		http.StatusUnauthorized:          "unauthenticated",
		http.StatusNotFound:              "unknown_source",
		http.StatusBadRequest:            "invalid",
		http.StatusRequestEntityTooLarge: "invalid",
		http.StatusTooManyRequests:       "throttled",
		http.StatusServiceUnavailable:    "unavailable",
		http.StatusInternalServerError:   "error",
	}
	for status, want := range tests {
		require.Equal(t, want, OutcomeFor(status), "status %d", status)
	}
}
