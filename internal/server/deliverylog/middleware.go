package deliverylog

import (
	"net/http"
	"time"

	"github.com/watzon/hookd/internal/requestctx"
	"github.com/watzon/hookd/internal/source"
)

// Middleware records every request reaching next. clientIP resolves the
// caller address.
func Middleware(store *Store, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseCapture{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			store.Add(Entry{
				RequestID:  requestctx.RequestID(r.Context()),
				Timestamp:  start.UTC(),
				Source:     source.Normalize(r.PathValue("source")),
				Status:     wrapped.status,
				Outcome:    OutcomeFor(wrapped.status),
				Location:   w.Header().Get("Location"),
				DurationMS: float64(duration.Microseconds()) / 1000.0,
				BytesIn:    r.ContentLength,
				ClientIP:   clientIP(r),
				UserAgent:  r.UserAgent(),
			})
		})
	}
}

// OutcomeFor maps a receive response status to a short outcome name.
func OutcomeFor(status int) string {
	switch status {
	case http.StatusCreated:
		return "created"
	case http.StatusOK:
		return "duplicate"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusNotFound:
		return "unknown_source"
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "invalid"
	case http.StatusTooManyRequests:
		return "throttled"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

type responseCapture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseCapture) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseCapture) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
