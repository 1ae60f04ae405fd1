package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/watzon/hookd/internal/server/deliverylog"
	"github.com/watzon/hookd/internal/source"
)

// DeliveryHandlers exposes the recent delivery log.
type DeliveryHandlers struct {
	store *deliverylog.Store
}

func NewDeliveryHandlers(store *deliverylog.Store) *DeliveryHandlers {
	return &DeliveryHandlers{store: store}
}

// List handles GET /deliveries.
func (h *DeliveryHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := deliverylog.FilterOptions{
		Source:  source.Normalize(q.Get("source")),
		Outcome: q.Get("outcome"),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"min_status", &opts.MinStatus},
		{"max_status", &opts.MaxStatus},
		{"limit", &opts.Limit},
		{"offset", &opts.Offset},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			BadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			BadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		opts.Since = since
	}

	JSON(w, http.StatusOK, h.store.List(opts))
}
