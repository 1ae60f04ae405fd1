package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/watzon/hookd/internal/events"
	"github.com/watzon/hookd/internal/ingest"
	"github.com/watzon/hookd/internal/metrics"
	"github.com/watzon/hookd/internal/requestctx"
	"github.com/watzon/hookd/internal/signature"
	"github.com/watzon/hookd/internal/source"
)

// Verifier authenticates a delivery.
type Verifier interface {
	Verify(req signature.Request) (signature.Authenticated, error)
}

// Ingester records an authenticated delivery.
type Ingester interface {
	Ingest(ctx context.Context, cmd ingest.Command) (ingest.Result, error)
}

// EventFinder looks up stored events.
type EventFinder interface {
	FindBySourceAndEventKey(ctx context.Context, source, eventKey string) (events.WebhookEvent, bool, error)
}

// WebhookConfig names the headers carrying the signature and timestamp.
type WebhookConfig struct {
	SignatureHeader string
	TimestampHeader string
}

// WebhookHandlers serves the webhook receive and lookup endpoints.
type WebhookHandlers struct {
	verifier Verifier
	ingester Ingester
	finder   EventFinder
	cfg      WebhookConfig
}

// NewWebhookHandlers creates webhook handlers. finder may be nil when the
// lookup endpoint is not mounted.
func NewWebhookHandlers(verifier Verifier, ingester Ingester, finder EventFinder, cfg WebhookConfig) *WebhookHandlers {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Signature"
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = "X-Timestamp"
	}
	return &WebhookHandlers{
		verifier: verifier,
		ingester: ingester,
		finder:   finder,
		cfg:      cfg,
	}
}

// EventResponse is the JSON shape of a stored event.
type EventResponse struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	EventKey    string     `json:"eventKey"`
	Status      string     `json:"status"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt"`
}

// NewEventResponse converts a stored event.
func NewEventResponse(ev events.WebhookEvent) EventResponse {
	return EventResponse{
		ID:          ev.ID,
		Source:      ev.Source,
		EventKey:    ev.EventKey,
		Status:      string(ev.Status),
		ReceivedAt:  ev.ReceivedAt,
		ProcessedAt: ev.ProcessedAt,
	}
}

// deliveryBody is the expected request body. Payload stays nil when the
// member is absent; an explicit null arrives as the bytes "null".
type deliveryBody struct {
	EventKey string          `json:"eventKey"`
	Payload  json.RawMessage `json:"payload"`
}

// EventLocation is the lookup path for a stored event.
func EventLocation(src, eventKey string) string {
	return "/webhooks/" + url.PathEscape(src) + "/" + url.PathEscape(eventKey)
}

// Receive handles POST /webhooks/{source}.
func (h *WebhookHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	src := source.Normalize(r.PathValue("source"))
	logger := log.With().
		Str("request_id", requestctx.RequestID(ctx)).
		Str("source", src).
		Logger()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.RecordDelivery(metrics.UnknownSourceLabel, metrics.OutcomeInvalid)
			Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		metrics.RecordDelivery(metrics.UnknownSourceLabel, metrics.OutcomeInvalid)
		BadRequest(w, "Failed to read request body")
		return
	}

	now := requestctx.RequestTime(ctx)
	if now.IsZero() {
		now = time.Now()
	}

	_, err = h.verifier.Verify(signature.Request{
		Source:    src,
		Body:      body,
		Signature: r.Header.Get(h.cfg.SignatureHeader),
		Timestamp: r.Header.Get(h.cfg.TimestampHeader),
		Now:       now,
	})
	if err != nil {
		h.rejectUnverified(w, logger, src, err)
		return
	}

	// Unsigned requests are 401 whatever the source segment looks like.
	if !source.Valid(src) {
		metrics.RecordDelivery(metrics.UnknownSourceLabel, metrics.OutcomeUnknownSource)
		NotFound(w, "Unknown webhook source")
		return
	}

	var payload deliveryBody
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.RecordDelivery(src, metrics.OutcomeInvalid)
		logger.Debug().Err(err).Msg("Rejected webhook with malformed body")
		BadRequest(w, "Request body must be a JSON object with eventKey and payload")
		return
	}

	res, err := h.ingester.Ingest(ctx, ingest.Command{
		Source:   src,
		EventKey: payload.EventKey,
		Payload:  payload.Payload,
		Now:      now,
	})
	if err != nil {
		h.ingestFailed(w, logger, src, err)
		return
	}

	resp := NewEventResponse(res.Event)
	if res.Created() {
		metrics.RecordDelivery(src, metrics.OutcomeCreated)
		logger.Info().
			Str("event_id", res.Event.ID).
			Str("event_key", res.Event.EventKey).
			Msg("Webhook event recorded")

		w.Header().Set("Location", EventLocation(res.Event.Source, res.Event.EventKey))
		JSON(w, http.StatusCreated, resp)
		return
	}

	metrics.RecordDelivery(src, metrics.OutcomeDuplicate)
	logger.Debug().
		Str("event_id", res.Event.ID).
		Str("event_key", res.Event.EventKey).
		Msg("Duplicate webhook delivery")
	JSON(w, http.StatusOK, resp)
}

func (h *WebhookHandlers) rejectUnverified(w http.ResponseWriter, logger zerolog.Logger, src string, err error) {
	switch {
	case errors.Is(err, signature.ErrUnauthenticated):
		reason, _ := signature.ReasonOf(err)

		// Only a bad signature proves the source has a secret; earlier
		// failures may name any path segment.
		label := metrics.UnknownSourceLabel
		if reason == signature.ReasonBadSignature {
			label = src
		}
		metrics.RecordDelivery(label, metrics.OutcomeUnauthenticated)
		metrics.RecordAuthFailure(label, string(reason))

		logger.Warn().Str("reason", string(reason)).Msg("Rejected webhook signature")
		Empty(w, http.StatusUnauthorized)

	case errors.Is(err, signature.ErrUnknownSource):
		metrics.RecordDelivery(metrics.UnknownSourceLabel, metrics.OutcomeUnknownSource)
		logger.Warn().Msg("Rejected webhook for unknown source")
		NotFound(w, "Unknown webhook source")

	default:
		metrics.RecordDelivery(src, metrics.OutcomeError)
		logger.Error().Err(err).Msg("Webhook verification failed")
		InternalError(w, "Internal server error")
	}
}

func (h *WebhookHandlers) ingestFailed(w http.ResponseWriter, logger zerolog.Logger, src string, err error) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		metrics.RecordDelivery(src, metrics.OutcomeInvalid)
		ErrorWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid webhook body", verr.Fields)

	case errors.Is(err, ingest.ErrInvalidArgument):
		metrics.RecordDelivery(src, metrics.OutcomeInvalid)
		BadRequest(w, "Invalid webhook body")

	case errors.Is(err, ingest.ErrStorageUnavailable):
		metrics.RecordDelivery(src, metrics.OutcomeUnavailable)
		logger.Error().Err(err).Msg("Event storage unavailable")
		ServiceUnavailable(w, "Event storage unavailable")

	default:
		metrics.RecordDelivery(src, metrics.OutcomeError)
		logger.Error().Err(err).Msg("Failed to ingest webhook")
		InternalError(w, "Internal server error")
	}
}

// Get handles GET /webhooks/{source}/{eventKey}.
func (h *WebhookHandlers) Get(w http.ResponseWriter, r *http.Request) {
	if h.finder == nil {
		NotFound(w, "Event not found")
		return
	}

	src := source.Normalize(r.PathValue("source"))
	eventKey := r.PathValue("eventKey")
	if !source.Valid(src) || eventKey == "" {
		NotFound(w, "Event not found")
		return
	}

	ev, found, err := h.finder.FindBySourceAndEventKey(r.Context(), src, eventKey)
	if err != nil {
		log.Error().Err(err).Str("source", src).Str("event_key", eventKey).Msg("Failed to look up event")
		ServiceUnavailable(w, "Event storage unavailable")
		return
	}
	if !found {
		NotFound(w, "Event not found")
		return
	}

	JSON(w, http.StatusOK, NewEventResponse(ev))
}
