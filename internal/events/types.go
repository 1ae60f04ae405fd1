// Package events defines the stored webhook event and its SQL store.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the processing state of a stored event.
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// rank orders statuses; a transition may only move to a higher rank.
func (s Status) rank() int {
	switch s {
	case StatusReceived:
		return 0
	case StatusProcessed, StatusFailed:
		return 1
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s.rank() == 1
}

// Statuses lists every known status.
func Statuses() []Status {
	return []Status{StatusReceived, StatusProcessed, StatusFailed}
}

// WebhookEvent is one accepted delivery. Values are immutable; Advance returns
// a modified copy.
type WebhookEvent struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	EventKey    string          `json:"eventKey"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	ProcessedAt *time.Time      `json:"processedAt"`
}

// New builds a freshly received event. receivedAt is normalized to UTC at
// microsecond precision so it survives a storage round trip unchanged.
func New(id, source, eventKey string, payload json.RawMessage, receivedAt time.Time) WebhookEvent {
	return WebhookEvent{
		ID:         id,
		Source:     source,
		EventKey:   eventKey,
		Payload:    payload,
		Status:     StatusReceived,
		ReceivedAt: normalizeTime(receivedAt),
	}
}

// Advance moves the event to next. Moving backwards, sideways between terminal
// states, or to an unknown status fails with ErrInvalidTransition.
func (e WebhookEvent) Advance(next Status, at time.Time) (WebhookEvent, error) {
	if !next.Valid() || next.rank() <= e.Status.rank() {
		return e, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}

	e.Status = next
	if next == StatusProcessed {
		t := normalizeTime(at)
		e.ProcessedAt = &t
	}
	return e, nil
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
