// Package ingest records authenticated webhook events exactly once per
// (source, event key).
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/watzon/hookd/internal/events"
	"github.com/watzon/hookd/internal/metrics"
	"github.com/watzon/hookd/internal/source"
)

// Field limits, mirrored by the webhook_events column sizes.
const (
	MaxSourceLength   = source.MaxLength
	MaxEventKeyLength = 120
)

// EventStore is the persistence the service needs. Save must fail with
// events.ErrDuplicate when (source, event key) already exists.
type EventStore interface {
	FindBySourceAndEventKey(ctx context.Context, source, eventKey string) (events.WebhookEvent, bool, error)
	Save(ctx context.Context, ev events.WebhookEvent) (events.WebhookEvent, error)
}

// Clock supplies the acceptance time of new events.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Command is one request to record an event.
type Command struct {
	Source   string
	EventKey string
	Payload  json.RawMessage

	// Now overrides the service clock when set, typically with the time the
	// HTTP request arrived.
	Now time.Time
}

// Outcome tells the caller whether the event was new.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result is the stored event and how it was obtained.
type Result struct {
	Event   events.WebhookEvent
	Outcome Outcome
}

// Created reports whether this call inserted the event.
func (r Result) Created() bool {
	return r.Outcome == OutcomeCreated
}

// Service is the ingestion orchestrator.
type Service struct {
	store    EventStore
	clock    Clock
	newID    func() string
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithIDGenerator replaces the UUIDv4 generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a Service over store.
func NewService(store EventStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		clock:    SystemClock{},
		newID:    uuid.NewString,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type commandInput struct {
	Source   string          `validate:"required,max=50"`
	EventKey string          `validate:"required,max=120"`
	Payload  json.RawMessage `validate:"required"`
}

// saveOutcome distinguishes a clean insert from losing a concurrent insert.
type saveOutcome int

const (
	saved saveOutcome = iota
	lostRace
)

// Ingest records cmd. A repeat of an already stored (source, event key)
// returns the stored event with OutcomeDuplicate and writes nothing.
func (s *Service) Ingest(ctx context.Context, cmd Command) (Result, error) {
	in, err := s.validateCommand(cmd)
	if err != nil {
		return Result{}, err
	}

	existing, found, err := s.store.FindBySourceAndEventKey(ctx, in.Source, in.EventKey)
	if err != nil {
		return Result{}, storageUnavailable("finding event", err)
	}
	if found {
		return Result{Event: existing, Outcome: OutcomeDuplicate}, nil
	}

	now := cmd.Now
	if now.IsZero() {
		now = s.clock.Now()
	}

	ev := events.New(s.newID(), in.Source, in.EventKey, in.Payload, now)

	stored, outcome, err := s.save(ctx, ev)
	if err != nil {
		return Result{}, err
	}

	switch outcome {
	case lostRace:
		winner, found, err := s.store.FindBySourceAndEventKey(ctx, in.Source, in.EventKey)
		if err != nil {
			return Result{}, storageUnavailable("re-reading event after duplicate insert", err)
		}
		if !found {
			return Result{}, storageUnavailable("re-reading event after duplicate insert",
				fmt.Errorf("%w: %s/%s", events.ErrNotFound, in.Source, in.EventKey))
		}

		metrics.RecordRaceRecovery(in.Source)
		log.Debug().
			Str("source", in.Source).
			Str("event_key", in.EventKey).
			Str("event_id", winner.ID).
			Msg("Concurrent duplicate resolved to existing event")

		return Result{Event: winner, Outcome: OutcomeDuplicate}, nil
	default:
		return Result{Event: stored, Outcome: OutcomeCreated}, nil
	}
}

func (s *Service) save(ctx context.Context, ev events.WebhookEvent) (events.WebhookEvent, saveOutcome, error) {
	stored, err := s.store.Save(ctx, ev)
	if errors.Is(err, events.ErrDuplicate) {
		return events.WebhookEvent{}, lostRace, nil
	}
	if err != nil {
		return events.WebhookEvent{}, saved, storageUnavailable("saving event", err)
	}
	return stored, saved, nil
}

func (s *Service) validateCommand(cmd Command) (commandInput, error) {
	in := commandInput{
		Source:   source.Normalize(cmd.Source),
		EventKey: strings.TrimSpace(cmd.EventKey),
		Payload:  cmd.Payload,
	}

	err := s.validate.Struct(in)
	if err == nil {
		return in, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return commandInput{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fieldName(fe.Field()),
			Message: fieldMessage(fe),
		})
	}
	return commandInput{}, out
}

func fieldName(structField string) string {
	switch structField {
	case "Source":
		return "source"
	case "EventKey":
		return "eventKey"
	case "Payload":
		return "payload"
	default:
		return strings.ToLower(structField)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func storageUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
