package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/watzon/hookd/internal/database"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const selectColumns = `id, source, event_key, payload, status, received_at, processed_at`

// Store handles database operations for webhook events.
type Store struct {
	db *database.DB
}

// NewStore creates a new event store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// FindBySourceAndEventKey returns the event for (source, eventKey). The bool is
// false when no row exists.
func (s *Store) FindBySourceAndEventKey(ctx context.Context, source, eventKey string) (WebhookEvent, bool, error) {
	query := s.db.Rebind(`SELECT ` + selectColumns + ` FROM webhook_events WHERE source = ? AND event_key = ?`)

	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, source, eventKey))
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookEvent{}, false, nil
	}
	if err != nil {
		return WebhookEvent{}, false, fmt.Errorf("finding event: %w", err)
	}
	return ev, true, nil
}

// FindByID returns the event with id or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (WebhookEvent, error) {
	query := s.db.Rebind(`SELECT ` + selectColumns + ` FROM webhook_events WHERE id = ?`)

	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookEvent{}, ErrNotFound
	}
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("finding event: %w", err)
	}
	return ev, nil
}

// Save inserts ev. A unique violation on (source, event_key) is reported as
// ErrDuplicate; the caller decides how to recover.
func (s *Store) Save(ctx context.Context, ev WebhookEvent) (WebhookEvent, error) {
	query := s.db.Rebind(`
		INSERT INTO webhook_events (id, source, event_key, payload, status, received_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.Source,
		ev.EventKey,
		string(ev.Payload),
		string(ev.Status),
		formatTime(ev.ReceivedAt),
		formatOptionalTime(ev.ProcessedAt),
	)
	if err != nil {
		if database.IsUniqueError(database.ClassifyError(err)) {
			return WebhookEvent{}, fmt.Errorf("%w: %s/%s", ErrDuplicate, ev.Source, ev.EventKey)
		}
		return WebhookEvent{}, fmt.Errorf("inserting event: %w", err)
	}

	return ev, nil
}

// MarkProcessed moves a received event to processed. It fails with
// ErrInvalidTransition when the event has already left the received state and
// ErrNotFound when it does not exist.
func (s *Store) MarkProcessed(ctx context.Context, id string, at time.Time) (WebhookEvent, error) {
	return s.transition(ctx, id, StatusProcessed, at)
}

// MarkFailed moves a received event to failed.
func (s *Store) MarkFailed(ctx context.Context, id string, at time.Time) (WebhookEvent, error) {
	return s.transition(ctx, id, StatusFailed, at)
}

func (s *Store) transition(ctx context.Context, id string, next Status, at time.Time) (WebhookEvent, error) {
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return WebhookEvent{}, err
	}

	updated, err := current.Advance(next, at)
	if err != nil {
		return WebhookEvent{}, err
	}

	query := s.db.Rebind(`
		UPDATE webhook_events
		SET status = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		string(updated.Status),
		formatOptionalTime(updated.ProcessedAt),
		id,
		string(StatusReceived),
	)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("updating event status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("updating event status: %w", err)
	}
	if n == 0 {
		return WebhookEvent{}, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}

	return updated, nil
}

// CountByStatus returns the number of stored events per status. Every known
// status is present in the result, zero when no rows match.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64, len(Statuses()))
	for _, st := range Statuses() {
		counts[st] = 0
	}

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[Status(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count rows: %w", err)
	}

	return counts, nil
}

func scanEvent(row *sql.Row) (WebhookEvent, error) {
	var (
		ev          WebhookEvent
		payload     string
		status      string
		receivedAt  string
		processedAt sql.NullString
	)

	if err := row.Scan(&ev.ID, &ev.Source, &ev.EventKey, &payload, &status, &receivedAt, &processedAt); err != nil {
		return WebhookEvent{}, err
	}

	ev.Payload = []byte(payload)
	ev.Status = Status(status)

	t, err := time.Parse(timeLayout, receivedAt)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("parsing received_at: %w", err)
	}
	ev.ReceivedAt = t

	if processedAt.Valid {
		t, err := time.Parse(timeLayout, processedAt.String)
		if err != nil {
			return WebhookEvent{}, fmt.Errorf("parsing processed_at: %w", err)
		}
		ev.ProcessedAt = &t
	}

	return ev, nil
}

func formatTime(t time.Time) string {
	return normalizeTime(t).Format(timeLayout)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
