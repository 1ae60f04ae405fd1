package events

import "errors"

var (
	// ErrDuplicate is returned by Save when (source, event_key) already exists.
	ErrDuplicate = errors.New("event already exists for source and key")

	// ErrNotFound is returned by lookups that require a row.
	ErrNotFound = errors.New("event not found")

	// ErrInvalidTransition is returned when a status change would regress.
	ErrInvalidTransition = errors.New("invalid status transition")
)
