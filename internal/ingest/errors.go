package ingest

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidArgument marks a command that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable wraps any event store failure other than a
	// recoverable duplicate.
	ErrStorageUnavailable = errors.New("event storage unavailable")
)

// FieldError describes one invalid command field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a command.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return ErrInvalidArgument.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}
