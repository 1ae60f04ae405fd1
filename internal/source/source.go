// Package source normalizes webhook source identifiers.
package source

import (
	"regexp"
	"strings"
)

// MaxLength is the longest source identifier the event store accepts.
const MaxLength = 50

var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Normalize trims surrounding whitespace and lowercases a source identifier.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Valid reports whether an already-normalized identifier is acceptable.
func Valid(id string) bool {
	if id == "" || len(id) > MaxLength {
		return false
	}
	return identifierPattern.MatchString(id)
}
