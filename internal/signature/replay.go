package signature

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultReplayWindow is how far a claimed timestamp may drift from now.
const DefaultReplayWindow = 300 * time.Second

var errMissingTimestamp = errors.New("timestamp is missing")

// ParseTimestamp parses a decimal Unix epoch seconds header value.
func ParseTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errMissingTimestamp
	}
	return strconv.ParseInt(raw, 10, 64)
}

// IsFresh reports whether |now - claimed| <= window. All values are epoch
// seconds. A negative window rejects everything.
func IsFresh(claimed, now, window int64) bool {
	if window < 0 {
		return false
	}

	var drift int64
	if now >= claimed {
		drift = now - claimed
	} else {
		drift = claimed - now
	}

	// Overflow on extreme inputs wraps negative.
	if drift < 0 {
		return false
	}
	return drift <= window
}
