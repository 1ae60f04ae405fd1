package signature

import (
	"crypto/subtle"
	"strings"
)

// Prefix is the optional scheme marker senders put in front of the hex digest.
const Prefix = "sha256="

// Equal compares two digests in time independent of where they first differ.
// An empty argument is treated as absent and never matches.
func Equal(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// StripPrefix removes a leading "sha256=" from a signature header value.
func StripPrefix(sig string) string {
	return strings.TrimPrefix(sig, Prefix)
}
