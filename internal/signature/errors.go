package signature

import (
	"errors"
	"fmt"

	"github.com/watzon/hookd/internal/secrets"
)

var (
	// ErrUnauthenticated is returned for every signature or timestamp failure.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownSource is returned when no secret is configured for the source.
	ErrUnknownSource = secrets.ErrUnknownSource

	// ErrEmptySecret is a configuration error raised by the signer.
	ErrEmptySecret = errors.New("signing secret is empty")
)

// Reason classifies why a request failed authentication. It is safe to log and
// to use as a metric label; it never carries digests or secrets.
type Reason string

const (
	ReasonMissingSignature   Reason = "missing_signature"
	ReasonMalformedTimestamp Reason = "malformed_timestamp"
	ReasonStaleTimestamp     Reason = "stale_timestamp"
	ReasonBadSignature       Reason = "bad_signature"
)

// AuthError is an ErrUnauthenticated carrying the failure reason.
type AuthError struct {
	Reason Reason
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnauthenticated.Error(), e.Reason)
}

func (e *AuthError) Unwrap() error {
	return ErrUnauthenticated
}

func unauthenticated(reason Reason) error {
	return &AuthError{Reason: reason}
}

// ReasonOf extracts the failure reason from an authentication error.
func ReasonOf(err error) (Reason, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}
