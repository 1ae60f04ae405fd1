package signature

import (
	"errors"
	"fmt"
	"time"

	"github.com/watzon/hookd/internal/secrets"
)

// Request is everything one authentication decision looks at. It is never
// persisted.
type Request struct {
	Source    string
	Body      []byte
	Signature string
	Timestamp string
	Now       time.Time
}

// Authenticated is the result of a successful verification.
type Authenticated struct {
	Source    string
	Body      []byte
	Timestamp int64
}

// Verifier composes the replay guard, secret lookup, signer and comparator.
type Verifier struct {
	resolver secrets.Resolver
	signer   Signer
	window   time.Duration
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithSigner replaces the HMAC signer, mostly for instrumentation in tests.
func WithSigner(s Signer) VerifierOption {
	return func(v *Verifier) {
		v.signer = s
	}
}

// WithReplayWindow overrides DefaultReplayWindow.
func WithReplayWindow(window time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.window = window
	}
}

// NewVerifier creates a Verifier backed by resolver.
func NewVerifier(resolver secrets.Resolver, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		resolver: resolver,
		signer:   HMACSigner{},
		window:   DefaultReplayWindow,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Window returns the configured replay window.
func (v *Verifier) Window() time.Duration {
	return v.window
}

// Verify authenticates req. Structural and clock checks run before the secret
// is looked up, and the secret is looked up before any MAC is computed.
func (v *Verifier) Verify(req Request) (Authenticated, error) {
	if req.Signature == "" {
		return Authenticated{}, unauthenticated(ReasonMissingSignature)
	}

	claimed, err := ParseTimestamp(req.Timestamp)
	if err != nil {
		return Authenticated{}, unauthenticated(ReasonMalformedTimestamp)
	}

	if !IsFresh(claimed, req.Now.Unix(), int64(v.window/time.Second)) {
		return Authenticated{}, unauthenticated(ReasonStaleTimestamp)
	}

	secret, err := v.resolver.SecretFor(req.Source)
	if err != nil {
		if errors.Is(err, ErrUnknownSource) {
			return Authenticated{}, err
		}
		return Authenticated{}, fmt.Errorf("%w: %s: %w", ErrUnknownSource, req.Source, err)
	}

	expected, err := v.signer.Sign(secret, CanonicalMessage(req.Timestamp, req.Body))
	if err != nil {
		return Authenticated{}, fmt.Errorf("computing signature: %w", err)
	}

	if !Equal(expected, StripPrefix(req.Signature)) {
		return Authenticated{}, unauthenticated(ReasonBadSignature)
	}

	return Authenticated{
		Source:    req.Source,
		Body:      req.Body,
		Timestamp: claimed,
	}, nil
}
