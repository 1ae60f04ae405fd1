// Package secrets maps webhook sources to their shared signing secrets.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/watzon/hookd/internal/source"
)

// ErrUnknownSource is returned when a source has no usable secret.
var ErrUnknownSource = errors.New("unknown source")

// Resolver looks up the shared secret for a source. Lookups are synchronous
// and have no side effects.
type Resolver interface {
	SecretFor(source string) (string, error)
}

// Static resolves secrets from a fixed map, typically the webhooks.secrets
// section of the config file.
type Static struct {
	secrets map[string]string
}

// NewStatic copies m, normalizing its keys.
func NewStatic(m map[string]string) *Static {
	return &Static{secrets: normalizeKeys(m)}
}

// SecretFor implements Resolver.
func (s *Static) SecretFor(src string) (string, error) {
	return lookup(s.secrets, src)
}

// Sources lists the configured source identifiers.
func (s *Static) Sources() []string {
	out := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		out = append(out, k)
	}
	return out
}

// Len reports the number of configured sources.
func (s *Static) Len() int {
	return len(s.secrets)
}

// Chain tries each resolver in order and returns the first secret found.
type Chain []Resolver

// SecretFor implements Resolver.
func (c Chain) SecretFor(src string) (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		secret, err := r.SecretFor(src)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, ErrUnknownSource) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSource, src)
}

func lookup(m map[string]string, src string) (string, error) {
	secret, ok := m[source.Normalize(src)]
	if !ok || strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}
	return secret, nil
}

func normalizeKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[source.Normalize(k)] = v
	}
	return out
}
