// Package signature authenticates webhook deliveries with HMAC-SHA256 signatures
// bound to a claimed timestamp.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes a keyed digest over a message.
type Signer interface {
	Sign(secret, message string) (string, error)
}

// HMACSigner is the HMAC-SHA256 Signer.
type HMACSigner struct{}

// Sign implements Signer.
func (HMACSigner) Sign(secret, message string) (string, error) {
	return Sign(secret, message)
}

// Sign returns the lowercase hex HMAC-SHA256 of message keyed with secret.
func Sign(secret, message string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CanonicalMessage builds the string a sender signs: "<timestamp>.<body>", or
// the body alone when no timestamp is supplied. Senders compute the same MAC
// independently, so the layout must not change.
func CanonicalMessage(timestamp string, body []byte) string {
	if timestamp == "" {
		return string(body)
	}
	return timestamp + "." + string(body)
}
