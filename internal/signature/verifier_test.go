package signature

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/hookd/internal/secrets"
)

const (
	testSecret    = "secret-123"
	testTimestamp = "1767225900"
	testBody      = `{"eventKey":"evt_123","payload":{"hello":"world"}}`
)

var testNow = time.Unix(1767225900, 0)

type countingSigner struct {
	calls atomic.Int32
}

func (c *countingSigner) Sign(secret, message string) (string, error) {
	c.calls.Add(1)
	return Sign(secret, message)
}

type brokenResolver struct{}

func (brokenResolver) SecretFor(string) (string, error) {
	return "", errors.New("vault unreachable")
}

func newTestVerifier(opts ...VerifierOption) *Verifier {
	return NewVerifier(secrets.NewStatic(map[string]string{"stripe": testSecret}), opts...)
}

func validRequest() Request {
	return Request{
		Source:    "stripe",
		Body:      []byte(testBody),
		Signature: "sha256=" + referenceMAC(testSecret, testTimestamp+"."+testBody),
		Timestamp: testTimestamp,
		Now:       testNow,
	}
}

func TestVerifier_Verify(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Request)
		wantReason Reason
		wantErr    error
	}{
		{
			name:   "valid prefixed signature",
			mutate: func(*Request) {},
		},
		{
			name: "valid bare hex signature",
			mutate: func(r *Request) {
				r.Signature = referenceMAC(testSecret, testTimestamp+"."+testBody)
			},
		},
		{
			name:   "at the edge of the window",
			mutate: func(r *Request) { r.Now = testNow.Add(300 * time.Second) },
		},
		{
			name:       "missing signature",
			mutate:     func(r *Request) { r.Signature = "" },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonMissingSignature,
		},
		{
			name:       "missing timestamp",
			mutate:     func(r *Request) { r.Timestamp = "" },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonMalformedTimestamp,
		},
		{
			name:       "non-numeric timestamp",
			mutate:     func(r *Request) { r.Timestamp = "yesterday" },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonMalformedTimestamp,
		},
		{
			name:       "stale timestamp",
			mutate:     func(r *Request) { r.Timestamp = "1767225300" },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonStaleTimestamp,
		},
		{
			name:       "one second past the window",
			mutate:     func(r *Request) { r.Now = testNow.Add(301 * time.Second) },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonStaleTimestamp,
		},
		{
			name:    "unknown source",
			mutate:  func(r *Request) { r.Source = "unknown" },
			wantErr: ErrUnknownSource,
		},
		{
			name:       "tampered body",
			mutate:     func(r *Request) { r.Body = []byte(`{"eventKey":"evt_124","payload":{"hello":"world"}}`) },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonBadSignature,
		},
		{
			name:       "signature for a different timestamp",
			mutate:     func(r *Request) { r.Timestamp = "1767225901" },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonBadSignature,
		},
		{
			name:       "uppercase hex",
			mutate:     func(r *Request) { r.Signature = "sha256=" + upper(referenceMAC(testSecret, testTimestamp+"."+testBody)) },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonBadSignature,
		},
		{
			name:       "prefix only",
			mutate:     func(r *Request) { r.Signature = "sha256=" },
			wantErr:    ErrUnauthenticated,
			wantReason: ReasonBadSignature,
		},
	}

	v := newTestVerifier()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			got, err := v.Verify(req)
			if tt.wantErr == nil {
				require.NoError(t, err)
				require.Equal(t, int64(1767225900), got.Timestamp)
				require.Equal(t, req.Source, got.Source)
				require.Equal(t, req.Body, got.Body)
				return
			}

			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantReason != "" {
				reason, ok := ReasonOf(err)
				require.True(t, ok)
				require.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestVerifier_UnknownSourceBeforeMAC(t *testing.T) {
	signer := &countingSigner{}
	v := newTestVerifier(WithSigner(signer))

	req := validRequest()
	req.Source = "unknown"
	_, err := v.Verify(req)
	require.ErrorIs(t, err, ErrUnknownSource)
	require.Zero(t, signer.calls.Load())

	_, err = v.Verify(validRequest())
	require.NoError(t, err)
	require.Equal(t, int32(1), signer.calls.Load())
}

func TestVerifier_StaleBeforeSourceLookup(t *testing.T) {
	v := newTestVerifier()

	req := validRequest()
	req.Source = "unknown"
	req.Timestamp = "1767225300"

	_, err := v.Verify(req)
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.NotErrorIs(t, err, ErrUnknownSource)
}

func TestVerifier_ResolverFailureIsUnknownSource(t *testing.T) {
	v := NewVerifier(brokenResolver{})

	_, err := v.Verify(validRequest())
	require.ErrorIs(t, err, ErrUnknownSource)
	require.NotContains(t, err.Error(), testSecret)
}

func TestVerifier_CustomWindow(t *testing.T) {
	v := newTestVerifier(WithReplayWindow(10 * time.Second))
	require.Equal(t, 10*time.Second, v.Window())

	req := validRequest()
	req.Now = testNow.Add(11 * time.Second)
	_, err := v.Verify(req)
	require.ErrorIs(t, err, ErrUnauthenticated)

	req.Now = testNow.Add(10 * time.Second)
	_, err = v.Verify(req)
	require.NoError(t, err)
}

func TestAuthError_DoesNotLeakDigest(t *testing.T) {
	req := validRequest()
	req.Body = []byte("tampered")

	_, err := newTestVerifier().Verify(req)
	require.Error(t, err)
	require.NotContains(t, err.Error(), StripPrefix(req.Signature))
	require.Equal(t, "unauthenticated: bad_signature", err.Error())
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
