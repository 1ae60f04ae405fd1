package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/hookd/internal/config"
	"github.com/watzon/hookd/internal/database"
	"github.com/watzon/hookd/internal/ingest"
	"github.com/watzon/hookd/internal/signature"
)

const (
	testSource     = "stripe"
	testSecret     = "whsec_test_secret"
	testAdminToken = "admin-token-0123456789"
)

type testServer struct {
	srv *Server
	db  *database.DB
	cfg *config.Config
}

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Server.Port = 0
	cfg.Server.AdminToken = testAdminToken
	cfg.Webhooks.Secrets[testSource] = testSecret
	cfg.Metrics.Enabled = false

	for _, fn := range mutate {
		fn(cfg)
	}

	db, err := database.Open(&cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv, err := New(cfg, db, WithVersion("test"))
	require.NoError(t, err)
	t.Cleanup(srv.stopGuards)

	return &testServer{srv: srv, db: db, cfg: cfg}
}

func signedRequest(t *testing.T, src, secret, body string) *http.Request {
	t.Helper()

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := signature.Sign(secret, signature.CanonicalMessage(ts, []byte(body)))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+src, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sha256="+sig)
	req.Header.Set("X-Timestamp", ts)
	return req
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

type eventBody struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	EventKey    string     `json:"eventKey"`
	Status      string     `json:"status"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt"`
}

func decodeEvent(t *testing.T, rec *httptest.ResponseRecorder) eventBody {
	t.Helper()
	var ev eventBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	return ev
}

func TestReceive_CreatedThenDuplicate(t *testing.T) {
	ts := setupTestServer(t)
	body := `{"eventKey":"evt_123","payload":{"amount":42}}`

	first := ts.do(signedRequest(t, testSource, testSecret, body))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.Equal(t, "/webhooks/stripe/evt_123", first.Header().Get("Location"))
	require.NotEmpty(t, first.Header().Get("X-Request-ID"))

	created := decodeEvent(t, first)
	require.NotEmpty(t, created.ID)
	require.Equal(t, testSource, created.Source)
	require.Equal(t, "evt_123", created.EventKey)
	require.Equal(t, "received", created.Status)
	require.Nil(t, created.ProcessedAt)

	second := ts.do(signedRequest(t, testSource, testSecret, body))
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	require.Empty(t, second.Header().Get("Location"))

	dup := decodeEvent(t, second)
	require.Equal(t, created.ID, dup.ID)
	require.True(t, created.ReceivedAt.Equal(dup.ReceivedAt))
}

func TestReceive_SourceIsCaseInsensitive(t *testing.T) {
	ts := setupTestServer(t)
	body := `{"eventKey":"evt_case","payload":{}}`

	rec := ts.do(signedRequest(t, "Stripe", testSecret, body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, testSource, decodeEvent(t, rec).Source)
}

func TestReceive_Rejections(t *testing.T) {
	ts := setupTestServer(t)
	validBody := `{"eventKey":"evt_1","payload":{}}`

	tests := []struct {
		name      string
		req       func(t *testing.T) *http.Request
		status    int
		emptyBody bool
	}{
		{
			name: "missing signature",
			req: func(t *testing.T) *http.Request {
				req := signedRequest(t, testSource, testSecret, validBody)
				req.Header.Del("X-Signature")
				return req
			},
			status:    http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name: "wrong secret",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, testSource, "not-the-secret", validBody)
			},
			status:    http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name: "malformed timestamp",
			req: func(t *testing.T) *http.Request {
				req := signedRequest(t, testSource, testSecret, validBody)
				req.Header.Set("X-Timestamp", "yesterday")
				return req
			},
			status:    http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name: "stale timestamp",
			req: func(t *testing.T) *http.Request {
				stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
				sig, err := signature.Sign(testSecret, signature.CanonicalMessage(stale, []byte(validBody)))
				require.NoError(t, err)
				req := signedRequest(t, testSource, testSecret, validBody)
				req.Header.Set("X-Timestamp", stale)
				req.Header.Set("X-Signature", sig)
				return req
			},
			status:    http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name: "tampered body",
			req: func(t *testing.T) *http.Request {
				req := signedRequest(t, testSource, testSecret, validBody)
				tampered := `{"eventKey":"evt_2","payload":{}}`
				req.Body = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tampered)).Body
				req.ContentLength = int64(len(tampered))
				return req
			},
			status:    http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name: "unknown source",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "github", testSecret, validBody)
			},
			status: http.StatusNotFound,
		},
		{
			name: "invalid source identifier",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, "-bad", testSecret, validBody)
			},
			status: http.StatusNotFound,
		},
		{
			name: "invalid source identifier without signature",
			req: func(t *testing.T) *http.Request {
				req := signedRequest(t, strings.Repeat("s", 51), testSecret, validBody)
				req.Header.Del("X-Signature")
				return req
			},
			status:    http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name: "malformed json",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, testSource, testSecret, `{"eventKey":`)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing event key",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, testSource, testSecret, `{"payload":{}}`)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing payload",
			req: func(t *testing.T) *http.Request {
				return signedRequest(t, testSource, testSecret, `{"eventKey":"evt_3"}`)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "event key too long",
			req: func(t *testing.T) *http.Request {
				body := `{"eventKey":"` + strings.Repeat("k", 121) + `","payload":{}}`
				return signedRequest(t, testSource, testSecret, body)
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.req(t))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.emptyBody {
				require.Empty(t, rec.Body.String())
			}
		})
	}

	count, err := ts.srv.Store().CountByStatus(t.Context())
	require.NoError(t, err)
	for status, n := range count {
		require.Zero(t, n, "status %s", status)
	}
}

func TestReceive_ValidationDetails(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(signedRequest(t, testSource, testSecret, `{"eventKey":"","payload":{}}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Code    string `json:"code"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "VALIDATION_ERROR", resp.Code)
	require.Len(t, resp.Details, 1)
	require.Equal(t, "eventKey", resp.Details[0].Field)
}

func TestReceive_BodyTooLarge(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodySize = 64
	})

	body := `{"eventKey":"evt_big","payload":"` + strings.Repeat("x", 128) + `"}`
	rec := ts.do(signedRequest(t, testSource, testSecret, body))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestReceive_StorageUnavailable(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.db.Close())

	rec := ts.do(signedRequest(t, testSource, testSecret, `{"eventKey":"evt_down","payload":{}}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}

func TestReceive_RateLimited(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = config.RateLimitRule{Max: 2, Window: time.Minute}
	})

	for i := range 2 {
		body := `{"eventKey":"evt_rl_` + strconv.Itoa(i) + `","payload":{}}`
		rec := ts.do(signedRequest(t, testSource, testSecret, body))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(signedRequest(t, testSource, testSecret, `{"eventKey":"evt_rl_3","payload":{}}`))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestReceive_LockoutAfterRepeatedFailures(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.AuthLockout = config.RateLimitRule{Max: 3, Window: time.Minute}
	})
	body := `{"eventKey":"evt_lock","payload":{}}`

	for range 3 {
		rec := ts.do(signedRequest(t, testSource, "wrong-secret", body))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := ts.do(signedRequest(t, testSource, testSecret, body))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestReceive_SpoofedForwardedForDoesNotLockOutSender(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.AuthLockout = config.RateLimitRule{Max: 20, Window: 5 * time.Minute}
	})
	body := `{"eventKey":"evt_spoof","payload":{}}`

	for range 20 {
		req := signedRequest(t, testSource, "wrong-secret", body)
		req.RemoteAddr = "203.0.113.66:4000"
		req.Header.Set("X-Forwarded-For", "198.51.100.7")
		require.Equal(t, http.StatusUnauthorized, ts.do(req).Code)
	}

	req := signedRequest(t, testSource, testSecret, body)
	req.RemoteAddr = "198.51.100.7:5555"
	rec := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Empty(t, rec.Header().Get("Retry-After"))
}

func TestReceive_LockoutBehindTrustedProxy(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.AuthLockout = config.RateLimitRule{Max: 2, Window: time.Minute}
		cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	})
	body := `{"eventKey":"evt_proxy","payload":{}}`

	send := func(secret, client string) int {
		req := signedRequest(t, testSource, secret, body)
		req.RemoteAddr = "10.0.0.5:8080"
		req.Header.Set("X-Forwarded-For", client)
		return ts.do(req).Code
	}

	require.Equal(t, http.StatusUnauthorized, send("wrong-secret", "203.0.113.66"))
	require.Equal(t, http.StatusUnauthorized, send("wrong-secret", "203.0.113.66"))
	require.Equal(t, http.StatusTooManyRequests, send(testSecret, "203.0.113.66"))
	require.Equal(t, http.StatusCreated, send(testSecret, "198.51.100.7"), "other clients behind the proxy are unaffected")
}

func TestNew_InvalidTrustedProxy(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Server.TrustedProxies = []string{"proxy.internal"}

	db, err := database.Open(&cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = New(cfg, db)
	require.Error(t, err)
}

func TestReceive_InjectedClock(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Server.AdminToken = testAdminToken
	cfg.Webhooks.Secrets[testSource] = testSecret
	cfg.Metrics.Enabled = false

	db, err := database.Open(&cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv, err := New(cfg, db, WithClock(ingest.ClockFunc(func() time.Time { return frozen })))
	require.NoError(t, err)
	t.Cleanup(srv.stopGuards)
	ts := &testServer{srv: srv, db: db, cfg: cfg}

	sign := func(at time.Time, body string) *http.Request {
		stamp := strconv.FormatInt(at.Unix(), 10)
		sig, err := signature.Sign(testSecret, signature.CanonicalMessage(stamp, []byte(body)))
		require.NoError(t, err)
		req := signedRequest(t, testSource, testSecret, body)
		req.Header.Set("X-Timestamp", stamp)
		req.Header.Set("X-Signature", sig)
		return req
	}

	rec := ts.do(sign(frozen.Add(-time.Minute), `{"eventKey":"evt_clock","payload":{}}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	ev := decodeEvent(t, rec)
	require.True(t, frozen.Equal(ev.ReceivedAt), "received at %s", ev.ReceivedAt)

	rec = ts.do(sign(time.Now(), `{"eventKey":"evt_clock_now","payload":{}}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code, "freshness is measured against the injected clock")
}

func TestDeliveryLog(t *testing.T) {
	ts := setupTestServer(t)

	require.Equal(t, http.StatusCreated, ts.do(signedRequest(t, testSource, testSecret, `{"eventKey":"evt_log","payload":{}}`)).Code)
	require.Equal(t, http.StatusUnauthorized, ts.do(signedRequest(t, testSource, "wrong", `{"eventKey":"evt_log","payload":{}}`)).Code)

	req := httptest.NewRequest(http.MethodGet, "/deliveries?source=stripe", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Total   int `json:"total"`
		Entries []struct {
			RequestID string `json:"request_id"`
			Status    int    `json:"status"`
			Outcome   string `json:"outcome"`
			Location  string `json:"location"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 2, res.Total)
	require.Equal(t, "unauthenticated", res.Entries[0].Outcome)
	require.Equal(t, "created", res.Entries[1].Outcome)
	require.Equal(t, "/webhooks/stripe/evt_log", res.Entries[1].Location)
	require.NotEmpty(t, res.Entries[1].RequestID)
}

func TestGetEvent(t *testing.T) {
	ts := setupTestServer(t)

	created := ts.do(signedRequest(t, testSource, testSecret, `{"eventKey":"evt/with slash","payload":{}}`))
	require.Equal(t, http.StatusCreated, created.Code)
	location := created.Header().Get("Location")
	require.Equal(t, "/webhooks/stripe/evt%2Fwith%20slash", location)

	t.Run("without token", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, location, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("with wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, location, nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := ts.do(req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("with token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, location, nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		rec := ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		ev := decodeEvent(t, rec)
		require.Equal(t, "evt/with slash", ev.EventKey)
		require.Equal(t, decodeEvent(t, created).ID, ev.ID)
	})

	t.Run("missing event", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe/evt_missing", nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		rec := ts.do(req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetEvent_DisabledWithoutAdminToken(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.AdminToken = ""
	})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe/evt_1", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := ts.do(req)
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status     string `json:"status"`
		Version    string `json:"version"`
		Components map[string]struct {
			Status string `json:"status"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, "test", resp.Version)
	require.Equal(t, "healthy", resp.Components["database"].Status)
	require.Equal(t, "healthy", resp.Components["secrets"].Status)
}

func TestHealth_DatabaseDown(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.db.Close())

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
	})

	rec := ts.do(signedRequest(t, testSource, testSecret, `{"eventKey":"evt_m","payload":{}}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hookd_webhook_deliveries_total")
	require.Contains(t, rec.Body.String(), `path="/webhooks/:source"`)
}

func TestNew_SecretsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yaml")
	writeFile(t, path, "sources:\n  github: gh-secret\n")

	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Webhooks.SecretsFile = path
	})
	require.Equal(t, 2, ts.srv.SourceCount())

	rec := ts.do(signedRequest(t, "github", "gh-secret", `{"eventKey":"push_1","payload":{}}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestNew_MissingSecretsFile(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Webhooks.SecretsFile = filepath.Join(t.TempDir(), "missing.yaml")

	db, err := database.Open(&cfg.Database)
	require.NoError(t, err)
	defer db.Close()

	_, err = New(cfg, db)
	require.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
