package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/hookd/internal/config"
	"github.com/watzon/hookd/internal/database"
	"github.com/watzon/hookd/internal/events"
	"github.com/watzon/hookd/internal/ingest"
	"github.com/watzon/hookd/internal/reporter"
	"github.com/watzon/hookd/internal/secrets"
	"github.com/watzon/hookd/internal/server/deliverylog"
	"github.com/watzon/hookd/internal/signature"
)

type Server struct {
	cfg         *config.Config
	db          *database.DB
	version     string
	clock       ingest.Clock
	static      *secrets.Static
	fileSecrets *secrets.File
	verifier    *signature.Verifier
	store       *events.Store
	ingest      *ingest.Service
	reporter    *reporter.Reporter
	clients     *ClientResolver
	limiter     *RateLimiter
	lockout     *AuthLockout
	deliveries  *deliverylog.Store
	httpServer  *http.Server
	router      *Router
}

type Option func(*Server)

// WithVersion sets the version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithClock overrides the clock that stamps request arrival times. Signature
// freshness and received_at are both measured against it.
func WithClock(c ingest.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// New wires the secret resolvers, verifier, event store and ingest service
// onto db and builds the HTTP router.
func New(cfg *config.Config, db *database.DB, opts ...Option) (*Server, error) {
	srv := &Server{
		cfg:     cfg,
		db:      db,
		version: "dev",
		clock:   ingest.SystemClock{},
		static:  secrets.NewStatic(cfg.Webhooks.Secrets),
		store:   events.NewStore(db),
	}

	chain := secrets.Chain{srv.static}
	if cfg.Webhooks.SecretsFile != "" {
		f, err := secrets.NewFile(cfg.Webhooks.SecretsFile)
		if err != nil {
			return nil, fmt.Errorf("loading secrets file: %w", err)
		}
		srv.fileSecrets = f
		chain = append(chain, f)
	}

	srv.verifier = signature.NewVerifier(chain, signature.WithReplayWindow(cfg.Webhooks.ReplayWindow))

	for _, opt := range opts {
		opt(srv)
	}

	srv.ingest = ingest.NewService(srv.store, ingest.WithClock(srv.clock))

	if cfg.Metrics.Enabled {
		rep, err := reporter.New(srv.store, db, cfg.Metrics.ReportSchedule)
		if err != nil {
			return nil, err
		}
		srv.reporter = rep
	}

	clients, err := NewClientResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	srv.clients = clients

	if cfg.Server.RateLimit.Max > 0 {
		srv.limiter = NewRateLimiter(cfg.Server.RateLimit, SourceClientKey(clients.ClientIP))
	}

	if cfg.Server.AuthLockout.Max > 0 {
		srv.lockout = NewAuthLockout(cfg.Server.AuthLockout, clients.ClientIP)
	}

	if cfg.Server.DeliveryLogSize > 0 {
		srv.deliveries = deliverylog.NewStore(cfg.Server.DeliveryLogSize)
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           srv.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return srv, nil
}

// Start runs background workers and serves HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Int("sources", s.SourceCount()).
		Dur("replay_window", s.verifier.Window()).
		Msg("Starting server")

	if s.fileSecrets != nil && s.cfg.Webhooks.WatchSecretsFile {
		if err := s.fileSecrets.Watch(ctx); err != nil {
			return fmt.Errorf("watching secrets file: %w", err)
		}
		log.Info().Str("path", s.cfg.Webhooks.SecretsFile).Msg("Watching secrets file")
	}

	if s.reporter != nil {
		s.reporter.Start(ctx)
	}

	var err error
	if tls := s.cfg.Server.TLS; tls != nil && tls.Enabled {
		err = s.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")

	if s.reporter != nil {
		s.reporter.Stop()
	}

	s.stopGuards()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) stopGuards() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.lockout != nil {
		s.lockout.Stop()
	}
}

// ShutdownTimeout is how long Shutdown may wait for in-flight requests.
func (s *Server) ShutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout <= 0 {
		return config.DefaultShutdownTimeout
	}
	return s.cfg.Server.ShutdownTimeout
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) DB() *database.DB {
	return s.db
}

func (s *Server) Config() *config.Config {
	return s.cfg
}

func (s *Server) Store() *events.Store {
	return s.store
}

// Deliveries returns the recent delivery log, or nil when disabled.
func (s *Server) Deliveries() *deliverylog.Store {
	return s.deliveries
}

// SourceCount reports how many sources have a secret configured. A source
// present in both the config and the secrets file counts twice.
func (s *Server) SourceCount() int {
	n := s.static.Len()
	if s.fileSecrets != nil {
		n += s.fileSecrets.Len()
	}
	return n
}

// Len implements handlers.SourceCounter.
func (s *Server) Len() int {
	return s.SourceCount()
}
