package server

import (
	"net/http"

	"github.com/watzon/hookd/internal/metrics"
	"github.com/watzon/hookd/internal/server/deliverylog"
	"github.com/watzon/hookd/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// setupMiddleware registers middleware outermost first.
func (r *Router) setupMiddleware() {
	cfg := r.server.cfg

	r.Use(RecoveryMiddleware)
	r.Use(RequestContextMiddleware(r.server.clock.Now))
	r.Use(LoggingMiddleware)

	if cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(cfg.Server.MaxBodySize))
	}

	if cfg.Metrics.Enabled {
		r.Use(MetricsMiddleware(cfg.Metrics.Path))
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	cfg := r.server.cfg

	health := handlers.NewHealthHandlers(r.server.DB(), r.server, r.server.version)
	r.mux.HandleFunc("GET /health", health.Health)
	r.mux.HandleFunc("GET /health/live", health.Liveness)
	r.mux.HandleFunc("GET /health/ready", health.Readiness)

	webhooks := handlers.NewWebhookHandlers(
		r.server.verifier,
		r.server.ingest,
		r.server.store,
		handlers.WebhookConfig{
			SignatureHeader: cfg.Webhooks.SignatureHeader,
			TimestampHeader: cfg.Webhooks.TimestampHeader,
		},
	)

	var receive http.Handler = http.HandlerFunc(webhooks.Receive)
	if r.server.lockout != nil {
		receive = r.server.lockout.Middleware(receive)
	}
	if r.server.limiter != nil {
		receive = r.server.limiter.Middleware(receive)
	}
	if r.server.deliveries != nil {
		receive = deliverylog.Middleware(r.server.deliveries, r.server.clients.ClientIP)(receive)
	}
	r.mux.Handle("POST /webhooks/{source}", receive)

	if cfg.Server.AdminToken != "" {
		admin := RequireAdminToken(cfg.Server.AdminToken)
		r.mux.Handle("GET /webhooks/{source}/{eventKey}", admin(http.HandlerFunc(webhooks.Get)))
		r.mux.Handle("GET /stats", admin(http.HandlerFunc(health.Stats)))

		if r.server.deliveries != nil {
			deliveries := handlers.NewDeliveryHandlers(r.server.deliveries)
			r.mux.Handle("GET /deliveries", admin(http.HandlerFunc(deliveries.List)))
		}
	}

	if cfg.Metrics.Enabled {
		r.mux.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
