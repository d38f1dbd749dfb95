// Package httpapi exposes an event bus over HTTP: JWT-authenticated topic, event and
// subscription endpoints, a server-sent event stream for push delivery, and admin
// statistics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rmacdonaldsmith/eventbus-go/internal/routingtable"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventbus"
)

// ErrInvalidConfig is returned for an unusable server configuration
var ErrInvalidConfig = errors.New("invalid HTTP API configuration")

// defaultSecretKey signs tokens when no secret is configured
const defaultSecretKey = "eventbus-dev-secret-key-change-in-production"

// Config holds server configuration
type Config struct {
	Port      string
	SecretKey string

	// NoAuth disables authentication on everything except admin endpoints
	NoAuth bool

	// PublishRate is the number of publishes per second allowed per client; zero disables the limit
	PublishRate  float64
	PublishBurst int

	// KeepaliveInterval is the SSE ping interval
	KeepaliveInterval time.Duration

	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.SecretKey == "" {
		c.SecretKey = defaultSecretKey
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("%w: port %q", ErrInvalidConfig, c.Port)
	}
	if c.PublishRate < 0 || c.PublishBurst < 0 {
		return fmt.Errorf("%w: negative publish rate", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exposes metric totals on the admin statistics endpoint.
func WithMetrics(metrics MetricsSource) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithDeadLetterBus mounts bus read-only under /api/v1/deadletter.
func WithDeadLetterBus(bus eventbus.EventBus) Option {
	return func(s *Server) {
		s.deadLetterBus = bus
	}
}

// Server represents the HTTP API server
type Server struct {
	bus        eventbus.EventBus
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *slog.Logger
	metrics    MetricsSource

	// deadLetterBus and deadLetters are nil unless a dead-letter bus is mounted
	deadLetterBus eventbus.EventBus
	deadLetters   *Handlers
}

// NewServer creates a new HTTP API server for bus.
func NewServer(bus eventbus.EventBus, config Config, opts ...Option) (*Server, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		bus:    bus,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "httpapi")

	filters, err := routingtable.NewFilterCompiler(s.logger)
	if err != nil {
		return nil, err
	}

	s.jwtAuth = NewJWTAuth(config.SecretKey, config.TokenTTL)
	s.handlers = NewHandlers(bus, filters, s.jwtAuth, s.metrics, s.logger, config.KeepaliveInterval)
	if s.deadLetterBus != nil {
		s.deadLetters = NewHandlers(s.deadLetterBus, filters, s.jwtAuth, nil, s.logger.With("bus", "deadletter"), config.KeepaliveInterval)
	}
	s.middleware = NewMiddleware(s.jwtAuth, config.NoAuth, s.logger, config.PublishRate, config.PublishBurst)

	s.server = &http.Server{
		Addr:           ":" + config.Port,
		Handler:        s.routes(),
		ReadTimeout:    30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// No WriteTimeout: SSE streams stay open
	}
	return s, nil
}

// Handler returns the routed handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until Stop. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// routes configures all HTTP routes
func (s *Server) routes() http.Handler {
	m := s.middleware
	h := s.handlers

	r := chi.NewRouter()
	r.Use(m.Recovery, m.Logging, m.CORS)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/", s.handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Get("/health", h.Health)

		r.With(m.AdminRequired).Get("/admin/stats", h.AdminGetStats)

		r.Group(func(r chi.Router) {
			r.Use(m.AuthRequired)

			r.Get("/topics", h.ListTopics)
			r.Post("/topics", h.CreateTopic)

			r.Route("/topics/{topic}", func(r chi.Router) {
				r.With(m.RateLimited).Post("/events", h.PublishEvent)
				r.Get("/events", h.ReadEvents)
				r.Get("/events/{id}", h.GetEvent)
				r.Get("/stream", h.StreamEvents)

				r.Get("/subscriptions", h.ListSubscriptions)
				r.Post("/subscriptions", h.CreateSubscription)
				r.Delete("/subscriptions/{subscriber}", h.DeleteSubscription)
				r.Get("/subscriptions/{subscriber}/poll", h.Poll)
				r.Post("/subscriptions/{subscriber}/seek", h.Seek)
			})

			if d := s.deadLetters; d != nil {
				r.Route("/deadletter/topics", func(r chi.Router) {
					r.Get("/", d.ListTopics)
					r.Get("/{topic}/events", d.ReadEvents)
					r.Get("/{topic}/events/{id}", d.GetEvent)
				})
			}
		})
	})

	return r
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]interface{}{
		"auth": map[string]string{
			"login": "POST /api/v1/auth/login",
		},
		"topics": map[string]string{
			"list":     "GET /api/v1/topics",
			"register": "POST /api/v1/topics",
		},
		"events": map[string]string{
			"publish": "POST /api/v1/topics/{topic}/events",
			"read":    "GET /api/v1/topics/{topic}/events?from={index}&limit={limit}",
			"get":     "GET /api/v1/topics/{topic}/events/{id}",
			"stream":  "GET /api/v1/topics/{topic}/stream?filter={expr}",
		},
		"subscriptions": map[string]string{
			"list":   "GET /api/v1/topics/{topic}/subscriptions",
			"create": "POST /api/v1/topics/{topic}/subscriptions",
			"delete": "DELETE /api/v1/topics/{topic}/subscriptions/{subscriber}",
			"poll":   "GET /api/v1/topics/{topic}/subscriptions/{subscriber}/poll",
			"seek":   "POST /api/v1/topics/{topic}/subscriptions/{subscriber}/seek",
		},
		"admin": map[string]string{
			"stats": "GET /api/v1/admin/stats",
		},
		"health": "GET /api/v1/health",
	}
	if s.deadLetters != nil {
		endpoints["deadletter"] = map[string]string{
			"topics": "GET /api/v1/deadletter/topics",
			"read":   "GET /api/v1/deadletter/topics/{topic}/events?from={index}&limit={limit}",
			"get":    "GET /api/v1/deadletter/topics/{topic}/events/{id}",
		}
	}

	info := map[string]interface{}{
		"service":        "EventBus HTTP API",
		"version":        "1.0.0",
		"description":    "Topic-partitioned publish/subscribe with push and pull subscriptions",
		"endpoints":      endpoints,
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
