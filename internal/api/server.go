// Package api is the HTTP surface of the play session runtime. Handlers
// resolve the viewer, decode the body and hand both to the session
// controller; they never touch the store directly.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"playsession/internal/auth"
	xlog "playsession/internal/log"
	"playsession/internal/session"
	"playsession/internal/websocket"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

const maxBodyBytes = 1 << 20

// Config tunes the HTTP surface.
type Config struct {
	// RateLimit is the number of requests one client IP may make per
	// RateLimitWindow. Zero disables limiting.
	RateLimit       int
	RateLimitWindow time.Duration
	AllowedOrigins  []string
	WebSocket       websocket.HandlerConfig
}

// DefaultConfig allows 600 requests per minute per IP.
func DefaultConfig() Config {
	return Config{
		RateLimit:       600,
		RateLimitWindow: time.Minute,
		WebSocket:       websocket.DefaultHandlerConfig(),
	}
}

// SeqSource reports the last broadcast seq of a session.
type SeqSource interface {
	LastSeq(ctx context.Context, sessionID string) uint64
}

// Server routes HTTP requests to the session controller.
// ARCHITECTURAL DISCOVERY: the server also acts as the websocket gate, so
// subscriptions are authorized by exactly the same rules as HTTP reads.
type Server struct {
	ctrl     *session.Controller
	resolver *auth.Resolver
	seq      SeqSource
	store    interfaces.DatabaseManager
	registry *websocket.Registry
	config   Config
	router   chi.Router
	started  time.Time
	logger   zerolog.Logger
}

// NewServer wires the routes.
func NewServer(ctrl *session.Controller, resolver *auth.Resolver, seq SeqSource, store interfaces.DatabaseManager, registry *websocket.Registry, cfg Config) *Server {
	s := &Server{
		ctrl:     ctrl,
		resolver: resolver,
		seq:      seq,
		store:    store,
		registry: registry,
		config:   cfg,
		started:  time.Now(),
		logger:   xlog.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(cors(s.config.AllowedOrigins))
	r.Use(accessLog)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	ws := websocket.NewHandler(s.registry, s, s.config.WebSocket)

	r.Route("/api", func(r chi.Router) {
		if s.config.RateLimit > 0 {
			r.Use(rateLimit(s.config.RateLimit, s.config.RateLimitWindow))
		}

		r.Get("/ws", ws.HandleWebSocket)
		r.Get("/board/{code}", s.handleBoard)
		r.Put("/games/{id}", s.handleImportGame)

		r.Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/join", s.handleJoin)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Patch("/status", s.handleSetStatus)

			r.Get("/state", s.handleGetState)
			r.Patch("/state", s.handleUpdateState)

			r.Get("/triggers", s.handleListTriggers)
			r.Patch("/triggers", s.handleUpdateTrigger)

			r.Get("/events", s.handleListEvents)
			r.Post("/events", s.handleRecordEvent)

			r.Get("/outcome", s.handleListOutcomes)
			r.Post("/outcome", s.handleCreateOutcome)
			r.Put("/outcome", s.handleUpdateOutcome)

			r.Get("/decisions", s.handleListDecisions)
			r.Post("/decisions", s.handleCreateDecision)
			r.Put("/decisions", s.handleUpdateDecision)

			r.Get("/artifacts", s.handleListArtifacts)
			r.Patch("/artifacts", s.handleUpdateArtifact)
			r.Post("/artifacts/{variantId}/keypad", s.handleKeypad)

			r.Get("/assignments", s.handleListAssignments)
			r.Post("/assignments", s.handleAssignRoles)

			r.Get("/secrets", s.handleGetSecrets)
			r.Post("/secrets", s.handleChangeSecrets)
			r.Post("/secrets/reveal", s.handleRevealSecret)
		})
	})
	return r
}

// viewer resolves the caller for a session-scoped route. An empty
// sessionID accepts host credentials only.
func (s *Server) viewer(r *http.Request, sessionID string) (types.Viewer, error) {
	return s.resolver.Resolve(r.Context(), r, sessionID)
}

// AuthorizeSubscription admits the session's host, admins and the session's
// own participants to its broadcast channel.
func (s *Server) AuthorizeSubscription(ctx context.Context, r *http.Request, sessionID string) (types.Viewer, error) {
	viewer, err := s.resolver.Resolve(ctx, r, sessionID)
	if err != nil {
		return types.Viewer{}, err
	}
	if _, err := s.ctrl.AuthorizeViewer(ctx, viewer, sessionID); err != nil {
		return types.Viewer{}, err
	}
	return viewer, nil
}

// Snapshot builds the first message of a subscription. Its seq is the last
// seq published before the read, so a subscriber drops every delta it
// already reflects.
func (s *Server) Snapshot(ctx context.Context, viewer types.Viewer, sessionID string) (*types.BroadcastEvent, error) {
	seq := s.seq.LastSeq(ctx, sessionID)
	state, err := s.ctrl.Snapshot(ctx, viewer, sessionID)
	if err != nil {
		return nil, err
	}
	return &types.BroadcastEvent{
		SessionID: sessionID,
		Seq:       seq,
		Type:      types.BroadcastSnapshot,
		Payload:   map[string]any{"state": state},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// HealthResponse reports store connectivity and subscriber counts.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Database      string         `json:"database"`
	Connections   map[string]int `json:"connections"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		Database:      "healthy",
		Connections:   s.registry.GetStats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	status := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		xlog.FromContext(r.Context()).Warn().Err(err).Msg("health check failed")
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
