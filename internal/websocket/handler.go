package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	xlog "playsession/internal/log"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// Gate authorizes subscriptions and produces the initial snapshot a new
// subscriber receives before any delta.
type Gate interface {
	AuthorizeSubscription(ctx context.Context, r *http.Request, sessionID string) (types.Viewer, error)
	Snapshot(ctx context.Context, viewer types.Viewer, sessionID string) (*types.BroadcastEvent, error)
}

// HandlerConfig carries heartbeat and buffering settings.
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	AllowedOrigins []string
}

// DefaultHandlerConfig returns a 30s ping with a 60s read deadline.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
	}
}

// Handler upgrades subscription requests and owns each connection's read pump.
type Handler struct {
	registry *Registry
	gate     Gate
	config   HandlerConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(registry *Registry, gate Gate, cfg HandlerConfig) *Handler {
	h := &Handler{
		registry: registry,
		gate:     gate,
		config:   cfg,
		logger:   xlog.WithComponent("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket validates the subscription, upgrades, registers the
// connection and sends the snapshot ahead of any delta.
// ARCHITECTURAL DISCOVERY: authorization happens before the upgrade so
// failures get proper HTTP status codes instead of a close frame.
// FUNCTIONAL DISCOVERY: the connection is registered on hold before the
// snapshot is read. Deltas arriving meanwhile are parked, and only those
// newer than the snapshot's seq are sent after it, so none is lost.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, ErrMissingSessionID.Error(), http.StatusBadRequest)
		return
	}

	viewer, err := h.gate.AuthorizeSubscription(r.Context(), r, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrUnauthenticated):
			http.Error(w, "Authentication required", http.StatusUnauthorized)
		case errors.Is(err, interfaces.ErrUnauthorized):
			http.Error(w, "Not authorized to subscribe to this session", http.StatusForbidden)
		case errors.Is(err, interfaces.ErrSessionNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		default:
			h.logger.Error().Err(err).Str(xlog.FieldSessionID, sessionID).Msg("subscription authorization failed")
			http.Error(w, "Subscription failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, ConnectionConfig{
		SendBuffer:   h.config.BufferSize,
		WriteTimeout: h.config.WriteTimeout,
	})
	_ = wsConn.SetCredentials(viewer.ActorID(), viewer.Kind, sessionID)

	wsConn.Hold()
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.logger.Error().Err(err).Msg("failed to register connection")
		_ = wsConn.Close()
		return
	}

	snapshot, err := h.gate.Snapshot(r.Context(), viewer, sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str(xlog.FieldSessionID, sessionID).Msg("snapshot failed")
		h.registry.UnregisterConnection(wsConn)
		wsConn.Shutdown("snapshot unavailable")
		return
	}
	if err := wsConn.Release(snapshot, newerThan(snapshot.Seq)); err != nil {
		h.registry.UnregisterConnection(wsConn)
		_ = wsConn.Close()
		return
	}

	wsConn.log().Info().Str(xlog.FieldUserID, viewer.ActorID()).Uint64(xlog.FieldSeq, snapshot.Seq).Msg("subscriber connected")
	go h.handleConnection(wsConn)
}

// newerThan keeps deltas the snapshot does not already reflect.
func newerThan(seq uint64) func(interface{}) bool {
	return func(v interface{}) bool {
		switch ev := v.(type) {
		case *types.BroadcastEvent:
			return ev.Seq > seq
		case types.BroadcastEvent:
			return ev.Seq > seq
		default:
			return true
		}
	}
}

// handleConnection runs the heartbeat and read pump until the client goes away.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		conn.log().Info().Msg("subscriber disconnected")
	}()

	readTimeout := h.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultHandlerConfig().ReadTimeout
	}
	pingInterval := h.config.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultHandlerConfig().PingInterval
	}

	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	conn.conn.SetReadLimit(4096)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					_ = conn.Close()
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	// Subscribers are receive-only; inbound frames are read to service
	// control messages and detect disconnects.
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				conn.log().Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}
