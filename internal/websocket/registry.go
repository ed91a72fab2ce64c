package websocket

import (
	"sync"

	"playsession/internal/metrics"
	"playsession/pkg/interfaces"
)

// Registry tracks subscriber connections per play session.
// TECHNICAL DISCOVERY: lookups happen on every broadcast while registration
// happens once per connect, so reads take the shared lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]interfaces.Connection // sessionID -> connectionID -> Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]interfaces.Connection),
	}
}

// RegisterConnection subscribes an authenticated connection to its session.
// A host or participant may hold several connections at once.
func (r *Registry) RegisterConnection(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]interfaces.Connection)
	}
	if _, exists := r.sessions[sessionID][conn.ID()]; !exists {
		metrics.WebsocketSubscribers.Inc()
	}
	r.sessions[sessionID][conn.ID()] = conn
	return nil
}

// UnregisterConnection removes conn. Idempotent.
func (r *Registry) UnregisterConnection(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if _, registered := conns[conn.ID()]; !registered {
		return
	}
	delete(conns, conn.ID())
	metrics.WebsocketSubscribers.Dec()
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
}

// GetSessionConnections returns a snapshot of the session's subscribers.
func (r *Registry) GetSessionConnections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[sessionID]
	out := make([]interfaces.Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// CloseSession detaches every subscriber of a session and ends each stream
// after the frames already queued for it.
func (r *Registry) CloseSession(sessionID, reason string) int {
	r.mu.Lock()
	conns := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	for _, conn := range conns {
		metrics.WebsocketSubscribers.Dec()
		conn.Shutdown(reason)
	}
	return len(conns)
}

// CloseAll disconnects every subscriber.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []interfaces.Connection
	for _, conns := range r.sessions {
		for _, conn := range conns {
			all = append(all, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range all {
		_ = conn.Close()
		r.UnregisterConnection(conn)
	}
}

// GetStats returns registry statistics for health reporting.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.sessions {
		total += len(conns)
	}
	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.sessions),
	}
}
