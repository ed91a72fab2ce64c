package interfaces

import (
	"context"

	"playsession/pkg/types"
)

// Connection represents a subscribed client connection as the registry and
// broadcast sinks see it.
type Connection interface {
	// ID uniquely identifies the connection within the process.
	ID() string

	// WriteJSON sends a JSON message to the client. Implementations serialize writes.
	WriteJSON(v interface{}) error

	// TrySend queues a JSON message without blocking, dropping it when the
	// client is too slow.
	TrySend(v interface{}) error

	// Shutdown flushes queued messages, then closes with a close frame
	// carrying reason.
	Shutdown(reason string)

	// Close closes the connection and cleans up resources.
	Close() error

	// GetUserID returns the host user id or participant id behind the connection.
	GetUserID() string

	// GetRole returns "host" or "participant".
	GetRole() string

	// GetSessionID returns the session this connection subscribes to.
	GetSessionID() string

	// IsAuthenticated returns true once credentials are set.
	IsAuthenticated() bool

	// SetCredentials sets the subscriber identity after authorization.
	SetCredentials(userID, role, sessionID string) error
}

// BroadcastSink delivers a broadcast event to subscribers. Errors are logged
// by the dispatcher, never surfaced to the command that produced the event.
type BroadcastSink interface {
	Name() string
	Deliver(ctx context.Context, event *types.BroadcastEvent) error
}

// Publisher schedules best-effort broadcasts of session state deltas.
type Publisher interface {
	Publish(ctx context.Context, sessionID, eventType string, payload map[string]any)
}

// Sequencer hands out the per-session monotonic broadcast sequence.
type Sequencer interface {
	// Next reserves and returns the next seq for a session, starting at 1.
	Next(ctx context.Context, sessionID string) (uint64, error)

	// Current returns the last seq handed out, 0 when none.
	Current(ctx context.Context, sessionID string) (uint64, error)
}
