package broadcast

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	xlog "playsession/internal/log"
	"playsession/internal/metrics"
	"playsession/internal/websocket"
	"playsession/pkg/types"
)

// RegistrySink delivers envelopes to this process's websocket subscribers.
type RegistrySink struct {
	registry *websocket.Registry
	logger   zerolog.Logger
}

// NewRegistrySink creates a sink over registry.
func NewRegistrySink(registry *websocket.Registry) *RegistrySink {
	return &RegistrySink{registry: registry, logger: xlog.WithComponent("broadcast")}
}

func (s *RegistrySink) Name() string { return "websocket" }

// Deliver fans event out to every subscriber of its session. A slow
// subscriber loses the frame; the others are unaffected. A status change to
// a terminal status is the session's last delta, so its subscribers are
// closed once it is flushed.
func (s *RegistrySink) Deliver(_ context.Context, event *types.BroadcastEvent) error {
	for _, conn := range s.registry.GetSessionConnections(event.SessionID) {
		if err := conn.TrySend(event); err != nil {
			if errors.Is(err, websocket.ErrSendBufferFull) {
				metrics.IncBroadcastDropped("subscriber_slow")
			}
			s.logger.Debug().Err(err).
				Str(xlog.FieldSessionID, event.SessionID).
				Uint64(xlog.FieldSeq, event.Seq).
				Str("connection_id", conn.ID()).
				Msg("subscriber missed broadcast")
		}
	}

	if event.Type == types.BroadcastStatusChange {
		if status, _ := event.Payload["status"].(string); types.IsTerminalStatus(status) {
			closed := s.registry.CloseSession(event.SessionID, "session "+status)
			s.logger.Info().
				Str(xlog.FieldSessionID, event.SessionID).
				Int("subscribers", closed).
				Msg("closed subscribers of finished session")
		}
	}
	return nil
}
