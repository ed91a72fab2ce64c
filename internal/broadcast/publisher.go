// Package broadcast turns session state changes into sequenced envelopes and
// delivers them to subscribers, locally or through Redis pub/sub.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"playsession/internal/hub"
	xlog "playsession/internal/log"
	"playsession/internal/metrics"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// Enqueuer accepts envelopes for asynchronous delivery.
type Enqueuer interface {
	Enqueue(event *types.BroadcastEvent) error
}

// Publisher implements interfaces.Publisher. Publish never blocks on
// delivery and never reports failure to the caller.
type Publisher struct {
	queue     Enqueuer
	sequencer interfaces.Sequencer
	now       func() time.Time
	logger    zerolog.Logger
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates a publisher feeding queue. sequencer is only read for
// LastSeq; seq stamping happens in the dispatcher.
func NewPublisher(queue Enqueuer, sequencer interfaces.Sequencer, opts ...Option) *Publisher {
	p := &Publisher{
		queue:     queue,
		sequencer: sequencer,
		now:       time.Now,
		logger:    xlog.WithComponent("broadcast"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish schedules a best-effort broadcast on the session channel.
func (p *Publisher) Publish(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	event := &types.BroadcastEvent{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: p.now().UTC().Format(time.RFC3339Nano),
	}

	if err := p.queue.Enqueue(event); err != nil {
		reason := "enqueue_failed"
		switch {
		case errors.Is(err, hub.ErrEventChannelFull):
			reason = "queue_full"
		case errors.Is(err, hub.ErrHubNotRunning):
			reason = "hub_stopped"
		}
		metrics.IncBroadcastDropped(reason)
		l := xlog.WithContext(ctx, p.logger)
		l.Warn().Err(err).
			Str(xlog.FieldSessionID, sessionID).
			Str(xlog.FieldEvent, eventType).
			Msg("broadcast dropped")
		return
	}
	metrics.IncBroadcastPublished(eventType)
}

// LastSeq returns the most recent seq stamped for a session, 0 when unknown.
func (p *Publisher) LastSeq(ctx context.Context, sessionID string) uint64 {
	if p.sequencer == nil {
		return 0
	}
	seq, err := p.sequencer.Current(ctx, sessionID)
	if err != nil {
		p.logger.Debug().Err(err).Str(xlog.FieldSessionID, sessionID).Msg("seq lookup failed")
		return 0
	}
	return seq
}
