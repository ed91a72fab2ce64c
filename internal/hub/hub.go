// Package hub is the broadcast dispatcher: a single goroutine that drains
// queued session envelopes and hands each one to every configured sink.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "playsession/internal/log"
	"playsession/internal/metrics"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// Config sizes the dispatcher queue and bounds each sink delivery.
// When Sequencer is set, the hub stamps each envelope's seq at dispatch
// time, so seq order always equals delivery order.
type Config struct {
	QueueSize      int
	DeliverTimeout time.Duration
	Sequencer      interfaces.Sequencer
}

// DefaultConfig returns a 1000-envelope queue with a 5s per-sink timeout.
func DefaultConfig() Config {
	return Config{QueueSize: 1000, DeliverTimeout: 5 * time.Second}
}

// Hub coordinates envelope delivery.
// ARCHITECTURAL DISCOVERY: producers never wait on sinks; Enqueue is a
// non-blocking channel send and delivery happens on the hub goroutine.
type Hub struct {
	events         chan *types.BroadcastEvent
	sinks          []interfaces.BroadcastSink
	sequencer      interfaces.Sequencer
	deliverTimeout time.Duration

	shutdownChannel chan struct{}
	done            chan struct{}
	running         bool
	mu              sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a dispatcher delivering to sinks in order.
func NewHub(cfg Config, sinks ...interfaces.BroadcastSink) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = DefaultConfig().DeliverTimeout
	}
	return &Hub{
		events:         make(chan *types.BroadcastEvent, cfg.QueueSize),
		sinks:          sinks,
		sequencer:      cfg.Sequencer,
		deliverTimeout: cfg.DeliverTimeout,
		logger:         xlog.WithComponent("hub"),
	}
}

// Start launches the dispatch goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info().Int("sinks", len(h.sinks)).Msg("starting broadcast hub")
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop signals the dispatch goroutine and waits for it to drain the queue.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info().Msg("broadcast hub stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Enqueue queues an envelope for delivery without blocking.
func (h *Hub) Enqueue(event *types.BroadcastEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.events <- event:
		return nil
	default:
		return ErrEventChannelFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case event := <-h.events:
			h.deliver(ctx, event)

		case <-shutdown:
			h.drain(ctx)
			return

		case <-ctx.Done():
			h.logger.Info().Msg("hub context cancelled")
			h.drain(context.Background())
			return
		}
	}
}

// drain delivers whatever was queued before shutdown.
func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case event := <-h.events:
			h.deliver(ctx, event)
		default:
			return
		}
	}
}

// deliver hands event to every sink. Sink failures are logged and counted;
// one failing sink never blocks the others.
func (h *Hub) deliver(ctx context.Context, event *types.BroadcastEvent) {
	if h.sequencer != nil {
		seqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.deliverTimeout)
		seq, err := h.sequencer.Next(seqCtx, event.SessionID)
		cancel()
		if err != nil {
			metrics.IncBroadcastDropped("sequence_unavailable")
			h.logger.Warn().Err(err).
				Str(xlog.FieldSessionID, event.SessionID).
				Str(xlog.FieldEvent, event.Type).
				Msg("dropping broadcast without seq")
			return
		}
		event.Seq = seq
	}

	for _, sink := range h.sinks {
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.deliverTimeout)
		err := sink.Deliver(deliverCtx, event)
		cancel()
		if err != nil {
			metrics.IncSinkFailure(sink.Name())
			h.logger.Warn().
				Err(err).
				Str(xlog.FieldSink, sink.Name()).
				Str(xlog.FieldSessionID, event.SessionID).
				Uint64(xlog.FieldSeq, event.Seq).
				Str(xlog.FieldEvent, event.Type).
				Msg("broadcast delivery failed")
		}
	}
}
