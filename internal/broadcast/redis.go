package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xlog "playsession/internal/log"
	"playsession/internal/metrics"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// channelPattern matches every session channel.
const channelPattern = "play:*"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrRedisAddrRequired
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// RedisSink publishes envelopes to the session's Redis channel so every
// instance's bridge can deliver them locally.
type RedisSink struct {
	client redis.UniversalClient
}

// NewRedisSink creates a sink publishing through client.
func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, event *types.BroadcastEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := s.client.Publish(ctx, types.ChannelName(event.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", types.ChannelName(event.SessionID), err)
	}
	return nil
}

// RedisBridge subscribes to every session channel and hands received
// envelopes to a local sink.
type RedisBridge struct {
	client redis.UniversalClient
	target interfaces.BroadcastSink
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewRedisBridge creates a bridge delivering into target.
func NewRedisBridge(client redis.UniversalClient, target interfaces.BroadcastSink) *RedisBridge {
	return &RedisBridge{client: client, target: target, logger: xlog.WithComponent("redis_bridge")}
}

// Run subscribes and delivers until ctx is cancelled. ready, when non-nil,
// is closed once the subscription is confirmed.
func (b *RedisBridge) Run(ctx context.Context, ready chan<- struct{}) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBridgeRunning
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	pubsub := b.client.PSubscribe(ctx, channelPattern)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channelPattern, err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.Info().Str("pattern", channelPattern).Msg("redis bridge subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *RedisBridge) handle(ctx context.Context, msg *redis.Message) {
	event, err := decodeEnvelope(msg.Channel, msg.Payload)
	if err != nil {
		metrics.IncBroadcastDropped("bad_envelope")
		b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("ignoring malformed envelope")
		return
	}
	if err := b.target.Deliver(ctx, event); err != nil {
		metrics.IncSinkFailure(b.target.Name())
		b.logger.Warn().Err(err).Str(xlog.FieldSessionID, event.SessionID).Msg("bridge delivery failed")
	}
}

func decodeEnvelope(channel, payload string) (*types.BroadcastEvent, error) {
	sessionID, ok := strings.CutPrefix(channel, "play:")
	if !ok || sessionID == "" || strings.Contains(sessionID, ":") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	var event types.BroadcastEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if event.SessionID != sessionID {
		return nil, fmt.Errorf("%w: envelope for %s on %s", ErrInvalidChannel, event.SessionID, channel)
	}
	return &event, nil
}
