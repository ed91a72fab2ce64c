package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LocalSequencer keeps per-session counters in process memory. Counters
// idle for longer than ttl are dropped, matching RedisSequencer's key expiry.
type LocalSequencer struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	seqs      map[string]*localCounter
	lastSweep time.Time
}

type localCounter struct {
	seq      uint64
	lastUsed time.Time
}

// NewLocalSequencer creates an empty in-memory sequencer. A zero ttl keeps
// counters for the life of the process.
func NewLocalSequencer(ttl time.Duration) *LocalSequencer {
	return &LocalSequencer{ttl: ttl, now: time.Now, seqs: make(map[string]*localCounter)}
}

func (s *LocalSequencer) Next(_ context.Context, sessionID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)
	c := s.seqs[sessionID]
	if c == nil {
		c = &localCounter{}
		s.seqs[sessionID] = c
	}
	c.seq++
	c.lastUsed = now
	return c.seq, nil
}

func (s *LocalSequencer) Current(_ context.Context, sessionID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.seqs[sessionID]
	if c == nil || s.expired(c, s.now()) {
		return 0, nil
	}
	return c.seq, nil
}

func (s *LocalSequencer) expired(c *localCounter, now time.Time) bool {
	return s.ttl > 0 && now.Sub(c.lastUsed) >= s.ttl
}

// sweepLocked drops idle counters at most once per ttl.
func (s *LocalSequencer) sweepLocked(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for id, c := range s.seqs {
		if s.expired(c, now) {
			delete(s.seqs, id)
		}
	}
}

// RedisSequencer shares per-session counters between instances with INCR.
type RedisSequencer struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSequencer creates a sequencer whose counters expire after ttl of
// inactivity. A zero ttl keeps counters forever.
func NewRedisSequencer(client redis.UniversalClient, ttl time.Duration) *RedisSequencer {
	return &RedisSequencer{client: client, ttl: ttl}
}

func seqKey(sessionID string) string {
	return "play:" + sessionID + ":seq"
}

func (s *RedisSequencer) Next(ctx context.Context, sessionID string) (uint64, error) {
	key := seqKey(sessionID)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment seq for %s: %w", sessionID, err)
	}
	return uint64(incr.Val()), nil
}

func (s *RedisSequencer) Current(ctx context.Context, sessionID string) (uint64, error) {
	val, err := s.client.Get(ctx, seqKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read seq for %s: %w", sessionID, err)
	}
	seq, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt seq for %s: %w", sessionID, err)
	}
	return seq, nil
}
