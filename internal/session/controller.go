// Package session implements the play session aggregate: the only component
// allowed to change session runtime state. HTTP handlers call it with the
// resolved viewer and render whatever it returns.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	xlog "playsession/internal/log"
	"playsession/internal/metrics"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// DefaultParticipantTokenTTL is how long a join token stays valid.
const DefaultParticipantTokenTTL = 24 * time.Hour

// DefaultGameCacheTTL bounds how long a cached game survives an import made
// on another instance.
const DefaultGameCacheTTL = time.Minute

// errUnchanged aborts a session write whose command turned out to be a no-op.
var errUnchanged = errors.New("unchanged")

// Controller is the session aggregate.
// ARCHITECTURAL DISCOVERY: no in-memory lock is held across store or broadcast
// calls. Every command is a single store transaction; the store serializes
// concurrent commands on the same row.
type Controller struct {
	store     interfaces.DatabaseManager
	publisher interfaces.Publisher
	now       func() time.Time
	tokenTTL  time.Duration
	attempts  *attemptLimiter
	logger    zerolog.Logger

	// Game configuration is read-only at runtime, so it is cached per id.
	games    map[string]cachedGame
	gamesMu  sync.RWMutex
	gamesTTL time.Duration
	loads    singleflight.Group
	boards   singleflight.Group
}

type cachedGame struct {
	game     *types.Game
	loadedAt time.Time
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithParticipantTokenTTL overrides the join token lifetime.
func WithParticipantTokenTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.tokenTTL = ttl
		}
	}
}

// WithKeypadAttempts caps wrong keypad codes per viewer and variant within
// window. A limit of zero disables the cap.
func WithKeypadAttempts(limit int, window time.Duration) Option {
	return func(c *Controller) {
		c.attempts.limit = limit
		if window > 0 {
			c.attempts.window = window
		}
	}
}

// WithGameCacheTTL sets how long a loaded game is reused before it is read
// again. Zero keeps games until this process imports a replacement.
func WithGameCacheTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl >= 0 {
			c.gamesTTL = ttl
		}
	}
}

// NewController creates the session aggregate over store and publisher.
func NewController(store interfaces.DatabaseManager, publisher interfaces.Publisher, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		tokenTTL:  DefaultParticipantTokenTTL,
		logger:    xlog.WithComponent("session"),
		games:     make(map[string]cachedGame),
		gamesTTL:  DefaultGameCacheTTL,
	}
	c.attempts = newAttemptLimiter(DefaultKeypadAttempts, DefaultKeypadWindow, func() time.Time { return c.now() })
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// authorizeHost allows the session's host and admins.
func authorizeHost(viewer types.Viewer, session *types.Session) error {
	switch {
	case !viewer.IsAuthenticated():
		return ErrUnauthenticated
	case viewer.Kind != types.ViewerHost:
		return ErrForbidden
	case viewer.IsAdmin || viewer.UserID == session.HostUserID:
		return nil
	default:
		return ErrForbidden
	}
}

// requireHostViewer rejects viewers that can never pass authorizeHost, before
// any store access.
func requireHostViewer(viewer types.Viewer) error {
	if !viewer.IsAuthenticated() {
		return ErrUnauthenticated
	}
	if viewer.Kind != types.ViewerHost {
		return ErrForbidden
	}
	return nil
}

// authorizeMember allows the host and participants of this session.
func authorizeMember(viewer types.Viewer, session *types.Session) error {
	if viewer.Kind == types.ViewerParticipant {
		if viewer.SessionID != session.ID {
			return ErrForbidden
		}
		return nil
	}
	return authorizeHost(viewer, session)
}

// mutateSession runs fn against the session row inside one write transaction
// after authorizing the host and rejecting terminal sessions. changed is false
// when fn reported errUnchanged.
func (c *Controller) mutateSession(ctx context.Context, viewer types.Viewer, sessionID string, fn func(*types.Session) error) (*types.Session, bool, error) {
	return c.mutate(ctx, viewer, sessionID, false, fn)
}

func (c *Controller) mutate(ctx context.Context, viewer types.Viewer, sessionID string, allowTerminal bool, fn func(*types.Session) error) (*types.Session, bool, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, false, err
	}

	var current *types.Session
	updated, err := c.store.UpdateSession(ctx, sessionID, func(s *types.Session) error {
		if err := authorizeHost(viewer, s); err != nil {
			return err
		}
		if s.IsTerminal() && !allowTerminal {
			return notMutable(s.Status)
		}
		current = s
		return fn(s)
	})
	if errors.Is(err, errUnchanged) {
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// loadForHost reads the session and authorizes a host command that writes
// rows other than the session itself.
func (c *Controller) loadForHost(ctx context.Context, viewer types.Viewer, sessionID string, mutating bool) (*types.Session, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, err
	}
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(viewer, s); err != nil {
		return nil, err
	}
	if mutating && s.IsTerminal() {
		return nil, notMutable(s.Status)
	}
	return s, nil
}

// loadForMember reads the session for its host or one of its participants.
func (c *Controller) loadForMember(ctx context.Context, viewer types.Viewer, sessionID string) (*types.Session, error) {
	if !viewer.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeMember(viewer, s); err != nil {
		return nil, err
	}
	return s, nil
}

// AuthorizeViewer checks that viewer may subscribe to or read the session.
func (c *Controller) AuthorizeViewer(ctx context.Context, viewer types.Viewer, sessionID string) (*types.Session, error) {
	return c.loadForMember(ctx, viewer, sessionID)
}

// game returns the cached game configuration, loading it once per id.
// Imports on this instance evict immediately; imports elsewhere are picked
// up once the entry is older than the cache TTL.
func (c *Controller) game(ctx context.Context, gameID string) (*types.Game, error) {
	c.gamesMu.RLock()
	cached, ok := c.games[gameID]
	c.gamesMu.RUnlock()
	if ok && (c.gamesTTL == 0 || c.now().Sub(cached.loadedAt) < c.gamesTTL) {
		return cached.game, nil
	}

	// Shared loads outlive any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.loads.Do(gameID, func() (interface{}, error) {
		loaded, err := c.store.GetGame(loadCtx, gameID)
		if err != nil {
			return nil, err
		}
		c.gamesMu.Lock()
		c.games[gameID] = cachedGame{game: loaded, loadedAt: c.now()}
		c.gamesMu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Game), nil
}

func (c *Controller) forgetGame(gameID string) {
	c.gamesMu.Lock()
	delete(c.games, gameID)
	c.gamesMu.Unlock()
}

// record appends to the audit log. Failures are logged and never fail the command.
func (c *Controller) record(ctx context.Context, sessionID, eventType, actorType, actorID string, payload map[string]any) {
	event := &types.SessionEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		EventType: eventType,
		ActorType: actorType,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: c.now(),
	}
	if err := c.store.AppendEvent(ctx, event); err != nil {
		metrics.IncAuditFailure()
		l := xlog.WithContext(ctx, c.logger)
		l.Warn().Err(err).
			Str(xlog.FieldSessionID, sessionID).
			Str(xlog.FieldEvent, eventType).
			Msg("failed to append session event")
	}
}

// recordBy appends an audit entry attributed to viewer.
func (c *Controller) recordBy(ctx context.Context, viewer types.Viewer, sessionID, eventType string, payload map[string]any) {
	c.record(ctx, sessionID, eventType, viewer.ActorType(), viewer.ActorID(), payload)
}

func (c *Controller) publish(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(ctx, sessionID, eventType, payload)
}

// done records the command metric and passes err through.
func done(operation string, err error) error {
	metrics.RecordCommand(operation, err)
	return err
}

func (c *Controller) logFor(ctx context.Context, sessionID string) *zerolog.Logger {
	l := xlog.WithContext(ctx, c.logger).With().Str(xlog.FieldSessionID, sessionID).Logger()
	return &l
}

func storeErr(action string, err error) error {
	var (
		conflict   *ConflictError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &conflict), errors.As(err, &validation),
		errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return err
	default:
		return fmt.Errorf("failed to %s: %w", action, err)
	}
}
