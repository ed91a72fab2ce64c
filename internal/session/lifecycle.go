package session

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"playsession/internal/auth"
	xlog "playsession/internal/log"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

const (
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength       = 6
	maxCodeAttempts  = 5
	defaultEventPage = 100
	maxEventPage     = 500
)

// statusTransitions lists the statuses reachable from each status.
var statusTransitions = map[string][]string{
	types.StatusDraft:     {types.StatusActive, types.StatusCancelled},
	types.StatusActive:    {types.StatusPaused, types.StatusLocked, types.StatusEnded, types.StatusCancelled},
	types.StatusPaused:    {types.StatusActive, types.StatusLocked, types.StatusEnded, types.StatusCancelled},
	types.StatusLocked:    {types.StatusActive, types.StatusPaused, types.StatusEnded, types.StatusCancelled},
	types.StatusEnded:     {types.StatusArchived},
	types.StatusCancelled: {types.StatusArchived},
	types.StatusArchived:  {},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Create starts a new active session of gameID hosted by viewer.
func (c *Controller) Create(ctx context.Context, viewer types.Viewer, gameID string) (*types.Session, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("create", err)
	}
	if _, err := c.game(ctx, gameID); err != nil {
		return nil, done("create", storeErr("load game", err))
	}

	now := c.now()
	session := &types.Session{
		ID:         uuid.New().String(),
		GameID:     gameID,
		HostUserID: viewer.UserID,
		Status:     types.StatusActive,
		BoardState: types.BoardState{Overrides: map[string]bool{}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if session.Code, err = newSessionCode(); err != nil {
			return nil, done("create", err)
		}
		err = c.store.CreateSession(ctx, session)
		if !errors.Is(err, interfaces.ErrDuplicate) {
			break
		}
	}
	if errors.Is(err, interfaces.ErrDuplicate) {
		return nil, done("create", ErrCodeExhausted)
	}
	if err != nil {
		return nil, done("create", storeErr("create session", err))
	}

	c.recordBy(ctx, viewer, session.ID, "session_created", map[string]any{"game_id": gameID, "code": session.Code})
	c.logFor(ctx, session.ID).Info().Str(xlog.FieldUserID, viewer.UserID).Str("code", session.Code).Msg("session created")
	return session, done("create", nil)
}

// JoinResult is a new participant and the token identifying them.
type JoinResult struct {
	Participant types.Participant `json:"participant"`
	Token       string            `json:"token"`
	SessionID   string            `json:"session_id"`
}

// Join adds a participant to the session with the given code.
func (c *Controller) Join(ctx context.Context, code, displayName string) (*JoinResult, error) {
	code = types.NormalizeSessionCode(code)
	if !types.IsValidSessionCode(code) {
		return nil, done("join", invalid("code", types.ErrInvalidSessionCode))
	}
	if !types.IsValidDisplayName(displayName) {
		return nil, done("join", invalid("display_name", types.ErrInvalidDisplayName))
	}

	s, err := c.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, done("join", storeErr("find session", err))
	}
	if s.IsTerminal() {
		return nil, done("join", notMutable(s.Status))
	}

	token, err := auth.NewParticipantToken()
	if err != nil {
		return nil, done("join", err)
	}
	now := c.now()
	p := types.Participant{
		ID:             uuid.New().String(),
		SessionID:      s.ID,
		DisplayName:    strings.TrimSpace(displayName),
		Token:          token,
		TokenExpiresAt: now.Add(c.tokenTTL),
		JoinedAt:       now,
	}
	if err := c.store.CreateParticipant(ctx, &p); err != nil {
		return nil, done("join", storeErr("create participant", err))
	}

	count, err := c.store.CountParticipants(ctx, s.ID)
	if err != nil {
		c.logFor(ctx, s.ID).Warn().Err(err).Msg("failed to count participants")
	}
	c.record(ctx, s.ID, "participant_joined", types.ActorParticipant, p.ID, map[string]any{"display_name": p.DisplayName})
	c.publish(ctx, s.ID, types.BroadcastParticipants, map[string]any{
		"action":            "joined",
		"participant_id":    p.ID,
		"participant_count": count,
	})
	return &JoinResult{Participant: p, Token: token, SessionID: s.ID}, done("join", nil)
}

// Detail is the host view of a session.
type Detail struct {
	Session      *types.Session      `json:"session"`
	GameName     string              `json:"game_name"`
	Participants []types.Participant `json:"participants"`
	StepCount    int                 `json:"step_count"`
	PhaseCount   int                 `json:"phase_count"`
}

// Get returns the host view of a session.
func (c *Controller) Get(ctx context.Context, viewer types.Viewer, sessionID string) (*Detail, error) {
	s, err := c.loadForHost(ctx, viewer, sessionID, false)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, storeErr("load game", err)
	}
	participants, err := c.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list participants", err)
	}
	if participants == nil {
		participants = []types.Participant{}
	}
	return &Detail{
		Session:      s,
		GameName:     g.Name,
		Participants: participants,
		StepCount:    len(g.Steps),
		PhaseCount:   len(g.Phases),
	}, nil
}

// SetStatus moves the session through its lifecycle. Ended and cancelled
// sessions may still be archived.
func (c *Controller) SetStatus(ctx context.Context, viewer types.Viewer, sessionID, status string) (*types.Session, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("set_status", err)
	}
	if !types.IsValidSessionStatus(status) {
		return nil, done("set_status", invalid("status", types.ErrInvalidSessionStatus))
	}

	var previous string
	s, changed, err := c.mutate(ctx, viewer, sessionID, true, func(s *types.Session) error {
		previous = s.Status
		if s.Status == status {
			return errUnchanged
		}
		if !CanTransition(s.Status, status) {
			return &ConflictError{
				Code:    ConflictInvalidTransition,
				Message: "cannot move session from " + s.Status + " to " + status,
				Details: map[string]any{"from": s.Status, "to": status},
			}
		}
		now := c.now()
		s.Status = status
		switch status {
		case types.StatusPaused:
			s.PausedAt = &now
		case types.StatusActive:
			s.PausedAt = nil
		case types.StatusEnded, types.StatusCancelled:
			s.EndedAt = &now
		case types.StatusArchived:
			s.ArchivedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, done("set_status", storeErr("update status", err))
	}
	if changed {
		c.recordBy(ctx, viewer, sessionID, "status_changed", map[string]any{"from": previous, "to": status})
		c.publish(ctx, sessionID, types.BroadcastStatusChange, map[string]any{
			"status":          s.Status,
			"previous_status": previous,
		})
		c.logFor(ctx, sessionID).Info().Str(xlog.FieldOldState, previous).Str(xlog.FieldNewState, status).Msg("session status changed")
	}
	return s, done("set_status", nil)
}

// ListEvents returns the newest audit log entries first.
func (c *Controller) ListEvents(ctx context.Context, viewer types.Viewer, sessionID string, limit int) ([]types.SessionEvent, error) {
	if _, err := c.loadForHost(ctx, viewer, sessionID, false); err != nil {
		return nil, storeErr("load session", err)
	}
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}
	events, err := c.store.ListEvents(ctx, sessionID, limit)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	if events == nil {
		events = []types.SessionEvent{}
	}
	return events, nil
}

func newSessionCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
