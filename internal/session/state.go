package session

import (
	"context"
	"math"

	"playsession/internal/visibility"
	"playsession/pkg/types"
)

// MaxTimerSeconds caps a single countdown at one day.
const MaxTimerSeconds = 24 * 60 * 60

// SetStep moves the session to the step at position stepIndex. The index is
// not bounded by the game's step count.
func (c *Controller) SetStep(ctx context.Context, viewer types.Viewer, sessionID string, stepIndex int) (*types.Session, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("set_step", err)
	}
	if stepIndex < 0 {
		return nil, done("set_step", invalid("step_index", ErrInvalidIndex))
	}

	var previous int
	s, changed, err := c.mutateSession(ctx, viewer, sessionID, func(s *types.Session) error {
		previous = s.CurrentStepIndex
		if previous == stepIndex {
			return errUnchanged
		}
		s.CurrentStepIndex = stepIndex
		return nil
	})
	if err != nil {
		return nil, done("set_step", storeErr("update step", err))
	}
	if changed {
		c.recordBy(ctx, viewer, sessionID, "step_changed", map[string]any{"from": previous, "to": stepIndex})
		c.publishPosition(ctx, s)
		c.onStepChanged(ctx, s, previous)
	}
	return s, done("set_step", nil)
}

// SetPhase moves the session to the phase at position phaseIndex.
func (c *Controller) SetPhase(ctx context.Context, viewer types.Viewer, sessionID string, phaseIndex int) (*types.Session, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("set_phase", err)
	}
	if phaseIndex < 0 {
		return nil, done("set_phase", invalid("phase_index", ErrInvalidIndex))
	}

	var previous int
	s, changed, err := c.mutateSession(ctx, viewer, sessionID, func(s *types.Session) error {
		previous = s.CurrentPhaseIndex
		if previous == phaseIndex {
			return errUnchanged
		}
		s.CurrentPhaseIndex = phaseIndex
		return nil
	})
	if err != nil {
		return nil, done("set_phase", storeErr("update phase", err))
	}
	if changed {
		c.recordBy(ctx, viewer, sessionID, "phase_changed", map[string]any{"from": previous, "to": phaseIndex})
		c.publishPosition(ctx, s)
		c.onPhaseChanged(ctx, s, previous)
	}
	return s, done("set_phase", nil)
}

// TimerStart replaces any timer with a fresh running countdown.
func (c *Controller) TimerStart(ctx context.Context, viewer types.Viewer, sessionID string, durationSeconds int) (*types.Session, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("timer_start", err)
	}
	if durationSeconds <= 0 || durationSeconds > MaxTimerSeconds {
		return nil, done("timer_start", invalid("duration_seconds", ErrInvalidDuration))
	}
	s, _, err := c.mutateSession(ctx, viewer, sessionID, func(s *types.Session) error {
		s.TimerState = &types.TimerState{StartedAt: c.now(), DurationSeconds: durationSeconds}
		return nil
	})
	if err != nil {
		return nil, done("timer_start", storeErr("start timer", err))
	}
	c.recordBy(ctx, viewer, sessionID, "timer_started", map[string]any{"duration_seconds": durationSeconds})
	c.publishTimer(ctx, s, "start")
	return s, done("timer_start", nil)
}

// TimerPause freezes a running timer. Pausing a paused timer changes nothing.
func (c *Controller) TimerPause(ctx context.Context, viewer types.Viewer, sessionID string) (*types.Session, error) {
	s, changed, err := c.mutateSession(ctx, viewer, sessionID, func(s *types.Session) error {
		if s.TimerState == nil {
			return invalid("timer_state", ErrNoActiveTimer)
		}
		if s.TimerState.IsPaused() {
			return errUnchanged
		}
		now := c.now()
		s.TimerState.PausedAt = &now
		return nil
	})
	if err != nil {
		return nil, done("timer_pause", storeErr("pause timer", err))
	}
	if changed {
		c.recordBy(ctx, viewer, sessionID, "timer_paused", nil)
		c.publishTimer(ctx, s, "pause")
	}
	return s, done("timer_pause", nil)
}

// TimerResume continues a paused timer, shifting its start forward by the
// paused span so the remaining time is preserved.
func (c *Controller) TimerResume(ctx context.Context, viewer types.Viewer, sessionID string) (*types.Session, error) {
	s, changed, err := c.mutateSession(ctx, viewer, sessionID, func(s *types.Session) error {
		if s.TimerState == nil {
			return invalid("timer_state", ErrNoActiveTimer)
		}
		if !s.TimerState.IsPaused() {
			return errUnchanged
		}
		pausedFor := c.now().Sub(*s.TimerState.PausedAt)
		if pausedFor > 0 {
			s.TimerState.StartedAt = s.TimerState.StartedAt.Add(pausedFor)
		}
		s.TimerState.PausedAt = nil
		return nil
	})
	if err != nil {
		return nil, done("timer_resume", storeErr("resume timer", err))
	}
	if changed {
		c.recordBy(ctx, viewer, sessionID, "timer_resumed", nil)
		c.publishTimer(ctx, s, "resume")
	}
	return s, done("timer_resume", nil)
}

// TimerReset clears the timer. The board is left untouched.
func (c *Controller) TimerReset(ctx context.Context, viewer types.Viewer, sessionID string) (*types.Session, error) {
	s, changed, err := c.mutateSession(ctx, viewer, sessionID, func(s *types.Session) error {
		if s.TimerState == nil {
			return errUnchanged
		}
		s.TimerState = nil
		return nil
	})
	if err != nil {
		return nil, done("timer_reset", storeErr("reset timer", err))
	}
	if changed {
		c.recordBy(ctx, viewer, sessionID, "timer_reset", nil)
		c.publishTimer(ctx, s, "reset")
	}
	return s, done("timer_reset", nil)
}

// SetBoardMessage updates the board. A nil message or nil overrides keeps the
// current value; an empty message clears it.
func (c *Controller) SetBoardMessage(ctx context.Context, viewer types.Viewer, sessionID string, message *string, overrides map[string]bool) (*types.Session, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("set_board_message", err)
	}
	if message == nil && overrides == nil {
		return nil, done("set_board_message", invalid("message", ErrEmptyBoardUpdate))
	}
	next := types.BoardState{Message: message, Overrides: overrides}
	if err := next.Validate(); err != nil {
		return nil, done("set_board_message", invalid("message", err))
	}

	s, _, err := c.mutateSession(ctx, viewer, sessionID, func(s *types.Session) error {
		applyBoard(s, message, overrides)
		return nil
	})
	if err != nil {
		return nil, done("set_board_message", storeErr("update board", err))
	}
	c.recordBy(ctx, viewer, sessionID, "board_updated", map[string]any{"message_set": message != nil, "overrides_set": overrides != nil})
	c.publish(ctx, sessionID, types.BroadcastBoardUpdate, map[string]any{"board_state": s.BoardState})
	return s, done("set_board_message", nil)
}

func applyBoard(s *types.Session, message *string, overrides map[string]bool) {
	if message != nil {
		if *message == "" {
			s.BoardState.Message = nil
		} else {
			m := *message
			s.BoardState.Message = &m
		}
	}
	if overrides != nil {
		s.BoardState.Overrides = overrides
	}
	if s.BoardState.Overrides == nil {
		s.BoardState.Overrides = map[string]bool{}
	}
}

// TimerView is a timer with its remaining time computed at read time.
type TimerView struct {
	*types.TimerState
	RemainingSeconds int  `json:"remaining_seconds"`
	Expired          bool `json:"expired"`
}

// StateView is the public runtime snapshot of a session.
type StateView struct {
	SessionID         string           `json:"session_id"`
	Status            string           `json:"status"`
	CurrentStepIndex  int              `json:"current_step_index"`
	CurrentPhaseIndex int              `json:"current_phase_index"`
	CurrentStep       *types.Step      `json:"current_step,omitempty"`
	CurrentPhase      *types.Phase     `json:"current_phase,omitempty"`
	Timer             *TimerView       `json:"timer_state"`
	Board             types.BoardState `json:"board_state"`
	ParticipantCount  int              `json:"participant_count"`
	SecretsUnlocked   bool             `json:"secret_instructions_unlocked"`
}

// State returns the runtime snapshot readable by anyone holding the session id.
func (c *Controller) State(ctx context.Context, sessionID string) (*StateView, error) {
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	return c.stateView(ctx, s)
}

func (c *Controller) stateView(ctx context.Context, s *types.Session) (*StateView, error) {
	count, err := c.store.CountParticipants(ctx, s.ID)
	if err != nil {
		return nil, storeErr("count participants", err)
	}
	view := &StateView{
		SessionID:         s.ID,
		Status:            s.Status,
		CurrentStepIndex:  s.CurrentStepIndex,
		CurrentPhaseIndex: s.CurrentPhaseIndex,
		Timer:             c.timerView(s.TimerState),
		Board:             s.BoardState,
		ParticipantCount:  count,
		SecretsUnlocked:   s.SecretsUnlocked(),
	}
	if g, err := c.game(ctx, s.GameID); err == nil {
		if step, ok := visibility.ResolveCurrent(g.Steps, func(st types.Step) int { return st.Order }, s.CurrentStepIndex); ok {
			view.CurrentStep = &step
		}
		if phase, ok := visibility.ResolveCurrent(g.Phases, func(p types.Phase) int { return p.Order }, s.CurrentPhaseIndex); ok {
			view.CurrentPhase = &phase
		}
	} else {
		c.logFor(ctx, s.ID).Warn().Err(err).Msg("failed to load game for state view")
	}
	return view, nil
}

func (c *Controller) timerView(t *types.TimerState) *TimerView {
	if t == nil {
		return nil
	}
	now := c.now()
	return &TimerView{
		TimerState:       t,
		RemainingSeconds: int(math.Ceil(t.Remaining(now).Seconds())),
		Expired:          t.Expired(now),
	}
}

func (c *Controller) publishPosition(ctx context.Context, s *types.Session) {
	c.publish(ctx, s.ID, types.BroadcastStateChange, map[string]any{
		"current_step_index":  s.CurrentStepIndex,
		"current_phase_index": s.CurrentPhaseIndex,
	})
}

func (c *Controller) publishTimer(ctx context.Context, s *types.Session, action string) {
	c.publish(ctx, s.ID, types.BroadcastTimerUpdate, map[string]any{
		"action":      action,
		"timer_state": s.TimerState,
	})
}
