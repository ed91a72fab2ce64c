package session

import (
	"context"
	"errors"
	"time"

	xlog "playsession/internal/log"
	"playsession/internal/metrics"
	"playsession/internal/trigger"
	"playsession/internal/visibility"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// Trigger fire results reported per trigger.
const (
	FireResultFired    = "fired"
	FireResultReplayed = "replayed"
	FireResultSkipped  = "skipped"
	FireResultFailed   = "failed"
)

// ListTriggers returns every configured trigger merged with its runtime state.
func (c *Controller) ListTriggers(ctx context.Context, viewer types.Viewer, sessionID string) ([]trigger.State, error) {
	s, err := c.loadForHost(ctx, viewer, sessionID, false)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, storeErr("load game", err)
	}
	runtimes, err := c.store.ListTriggerRuntime(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list trigger state", err)
	}
	return trigger.Merge(sessionID, g.Triggers, runtimes), nil
}

// TriggerResult is the outcome of a host trigger command.
type TriggerResult struct {
	Trigger         trigger.State `json:"trigger"`
	Action          string        `json:"action"`
	Replayed        bool          `json:"noop,omitempty"`
	OriginalFiredAt *time.Time    `json:"original_fired_at,omitempty"`
}

// UpdateTrigger is the host override tier: fire always fires, whatever the
// trigger's eligibility, and applies the trigger's actions. A repeated
// idempotency key replays the first fire instead.
func (c *Controller) UpdateTrigger(ctx context.Context, viewer types.Viewer, sessionID, triggerID, action, idempotencyKey string) (*TriggerResult, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("update_trigger", err)
	}
	switch action {
	case types.TriggerActionFire, types.TriggerActionDisable, types.TriggerActionArm:
	default:
		return nil, done("update_trigger", invalid("action", ErrUnknownAction))
	}
	key, err := trigger.NormalizeKey(idempotencyKey)
	if err != nil {
		return nil, done("update_trigger", invalid("idempotency_key", err))
	}

	s, err := c.loadForHost(ctx, viewer, sessionID, true)
	if err != nil {
		return nil, done("update_trigger", storeErr("load session", err))
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, done("update_trigger", storeErr("load game", err))
	}
	t, ok := g.FindTrigger(triggerID)
	if !ok {
		return nil, done("update_trigger", invalid("triggerId", ErrUnknownTrigger))
	}

	res, err := c.store.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{
		SessionID:      sessionID,
		TriggerID:      triggerID,
		Action:         action,
		IdempotencyKey: key,
		At:             c.now(),
	})
	if err != nil {
		return nil, done("update_trigger", storeErr("update trigger", err))
	}

	state := trigger.Merge(sessionID, []types.Trigger{*t}, []types.TriggerRuntime{res.Runtime})[0]
	result := &TriggerResult{
		Trigger:         state,
		Action:          action,
		Replayed:        res.Replayed,
		OriginalFiredAt: res.OriginalFiredAt,
	}

	if action == types.TriggerActionFire {
		if res.Replayed {
			metrics.RecordTriggerFire(metrics.TierHost, FireResultReplayed)
			return result, done("update_trigger", nil)
		}
		metrics.RecordTriggerFire(metrics.TierHost, FireResultFired)
	}

	c.recordBy(ctx, viewer, sessionID, "trigger_"+action, map[string]any{"trigger_id": triggerID, "fired_count": res.Runtime.FiredCount})
	c.publishTrigger(ctx, sessionID, *t, res.Runtime, action)
	if action == types.TriggerActionFire {
		c.applyActions(ctx, s, g, *t)
	}
	return result, done("update_trigger", nil)
}

// FireReport describes what automatic evaluation did with one matching trigger.
type FireReport struct {
	TriggerID string `json:"trigger_id"`
	Result    string `json:"result"`
	Reason    string `json:"reason,omitempty"`
}

// RecordEvent reports a runtime event from game logic and runs automatic
// trigger evaluation for it.
func (c *Controller) RecordEvent(ctx context.Context, viewer types.Viewer, sessionID string, event types.RuntimeEvent) ([]FireReport, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("record_event", err)
	}
	if !trigger.IsConditionType(event.Type) {
		return nil, done("record_event", invalid("type", ErrInvalidEvent))
	}
	s, err := c.loadForHost(ctx, viewer, sessionID, true)
	if err != nil {
		return nil, done("record_event", storeErr("load session", err))
	}
	c.recordBy(ctx, viewer, sessionID, "runtime_event", map[string]any{"type": event.Type})
	return c.evaluate(ctx, s, event), done("record_event", nil)
}

// evaluate is the automatic tier. Each eligible match is fired through the
// store guard, which re-checks eligibility inside the write transaction, so
// concurrent evaluations cannot fire an execute-once trigger twice. Actions
// applied here never feed back into evaluation.
func (c *Controller) evaluate(ctx context.Context, s *types.Session, event types.RuntimeEvent) []FireReport {
	reports := []FireReport{}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		c.logFor(ctx, s.ID).Warn().Err(err).Str(xlog.FieldEvent, event.Type).Msg("trigger evaluation skipped: game unavailable")
		return reports
	}
	if len(g.Triggers) == 0 {
		return reports
	}
	runtimes, err := c.store.ListTriggerRuntime(ctx, s.ID)
	if err != nil {
		c.logFor(ctx, s.ID).Warn().Err(err).Str(xlog.FieldEvent, event.Type).Msg("trigger evaluation skipped: runtime state unavailable")
		return reports
	}

	for _, v := range trigger.Evaluate(s.ID, g.Triggers, runtimes, event) {
		if !v.Eligibility.Eligible {
			metrics.RecordTriggerFire(metrics.TierAutomatic, FireResultSkipped)
			reports = append(reports, FireReport{TriggerID: v.Trigger.ID, Result: FireResultSkipped, Reason: v.Eligibility.Reason})
			continue
		}

		res, err := c.store.ApplyTriggerMutation(ctx, interfaces.TriggerMutation{
			SessionID: s.ID,
			TriggerID: v.Trigger.ID,
			Action:    types.TriggerActionFire,
			At:        c.now(),
			Guard:     trigger.Guard(v.Trigger),
		})
		if err != nil {
			var ineligible *trigger.IneligibleError
			if errors.As(err, &ineligible) {
				metrics.RecordTriggerFire(metrics.TierAutomatic, FireResultSkipped)
				reports = append(reports, FireReport{TriggerID: v.Trigger.ID, Result: FireResultSkipped, Reason: ineligible.Reason})
				continue
			}
			metrics.RecordTriggerFire(metrics.TierAutomatic, FireResultFailed)
			c.logFor(ctx, s.ID).Error().Err(err).Str(xlog.FieldTriggerID, v.Trigger.ID).Msg("automatic trigger fire failed")
			reports = append(reports, FireReport{TriggerID: v.Trigger.ID, Result: FireResultFailed})
			continue
		}

		metrics.RecordTriggerFire(metrics.TierAutomatic, FireResultFired)
		reports = append(reports, FireReport{TriggerID: v.Trigger.ID, Result: FireResultFired})
		c.record(ctx, s.ID, "trigger_fired", types.ActorSystem, "", map[string]any{
			"trigger_id": v.Trigger.ID,
			"event":      event.Type,
		})
		c.publishTrigger(ctx, s.ID, v.Trigger, res.Runtime, types.TriggerActionFire)
		c.applyActions(ctx, s, g, v.Trigger)
	}
	return reports
}

// onStepChanged evaluates step_completed for the step left and step_started
// for the step entered, resolved by position after sorting.
func (c *Controller) onStepChanged(ctx context.Context, s *types.Session, previous int) {
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return
	}
	order := func(st types.Step) int { return st.Order }
	if prev, ok := visibility.ResolveCurrent(g.Steps, order, previous); ok {
		c.evaluate(ctx, s, types.RuntimeEvent{Type: types.EventStepCompleted, StepID: prev.ID})
	}
	if next, ok := visibility.ResolveCurrent(g.Steps, order, s.CurrentStepIndex); ok {
		c.evaluate(ctx, s, types.RuntimeEvent{Type: types.EventStepStarted, StepID: next.ID})
	}
}

func (c *Controller) onPhaseChanged(ctx context.Context, s *types.Session, previous int) {
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return
	}
	order := func(p types.Phase) int { return p.Order }
	if prev, ok := visibility.ResolveCurrent(g.Phases, order, previous); ok {
		c.evaluate(ctx, s, types.RuntimeEvent{Type: types.EventPhaseCompleted, PhaseID: prev.ID})
	}
	if next, ok := visibility.ResolveCurrent(g.Phases, order, s.CurrentPhaseIndex); ok {
		c.evaluate(ctx, s, types.RuntimeEvent{Type: types.EventPhaseStarted, PhaseID: next.ID})
	}
}

// applyActions runs a fired trigger's effects as the system actor. Failures
// are logged per action; a trigger fire is never rolled back.
func (c *Controller) applyActions(ctx context.Context, s *types.Session, g *types.Game, t types.Trigger) {
	logger := c.logFor(ctx, s.ID)
	for _, a := range t.Actions {
		var err error
		switch a.Type {
		case types.ActionSendMessage:
			msg := a.Message
			err = c.systemUpdate(ctx, s.ID, func(s *types.Session) error {
				applyBoard(s, &msg, nil)
				return nil
			}, func(updated *types.Session) {
				c.publish(ctx, s.ID, types.BroadcastBoardUpdate, map[string]any{"board_state": updated.BoardState, "trigger_id": t.ID})
			})
		case types.ActionStartTimer:
			err = c.systemUpdate(ctx, s.ID, func(s *types.Session) error {
				s.TimerState = &types.TimerState{StartedAt: c.now(), DurationSeconds: a.DurationSeconds}
				return nil
			}, func(updated *types.Session) {
				c.publishTimer(ctx, updated, "start")
			})
		case types.ActionAdvanceStep:
			err = c.systemUpdate(ctx, s.ID, func(s *types.Session) error {
				if len(g.Steps) > 0 && s.CurrentStepIndex+1 >= len(g.Steps) {
					return errUnchanged
				}
				s.CurrentStepIndex++
				return nil
			}, func(updated *types.Session) {
				c.publishPosition(ctx, updated)
			})
		case types.ActionAdvancePhase:
			err = c.systemUpdate(ctx, s.ID, func(s *types.Session) error {
				if len(g.Phases) > 0 && s.CurrentPhaseIndex+1 >= len(g.Phases) {
					return errUnchanged
				}
				s.CurrentPhaseIndex++
				return nil
			}, func(updated *types.Session) {
				c.publishPosition(ctx, updated)
			})
		case types.ActionRevealArtifact:
			if _, ok := g.FindVariant(a.VariantID); !ok {
				err = ErrUnknownVariant
				break
			}
			_, err = c.store.UpdateArtifactState(ctx, s.ID, a.VariantID, func(st *types.ArtifactState) error {
				if st.RevealedAt == nil {
					now := c.now()
					st.RevealedAt = &now
				}
				return nil
			})
			if err == nil {
				c.publish(ctx, s.ID, types.BroadcastArtifactUpdate, map[string]any{"variant_id": a.VariantID, "action": ArtifactReveal, "trigger_id": t.ID})
			}
		case types.ActionShowCountdown:
			c.publish(ctx, s.ID, types.BroadcastCountdown, map[string]any{
				"duration_seconds": a.DurationSeconds,
				"message":          a.Message,
				"trigger_id":       t.ID,
			})
		default:
			err = ErrUnknownAction
		}
		if err != nil {
			logger.Warn().Err(err).Str(xlog.FieldTriggerID, t.ID).Str("action", a.Type).Msg("trigger action failed")
		}
	}
}

// systemUpdate writes the session as the system actor. It skips terminal
// sessions and calls after only when the row changed.
func (c *Controller) systemUpdate(ctx context.Context, sessionID string, fn func(*types.Session) error, after func(*types.Session)) error {
	updated, err := c.store.UpdateSession(ctx, sessionID, func(s *types.Session) error {
		if s.IsTerminal() {
			return notMutable(s.Status)
		}
		return fn(s)
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	after(updated)
	return nil
}

func (c *Controller) publishTrigger(ctx context.Context, sessionID string, t types.Trigger, rt types.TriggerRuntime, action string) {
	payload := map[string]any{
		"trigger_id":  t.ID,
		"action":      action,
		"status":      rt.Status,
		"fired_count": rt.FiredCount,
		"fired_at":    rt.FiredAt,
	}
	if action == types.TriggerActionFire && t.DelaySeconds > 0 {
		payload["delay_seconds"] = t.DelaySeconds
	}
	c.publish(ctx, sessionID, types.BroadcastTriggerUpdate, payload)
}
