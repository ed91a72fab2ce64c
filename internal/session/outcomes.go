package session

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"playsession/internal/visibility"
	"playsession/pkg/types"
)

// Reveal actions shared by outcomes and decisions.
const (
	ActionUpdate = "update"
	ActionReveal = "reveal"
	ActionHide   = "hide"
)

// OutcomeInput is the host-authored content of an outcome.
type OutcomeInput struct {
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	OutcomeType string  `json:"outcome_type"`
	DecisionID  *string `json:"decision_id,omitempty"`
}

// OutcomeUpdate edits outcome text. Nil fields are left unchanged.
type OutcomeUpdate struct {
	Title       *string `json:"title,omitempty"`
	Body        *string `json:"body,omitempty"`
	OutcomeType *string `json:"outcome_type,omitempty"`
}

func position(s *types.Session) visibility.Position {
	return visibility.Position{StepIndex: s.CurrentStepIndex, PhaseIndex: s.CurrentPhaseIndex}
}

// ListOutcomes returns every outcome to the host and the revealed, unlocked
// ones to participants.
func (c *Controller) ListOutcomes(ctx context.Context, viewer types.Viewer, sessionID string) ([]types.Outcome, error) {
	s, err := c.loadForMember(ctx, viewer, sessionID)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	outcomes, err := c.store.ListOutcomes(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list outcomes", err)
	}
	scope := visibility.Scope{Privileged: viewer.Kind == types.ViewerHost}
	return visibility.FilterOutcomes(outcomes, scope, position(s)), nil
}

// CreateOutcome records an outcome tagged with the session's current position.
func (c *Controller) CreateOutcome(ctx context.Context, viewer types.Viewer, sessionID string, in OutcomeInput) (*types.Outcome, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("create_outcome", err)
	}
	now := c.now()
	o := &types.Outcome{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Title:       strings.TrimSpace(in.Title),
		Body:        in.Body,
		OutcomeType: in.OutcomeType,
		DecisionID:  in.DecisionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.Validate(); err != nil {
		return nil, done("create_outcome", invalid("outcome", err))
	}

	s, err := c.loadForHost(ctx, viewer, sessionID, true)
	if err != nil {
		return nil, done("create_outcome", storeErr("load session", err))
	}
	step, phase := s.CurrentStepIndex, s.CurrentPhaseIndex
	o.StepIndex, o.PhaseIndex = &step, &phase

	if err := c.store.CreateOutcome(ctx, o); err != nil {
		return nil, done("create_outcome", storeErr("create outcome", err))
	}
	c.recordBy(ctx, viewer, sessionID, "outcome_created", map[string]any{"outcome_id": o.ID})
	c.publish(ctx, sessionID, types.BroadcastOutcomeUpdate, map[string]any{"outcome_id": o.ID, "action": "create"})
	return o, done("create_outcome", nil)
}

// UpdateOutcome edits an outcome's text. Its position tag is never restamped.
func (c *Controller) UpdateOutcome(ctx context.Context, viewer types.Viewer, sessionID, outcomeID string, in OutcomeUpdate) (*types.Outcome, error) {
	return c.changeOutcome(ctx, viewer, sessionID, outcomeID, ActionUpdate, func(o *types.Outcome) error {
		if in.Title != nil {
			o.Title = strings.TrimSpace(*in.Title)
		}
		if in.Body != nil {
			o.Body = *in.Body
		}
		if in.OutcomeType != nil {
			o.OutcomeType = *in.OutcomeType
		}
		if err := o.Validate(); err != nil {
			return invalid("outcome", err)
		}
		return nil
	})
}

// RevealOutcome makes an outcome visible to participants once its position is reached.
func (c *Controller) RevealOutcome(ctx context.Context, viewer types.Viewer, sessionID, outcomeID string) (*types.Outcome, error) {
	return c.changeOutcome(ctx, viewer, sessionID, outcomeID, ActionReveal, func(o *types.Outcome) error {
		if o.RevealedAt == nil {
			now := c.now()
			o.RevealedAt = &now
		}
		return nil
	})
}

// HideOutcome withdraws a revealed outcome.
func (c *Controller) HideOutcome(ctx context.Context, viewer types.Viewer, sessionID, outcomeID string) (*types.Outcome, error) {
	return c.changeOutcome(ctx, viewer, sessionID, outcomeID, ActionHide, func(o *types.Outcome) error {
		o.RevealedAt = nil
		return nil
	})
}

func (c *Controller) changeOutcome(ctx context.Context, viewer types.Viewer, sessionID, outcomeID, action string, fn func(*types.Outcome) error) (*types.Outcome, error) {
	op := action + "_outcome"
	if _, err := c.loadForHost(ctx, viewer, sessionID, true); err != nil {
		return nil, done(op, storeErr("load session", err))
	}
	o, err := c.store.UpdateOutcome(ctx, sessionID, outcomeID, fn)
	if err != nil {
		return nil, done(op, storeErr("update outcome", err))
	}
	c.recordBy(ctx, viewer, sessionID, "outcome_"+action, map[string]any{"outcome_id": outcomeID})
	c.publish(ctx, sessionID, types.BroadcastOutcomeUpdate, map[string]any{"outcome_id": outcomeID, "action": action})
	return o, done(op, nil)
}

// DecisionInput is the host-authored content of a decision.
type DecisionInput struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

// ListDecisions applies the same audience rules as outcomes.
func (c *Controller) ListDecisions(ctx context.Context, viewer types.Viewer, sessionID string) ([]types.Decision, error) {
	s, err := c.loadForMember(ctx, viewer, sessionID)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	decisions, err := c.store.ListDecisions(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list decisions", err)
	}
	scope := visibility.Scope{Privileged: viewer.Kind == types.ViewerHost}
	return visibility.FilterDecisions(decisions, scope, position(s)), nil
}

// CreateDecision records a decision tagged with the session's current position.
func (c *Controller) CreateDecision(ctx context.Context, viewer types.Viewer, sessionID string, in DecisionInput) (*types.Decision, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("create_decision", err)
	}
	now := c.now()
	options := in.Options
	if options == nil {
		options = []string{}
	}
	d := &types.Decision{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Title:     strings.TrimSpace(in.Title),
		Options:   options,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.Validate(); err != nil {
		return nil, done("create_decision", invalid("decision", err))
	}

	s, err := c.loadForHost(ctx, viewer, sessionID, true)
	if err != nil {
		return nil, done("create_decision", storeErr("load session", err))
	}
	step, phase := s.CurrentStepIndex, s.CurrentPhaseIndex
	d.StepIndex, d.PhaseIndex = &step, &phase

	if err := c.store.CreateDecision(ctx, d); err != nil {
		return nil, done("create_decision", storeErr("create decision", err))
	}
	c.recordBy(ctx, viewer, sessionID, "decision_created", map[string]any{"decision_id": d.ID})
	c.publish(ctx, sessionID, types.BroadcastDecisionUpdate, map[string]any{"decision_id": d.ID, "action": "create"})
	return d, done("create_decision", nil)
}

// RevealDecision reveals a decision, optionally with its result. A result
// resolves the decision and runs automatic trigger evaluation.
func (c *Controller) RevealDecision(ctx context.Context, viewer types.Viewer, sessionID, decisionID string, result *string) (*types.Decision, error) {
	s, err := c.loadForHost(ctx, viewer, sessionID, true)
	if err != nil {
		return nil, done("reveal_decision", storeErr("load session", err))
	}
	d, err := c.store.UpdateDecision(ctx, sessionID, decisionID, func(d *types.Decision) error {
		if result != nil {
			r := strings.TrimSpace(*result)
			if r == "" {
				return invalid("result", types.ErrInvalidOptions)
			}
			d.Result = &r
		}
		if d.RevealedAt == nil {
			now := c.now()
			d.RevealedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, done("reveal_decision", storeErr("reveal decision", err))
	}
	c.recordBy(ctx, viewer, sessionID, "decision_reveal", map[string]any{"decision_id": decisionID, "result": d.Result})
	c.publish(ctx, sessionID, types.BroadcastDecisionUpdate, map[string]any{"decision_id": decisionID, "action": ActionReveal})
	if d.Result != nil {
		c.evaluate(ctx, s, types.RuntimeEvent{Type: types.EventDecisionResolved, DecisionID: d.ID, Outcome: *d.Result})
	}
	return d, done("reveal_decision", nil)
}

// HideDecision withdraws a revealed decision. Its result is kept.
func (c *Controller) HideDecision(ctx context.Context, viewer types.Viewer, sessionID, decisionID string) (*types.Decision, error) {
	if _, err := c.loadForHost(ctx, viewer, sessionID, true); err != nil {
		return nil, done("hide_decision", storeErr("load session", err))
	}
	d, err := c.store.UpdateDecision(ctx, sessionID, decisionID, func(d *types.Decision) error {
		d.RevealedAt = nil
		return nil
	})
	if err != nil {
		return nil, done("hide_decision", storeErr("hide decision", err))
	}
	c.recordBy(ctx, viewer, sessionID, "decision_hide", map[string]any{"decision_id": decisionID})
	c.publish(ctx, sessionID, types.BroadcastDecisionUpdate, map[string]any{"decision_id": decisionID, "action": ActionHide})
	return d, done("hide_decision", nil)
}
