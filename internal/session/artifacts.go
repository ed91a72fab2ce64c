package session

import (
	"context"
	"crypto/subtle"
	"strings"

	"playsession/internal/visibility"
	"playsession/pkg/types"
)

// Artifact variant actions.
const (
	ArtifactReveal      = "reveal"
	ArtifactHide        = "hide"
	ArtifactHighlight   = "highlight"
	ArtifactUnhighlight = "unhighlight"
)

// ListArtifacts returns the variants the viewer may see: everything for the
// host, and revealed, unlocked variants matching their role for participants.
func (c *Controller) ListArtifacts(ctx context.Context, viewer types.Viewer, sessionID string) ([]visibility.VariantView, error) {
	s, err := c.loadForMember(ctx, viewer, sessionID)
	if err != nil {
		return nil, storeErr("load session", err)
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, storeErr("load game", err)
	}
	states, err := c.store.ListArtifactStates(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list artifact state", err)
	}
	scope, err := c.scopeOf(ctx, viewer, sessionID)
	if err != nil {
		return nil, err
	}
	return visibility.FilterVariants(g.Artifacts, states, scope, position(s)), nil
}

// scopeOf returns the visibility scope of a session member.
func (c *Controller) scopeOf(ctx context.Context, viewer types.Viewer, sessionID string) (visibility.Scope, error) {
	if viewer.Kind == types.ViewerHost {
		return visibility.Scope{Privileged: true}, nil
	}
	a, err := c.assignmentOf(ctx, sessionID, viewer.ParticipantID)
	if err != nil {
		return visibility.Scope{}, err
	}
	if a == nil {
		return visibility.Scope{}, nil
	}
	return visibility.Scope{RoleID: a.RoleID}, nil
}

// UpdateArtifact reveals, hides, highlights or unhighlights one variant.
func (c *Controller) UpdateArtifact(ctx context.Context, viewer types.Viewer, sessionID, variantID, action string) (*types.ArtifactState, error) {
	if err := requireHostViewer(viewer); err != nil {
		return nil, done("update_artifact", err)
	}
	switch action {
	case ArtifactReveal, ArtifactHide, ArtifactHighlight, ArtifactUnhighlight:
	default:
		return nil, done("update_artifact", invalid("action", ErrUnknownAction))
	}
	s, err := c.loadForHost(ctx, viewer, sessionID, true)
	if err != nil {
		return nil, done("update_artifact", storeErr("load session", err))
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, done("update_artifact", storeErr("load game", err))
	}
	if _, ok := g.FindVariant(variantID); !ok {
		return nil, done("update_artifact", invalid("variantId", ErrUnknownVariant))
	}

	state, err := c.store.UpdateArtifactState(ctx, sessionID, variantID, func(st *types.ArtifactState) error {
		now := c.now()
		switch action {
		case ArtifactReveal:
			if st.RevealedAt == nil {
				st.RevealedAt = &now
			}
		case ArtifactHide:
			st.RevealedAt = nil
		case ArtifactHighlight:
			st.HighlightedAt = &now
		case ArtifactUnhighlight:
			st.HighlightedAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, done("update_artifact", storeErr("update artifact", err))
	}
	c.recordBy(ctx, viewer, sessionID, "artifact_"+action, map[string]any{"variant_id": variantID})
	c.publish(ctx, sessionID, types.BroadcastArtifactUpdate, map[string]any{"variant_id": variantID, "action": action})
	return state, done("update_artifact", nil)
}

// KeypadResult is the verdict on one keypad attempt.
type KeypadResult struct {
	Correct  bool         `json:"correct"`
	Triggers []FireReport `json:"triggers"`
}

// SubmitKeypad checks a code entered on a keypad variant. A correct code
// reveals the variant. Both verdicts run automatic trigger evaluation.
func (c *Controller) SubmitKeypad(ctx context.Context, viewer types.Viewer, sessionID, variantID, code string) (*KeypadResult, error) {
	s, err := c.loadForMember(ctx, viewer, sessionID)
	if err != nil {
		return nil, done("submit_keypad", storeErr("load session", err))
	}
	if s.IsTerminal() {
		return nil, done("submit_keypad", notMutable(s.Status))
	}
	g, err := c.game(ctx, s.GameID)
	if err != nil {
		return nil, done("submit_keypad", storeErr("load game", err))
	}
	v, ok := g.FindVariant(variantID)
	if !ok || !v.HasKeypad() {
		return nil, done("submit_keypad", ErrNotFound)
	}
	scope, err := c.scopeOf(ctx, viewer, sessionID)
	if err != nil {
		return nil, done("submit_keypad", err)
	}
	if !keypadReachable(*v, scope) {
		return nil, done("submit_keypad", ErrNotFound)
	}

	attemptKey := viewer.ActorID() + "/" + v.ID
	if ok, wait := c.attempts.Allow(attemptKey); !ok {
		return nil, done("submit_keypad", &AttemptsError{RetryAfter: wait})
	}

	correct := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(v.KeypadCode)) == 1
	if correct {
		c.attempts.Reset(attemptKey)
	} else {
		c.attempts.Fail(attemptKey)
	}
	event := types.RuntimeEvent{Type: types.EventKeypadFailed, KeypadID: v.ID, ArtifactID: v.ArtifactID}
	if correct {
		event.Type = types.EventKeypadCorrect
		if _, err := c.store.UpdateArtifactState(ctx, sessionID, v.ID, func(st *types.ArtifactState) error {
			if st.RevealedAt == nil {
				now := c.now()
				st.RevealedAt = &now
			}
			return nil
		}); err != nil {
			return nil, done("submit_keypad", storeErr("unlock artifact", err))
		}
		c.publish(ctx, sessionID, types.BroadcastArtifactUpdate, map[string]any{"variant_id": v.ID, "action": ArtifactReveal})
	}
	c.recordBy(ctx, viewer, sessionID, event.Type, map[string]any{"variant_id": v.ID})

	reports := c.evaluate(ctx, s, event)
	if correct {
		reports = append(reports, c.evaluate(ctx, s, types.RuntimeEvent{Type: types.EventArtifactUnlocked, ArtifactID: v.ArtifactID})...)
	}
	return &KeypadResult{Correct: correct, Triggers: reports}, done("submit_keypad", nil)
}

// keypadReachable applies the audience modes, but not the reveal rule, since
// a keypad exists to be solved before it is revealed.
func keypadReachable(v types.ArtifactVariant, scope visibility.Scope) bool {
	if scope.Privileged {
		return true
	}
	switch v.Visibility {
	case types.VisibilityLeaderOnly:
		return false
	case types.VisibilityRolePrivate:
		return scope.RoleID != "" && scope.RoleID == v.VisibleToRoleID
	default:
		return true
	}
}
