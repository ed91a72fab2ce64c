package visibility

import (
	"encoding/json"

	"playsession/pkg/types"
)

// Scope describes what a viewer is entitled to beyond the public rules.
// Privileged viewers (the session host and admins) see everything.
type Scope struct {
	Privileged bool
	RoleID     string
}

// Public is the scope of board spectators: participant rules with no role.
var Public = Scope{}

// OutcomeVisible reports whether a participant-scope viewer may see o.
func OutcomeVisible(o types.Outcome, pos Position) bool {
	return o.RevealedAt != nil && IsUnlocked(o.StepIndex, o.PhaseIndex, pos)
}

// DecisionVisible reports whether a participant-scope viewer may see d.
func DecisionVisible(d types.Decision, pos Position) bool {
	return d.RevealedAt != nil && IsUnlocked(d.StepIndex, d.PhaseIndex, pos)
}

// VariantVisible applies the artifact visibility modes on top of the reveal
// and position rules.
func VariantVisible(v types.ArtifactVariant, state *types.ArtifactState, scope Scope, pos Position) bool {
	if scope.Privileged {
		return true
	}
	switch v.Visibility {
	case types.VisibilityLeaderOnly:
		return false
	case types.VisibilityRolePrivate:
		if scope.RoleID == "" || scope.RoleID != v.VisibleToRoleID {
			return false
		}
	}
	if state == nil || state.RevealedAt == nil {
		return false
	}
	return IsUnlocked(v.StepIndex, v.PhaseIndex, pos)
}

// FilterOutcomes returns the outcomes visible under scope, preserving order.
func FilterOutcomes(outcomes []types.Outcome, scope Scope, pos Position) []types.Outcome {
	if scope.Privileged {
		return nonNil(outcomes)
	}
	visible := make([]types.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if OutcomeVisible(o, pos) {
			visible = append(visible, o)
		}
	}
	return visible
}

// FilterDecisions returns the decisions visible under scope, preserving order.
func FilterDecisions(decisions []types.Decision, scope Scope, pos Position) []types.Decision {
	if scope.Privileged {
		return nonNil(decisions)
	}
	visible := make([]types.Decision, 0, len(decisions))
	for _, d := range decisions {
		if DecisionVisible(d, pos) {
			visible = append(visible, d)
		}
	}
	return visible
}

// VariantView is an artifact variant joined with its session runtime state.
type VariantView struct {
	types.ArtifactVariant
	ArtifactTitle string               `json:"artifact_title"`
	Revealed      bool                 `json:"revealed"`
	Highlighted   bool                 `json:"highlighted"`
	HasKeypad     bool                 `json:"has_keypad"`
	State         *types.ArtifactState `json:"-"`
}

// MarshalJSON never encodes the keypad code, whoever the viewer is.
func (v VariantView) MarshalJSON() ([]byte, error) {
	type view VariantView
	out := view(v)
	out.KeypadCode = ""
	return json.Marshal(out)
}

// FilterVariants flattens the game's artifacts into the variants visible under
// scope, ordered by artifact order then variant order.
func FilterVariants(artifacts []types.Artifact, states []types.ArtifactState, scope Scope, pos Position) []VariantView {
	byVariant := make(map[string]*types.ArtifactState, len(states))
	for i := range states {
		byVariant[states[i].VariantID] = &states[i]
	}

	views := make([]VariantView, 0)
	for _, a := range SortByOrder(artifacts, func(a types.Artifact) int { return a.Order }) {
		for _, v := range SortByOrder(a.Variants, func(v types.ArtifactVariant) int { return v.Order }) {
			st := byVariant[v.ID]
			if !VariantVisible(v, st, scope, pos) {
				continue
			}
			view := VariantView{
				ArtifactVariant: v,
				ArtifactTitle:   a.Title,
				HasKeypad:       v.HasKeypad(),
				State:           st,
			}
			if view.ArtifactID == "" {
				view.ArtifactID = a.ID
			}
			if st != nil {
				view.Revealed = st.RevealedAt != nil
				view.Highlighted = st.HighlightedAt != nil
			}
			views = append(views, view)
		}
	}
	return views
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
