package trigger

import (
	"sort"
	"strings"
	"unicode"

	"playsession/pkg/types"
)

// Verdict pairs a matching trigger with its runtime state and eligibility.
type Verdict struct {
	Trigger     types.Trigger
	Runtime     types.TriggerRuntime
	Eligibility Eligibility
}

// State is a trigger's configuration merged with its session runtime row.
type State struct {
	types.Trigger
	Status      string  `json:"status"`
	FiredCount  int     `json:"fired_count"`
	FiredAt     *string `json:"fired_at"`
	Eligibility `json:"eligibility"`
}

// Matches reports whether event satisfies condition. Every id the condition
// names must equal the event's; ids the condition leaves empty are wildcards.
func Matches(condition types.TriggerCondition, event types.RuntimeEvent) bool {
	if condition.Type != event.Type {
		return false
	}
	pairs := [][2]string{
		{condition.StepID, event.StepID},
		{condition.PhaseID, event.PhaseID},
		{condition.DecisionID, event.DecisionID},
		{condition.Outcome, event.Outcome},
		{condition.TimerID, event.TimerID},
		{condition.ArtifactID, event.ArtifactID},
		{condition.KeypadID, event.KeypadID},
	}
	for _, p := range pairs {
		if p[0] != "" && p[0] != p[1] {
			return false
		}
	}
	return true
}

// Evaluate returns the triggers matching event, sorted by order, each with
// its eligibility. Missing runtime rows mean armed.
func Evaluate(sessionID string, triggers []types.Trigger, runtimes []types.TriggerRuntime, event types.RuntimeEvent) []Verdict {
	byID := indexRuntimes(runtimes)

	var verdicts []Verdict
	for _, t := range sortByOrder(triggers) {
		if !Matches(t.Condition, event) {
			continue
		}
		rt, ok := byID[t.ID]
		if !ok {
			rt = types.DefaultTriggerRuntime(sessionID, t.ID)
		}
		verdicts = append(verdicts, Verdict{Trigger: t, Runtime: rt, Eligibility: CheckEligible(t, rt)})
	}
	return verdicts
}

// Merge joins every configured trigger with its runtime row for host views.
func Merge(sessionID string, triggers []types.Trigger, runtimes []types.TriggerRuntime) []State {
	byID := indexRuntimes(runtimes)

	states := make([]State, 0, len(triggers))
	for _, t := range sortByOrder(triggers) {
		rt, ok := byID[t.ID]
		if !ok {
			rt = types.DefaultTriggerRuntime(sessionID, t.ID)
		}
		st := State{
			Trigger:     t,
			Status:      rt.Status,
			FiredCount:  rt.FiredCount,
			Eligibility: CheckEligible(t, rt),
		}
		if rt.FiredAt != nil {
			s := rt.FiredAt.Format("2006-01-02T15:04:05.000Z07:00")
			st.FiredAt = &s
		}
		states = append(states, st)
	}
	return states
}

// NormalizeKey trims an idempotency key and rejects unusable ones. An empty
// key is valid and means no idempotency.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil
	}
	if len(key) > MaxIdempotencyKeyLength {
		return "", ErrInvalidIdempotencyKey
	}
	for _, r := range key {
		if !unicode.IsPrint(r) {
			return "", ErrInvalidIdempotencyKey
		}
	}
	return key, nil
}

func indexRuntimes(runtimes []types.TriggerRuntime) map[string]types.TriggerRuntime {
	byID := make(map[string]types.TriggerRuntime, len(runtimes))
	for _, rt := range runtimes {
		byID[rt.TriggerID] = rt
	}
	return byID
}

func sortByOrder(triggers []types.Trigger) []types.Trigger {
	sorted := make([]types.Trigger, len(triggers))
	copy(sorted, triggers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}
