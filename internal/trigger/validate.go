package trigger

import (
	"fmt"
	"unicode/utf8"

	"playsession/pkg/types"
)

var conditionTypes = map[string]bool{
	types.EventStepStarted:      true,
	types.EventStepCompleted:    true,
	types.EventPhaseStarted:     true,
	types.EventPhaseCompleted:   true,
	types.EventDecisionResolved: true,
	types.EventTimerEnded:       true,
	types.EventArtifactUnlocked: true,
	types.EventKeypadCorrect:    true,
	types.EventKeypadFailed:     true,
	types.EventManual:           true,
}

var actionTypes = map[string]bool{
	types.ActionSendMessage:    true,
	types.ActionStartTimer:     true,
	types.ActionShowCountdown:  true,
	types.ActionAdvanceStep:    true,
	types.ActionAdvancePhase:   true,
	types.ActionRevealArtifact: true,
}

// IsConditionType reports whether name is a known runtime event type.
func IsConditionType(name string) bool {
	return conditionTypes[name]
}

// ValidateConfig checks one trigger definition at import time.
func ValidateConfig(t types.Trigger) error {
	if n := utf8.RuneCountInString(t.Name); n == 0 || n > MaxNameLength {
		return fmt.Errorf("trigger %s: %w", t.ID, ErrInvalidName)
	}
	if !conditionTypes[t.Condition.Type] {
		return fmt.Errorf("trigger %s: %w: %q", t.ID, ErrUnknownCondition, t.Condition.Type)
	}
	if len(t.Actions) == 0 {
		return fmt.Errorf("trigger %s: %w", t.ID, ErrNoActions)
	}
	if t.DelaySeconds < 0 {
		return fmt.Errorf("trigger %s: %w", t.ID, ErrNegativeDelay)
	}
	for i, a := range t.Actions {
		if !actionTypes[a.Type] {
			return fmt.Errorf("trigger %s action %d: %w: %q", t.ID, i, ErrUnknownAction, a.Type)
		}
		switch a.Type {
		case types.ActionStartTimer, types.ActionShowCountdown:
			if a.DurationSeconds <= 0 {
				return fmt.Errorf("trigger %s action %d: %w", t.ID, i, ErrInvalidDuration)
			}
		case types.ActionSendMessage:
			if a.Message == "" {
				return fmt.Errorf("trigger %s action %d: %w", t.ID, i, ErrMissingMessage)
			}
		case types.ActionRevealArtifact:
			if a.VariantID == "" {
				return fmt.Errorf("trigger %s action %d: %w", t.ID, i, ErrMissingVariant)
			}
		}
	}
	return nil
}

// DetectLoops returns warnings for actions whose own effect would produce the
// event the trigger listens for. Automatic fires never cascade, so these are
// warnings for authors rather than errors.
func DetectLoops(t types.Trigger) []string {
	var warnings []string
	for _, a := range t.Actions {
		switch {
		case a.Type == types.ActionAdvanceStep &&
			(t.Condition.Type == types.EventStepStarted || t.Condition.Type == types.EventStepCompleted):
			warnings = append(warnings, fmt.Sprintf("trigger %s: advance_step re-satisfies %s", t.ID, t.Condition.Type))
		case a.Type == types.ActionAdvancePhase &&
			(t.Condition.Type == types.EventPhaseStarted || t.Condition.Type == types.EventPhaseCompleted):
			warnings = append(warnings, fmt.Sprintf("trigger %s: advance_phase re-satisfies %s", t.ID, t.Condition.Type))
		case a.Type == types.ActionStartTimer && t.Condition.Type == types.EventTimerEnded:
			warnings = append(warnings, fmt.Sprintf("trigger %s: start_timer restarts the timer it waits for", t.ID))
		case a.Type == types.ActionRevealArtifact && t.Condition.Type == types.EventArtifactUnlocked:
			warnings = append(warnings, fmt.Sprintf("trigger %s: reveal_artifact re-satisfies artifact_unlocked", t.ID))
		}
	}
	return warnings
}
