package types

import "time"

// Trigger runtime statuses.
const (
	TriggerArmed    = "armed"
	TriggerFired    = "fired"
	TriggerDisabled = "disabled"
)

// Host trigger actions.
const (
	TriggerActionFire    = "fire"
	TriggerActionDisable = "disable"
	TriggerActionArm     = "arm"
)

// Trigger condition and runtime event types.
const (
	EventStepStarted      = "step_started"
	EventStepCompleted    = "step_completed"
	EventPhaseStarted     = "phase_started"
	EventPhaseCompleted   = "phase_completed"
	EventDecisionResolved = "decision_resolved"
	EventTimerEnded       = "timer_ended"
	EventArtifactUnlocked = "artifact_unlocked"
	EventKeypadCorrect    = "keypad_correct"
	EventKeypadFailed     = "keypad_failed"
	EventManual           = "manual"
)

// Trigger action types.
const (
	ActionSendMessage    = "send_message"
	ActionStartTimer     = "start_timer"
	ActionShowCountdown  = "show_countdown"
	ActionAdvanceStep    = "advance_step"
	ActionAdvancePhase   = "advance_phase"
	ActionRevealArtifact = "reveal_artifact"
)

// Trigger is a configured conditional rule. Its runtime state lives per session.
type Trigger struct {
	ID           string           `json:"id" yaml:"id"`
	GameID       string           `json:"game_id" yaml:"-"`
	Name         string           `json:"name" yaml:"name"`
	Condition    TriggerCondition `json:"condition" yaml:"condition"`
	Actions      []TriggerAction  `json:"actions" yaml:"actions"`
	ExecuteOnce  bool             `json:"execute_once" yaml:"execute_once"`
	DelaySeconds int              `json:"delay_seconds" yaml:"delay_seconds"`
	Order        int              `json:"order" yaml:"order"`
}

// TriggerCondition is the structured predicate matched against runtime events.
// Empty id fields match any event of the same type.
type TriggerCondition struct {
	Type       string `json:"type" yaml:"type"`
	StepID     string `json:"step_id,omitempty" yaml:"step_id,omitempty"`
	PhaseID    string `json:"phase_id,omitempty" yaml:"phase_id,omitempty"`
	DecisionID string `json:"decision_id,omitempty" yaml:"decision_id,omitempty"`
	Outcome    string `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	TimerID    string `json:"timer_id,omitempty" yaml:"timer_id,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty" yaml:"artifact_id,omitempty"`
	KeypadID   string `json:"keypad_id,omitempty" yaml:"keypad_id,omitempty"`
}

// TriggerAction is one effect applied when a trigger fires automatically.
type TriggerAction struct {
	Type            string `json:"type" yaml:"type"`
	Message         string `json:"message,omitempty" yaml:"message,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	VariantID       string `json:"variant_id,omitempty" yaml:"variant_id,omitempty"`
}

// TriggerRuntime is the per-session state of one trigger, keyed by (session, trigger).
type TriggerRuntime struct {
	SessionID  string     `json:"session_id"`
	TriggerID  string     `json:"trigger_id"`
	Status     string     `json:"status"`
	FiredCount int        `json:"fired_count"`
	FiredAt    *time.Time `json:"fired_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DefaultTriggerRuntime is the lazily assumed state before the first mutation.
func DefaultTriggerRuntime(sessionID, triggerID string) TriggerRuntime {
	return TriggerRuntime{
		SessionID: sessionID,
		TriggerID: triggerID,
		Status:    TriggerArmed,
	}
}

// RuntimeEvent is something that happened during play and may satisfy trigger conditions.
type RuntimeEvent struct {
	Type       string `json:"type"`
	StepID     string `json:"step_id,omitempty"`
	PhaseID    string `json:"phase_id,omitempty"`
	DecisionID string `json:"decision_id,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	TimerID    string `json:"timer_id,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty"`
	KeypadID   string `json:"keypad_id,omitempty"`
}
