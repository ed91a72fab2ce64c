package trigger

import (
	"fmt"

	"playsession/pkg/types"
)

// Eligibility is the automatic-tier verdict for one trigger.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// IneligibleError reports why a guarded fire was refused.
type IneligibleError struct {
	TriggerID string
	Reason    string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("trigger %s is not eligible: %s", e.TriggerID, e.Reason)
}

// Is lets errors.Is match the reason sentinels.
func (e *IneligibleError) Is(target error) bool {
	switch target {
	case ErrTriggerDisabled:
		return e.Reason == ReasonDisabled
	case ErrExecuteOnceAlreadyFired:
		return e.Reason == ReasonExecuteOnceFired
	}
	return false
}

// CheckEligible decides whether an automatic evaluation may fire the trigger.
// Host force-fire never consults it.
func CheckEligible(t types.Trigger, rt types.TriggerRuntime) Eligibility {
	switch {
	case rt.Status == types.TriggerDisabled:
		return Eligibility{Reason: ReasonDisabled}
	case t.ExecuteOnce && rt.Status == types.TriggerFired:
		return Eligibility{Reason: ReasonExecuteOnceFired}
	default:
		return Eligibility{Eligible: true}
	}
}

// Guard returns a store guard re-checking eligibility against the runtime
// state read inside the write transaction.
func Guard(t types.Trigger) func(types.TriggerRuntime) error {
	return func(rt types.TriggerRuntime) error {
		if e := CheckEligible(t, rt); !e.Eligible {
			return &IneligibleError{TriggerID: t.ID, Reason: e.Reason}
		}
		return nil
	}
}
