package types

// Broadcast event types carried on a session channel.
const (
	BroadcastStateChange    = "state_change"
	BroadcastTimerUpdate    = "timer_update"
	BroadcastBoardUpdate    = "board_update"
	BroadcastTriggerUpdate  = "trigger_update"
	BroadcastOutcomeUpdate  = "outcome_update"
	BroadcastArtifactUpdate = "artifact_update"
	BroadcastDecisionUpdate = "decision_update"
	BroadcastSecretsUpdate  = "secrets_update"
	BroadcastRoleUpdate     = "role_update"
	BroadcastStatusChange   = "status_change"
	BroadcastCountdown      = "countdown"
	BroadcastParticipants   = "participant_update"

	// BroadcastSnapshot is sent once to a new subscriber; its Seq is the
	// session's last published seq.
	BroadcastSnapshot = "snapshot"
)

// BroadcastEventName is the event name clients subscribe to on a session channel.
const BroadcastEventName = "play_event"

// BroadcastEvent is one state delta published to every subscriber of a session.
// Seq increases monotonically per session; subscribers may drop stale or duplicate deltas.
type BroadcastEvent struct {
	SessionID string         `json:"session_id"`
	Seq       uint64         `json:"seq"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
}

// ChannelName returns the broadcast channel for a session.
func ChannelName(sessionID string) string {
	return "play:" + sessionID
}
