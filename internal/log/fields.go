package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldRequestID     = "request_id"
	FieldUserID        = "user_id"
	FieldParticipantID = "participant_id"
	FieldTriggerID     = "trigger_id"
	FieldVariantID     = "variant_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldSink      = "sink"
	FieldSeq       = "seq"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// HTTP fields
	FieldMethod   = "method"
	FieldPath     = "path"
	FieldStatus   = "status"
	FieldDuration = "duration_ms"
	FieldRemote   = "remote_addr"
)
