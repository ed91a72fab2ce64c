package types

import (
	"time"
)

// Session status values. Terminal statuses reject every runtime mutation.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusLocked    = "locked"
	StatusEnded     = "ended"
	StatusArchived  = "archived"
	StatusCancelled = "cancelled"
)

// Session is one live run of a game.
// FUNCTIONAL DISCOVERY: CurrentStepIndex and CurrentPhaseIndex are positions into the
// step/phase lists sorted by their order field, never the raw order values.
type Session struct {
	ID                string      `json:"id"`
	GameID            string      `json:"game_id"`
	HostUserID        string      `json:"host_user_id"`
	Code              string      `json:"code"`
	Status            string      `json:"status"`
	CurrentStepIndex  int         `json:"current_step_index"`
	CurrentPhaseIndex int         `json:"current_phase_index"`
	TimerState        *TimerState `json:"timer_state"`
	BoardState        BoardState  `json:"board_state"`
	SecretsUnlockedAt *time.Time  `json:"secret_instructions_unlocked_at,omitempty"`
	SecretsUnlockedBy *string     `json:"secret_instructions_unlocked_by,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	PausedAt          *time.Time  `json:"paused_at,omitempty"`
	EndedAt           *time.Time  `json:"ended_at,omitempty"`
	ArchivedAt        *time.Time  `json:"archived_at,omitempty"`
}

// IsTerminal reports whether the session no longer accepts runtime mutations.
func (s *Session) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// IsTerminalStatus reports whether status ends the session's live phase.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusEnded, StatusArchived, StatusCancelled:
		return true
	default:
		return false
	}
}

// SecretsUnlocked reports whether secret instructions are currently unlocked.
func (s *Session) SecretsUnlocked() bool {
	return s.SecretsUnlockedAt != nil
}

// TimerState is the stored countdown. Expiry is computed by readers, never pushed.
type TimerState struct {
	StartedAt       time.Time  `json:"started_at"`
	DurationSeconds int        `json:"duration_seconds"`
	PausedAt        *time.Time `json:"paused_at"`
}

// IsPaused reports whether the timer is currently paused.
func (t *TimerState) IsPaused() bool {
	return t != nil && t.PausedAt != nil
}

// Remaining returns the time left on the countdown at now, clamped to zero.
func (t *TimerState) Remaining(now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	reference := now
	if t.PausedAt != nil {
		reference = *t.PausedAt
	}
	elapsed := reference.Sub(t.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := time.Duration(t.DurationSeconds)*time.Second - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether a running timer has reached zero.
func (t *TimerState) Expired(now time.Time) bool {
	return t != nil && t.Remaining(now) == 0
}

// BoardState is the free-form board shown to every viewer.
type BoardState struct {
	Message   *string         `json:"message"`
	Overrides map[string]bool `json:"overrides"`
}

// Participant is a player who joined a session by code.
type Participant struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	DisplayName    string    `json:"display_name"`
	Token          string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	JoinedAt       time.Time `json:"joined_at"`
}

// RoleAssignment binds one participant to one game role within a session.
type RoleAssignment struct {
	SessionID     string     `json:"session_id"`
	ParticipantID string     `json:"participant_id"`
	RoleID        string     `json:"role_id"`
	AssignedAt    time.Time  `json:"assigned_at"`
	RevealedAt    *time.Time `json:"revealed_at,omitempty"`
}

// SecretStats are the counts guarding the secret instructions gate.
type SecretStats struct {
	ParticipantCount int `json:"participant_count"`
	AssignedCount    int `json:"assigned_count"`
	RevealedCount    int `json:"revealed_count"`
}

// Outcome is a host-authored record tagged with the position active at creation.
type Outcome struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	OutcomeType string     `json:"outcome_type"`
	DecisionID  *string    `json:"decision_id,omitempty"`
	StepIndex   *int       `json:"step_index"`
	PhaseIndex  *int       `json:"phase_index"`
	RevealedAt  *time.Time `json:"revealed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Decision is a host-authored group choice whose result can be revealed.
type Decision struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Title      string     `json:"title"`
	Options    []string   `json:"options"`
	Result     *string    `json:"result,omitempty"`
	StepIndex  *int       `json:"step_index"`
	PhaseIndex *int       `json:"phase_index"`
	RevealedAt *time.Time `json:"revealed_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ArtifactState is the per-session runtime state of one artifact variant.
type ArtifactState struct {
	SessionID     string     `json:"session_id"`
	VariantID     string     `json:"variant_id"`
	RevealedAt    *time.Time `json:"revealed_at"`
	HighlightedAt *time.Time `json:"highlighted_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Session event actor types.
const (
	ActorHost        = "host"
	ActorParticipant = "participant"
	ActorSystem      = "system"
)

// SessionEvent is one row of the append-only session audit log.
type SessionEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	ActorType string         `json:"actor_type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Viewer kinds produced by the session viewer resolver.
const (
	ViewerAnonymous   = "anonymous"
	ViewerHost        = "host"
	ViewerParticipant = "participant"
)

// Viewer is the classified identity behind a request.
type Viewer struct {
	Kind          string `json:"kind"`
	UserID        string `json:"user_id,omitempty"`
	IsAdmin       bool   `json:"is_admin,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// Anonymous returns the viewer used when no credentials were presented.
func Anonymous() Viewer {
	return Viewer{Kind: ViewerAnonymous}
}

// IsAuthenticated reports whether the viewer presented valid credentials.
func (v Viewer) IsAuthenticated() bool {
	return v.Kind == ViewerHost || v.Kind == ViewerParticipant
}

// ActorID returns the id recorded in the audit log for this viewer.
func (v Viewer) ActorID() string {
	if v.Kind == ViewerParticipant {
		return v.ParticipantID
	}
	return v.UserID
}

// ActorType returns the audit log actor type for this viewer.
func (v Viewer) ActorType() string {
	if v.Kind == ViewerParticipant {
		return ActorParticipant
	}
	return ActorHost
}
