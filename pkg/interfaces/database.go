package interfaces

import (
	"context"
	"time"

	"playsession/pkg/types"
)

// SessionRepository persists session rows.
type SessionRepository interface {
	// CreateSession inserts a new session. A code collision returns ErrDuplicate.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrSessionNotFound when no row matches.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// GetSessionByCode looks a session up by its shareable code.
	GetSessionByCode(ctx context.Context, code string) (*types.Session, error)

	// UpdateSession runs mutate against the current row inside one write
	// transaction and persists the result. An error from mutate aborts the
	// transaction and is returned unchanged.
	UpdateSession(ctx context.Context, sessionID string, mutate func(*types.Session) error) (*types.Session, error)

	// UpdateSecretsGate is UpdateSession with the secret instruction counts
	// read in the same transaction.
	UpdateSecretsGate(ctx context.Context, sessionID string, mutate func(*types.Session, types.SecretStats) error) (*types.Session, types.SecretStats, error)
}

// GameRepository stores read-only game configuration.
type GameRepository interface {
	// SaveGame inserts or replaces a game and all of its children.
	SaveGame(ctx context.Context, game *types.Game) error

	// GetGame returns the game with steps, phases, roles, artifacts and triggers.
	GetGame(ctx context.Context, gameID string) (*types.Game, error)
}

// TriggerMutation describes one host or automatic change to trigger runtime state.
type TriggerMutation struct {
	SessionID      string
	TriggerID      string
	Action         string
	IdempotencyKey string
	At             time.Time

	// Guard, when set, is consulted for fire actions with the current runtime
	// state inside the write transaction. A non-nil error aborts the fire.
	Guard func(current types.TriggerRuntime) error
}

// TriggerMutationResult is the runtime state after a mutation.
type TriggerMutationResult struct {
	Runtime         types.TriggerRuntime
	Replayed        bool
	OriginalFiredAt *time.Time
}

// TriggerRepository persists per-session trigger runtime state.
type TriggerRepository interface {
	// ListTriggerRuntime returns only rows that exist; missing triggers are armed.
	ListTriggerRuntime(ctx context.Context, sessionID string) ([]types.TriggerRuntime, error)

	// ApplyTriggerMutation upserts on (session_id, trigger_id).
	ApplyTriggerMutation(ctx context.Context, mutation TriggerMutation) (*TriggerMutationResult, error)
}

// OutcomeRepository persists host-authored outcomes.
type OutcomeRepository interface {
	CreateOutcome(ctx context.Context, outcome *types.Outcome) error
	UpdateOutcome(ctx context.Context, sessionID, outcomeID string, mutate func(*types.Outcome) error) (*types.Outcome, error)
	ListOutcomes(ctx context.Context, sessionID string) ([]types.Outcome, error)
}

// DecisionRepository persists host-authored decisions.
type DecisionRepository interface {
	CreateDecision(ctx context.Context, decision *types.Decision) error
	UpdateDecision(ctx context.Context, sessionID, decisionID string, mutate func(*types.Decision) error) (*types.Decision, error)
	ListDecisions(ctx context.Context, sessionID string) ([]types.Decision, error)
}

// ParticipantRepository persists joined participants.
type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, participant *types.Participant) error

	// GetParticipantByToken returns ErrNotFound for unknown tokens. Expiry is the caller's concern.
	GetParticipantByToken(ctx context.Context, sessionID, token string) (*types.Participant, error)

	ListParticipants(ctx context.Context, sessionID string) ([]types.Participant, error)
	CountParticipants(ctx context.Context, sessionID string) (int, error)
}

// AssignmentRepository persists role assignments and secret reveals.
type AssignmentRepository interface {
	// UpsertAssignments upserts on (session_id, participant_id).
	UpsertAssignments(ctx context.Context, sessionID string, assignments []types.RoleAssignment) error

	ListAssignments(ctx context.Context, sessionID string) ([]types.RoleAssignment, error)

	// MarkSecretRevealed stamps revealed_at once. guard sees the session row
	// inside the same transaction.
	MarkSecretRevealed(ctx context.Context, sessionID, participantID string, at time.Time, guard func(*types.Session) error) (*types.RoleAssignment, error)
}

// ArtifactRepository persists per-session artifact variant state.
type ArtifactRepository interface {
	ListArtifactStates(ctx context.Context, sessionID string) ([]types.ArtifactState, error)
	UpdateArtifactState(ctx context.Context, sessionID, variantID string, mutate func(*types.ArtifactState) error) (*types.ArtifactState, error)
}

// EventRepository is the append-only session audit log.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *types.SessionEvent) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]types.SessionEvent, error)
}

// DatabaseManager is the complete store used by the session aggregate.
type DatabaseManager interface {
	SessionRepository
	GameRepository
	TriggerRepository
	OutcomeRepository
	DecisionRepository
	ParticipantRepository
	AssignmentRepository
	ArtifactRepository
	EventRepository

	// HealthCheck verifies connectivity and basic reads.
	HealthCheck(ctx context.Context) error

	// Close releases the store.
	Close() error
}
