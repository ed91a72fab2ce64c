package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"playsession/pkg/types"
)

// Table names match the SQLite schema so both stores describe one data model.

type gameModel struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	Name      string    `gorm:"column:name;type:varchar(200);not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (gameModel) TableName() string { return "games" }

type stepModel struct {
	ID        string `gorm:"column:id;primaryKey;type:varchar(64)"`
	GameID    string `gorm:"column:game_id;type:varchar(64);index;not null"`
	Title     string `gorm:"column:title;type:text"`
	StepOrder int    `gorm:"column:step_order"`
}

func (stepModel) TableName() string { return "game_steps" }

type phaseModel struct {
	ID         string `gorm:"column:id;primaryKey;type:varchar(64)"`
	GameID     string `gorm:"column:game_id;type:varchar(64);index;not null"`
	Name       string `gorm:"column:name;type:text"`
	PhaseOrder int    `gorm:"column:phase_order"`
}

func (phaseModel) TableName() string { return "game_phases" }

type roleModel struct {
	ID                 string `gorm:"column:id;primaryKey;type:varchar(64)"`
	GameID             string `gorm:"column:game_id;type:varchar(64);index;not null"`
	Name               string `gorm:"column:name;type:text"`
	SecretInstructions string `gorm:"column:secret_instructions;type:text"`
	RoleOrder          int    `gorm:"column:role_order"`
}

func (roleModel) TableName() string { return "game_roles" }

type artifactModel struct {
	ID            string `gorm:"column:id;primaryKey;type:varchar(64)"`
	GameID        string `gorm:"column:game_id;type:varchar(64);index;not null"`
	Title         string `gorm:"column:title;type:text"`
	ArtifactOrder int    `gorm:"column:artifact_order"`
}

func (artifactModel) TableName() string { return "game_artifacts" }

type variantModel struct {
	ID              string `gorm:"column:id;primaryKey;type:varchar(64)"`
	ArtifactID      string `gorm:"column:artifact_id;type:varchar(64);index;not null"`
	Title           string `gorm:"column:title;type:text"`
	Body            string `gorm:"column:body;type:text"`
	Visibility      string `gorm:"column:visibility;type:varchar(20);not null"`
	VisibleToRoleID string `gorm:"column:visible_to_role_id;type:varchar(64)"`
	StepIndex       *int   `gorm:"column:step_index"`
	PhaseIndex      *int   `gorm:"column:phase_index"`
	KeypadCode      string `gorm:"column:keypad_code;type:varchar(64)"`
	VariantOrder    int    `gorm:"column:variant_order"`
}

func (variantModel) TableName() string { return "game_artifact_variants" }

type triggerModel struct {
	ID            string `gorm:"column:id;primaryKey;type:varchar(64)"`
	GameID        string `gorm:"column:game_id;type:varchar(64);index;not null"`
	Name          string `gorm:"column:name;type:varchar(50);not null"`
	ConditionJSON string `gorm:"column:condition_json;type:text;not null"`
	ActionsJSON   string `gorm:"column:actions_json;type:text;not null"`
	ExecuteOnce   bool   `gorm:"column:execute_once"`
	DelaySeconds  int    `gorm:"column:delay_seconds"`
	TriggerOrder  int    `gorm:"column:trigger_order"`
}

func (triggerModel) TableName() string { return "game_triggers" }

type sessionModel struct {
	ID                           string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	GameID                       string     `gorm:"column:game_id;type:varchar(64);not null"`
	HostUserID                   string     `gorm:"column:host_user_id;type:varchar(64);index:idx_sessions_host;not null"`
	Code                         string     `gorm:"column:code;type:varchar(6);uniqueIndex;not null"`
	Status                       string     `gorm:"column:status;type:varchar(20);index:idx_sessions_status;not null"`
	CurrentStepIndex             int        `gorm:"column:current_step_index;not null;default:0"`
	CurrentPhaseIndex            int        `gorm:"column:current_phase_index;not null;default:0"`
	TimerState                   *string    `gorm:"column:timer_state;type:text"`
	BoardState                   string     `gorm:"column:board_state;type:text;not null"`
	SecretInstructionsUnlockedAt *time.Time `gorm:"column:secret_instructions_unlocked_at"`
	SecretInstructionsUnlockedBy *string    `gorm:"column:secret_instructions_unlocked_by;type:varchar(64)"`
	CreatedAt                    time.Time  `gorm:"column:created_at"`
	UpdatedAt                    time.Time  `gorm:"column:updated_at"`
	PausedAt                     *time.Time `gorm:"column:paused_at"`
	EndedAt                      *time.Time `gorm:"column:ended_at"`
	ArchivedAt                   *time.Time `gorm:"column:archived_at"`
}

func (sessionModel) TableName() string { return "sessions" }

type triggerStateModel struct {
	SessionID  string     `gorm:"column:session_id;primaryKey;type:varchar(64)"`
	TriggerID  string     `gorm:"column:trigger_id;primaryKey;type:varchar(64)"`
	Status     string     `gorm:"column:status;type:varchar(20);not null"`
	FiredCount int        `gorm:"column:fired_count;not null;default:0"`
	FiredAt    *time.Time `gorm:"column:fired_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (triggerStateModel) TableName() string { return "session_trigger_state" }

type fireKeyModel struct {
	SessionID      string    `gorm:"column:session_id;primaryKey;type:varchar(64)"`
	TriggerID      string    `gorm:"column:trigger_id;primaryKey;type:varchar(64)"`
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey;type:varchar(128)"`
	FiredAt        time.Time `gorm:"column:fired_at"`
}

func (fireKeyModel) TableName() string { return "session_trigger_fire_keys" }

type outcomeModel struct {
	ID          string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	SessionID   string     `gorm:"column:session_id;type:varchar(64);index:idx_outcomes_session;not null"`
	Title       string     `gorm:"column:title;type:varchar(200);not null"`
	Body        string     `gorm:"column:body;type:text"`
	OutcomeType string     `gorm:"column:outcome_type;type:varchar(50)"`
	DecisionID  *string    `gorm:"column:decision_id;type:varchar(64)"`
	StepIndex   *int       `gorm:"column:step_index"`
	PhaseIndex  *int       `gorm:"column:phase_index"`
	RevealedAt  *time.Time `gorm:"column:revealed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (outcomeModel) TableName() string { return "session_outcomes" }

type decisionModel struct {
	ID         string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	SessionID  string     `gorm:"column:session_id;type:varchar(64);index:idx_decisions_session;not null"`
	Title      string     `gorm:"column:title;type:varchar(200);not null"`
	Options    string     `gorm:"column:options;type:text;not null"`
	Result     *string    `gorm:"column:result;type:text"`
	StepIndex  *int       `gorm:"column:step_index"`
	PhaseIndex *int       `gorm:"column:phase_index"`
	RevealedAt *time.Time `gorm:"column:revealed_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (decisionModel) TableName() string { return "session_decisions" }

type participantModel struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	SessionID      string    `gorm:"column:session_id;type:varchar(64);index:idx_participants_session;not null"`
	DisplayName    string    `gorm:"column:display_name;type:varchar(50);not null"`
	Token          string    `gorm:"column:token;type:varchar(128);uniqueIndex;not null"`
	TokenExpiresAt time.Time `gorm:"column:token_expires_at"`
	JoinedAt       time.Time `gorm:"column:joined_at"`
}

func (participantModel) TableName() string { return "participants" }

type assignmentModel struct {
	SessionID     string     `gorm:"column:session_id;primaryKey;type:varchar(64)"`
	ParticipantID string     `gorm:"column:participant_id;primaryKey;type:varchar(64)"`
	RoleID        string     `gorm:"column:role_id;type:varchar(64);not null"`
	AssignedAt    time.Time  `gorm:"column:assigned_at"`
	RevealedAt    *time.Time `gorm:"column:revealed_at"`
}

func (assignmentModel) TableName() string { return "session_role_assignments" }

type artifactStateModel struct {
	SessionID     string     `gorm:"column:session_id;primaryKey;type:varchar(64)"`
	VariantID     string     `gorm:"column:variant_id;primaryKey;type:varchar(64)"`
	RevealedAt    *time.Time `gorm:"column:revealed_at"`
	HighlightedAt *time.Time `gorm:"column:highlighted_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (artifactStateModel) TableName() string { return "session_artifact_state" }

type eventModel struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	SessionID string    `gorm:"column:session_id;type:varchar(64);index:idx_events_session_time,priority:1;not null"`
	EventType string    `gorm:"column:event_type;type:varchar(64);not null"`
	ActorType string    `gorm:"column:actor_type;type:varchar(20);not null"`
	ActorID   string    `gorm:"column:actor_id;type:varchar(64)"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_events_session_time,priority:2"`
}

func (eventModel) TableName() string { return "session_events" }

func allModels() []interface{} {
	return []interface{}{
		&gameModel{}, &stepModel{}, &phaseModel{}, &roleModel{}, &artifactModel{}, &variantModel{}, &triggerModel{},
		&sessionModel{}, &triggerStateModel{}, &fireKeyModel{}, &outcomeModel{}, &decisionModel{},
		&participantModel{}, &assignmentModel{}, &artifactStateModel{}, &eventModel{},
	}
}

func sessionToModel(s *types.Session) (*sessionModel, error) {
	board, err := json.Marshal(s.BoardState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal board state: %w", err)
	}
	m := &sessionModel{
		ID:                           s.ID,
		GameID:                       s.GameID,
		HostUserID:                   s.HostUserID,
		Code:                         s.Code,
		Status:                       s.Status,
		CurrentStepIndex:             s.CurrentStepIndex,
		CurrentPhaseIndex:            s.CurrentPhaseIndex,
		BoardState:                   string(board),
		SecretInstructionsUnlockedAt: s.SecretsUnlockedAt,
		SecretInstructionsUnlockedBy: s.SecretsUnlockedBy,
		CreatedAt:                    s.CreatedAt,
		UpdatedAt:                    s.UpdatedAt,
		PausedAt:                     s.PausedAt,
		EndedAt:                      s.EndedAt,
		ArchivedAt:                   s.ArchivedAt,
	}
	if s.TimerState != nil {
		timer, err := json.Marshal(s.TimerState)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal timer state: %w", err)
		}
		t := string(timer)
		m.TimerState = &t
	}
	return m, nil
}

func (m *sessionModel) toSession() (*types.Session, error) {
	s := &types.Session{
		ID:                m.ID,
		GameID:            m.GameID,
		HostUserID:        m.HostUserID,
		Code:              m.Code,
		Status:            m.Status,
		CurrentStepIndex:  m.CurrentStepIndex,
		CurrentPhaseIndex: m.CurrentPhaseIndex,
		SecretsUnlockedAt: utcPtr(m.SecretInstructionsUnlockedAt),
		SecretsUnlockedBy: m.SecretInstructionsUnlockedBy,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
		PausedAt:          utcPtr(m.PausedAt),
		EndedAt:           utcPtr(m.EndedAt),
		ArchivedAt:        utcPtr(m.ArchivedAt),
	}
	if m.TimerState != nil && *m.TimerState != "" {
		var timer types.TimerState
		if err := json.Unmarshal([]byte(*m.TimerState), &timer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timer state: %w", err)
		}
		s.TimerState = &timer
	}
	if err := json.Unmarshal([]byte(m.BoardState), &s.BoardState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board state: %w", err)
	}
	return s, nil
}

func (m *triggerStateModel) toRuntime() types.TriggerRuntime {
	return types.TriggerRuntime{
		SessionID:  m.SessionID,
		TriggerID:  m.TriggerID,
		Status:     m.Status,
		FiredCount: m.FiredCount,
		FiredAt:    utcPtr(m.FiredAt),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func outcomeToModel(o *types.Outcome) *outcomeModel {
	return &outcomeModel{
		ID: o.ID, SessionID: o.SessionID, Title: o.Title, Body: o.Body, OutcomeType: o.OutcomeType,
		DecisionID: o.DecisionID, StepIndex: o.StepIndex, PhaseIndex: o.PhaseIndex,
		RevealedAt: o.RevealedAt, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func (m *outcomeModel) toOutcome() *types.Outcome {
	return &types.Outcome{
		ID: m.ID, SessionID: m.SessionID, Title: m.Title, Body: m.Body, OutcomeType: m.OutcomeType,
		DecisionID: m.DecisionID, StepIndex: m.StepIndex, PhaseIndex: m.PhaseIndex,
		RevealedAt: utcPtr(m.RevealedAt), CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func decisionToModel(d *types.Decision) (*decisionModel, error) {
	options, err := json.Marshal(d.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision options: %w", err)
	}
	return &decisionModel{
		ID: d.ID, SessionID: d.SessionID, Title: d.Title, Options: string(options), Result: d.Result,
		StepIndex: d.StepIndex, PhaseIndex: d.PhaseIndex, RevealedAt: d.RevealedAt,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

func (m *decisionModel) toDecision() (*types.Decision, error) {
	d := &types.Decision{
		ID: m.ID, SessionID: m.SessionID, Title: m.Title, Result: m.Result,
		StepIndex: m.StepIndex, PhaseIndex: m.PhaseIndex, RevealedAt: utcPtr(m.RevealedAt),
		CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(m.Options), &d.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision options: %w", err)
	}
	return d, nil
}

func (m *participantModel) toParticipant() *types.Participant {
	return &types.Participant{
		ID: m.ID, SessionID: m.SessionID, DisplayName: m.DisplayName, Token: m.Token,
		TokenExpiresAt: m.TokenExpiresAt.UTC(), JoinedAt: m.JoinedAt.UTC(),
	}
}

func (m *assignmentModel) toAssignment() *types.RoleAssignment {
	return &types.RoleAssignment{
		SessionID: m.SessionID, ParticipantID: m.ParticipantID, RoleID: m.RoleID,
		AssignedAt: m.AssignedAt.UTC(), RevealedAt: utcPtr(m.RevealedAt),
	}
}

func (m *artifactStateModel) toState() *types.ArtifactState {
	return &types.ArtifactState{
		SessionID: m.SessionID, VariantID: m.VariantID,
		RevealedAt: utcPtr(m.RevealedAt), HighlightedAt: utcPtr(m.HighlightedAt), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
