package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// CreateOutcome inserts a host-authored outcome.
func (s *Store) CreateOutcome(ctx context.Context, outcome *types.Outcome) error {
	if err := s.db.WithContext(ctx).Create(outcomeToModel(outcome)).Error; err != nil {
		return fmt.Errorf("failed to insert outcome: %w", classifyError(err))
	}
	return nil
}

// UpdateOutcome locks, mutates and saves one outcome of a session.
func (s *Store) UpdateOutcome(ctx context.Context, sessionID, outcomeID string, mutate func(*types.Outcome) error) (*types.Outcome, error) {
	var updated *types.Outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row outcomeModel
		if err := forUpdate(tx).Where("id = ? AND session_id = ?", outcomeID, sessionID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("outcome %s: %w", outcomeID, interfaces.ErrNotFound)
			}
			return fmt.Errorf("failed to query outcome: %w", err)
		}
		outcome := row.toOutcome()
		if err := mutate(outcome); err != nil {
			return err
		}
		outcome.UpdatedAt = now()
		if err := tx.Save(outcomeToModel(outcome)).Error; err != nil {
			return fmt.Errorf("failed to update outcome: %w", err)
		}
		updated = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListOutcomes returns a session's outcomes in creation order.
func (s *Store) ListOutcomes(ctx context.Context, sessionID string) ([]types.Outcome, error) {
	var rows []outcomeModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	outcomes := make([]types.Outcome, 0, len(rows))
	for i := range rows {
		outcomes = append(outcomes, *rows[i].toOutcome())
	}
	return outcomes, nil
}

// CreateDecision inserts a host-authored decision.
func (s *Store) CreateDecision(ctx context.Context, decision *types.Decision) error {
	model, err := decisionToModel(decision)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to insert decision: %w", classifyError(err))
	}
	return nil
}

// UpdateDecision locks, mutates and saves one decision of a session.
func (s *Store) UpdateDecision(ctx context.Context, sessionID, decisionID string, mutate func(*types.Decision) error) (*types.Decision, error) {
	var updated *types.Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row decisionModel
		if err := forUpdate(tx).Where("id = ? AND session_id = ?", decisionID, sessionID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("decision %s: %w", decisionID, interfaces.ErrNotFound)
			}
			return fmt.Errorf("failed to query decision: %w", err)
		}
		decision, err := row.toDecision()
		if err != nil {
			return err
		}
		if err := mutate(decision); err != nil {
			return err
		}
		decision.UpdatedAt = now()
		model, err := decisionToModel(decision)
		if err != nil {
			return err
		}
		if err := tx.Save(model).Error; err != nil {
			return fmt.Errorf("failed to update decision: %w", err)
		}
		updated = decision
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListDecisions returns a session's decisions in creation order.
func (s *Store) ListDecisions(ctx context.Context, sessionID string) ([]types.Decision, error) {
	var rows []decisionModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	decisions := make([]types.Decision, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDecision()
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, nil
}

// CreateParticipant inserts a joined participant.
func (s *Store) CreateParticipant(ctx context.Context, p *types.Participant) error {
	row := participantModel{
		ID: p.ID, SessionID: p.SessionID, DisplayName: p.DisplayName, Token: p.Token,
		TokenExpiresAt: p.TokenExpiresAt.UTC(), JoinedAt: p.JoinedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert participant: %w", classifyError(err))
	}
	return nil
}

// GetParticipantByToken returns the session participant holding token.
func (s *Store) GetParticipantByToken(ctx context.Context, sessionID, token string) (*types.Participant, error) {
	var row participantModel
	if err := s.db.WithContext(ctx).Where("session_id = ? AND token = ?", sessionID, token).First(&row).Error; err != nil {
		return nil, classifyError(err)
	}
	return row.toParticipant(), nil
}

// ListParticipants returns a session's participants in join order.
func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]types.Participant, error) {
	var rows []participantModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("joined_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	participants := make([]types.Participant, 0, len(rows))
	for i := range rows {
		participants = append(participants, *rows[i].toParticipant())
	}
	return participants, nil
}

// CountParticipants returns the number of participants in a session.
func (s *Store) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&participantModel{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return int(count), nil
}

// UpsertAssignments writes role assignments keyed by (session_id, participant_id).
// Changing a participant's role clears their revealed_at.
func (s *Store) UpsertAssignments(ctx context.Context, sessionID string, assignments []types.RoleAssignment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range assignments {
			assignedAt := a.AssignedAt
			if assignedAt.IsZero() {
				assignedAt = now()
			}
			row := assignmentModel{SessionID: sessionID, ParticipantID: a.ParticipantID, RoleID: a.RoleID, AssignedAt: assignedAt.UTC()}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "session_id"}, {Name: "participant_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"revealed_at": gorm.Expr("CASE WHEN session_role_assignments.role_id = excluded.role_id THEN session_role_assignments.revealed_at ELSE NULL END"),
					"role_id":     gorm.Expr("excluded.role_id"),
					"assigned_at": gorm.Expr("excluded.assigned_at"),
				}),
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to upsert assignment for %s: %w", a.ParticipantID, err)
			}
		}
		return nil
	})
}

// ListAssignments returns a session's role assignments.
func (s *Store) ListAssignments(ctx context.Context, sessionID string) ([]types.RoleAssignment, error) {
	var rows []assignmentModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("assigned_at, participant_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	assignments := make([]types.RoleAssignment, 0, len(rows))
	for i := range rows {
		assignments = append(assignments, *rows[i].toAssignment())
	}
	return assignments, nil
}

// MarkSecretRevealed stamps revealed_at on the participant's assignment once.
func (s *Store) MarkSecretRevealed(ctx context.Context, sessionID, participantID string, at time.Time, guard func(*types.Session) error) (*types.RoleAssignment, error) {
	var assignment *types.RoleAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(session); err != nil {
				return err
			}
		}
		var row assignmentModel
		if err := forUpdate(tx).Where("session_id = ? AND participant_id = ?", sessionID, participantID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("assignment for %s: %w", participantID, interfaces.ErrNotFound)
			}
			return fmt.Errorf("failed to query assignment: %w", err)
		}
		if row.RevealedAt == nil {
			revealed := at.UTC()
			row.RevealedAt = &revealed
			if err := tx.Save(&row).Error; err != nil {
				return fmt.Errorf("failed to mark secret revealed: %w", err)
			}
		}
		assignment = row.toAssignment()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// ListArtifactStates returns the per-session variant rows that exist.
func (s *Store) ListArtifactStates(ctx context.Context, sessionID string) ([]types.ArtifactState, error) {
	var rows []artifactStateModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("variant_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query artifact state: %w", err)
	}
	states := make([]types.ArtifactState, 0, len(rows))
	for i := range rows {
		states = append(states, *rows[i].toState())
	}
	return states, nil
}

// UpdateArtifactState upserts one variant's runtime state under the session lock.
func (s *Store) UpdateArtifactState(ctx context.Context, sessionID, variantID string, mutate func(*types.ArtifactState) error) (*types.ArtifactState, error) {
	var updated *types.ArtifactState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, sessionID); err != nil {
			return err
		}
		state := &types.ArtifactState{SessionID: sessionID, VariantID: variantID}
		var row artifactStateModel
		err := tx.Where("session_id = ? AND variant_id = ?", sessionID, variantID).First(&row).Error
		switch {
		case err == nil:
			state = row.toState()
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to query artifact state: %w", err)
		}

		if err := mutate(state); err != nil {
			return err
		}
		state.UpdatedAt = now()

		if err := tx.Save(&artifactStateModel{
			SessionID: sessionID, VariantID: variantID,
			RevealedAt: state.RevealedAt, HighlightedAt: state.HighlightedAt, UpdatedAt: state.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to upsert artifact state: %w", err)
		}
		updated = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AppendEvent adds one entry to the session audit log.
func (s *Store) AppendEvent(ctx context.Context, event *types.SessionEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	row := eventModel{
		ID: event.ID, SessionID: event.SessionID, EventType: event.EventType, ActorType: event.ActorType,
		ActorID: event.ActorID, Payload: string(raw), CreatedAt: event.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session event: %w", classifyError(err))
	}
	return nil
}

// ListEvents returns the newest events first, at most limit rows.
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit int) ([]types.SessionEvent, error) {
	var rows []eventModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	events := make([]types.SessionEvent, 0, len(rows))
	for _, r := range rows {
		e := types.SessionEvent{
			ID: r.ID, SessionID: r.SessionID, EventType: r.EventType, ActorType: r.ActorType,
			ActorID: r.ActorID, CreatedAt: r.CreatedAt.UTC(),
		}
		if err := json.Unmarshal([]byte(r.Payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
