package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// CreateSession inserts a new session. A code collision returns interfaces.ErrDuplicate.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	model, err := sessionToModel(session)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", classifyError(err))
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.findSession(s.db.WithContext(ctx), "id = ?", sessionID)
}

// GetSessionByCode retrieves a session by its shareable code
func (s *Store) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	return s.findSession(s.db.WithContext(ctx), "code = ?", code)
}

func (s *Store) findSession(tx *gorm.DB, query string, arg string) (*types.Session, error) {
	var model sessionModel
	if err := tx.Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return model.toSession()
}

// lockSession reads the session row FOR UPDATE, serializing writers per session.
func lockSession(tx *gorm.DB, sessionID string) (*types.Session, error) {
	var model sessionModel
	if err := forUpdate(tx).Where("id = ?", sessionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	return model.toSession()
}

func saveSession(tx *gorm.DB, session *types.Session) error {
	session.UpdatedAt = now()
	model, err := sessionToModel(session)
	if err != nil {
		return err
	}
	if err := tx.Save(model).Error; err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// UpdateSession loads the row FOR UPDATE, mutates and saves it in one transaction.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, mutate func(*types.Session) error) (*types.Session, error) {
	var updated *types.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if err := mutate(session); err != nil {
			return err
		}
		if err := saveSession(tx, session); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateSecretsGate is UpdateSession with the secret instruction counts read
// under the same session lock.
func (s *Store) UpdateSecretsGate(ctx context.Context, sessionID string, mutate func(*types.Session, types.SecretStats) error) (*types.Session, types.SecretStats, error) {
	var (
		updated *types.Session
		stats   types.SecretStats
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if stats, err = secretStats(tx, sessionID); err != nil {
			return err
		}
		if err := mutate(session, stats); err != nil {
			return err
		}
		if err := saveSession(tx, session); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return updated, stats, nil
}

func secretStats(tx *gorm.DB, sessionID string) (types.SecretStats, error) {
	var participants, assigned, revealed int64
	if err := tx.Model(&participantModel{}).Where("session_id = ?", sessionID).Count(&participants).Error; err != nil {
		return types.SecretStats{}, fmt.Errorf("failed to count participants: %w", err)
	}
	if err := tx.Model(&assignmentModel{}).Where("session_id = ?", sessionID).Count(&assigned).Error; err != nil {
		return types.SecretStats{}, fmt.Errorf("failed to count assignments: %w", err)
	}
	if err := tx.Model(&assignmentModel{}).Where("session_id = ? AND revealed_at IS NOT NULL", sessionID).Count(&revealed).Error; err != nil {
		return types.SecretStats{}, fmt.Errorf("failed to count reveals: %w", err)
	}
	return types.SecretStats{
		ParticipantCount: int(participants),
		AssignedCount:    int(assigned),
		RevealedCount:    int(revealed),
	}, nil
}
