package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// ListTriggerRuntime returns the runtime rows that exist for a session.
func (s *Store) ListTriggerRuntime(ctx context.Context, sessionID string) ([]types.TriggerRuntime, error) {
	var rows []triggerStateModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("trigger_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query trigger state: %w", err)
	}
	runtimes := make([]types.TriggerRuntime, 0, len(rows))
	for i := range rows {
		runtimes = append(runtimes, rows[i].toRuntime())
	}
	return runtimes, nil
}

// ApplyTriggerMutation applies fire, disable or arm under the session row lock.
// A fire keeps a disabled trigger disabled.
func (s *Store) ApplyTriggerMutation(ctx context.Context, mutation interfaces.TriggerMutation) (*interfaces.TriggerMutationResult, error) {
	var result *interfaces.TriggerMutationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, mutation.SessionID); err != nil {
			return err
		}
		current, err := triggerRuntime(tx, mutation.SessionID, mutation.TriggerID)
		if err != nil {
			return err
		}
		at := mutation.At.UTC()
		conflict := []clause.Column{{Name: "session_id"}, {Name: "trigger_id"}}

		switch mutation.Action {
		case types.TriggerActionFire:
			if mutation.IdempotencyKey != "" {
				var key fireKeyModel
				err := tx.Where("session_id = ? AND trigger_id = ? AND idempotency_key = ?",
					mutation.SessionID, mutation.TriggerID, mutation.IdempotencyKey).First(&key).Error
				if err == nil {
					firedAt := key.FiredAt.UTC()
					result = &interfaces.TriggerMutationResult{Runtime: current, Replayed: true, OriginalFiredAt: &firedAt}
					return nil
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("failed to query fire key: %w", err)
				}
			}
			if mutation.Guard != nil {
				if err := mutation.Guard(current); err != nil {
					return err
				}
			}

			row := triggerStateModel{
				SessionID: mutation.SessionID, TriggerID: mutation.TriggerID,
				Status: types.TriggerFired, FiredCount: 1, FiredAt: &at, UpdatedAt: at,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: conflict,
				DoUpdates: clause.Assignments(map[string]interface{}{
					"status":      gorm.Expr("CASE WHEN session_trigger_state.status = ? THEN session_trigger_state.status ELSE ? END", types.TriggerDisabled, types.TriggerFired),
					"fired_count": gorm.Expr("session_trigger_state.fired_count + 1"),
					"fired_at":    at,
					"updated_at":  at,
				}),
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to fire trigger: %w", err)
			}

			if mutation.IdempotencyKey != "" {
				if err := tx.Create(&fireKeyModel{
					SessionID: mutation.SessionID, TriggerID: mutation.TriggerID,
					IdempotencyKey: mutation.IdempotencyKey, FiredAt: at,
				}).Error; err != nil {
					return fmt.Errorf("failed to record fire key: %w", classifyError(err))
				}
			}

		case types.TriggerActionDisable, types.TriggerActionArm:
			status := types.TriggerDisabled
			if mutation.Action == types.TriggerActionArm {
				status = types.TriggerArmed
			}
			row := triggerStateModel{SessionID: mutation.SessionID, TriggerID: mutation.TriggerID, Status: status, UpdatedAt: at}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   conflict,
				DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to update trigger state: %w", err)
			}

		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, mutation.Action)
		}

		updated, err := triggerRuntime(tx, mutation.SessionID, mutation.TriggerID)
		if err != nil {
			return err
		}
		result = &interfaces.TriggerMutationResult{Runtime: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func triggerRuntime(tx *gorm.DB, sessionID, triggerID string) (types.TriggerRuntime, error) {
	var row triggerStateModel
	err := tx.Where("session_id = ? AND trigger_id = ?", sessionID, triggerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.DefaultTriggerRuntime(sessionID, triggerID), nil
	}
	if err != nil {
		return types.TriggerRuntime{}, fmt.Errorf("failed to query trigger state: %w", err)
	}
	return row.toRuntime(), nil
}
