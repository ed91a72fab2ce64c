package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// SaveGame inserts or replaces a game and all of its children.
func (s *Store) SaveGame(ctx context.Context, game *types.Game) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		createdAt := game.CreatedAt
		if createdAt.IsZero() {
			createdAt = now()
		}
		row := gameModel{ID: game.ID, Name: game.Name, CreatedAt: createdAt}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to upsert game: %w", err)
		}

		var artifactIDs []string
		if err := tx.Model(&artifactModel{}).Where("game_id = ?", game.ID).Pluck("id", &artifactIDs).Error; err != nil {
			return fmt.Errorf("failed to list artifacts: %w", err)
		}
		if len(artifactIDs) > 0 {
			if err := tx.Where("artifact_id IN ?", artifactIDs).Delete(&variantModel{}).Error; err != nil {
				return fmt.Errorf("failed to clear variants: %w", err)
			}
		}
		for _, model := range []interface{}{&stepModel{}, &phaseModel{}, &roleModel{}, &artifactModel{}, &triggerModel{}} {
			if err := tx.Where("game_id = ?", game.ID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear game children: %w", err)
			}
		}

		for _, st := range game.Steps {
			if err := tx.Create(&stepModel{ID: st.ID, GameID: game.ID, Title: st.Title, StepOrder: st.Order}).Error; err != nil {
				return fmt.Errorf("failed to insert step %s: %w", st.ID, classifyError(err))
			}
		}
		for _, ph := range game.Phases {
			if err := tx.Create(&phaseModel{ID: ph.ID, GameID: game.ID, Name: ph.Name, PhaseOrder: ph.Order}).Error; err != nil {
				return fmt.Errorf("failed to insert phase %s: %w", ph.ID, classifyError(err))
			}
		}
		for _, r := range game.Roles {
			if err := tx.Create(&roleModel{ID: r.ID, GameID: game.ID, Name: r.Name, SecretInstructions: r.SecretInstructions, RoleOrder: r.Order}).Error; err != nil {
				return fmt.Errorf("failed to insert role %s: %w", r.ID, classifyError(err))
			}
		}
		for _, a := range game.Artifacts {
			if err := tx.Create(&artifactModel{ID: a.ID, GameID: game.ID, Title: a.Title, ArtifactOrder: a.Order}).Error; err != nil {
				return fmt.Errorf("failed to insert artifact %s: %w", a.ID, classifyError(err))
			}
			for _, v := range a.Variants {
				if err := tx.Create(&variantModel{
					ID: v.ID, ArtifactID: a.ID, Title: v.Title, Body: v.Body, Visibility: v.Visibility,
					VisibleToRoleID: v.VisibleToRoleID, StepIndex: v.StepIndex, PhaseIndex: v.PhaseIndex,
					KeypadCode: v.KeypadCode, VariantOrder: v.Order,
				}).Error; err != nil {
					return fmt.Errorf("failed to insert variant %s: %w", v.ID, classifyError(err))
				}
			}
		}
		for _, t := range game.Triggers {
			condition, err := json.Marshal(t.Condition)
			if err != nil {
				return fmt.Errorf("failed to marshal trigger condition: %w", err)
			}
			actions, err := json.Marshal(t.Actions)
			if err != nil {
				return fmt.Errorf("failed to marshal trigger actions: %w", err)
			}
			if err := tx.Create(&triggerModel{
				ID: t.ID, GameID: game.ID, Name: t.Name, ConditionJSON: string(condition), ActionsJSON: string(actions),
				ExecuteOnce: t.ExecuteOnce, DelaySeconds: t.DelaySeconds, TriggerOrder: t.Order,
			}).Error; err != nil {
				return fmt.Errorf("failed to insert trigger %s: %w", t.ID, classifyError(err))
			}
		}
		return nil
	})
}

// GetGame returns the game with all children ordered by their order field.
func (s *Store) GetGame(ctx context.Context, gameID string) (*types.Game, error) {
	db := s.db.WithContext(ctx)

	var row gameModel
	if err := db.Where("id = ?", gameID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("game %s: %w", gameID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query game: %w", err)
	}
	game := &types.Game{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt.UTC()}

	var steps []stepModel
	if err := db.Where("game_id = ?", gameID).Order("step_order, id").Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	for _, st := range steps {
		game.Steps = append(game.Steps, types.Step{ID: st.ID, Title: st.Title, Order: st.StepOrder})
	}

	var phases []phaseModel
	if err := db.Where("game_id = ?", gameID).Order("phase_order, id").Find(&phases).Error; err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	for _, ph := range phases {
		game.Phases = append(game.Phases, types.Phase{ID: ph.ID, Name: ph.Name, Order: ph.PhaseOrder})
	}

	var roles []roleModel
	if err := db.Where("game_id = ?", gameID).Order("role_order, id").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	for _, r := range roles {
		game.Roles = append(game.Roles, types.Role{ID: r.ID, Name: r.Name, SecretInstructions: r.SecretInstructions, Order: r.RoleOrder})
	}

	var artifacts []artifactModel
	if err := db.Where("game_id = ?", gameID).Order("artifact_order, id").Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	for _, a := range artifacts {
		var variants []variantModel
		if err := db.Where("artifact_id = ?", a.ID).Order("variant_order, id").Find(&variants).Error; err != nil {
			return nil, fmt.Errorf("failed to query variants: %w", err)
		}
		artifact := types.Artifact{ID: a.ID, Title: a.Title, Order: a.ArtifactOrder}
		for _, v := range variants {
			artifact.Variants = append(artifact.Variants, types.ArtifactVariant{
				ID: v.ID, ArtifactID: a.ID, Title: v.Title, Body: v.Body, Visibility: v.Visibility,
				VisibleToRoleID: v.VisibleToRoleID, StepIndex: v.StepIndex, PhaseIndex: v.PhaseIndex,
				KeypadCode: v.KeypadCode, Order: v.VariantOrder,
			})
		}
		game.Artifacts = append(game.Artifacts, artifact)
	}

	var triggers []triggerModel
	if err := db.Where("game_id = ?", gameID).Order("trigger_order, id").Find(&triggers).Error; err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	for _, t := range triggers {
		trigger := types.Trigger{
			ID: t.ID, GameID: gameID, Name: t.Name, ExecuteOnce: t.ExecuteOnce,
			DelaySeconds: t.DelaySeconds, Order: t.TriggerOrder,
		}
		if err := json.Unmarshal([]byte(t.ConditionJSON), &trigger.Condition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger condition: %w", err)
		}
		if err := json.Unmarshal([]byte(t.ActionsJSON), &trigger.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger actions: %w", err)
		}
		game.Triggers = append(game.Triggers, trigger)
	}

	return game, nil
}
