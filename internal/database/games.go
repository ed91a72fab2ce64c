package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// SaveGame inserts or replaces a game and all of its children. Sessions that
// already reference the game keep pointing at the same game row.
func (m *Manager) SaveGame(ctx context.Context, game *types.Game) error {
	return m.executeWrite(ctx, func(tx *sql.Tx) error {
		createdAt := game.CreatedAt
		if createdAt.IsZero() {
			createdAt = now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO games (id, name, created_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			game.ID, game.Name, createdAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert game: %w", err)
		}

		for _, table := range []string{"game_steps", "game_phases", "game_roles", "game_artifacts", "game_triggers"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE game_id = ?", game.ID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for _, step := range game.Steps {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO game_steps (id, game_id, title, step_order) VALUES (?, ?, ?, ?)`,
				step.ID, game.ID, step.Title, step.Order,
			); err != nil {
				return fmt.Errorf("failed to insert step %s: %w", step.ID, classifyError(err))
			}
		}

		for _, phase := range game.Phases {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO game_phases (id, game_id, name, phase_order) VALUES (?, ?, ?, ?)`,
				phase.ID, game.ID, phase.Name, phase.Order,
			); err != nil {
				return fmt.Errorf("failed to insert phase %s: %w", phase.ID, classifyError(err))
			}
		}

		for _, role := range game.Roles {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO game_roles (id, game_id, name, secret_instructions, role_order) VALUES (?, ?, ?, ?, ?)`,
				role.ID, game.ID, role.Name, role.SecretInstructions, role.Order,
			); err != nil {
				return fmt.Errorf("failed to insert role %s: %w", role.ID, classifyError(err))
			}
		}

		for _, artifact := range game.Artifacts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO game_artifacts (id, game_id, title, artifact_order) VALUES (?, ?, ?, ?)`,
				artifact.ID, game.ID, artifact.Title, artifact.Order,
			); err != nil {
				return fmt.Errorf("failed to insert artifact %s: %w", artifact.ID, classifyError(err))
			}
			for _, v := range artifact.Variants {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO game_artifact_variants
						(id, artifact_id, title, body, visibility, visible_to_role_id, step_index, phase_index, keypad_code, variant_order)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					v.ID, artifact.ID, v.Title, v.Body, v.Visibility, v.VisibleToRoleID,
					intArg(v.StepIndex), intArg(v.PhaseIndex), v.KeypadCode, v.Order,
				); err != nil {
					return fmt.Errorf("failed to insert variant %s: %w", v.ID, classifyError(err))
				}
			}
		}

		for _, trigger := range game.Triggers {
			conditionJSON, err := marshalJSON(trigger.Condition)
			if err != nil {
				return err
			}
			actionsJSON, err := marshalJSON(trigger.Actions)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO game_triggers (id, game_id, name, condition_json, actions_json, execute_once, delay_seconds, trigger_order)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				trigger.ID, game.ID, trigger.Name, conditionJSON, actionsJSON,
				trigger.ExecuteOnce, trigger.DelaySeconds, trigger.Order,
			); err != nil {
				return fmt.Errorf("failed to insert trigger %s: %w", trigger.ID, classifyError(err))
			}
		}

		return nil
	})
}

// GetGame returns the game with all children ordered by their order field.
func (m *Manager) GetGame(ctx context.Context, gameID string) (*types.Game, error) {
	var game types.Game
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM games WHERE id = ?`, gameID,
	).Scan(&game.ID, &game.Name, &game.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("game %s: %w", gameID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query game: %w", err)
	}

	if game.Steps, err = m.loadSteps(ctx, gameID); err != nil {
		return nil, err
	}
	if game.Phases, err = m.loadPhases(ctx, gameID); err != nil {
		return nil, err
	}
	if game.Roles, err = m.loadRoles(ctx, gameID); err != nil {
		return nil, err
	}
	if game.Artifacts, err = m.loadArtifacts(ctx, gameID); err != nil {
		return nil, err
	}
	if game.Triggers, err = m.loadTriggers(ctx, gameID); err != nil {
		return nil, err
	}
	return &game, nil
}

func (m *Manager) loadSteps(ctx context.Context, gameID string) ([]types.Step, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, title, step_order FROM game_steps WHERE game_id = ? ORDER BY step_order, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []types.Step
	for rows.Next() {
		var s types.Step
		if err := rows.Scan(&s.ID, &s.Title, &s.Order); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (m *Manager) loadPhases(ctx context.Context, gameID string) ([]types.Phase, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, name, phase_order FROM game_phases WHERE game_id = ? ORDER BY phase_order, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var phases []types.Phase
	for rows.Next() {
		var p types.Phase
		if err := rows.Scan(&p.ID, &p.Name, &p.Order); err != nil {
			return nil, fmt.Errorf("failed to scan phase row: %w", err)
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

func (m *Manager) loadRoles(ctx context.Context, gameID string) ([]types.Role, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, name, secret_instructions, role_order FROM game_roles WHERE game_id = ? ORDER BY role_order, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roles []types.Role
	for rows.Next() {
		var r types.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.SecretInstructions, &r.Order); err != nil {
			return nil, fmt.Errorf("failed to scan role row: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (m *Manager) loadArtifacts(ctx context.Context, gameID string) ([]types.Artifact, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.artifact_order,
			v.id, v.title, v.body, v.visibility, v.visible_to_role_id, v.step_index, v.phase_index, v.keypad_code, v.variant_order
		FROM game_artifacts a
		LEFT JOIN game_artifact_variants v ON v.artifact_id = a.id
		WHERE a.game_id = ?
		ORDER BY a.artifact_order, a.id, v.variant_order, v.id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var artifacts []types.Artifact
	for rows.Next() {
		var (
			a                                      types.Artifact
			vID, vTitle, vBody, vVis, vRole, vCode sql.NullString
			vStep, vPhase, vOrder                  sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Order,
			&vID, &vTitle, &vBody, &vVis, &vRole, &vStep, &vPhase, &vCode, &vOrder); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}

		if n := len(artifacts); n == 0 || artifacts[n-1].ID != a.ID {
			artifacts = append(artifacts, a)
		}
		if !vID.Valid {
			continue
		}
		current := &artifacts[len(artifacts)-1]
		current.Variants = append(current.Variants, types.ArtifactVariant{
			ID:              vID.String,
			ArtifactID:      a.ID,
			Title:           vTitle.String,
			Body:            vBody.String,
			Visibility:      vVis.String,
			VisibleToRoleID: vRole.String,
			StepIndex:       intPtr(vStep),
			PhaseIndex:      intPtr(vPhase),
			KeypadCode:      vCode.String,
			Order:           int(vOrder.Int64),
		})
	}
	return artifacts, rows.Err()
}

func (m *Manager) loadTriggers(ctx context.Context, gameID string) ([]types.Trigger, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, condition_json, actions_json, execute_once, delay_seconds, trigger_order
		FROM game_triggers WHERE game_id = ? ORDER BY trigger_order, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var triggers []types.Trigger
	for rows.Next() {
		var (
			t                          types.Trigger
			conditionJSON, actionsJSON string
		)
		if err := rows.Scan(&t.ID, &t.Name, &conditionJSON, &actionsJSON, &t.ExecuteOnce, &t.DelaySeconds, &t.Order); err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}
		if err := json.Unmarshal([]byte(conditionJSON), &t.Condition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger condition: %w", err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &t.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger actions: %w", err)
		}
		t.GameID = gameID
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}
