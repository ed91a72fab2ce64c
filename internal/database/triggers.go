package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// ListTriggerRuntime returns the runtime rows that exist for a session.
func (m *Manager) ListTriggerRuntime(ctx context.Context, sessionID string) ([]types.TriggerRuntime, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, trigger_id, status, fired_count, fired_at, updated_at
		FROM session_trigger_state WHERE session_id = ? ORDER BY trigger_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runtimes []types.TriggerRuntime
	for rows.Next() {
		rt, err := scanTriggerRuntime(rows)
		if err != nil {
			return nil, err
		}
		runtimes = append(runtimes, *rt)
	}
	return runtimes, rows.Err()
}

// ApplyTriggerMutation applies fire, disable or arm in one write transaction.
// Writes upsert on (session_id, trigger_id); a fire increments fired_count in
// SQL so concurrent fires merge into one row. A fire leaves a disabled row
// disabled; only arm clears it.
func (m *Manager) ApplyTriggerMutation(ctx context.Context, mutation interfaces.TriggerMutation) (*interfaces.TriggerMutationResult, error) {
	var result *interfaces.TriggerMutationResult
	err := m.executeWrite(ctx, func(tx *sql.Tx) error {
		current, err := getTriggerRuntimeTx(ctx, tx, mutation.SessionID, mutation.TriggerID)
		if err != nil {
			return err
		}
		at := mutation.At.UTC()

		switch mutation.Action {
		case types.TriggerActionFire:
			if mutation.IdempotencyKey != "" {
				var firedAt sql.NullTime
				err := tx.QueryRowContext(ctx, `
					SELECT fired_at FROM session_trigger_fire_keys
					WHERE session_id = ? AND trigger_id = ? AND idempotency_key = ?`,
					mutation.SessionID, mutation.TriggerID, mutation.IdempotencyKey,
				).Scan(&firedAt)
				if err == nil {
					result = &interfaces.TriggerMutationResult{
						Runtime:         current,
						Replayed:        true,
						OriginalFiredAt: timePtr(firedAt),
					}
					return nil
				}
				if !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("failed to query fire key: %w", err)
				}
			}

			if mutation.Guard != nil {
				if err := mutation.Guard(current); err != nil {
					return err
				}
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_trigger_state (session_id, trigger_id, status, fired_count, fired_at, updated_at)
				VALUES (?, ?, 'fired', 1, ?, ?)
				ON CONFLICT(session_id, trigger_id) DO UPDATE SET
					status = CASE WHEN status = 'disabled' THEN status ELSE 'fired' END,
					fired_count = fired_count + 1,
					fired_at = excluded.fired_at,
					updated_at = excluded.updated_at`,
				mutation.SessionID, mutation.TriggerID, at, at,
			); err != nil {
				return fmt.Errorf("failed to fire trigger: %w", err)
			}

			if mutation.IdempotencyKey != "" {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO session_trigger_fire_keys (session_id, trigger_id, idempotency_key, fired_at)
					VALUES (?, ?, ?, ?)`,
					mutation.SessionID, mutation.TriggerID, mutation.IdempotencyKey, at,
				); err != nil {
					return fmt.Errorf("failed to record fire key: %w", classifyError(err))
				}
			}

		case types.TriggerActionDisable, types.TriggerActionArm:
			status := types.TriggerDisabled
			if mutation.Action == types.TriggerActionArm {
				status = types.TriggerArmed
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_trigger_state (session_id, trigger_id, status, fired_count, updated_at)
				VALUES (?, ?, ?, 0, ?)
				ON CONFLICT(session_id, trigger_id) DO UPDATE SET
					status = excluded.status,
					updated_at = excluded.updated_at`,
				mutation.SessionID, mutation.TriggerID, status, at,
			); err != nil {
				return fmt.Errorf("failed to update trigger state: %w", err)
			}

		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, mutation.Action)
		}

		updated, err := getTriggerRuntimeTx(ctx, tx, mutation.SessionID, mutation.TriggerID)
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

// getTriggerRuntimeTx returns the stored row or the default armed state.
func getTriggerRuntimeTx(ctx context.Context, tx *sql.Tx, sessionID, triggerID string) (types.TriggerRuntime, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT session_id, trigger_id, status, fired_count, fired_at, updated_at
		FROM session_trigger_state WHERE session_id = ? AND trigger_id = ?`, sessionID, triggerID)
	rt, err := scanTriggerRuntime(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.DefaultTriggerRuntime(sessionID, triggerID), nil
		}
		return types.TriggerRuntime{}, err
	}
	return *rt, nil
}

func scanTriggerRuntime(row rowScanner) (*types.TriggerRuntime, error) {
	var (
		rt      types.TriggerRuntime
		firedAt sql.NullTime
	)
	if err := row.Scan(&rt.SessionID, &rt.TriggerID, &rt.Status, &rt.FiredCount, &firedAt, &rt.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan trigger state: %w", err)
	}
	rt.FiredAt = timePtr(firedAt)
	rt.UpdatedAt = rt.UpdatedAt.UTC()
	return &rt, nil
}
