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

const sessionColumns = `id, game_id, host_user_id, code, status, current_step_index, current_phase_index,
	timer_state, board_state, secret_instructions_unlocked_at, secret_instructions_unlocked_by,
	created_at, updated_at, paused_at, ended_at, archived_at`

// CreateSession inserts a new session. A code collision returns interfaces.ErrDuplicate.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(tx *sql.Tx) error {
		timerJSON, boardJSON, err := encodeSessionState(session)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.GameID,
			session.HostUserID,
			session.Code,
			session.Status,
			session.CurrentStepIndex,
			session.CurrentPhaseIndex,
			timerJSON,
			boardJSON,
			timeArg(session.SecretsUnlockedAt),
			stringArg(session.SecretsUnlockedBy),
			session.CreatedAt.UTC(),
			session.UpdatedAt.UTC(),
			timeArg(session.PausedAt),
			timeArg(session.EndedAt),
			timeArg(session.ArchivedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", classifyError(err))
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// GetSessionByCode retrieves a session by its shareable code
func (m *Manager) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE code = ?`, code)
	return scanSession(row)
}

// UpdateSession loads, mutates and persists a session in one write transaction.
// An error from mutate aborts the transaction and is returned unchanged.
func (m *Manager) UpdateSession(ctx context.Context, sessionID string, mutate func(*types.Session) error) (*types.Session, error) {
	var updated *types.Session
	err := m.executeWrite(ctx, func(tx *sql.Tx) error {
		session, err := getSessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := mutate(session); err != nil {
			return err
		}
		if err := persistSession(ctx, tx, session); err != nil {
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
// in the same transaction, so the gate decision and the write cannot interleave
// with assignment changes.
func (m *Manager) UpdateSecretsGate(ctx context.Context, sessionID string, mutate func(*types.Session, types.SecretStats) error) (*types.Session, types.SecretStats, error) {
	var (
		updated *types.Session
		stats   types.SecretStats
	)
	err := m.executeWrite(ctx, func(tx *sql.Tx) error {
		session, err := getSessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		stats, err = secretStatsTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := mutate(session, stats); err != nil {
			return err
		}
		if err := persistSession(ctx, tx, session); err != nil {
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

func getSessionTx(ctx context.Context, tx *sql.Tx, sessionID string) (*types.Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

func persistSession(ctx context.Context, tx *sql.Tx, session *types.Session) error {
	timerJSON, boardJSON, err := encodeSessionState(session)
	if err != nil {
		return err
	}
	session.UpdatedAt = now()

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?,
			current_step_index = ?,
			current_phase_index = ?,
			timer_state = ?,
			board_state = ?,
			secret_instructions_unlocked_at = ?,
			secret_instructions_unlocked_by = ?,
			updated_at = ?,
			paused_at = ?,
			ended_at = ?,
			archived_at = ?
		WHERE id = ?`,
		session.Status,
		session.CurrentStepIndex,
		session.CurrentPhaseIndex,
		timerJSON,
		boardJSON,
		timeArg(session.SecretsUnlockedAt),
		stringArg(session.SecretsUnlockedBy),
		session.UpdatedAt,
		timeArg(session.PausedAt),
		timeArg(session.EndedAt),
		timeArg(session.ArchivedAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func secretStatsTx(ctx context.Context, tx *sql.Tx, sessionID string) (types.SecretStats, error) {
	var stats types.SecretStats
	err := tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM participants WHERE session_id = ?),
			(SELECT COUNT(*) FROM session_role_assignments WHERE session_id = ?),
			(SELECT COUNT(*) FROM session_role_assignments WHERE session_id = ? AND revealed_at IS NOT NULL)`,
		sessionID, sessionID, sessionID,
	).Scan(&stats.ParticipantCount, &stats.AssignedCount, &stats.RevealedCount)
	if err != nil {
		return stats, fmt.Errorf("failed to count secret instructions: %w", err)
	}
	return stats, nil
}

func encodeSessionState(session *types.Session) (interface{}, string, error) {
	var timerJSON interface{}
	if session.TimerState != nil {
		raw, err := marshalJSON(session.TimerState)
		if err != nil {
			return nil, "", err
		}
		timerJSON = raw
	}
	boardJSON, err := marshalJSON(session.BoardState)
	if err != nil {
		return nil, "", err
	}
	return timerJSON, boardJSON, nil
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		session                              types.Session
		timerJSON                            sql.NullString
		boardJSON                            string
		unlockedAt, pausedAt, endedAt, archAt sql.NullTime
		unlockedBy                           sql.NullString
	)

	err := row.Scan(
		&session.ID,
		&session.GameID,
		&session.HostUserID,
		&session.Code,
		&session.Status,
		&session.CurrentStepIndex,
		&session.CurrentPhaseIndex,
		&timerJSON,
		&boardJSON,
		&unlockedAt,
		&unlockedBy,
		&session.CreatedAt,
		&session.UpdatedAt,
		&pausedAt,
		&endedAt,
		&archAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if timerJSON.Valid && timerJSON.String != "" {
		var timer types.TimerState
		if err := json.Unmarshal([]byte(timerJSON.String), &timer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timer state: %w", err)
		}
		session.TimerState = &timer
	}
	if err := json.Unmarshal([]byte(boardJSON), &session.BoardState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board state: %w", err)
	}

	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	session.SecretsUnlockedAt = timePtr(unlockedAt)
	session.SecretsUnlockedBy = stringPtr(unlockedBy)
	session.PausedAt = timePtr(pausedAt)
	session.EndedAt = timePtr(endedAt)
	session.ArchivedAt = timePtr(archAt)

	return &session, nil
}
