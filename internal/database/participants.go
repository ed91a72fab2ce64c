package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// CreateParticipant inserts a joined participant. Token collisions return interfaces.ErrDuplicate.
func (m *Manager) CreateParticipant(ctx context.Context, participant *types.Participant) error {
	return m.executeWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO participants (id, session_id, display_name, token, token_expires_at, joined_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			participant.ID,
			participant.SessionID,
			participant.DisplayName,
			participant.Token,
			participant.TokenExpiresAt.UTC(),
			participant.JoinedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", classifyError(err))
		}
		return nil
	})
}

// GetParticipantByToken returns the session participant holding token.
func (m *Manager) GetParticipantByToken(ctx context.Context, sessionID, token string) (*types.Participant, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, session_id, display_name, token, token_expires_at, joined_at
		FROM participants WHERE session_id = ? AND token = ?`, sessionID, token)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListParticipants returns a session's participants in join order.
func (m *Manager) ListParticipants(ctx context.Context, sessionID string) ([]types.Participant, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, display_name, token, token_expires_at, joined_at
		FROM participants WHERE session_id = ? ORDER BY joined_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var participants []types.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

// CountParticipants returns the number of participants in a session.
func (m *Manager) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

func scanParticipant(row rowScanner) (*types.Participant, error) {
	var p types.Participant
	if err := row.Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.Token, &p.TokenExpiresAt, &p.JoinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan participant row: %w", err)
	}
	p.TokenExpiresAt = p.TokenExpiresAt.UTC()
	p.JoinedAt = p.JoinedAt.UTC()
	return &p, nil
}

// UpsertAssignments writes role assignments keyed by (session_id, participant_id).
// Changing a participant's role clears their revealed_at.
func (m *Manager) UpsertAssignments(ctx context.Context, sessionID string, assignments []types.RoleAssignment) error {
	return m.executeWrite(ctx, func(tx *sql.Tx) error {
		for _, a := range assignments {
			assignedAt := a.AssignedAt
			if assignedAt.IsZero() {
				assignedAt = now()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO session_role_assignments (session_id, participant_id, role_id, assigned_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(session_id, participant_id) DO UPDATE SET
					revealed_at = CASE WHEN role_id = excluded.role_id THEN revealed_at ELSE NULL END,
					role_id = excluded.role_id,
					assigned_at = excluded.assigned_at`,
				sessionID, a.ParticipantID, a.RoleID, assignedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert assignment for %s: %w", a.ParticipantID, err)
			}
		}
		return nil
	})
}

// ListAssignments returns a session's role assignments.
func (m *Manager) ListAssignments(ctx context.Context, sessionID string) ([]types.RoleAssignment, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, participant_id, role_id, assigned_at, revealed_at
		FROM session_role_assignments WHERE session_id = ? ORDER BY assigned_at, participant_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []types.RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

// MarkSecretRevealed stamps revealed_at on the participant's assignment once.
func (m *Manager) MarkSecretRevealed(ctx context.Context, sessionID, participantID string, at time.Time, guard func(*types.Session) error) (*types.RoleAssignment, error) {
	var assignment *types.RoleAssignment
	err := m.executeWrite(ctx, func(tx *sql.Tx) error {
		session, err := getSessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(session); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE session_role_assignments SET revealed_at = ?
			WHERE session_id = ? AND participant_id = ? AND revealed_at IS NULL`,
			at.UTC(), sessionID, participantID,
		); err != nil {
			return fmt.Errorf("failed to mark secret revealed: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT session_id, participant_id, role_id, assigned_at, revealed_at
			FROM session_role_assignments WHERE session_id = ? AND participant_id = ?`, sessionID, participantID)
		assignment, err = scanAssignment(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("assignment for %s: %w", participantID, interfaces.ErrNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

func scanAssignment(row rowScanner) (*types.RoleAssignment, error) {
	var (
		a          types.RoleAssignment
		revealedAt sql.NullTime
	)
	if err := row.Scan(&a.SessionID, &a.ParticipantID, &a.RoleID, &a.AssignedAt, &revealedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan assignment row: %w", err)
	}
	a.AssignedAt = a.AssignedAt.UTC()
	a.RevealedAt = timePtr(revealedAt)
	return &a, nil
}
