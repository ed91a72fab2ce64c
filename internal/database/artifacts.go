package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"playsession/pkg/types"
)

// ListArtifactStates returns the per-session variant rows that exist.
func (m *Manager) ListArtifactStates(ctx context.Context, sessionID string) ([]types.ArtifactState, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, variant_id, revealed_at, highlighted_at, updated_at
		FROM session_artifact_state WHERE session_id = ? ORDER BY variant_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []types.ArtifactState
	for rows.Next() {
		st, err := scanArtifactState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

// UpdateArtifactState upserts one variant's runtime state. A missing row is
// presented to mutate as hidden and unhighlighted.
func (m *Manager) UpdateArtifactState(ctx context.Context, sessionID, variantID string, mutate func(*types.ArtifactState) error) (*types.ArtifactState, error) {
	var updated *types.ArtifactState
	err := m.executeWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT session_id, variant_id, revealed_at, highlighted_at, updated_at
			FROM session_artifact_state WHERE session_id = ? AND variant_id = ?`, sessionID, variantID)
		state, err := scanArtifactState(row)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			state = &types.ArtifactState{SessionID: sessionID, VariantID: variantID}
		}

		if err := mutate(state); err != nil {
			return err
		}
		state.UpdatedAt = now()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_artifact_state (session_id, variant_id, revealed_at, highlighted_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id, variant_id) DO UPDATE SET
				revealed_at = excluded.revealed_at,
				highlighted_at = excluded.highlighted_at,
				updated_at = excluded.updated_at`,
			sessionID, variantID, timeArg(state.RevealedAt), timeArg(state.HighlightedAt), state.UpdatedAt,
		); err != nil {
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

func scanArtifactState(row rowScanner) (*types.ArtifactState, error) {
	var (
		st                      types.ArtifactState
		revealedAt, highlighted sql.NullTime
	)
	if err := row.Scan(&st.SessionID, &st.VariantID, &revealedAt, &highlighted, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan artifact state: %w", err)
	}
	st.RevealedAt = timePtr(revealedAt)
	st.HighlightedAt = timePtr(highlighted)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}
