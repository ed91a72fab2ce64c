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

const outcomeColumns = `id, session_id, title, body, outcome_type, decision_id, step_index, phase_index, revealed_at, created_at, updated_at`

const decisionColumns = `id, session_id, title, options, result, step_index, phase_index, revealed_at, created_at, updated_at`

// CreateOutcome inserts a host-authored outcome.
func (m *Manager) CreateOutcome(ctx context.Context, outcome *types.Outcome) error {
	return m.executeWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO session_outcomes (`+outcomeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			outcome.ID,
			outcome.SessionID,
			outcome.Title,
			outcome.Body,
			outcome.OutcomeType,
			stringArg(outcome.DecisionID),
			intArg(outcome.StepIndex),
			intArg(outcome.PhaseIndex),
			timeArg(outcome.RevealedAt),
			outcome.CreatedAt.UTC(),
			outcome.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert outcome: %w", classifyError(err))
		}
		return nil
	})
}

// UpdateOutcome loads, mutates and persists one outcome of a session.
func (m *Manager) UpdateOutcome(ctx context.Context, sessionID, outcomeID string, mutate func(*types.Outcome) error) (*types.Outcome, error) {
	var updated *types.Outcome
	err := m.executeWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM session_outcomes WHERE id = ? AND session_id = ?`, outcomeID, sessionID)
		outcome, err := scanOutcome(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("outcome %s: %w", outcomeID, interfaces.ErrNotFound)
			}
			return err
		}
		if err := mutate(outcome); err != nil {
			return err
		}
		outcome.UpdatedAt = now()

		_, err = tx.ExecContext(ctx, `
			UPDATE session_outcomes SET title = ?, body = ?, outcome_type = ?, decision_id = ?, revealed_at = ?, updated_at = ?
			WHERE id = ?`,
			outcome.Title, outcome.Body, outcome.OutcomeType, stringArg(outcome.DecisionID),
			timeArg(outcome.RevealedAt), outcome.UpdatedAt, outcome.ID,
		)
		if err != nil {
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
func (m *Manager) ListOutcomes(ctx context.Context, sessionID string) ([]types.Outcome, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+outcomeColumns+` FROM session_outcomes WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outcomes []types.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, rows.Err()
}

func scanOutcome(row rowScanner) (*types.Outcome, error) {
	var (
		o                 types.Outcome
		decisionID        sql.NullString
		stepIdx, phaseIdx sql.NullInt64
		revealedAt        sql.NullTime
	)
	err := row.Scan(&o.ID, &o.SessionID, &o.Title, &o.Body, &o.OutcomeType, &decisionID,
		&stepIdx, &phaseIdx, &revealedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan outcome row: %w", err)
	}
	o.DecisionID = stringPtr(decisionID)
	o.StepIndex = intPtr(stepIdx)
	o.PhaseIndex = intPtr(phaseIdx)
	o.RevealedAt = timePtr(revealedAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

// CreateDecision inserts a host-authored decision.
func (m *Manager) CreateDecision(ctx context.Context, decision *types.Decision) error {
	return m.executeWrite(ctx, func(tx *sql.Tx) error {
		optionsJSON, err := marshalJSON(decision.Options)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO session_decisions (`+decisionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			decision.ID,
			decision.SessionID,
			decision.Title,
			optionsJSON,
			stringArg(decision.Result),
			intArg(decision.StepIndex),
			intArg(decision.PhaseIndex),
			timeArg(decision.RevealedAt),
			decision.CreatedAt.UTC(),
			decision.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert decision: %w", classifyError(err))
		}
		return nil
	})
}

// UpdateDecision loads, mutates and persists one decision of a session.
func (m *Manager) UpdateDecision(ctx context.Context, sessionID, decisionID string, mutate func(*types.Decision) error) (*types.Decision, error) {
	var updated *types.Decision
	err := m.executeWrite(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM session_decisions WHERE id = ? AND session_id = ?`, decisionID, sessionID)
		decision, err := scanDecision(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("decision %s: %w", decisionID, interfaces.ErrNotFound)
			}
			return err
		}
		if err := mutate(decision); err != nil {
			return err
		}
		decision.UpdatedAt = now()

		optionsJSON, err := marshalJSON(decision.Options)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE session_decisions SET title = ?, options = ?, result = ?, revealed_at = ?, updated_at = ?
			WHERE id = ?`,
			decision.Title, optionsJSON, stringArg(decision.Result), timeArg(decision.RevealedAt),
			decision.UpdatedAt, decision.ID,
		)
		if err != nil {
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
func (m *Manager) ListDecisions(ctx context.Context, sessionID string) ([]types.Decision, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM session_decisions WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func scanDecision(row rowScanner) (*types.Decision, error) {
	var (
		d                 types.Decision
		optionsJSON       string
		result            sql.NullString
		stepIdx, phaseIdx sql.NullInt64
		revealedAt        sql.NullTime
	)
	err := row.Scan(&d.ID, &d.SessionID, &d.Title, &optionsJSON, &result,
		&stepIdx, &phaseIdx, &revealedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan decision row: %w", err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &d.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision options: %w", err)
	}
	d.Result = stringPtr(result)
	d.StepIndex = intPtr(stepIdx)
	d.PhaseIndex = intPtr(phaseIdx)
	d.RevealedAt = timePtr(revealedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
