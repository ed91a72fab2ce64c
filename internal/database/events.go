package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"playsession/pkg/types"
)

// AppendEvent adds one entry to the session audit log.
func (m *Manager) AppendEvent(ctx context.Context, event *types.SessionEvent) error {
	return m.executeWrite(ctx, func(tx *sql.Tx) error {
		payload := event.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		payloadJSON, err := marshalJSON(payload)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_events (id, session_id, event_type, actor_type, actor_id, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.SessionID, event.EventType, event.ActorType, event.ActorID,
			payloadJSON, event.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session event: %w", classifyError(err))
		}
		return nil
	})
}

// ListEvents returns the newest events first, at most limit rows.
func (m *Manager) ListEvents(ctx context.Context, sessionID string, limit int) ([]types.SessionEvent, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, actor_type, actor_id, payload, created_at
		FROM session_events WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.SessionEvent
	for rows.Next() {
		var (
			e           types.SessionEvent
			payloadJSON string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.ActorType, &e.ActorID, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
