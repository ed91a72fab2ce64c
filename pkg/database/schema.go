package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// SchemaValidator verifies a migrated database before the server accepts traffic.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{
	"games",
	"game_steps",
	"game_phases",
	"game_roles",
	"game_artifacts",
	"game_artifact_variants",
	"game_triggers",
	"sessions",
	"session_trigger_state",
	"session_trigger_fire_keys",
	"session_outcomes",
	"session_decisions",
	"participants",
	"session_role_assignments",
	"session_artifact_state",
	"session_events",
	"schema_migrations",
}

var requiredIndexes = []string{
	"idx_sessions_status",
	"idx_sessions_host",
	"idx_participants_session",
	"idx_outcomes_session",
	"idx_decisions_session",
	"idx_events_session_time",
}

// ValidateAll runs every check in order and returns the first failure.
func (v *SchemaValidator) ValidateAll() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure checks the columns the stores scan into Go structs.
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"sessions": {
			"id":                              "TEXT",
			"game_id":                         "TEXT",
			"host_user_id":                    "TEXT",
			"code":                            "TEXT",
			"status":                          "TEXT",
			"current_step_index":              "INTEGER",
			"current_phase_index":             "INTEGER",
			"timer_state":                     "TEXT",
			"board_state":                     "TEXT",
			"secret_instructions_unlocked_at": "DATETIME",
			"updated_at":                      "DATETIME",
		},
		"session_trigger_state": {
			"session_id":  "TEXT",
			"trigger_id":  "TEXT",
			"status":      "TEXT",
			"fired_count": "INTEGER",
			"fired_at":    "DATETIME",
		},
		"session_role_assignments": {
			"session_id":     "TEXT",
			"participant_id": "TEXT",
			"role_id":        "TEXT",
			"revealed_at":    "DATETIME",
		},
		"game_artifact_variants": {
			"visibility":         "TEXT",
			"visible_to_role_id": "TEXT",
			"step_index":         "INTEGER",
			"phase_index":        "INTEGER",
		},
	}

	tables := make([]string, 0, len(expected))
	for table := range expected {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		if err := v.validateColumns(table, expected[table]); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints probes the foreign key and check constraints the
// stores rely on. Probe rows never survive: every insert runs in a rolled-back transaction.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, game_id, host_user_id, code, status, created_at, updated_at)
		VALUES ('probe-session', 'no-such-game', 'probe', 'PROBE1', 'draft', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: sessions.game_id")
	}

	if _, err := tx.Exec(`INSERT INTO games (id, name) VALUES ('probe-game', 'probe')`); err != nil {
		return fmt.Errorf("failed to create probe game: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, game_id, host_user_id, code, status, created_at, updated_at)
		VALUES ('probe-session', 'probe-game', 'probe', 'PROBE1', 'running', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: sessions.status")
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, game_id, host_user_id, code, status, current_step_index, created_at, updated_at)
		VALUES ('probe-session', 'probe-game', 'probe', 'PROBE1', 'draft', -1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: sessions.current_step_index")
	}

	return nil
}

// tableExists checks if a table exists in the database
func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
