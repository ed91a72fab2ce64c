package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"playsession/internal/log"
	dbconfig "playsession/pkg/database"
	"playsession/pkg/interfaces"
)

// Manager implements interfaces.DatabaseManager on SQLite.
// Reads run concurrently on the pool; every write transaction is funnelled
// through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation is one transaction queued for the writer goroutine.
type writeOperation struct {
	ctx       context.Context
	operation func(*sql.Tx) error
	result    chan error
}

// NewManager opens the database, applies pending migrations, validates the
// schema and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	source, err := dbconfig.MigrationSource(config.MigrationsPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbconfig.NewMigrationManager(db, source).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).ValidateAll(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       log.WithComponent("database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)

		case <-m.shutdown:
			m.logger.Info().Msg("database write loop shutting down")
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- ErrManagerClosed
				default:
					return
				}
			}
		}
	}
}

// runWrite executes one transaction, retrying once when SQLite reports the
// database busy or locked. Domain errors returned by the operation are never retried.
func (m *Manager) runWrite(op writeOperation) error {
	err := m.runTx(op)
	if err == nil || !isTransient(err) {
		return err
	}

	m.logger.Warn().Err(err).Dur("retry_in", m.config.BusyRetryDelay).Msg("database write busy, retrying")
	select {
	case <-time.After(m.config.BusyRetryDelay):
	case <-op.ctx.Done():
		return op.ctx.Err()
	}

	if err = m.runTx(op); err != nil && isTransient(err) {
		m.logger.Error().Err(err).Msg("database write failed after retry")
	}
	return err
}

func (m *Manager) runTx(op writeOperation) error {
	tx, err := m.db.BeginTx(op.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := op.operation(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// executeWrite queues a transaction for the writer goroutine and waits for its result.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.Tx) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// applySQLiteOptimizations applies pragmas that the DSN cannot carry.
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

// isTransient reports SQLite lock contention worth one retry.
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// classifyError maps unique constraint violations onto interfaces.ErrDuplicate.
func classifyError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", interfaces.ErrDuplicate, err)
		}
	}
	return err
}
