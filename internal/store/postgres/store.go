// Package postgres implements the session store on PostgreSQL through gorm.
// Row locks (SELECT ... FOR UPDATE) take the place of the SQLite single writer.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"playsession/internal/log"
	"playsession/pkg/interfaces"
)

// PostgreSQL error codes the store classifies.
const (
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
)

// Config holds PostgreSQL connection settings.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns connection defaults; DSN must still be provided.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		ConnectAttempts: 10,
		RetryDelay:      2 * time.Second,
	}
}

// Store implements interfaces.DatabaseManager on PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open connects with retries, then migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn cannot be empty")
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 1
	}
	logger := log.WithComponent("postgres")

	var (
		db  *gorm.DB
		err error
	)
	for i := range cfg.ConnectAttempts {
		db, err = gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
			Logger: gormlogger.New(gormWriter{logger: logger}, gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			}),
		})
		if err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", i+1).Msg("postgres connection attempt failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access postgres pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &Store{db: db, logger: logger}
	if err := store.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.Info().Msg("connected to postgres")
	return store, nil
}

// Migrate creates or updates every table the store uses.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("postgres migration failed: %w", err)
	}
	return nil
}

// HealthCheck verifies connectivity and basic reads.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&sessionModel{}).Count(&count).Error; err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter routes gorm's logger through zerolog.
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Msgf(format, args...)
}

// forUpdate locks the selected rows until the surrounding transaction ends.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// classifyError maps driver errors onto the store contract errors.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return interfaces.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation {
		return fmt.Errorf("%w: %s", interfaces.ErrDuplicate, pgErr.Detail)
	}
	return err
}

func now() time.Time {
	return time.Now().UTC()
}
