package database

import (
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration for the SQLite store.
type Config struct {
	DatabasePath    string        `json:"database_path" yaml:"database_path"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	BusyRetryDelay  time.Duration `json:"busy_retry_delay" yaml:"busy_retry_delay"`

	// MigrationsPath overrides the embedded migrations when set.
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

// DefaultConfig returns production-ready database configuration.
// SQLite serves concurrent reads well with a small pool; writes go through one goroutine.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/playsession.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteTimeout:    30 * time.Second,
		BusyRetryDelay:  100 * time.Millisecond,
	}
}

// Validate ensures the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.BusyRetryDelay < 0 {
		return errors.New("busy retry delay cannot be negative")
	}
	return nil
}

// DSN returns the go-sqlite3 connection string with the pragmas every pooled
// connection needs.
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"
}
