// Package config loads service settings from defaults, a YAML file and
// PLAYSESSION_* environment variables, in that order of increasing priority.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLAYSESSION_"

// MinJWTSecretLength is the shortest accepted host token secret.
const MinJWTSecretLength = 16

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Auth      AuthConfig      `yaml:"auth"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the session store. Path is used by sqlite, DSN by postgres.
type DatabaseConfig struct {
	Driver  string        `yaml:"driver"`
	Path    string        `yaml:"path"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`

	// GameCacheTTL bounds how stale a cached game may get when another
	// instance imports it. Zero caches until a local import.
	GameCacheTTL time.Duration `yaml:"game_cache_ttl"`
}

// HTTPConfig sizes the API listener. Port 0 binds any free port.
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit      int      `yaml:"rate_limit"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// KeypadAttempts caps wrong keypad codes per participant and variant
	// within KeypadWindow; zero disables it.
	KeypadAttempts int           `yaml:"keypad_attempts"`
	KeypadWindow   time.Duration `yaml:"keypad_window"`
}

// WebSocketConfig carries subscriber heartbeat and buffering.
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret           string        `yaml:"jwt_secret"`
	Issuer              string        `yaml:"issuer"`
	HostTokenTTL        time.Duration `yaml:"host_token_ttl"`
	ParticipantTokenTTL time.Duration `yaml:"participant_token_ttl"`
}

// BroadcastConfig sizes the dispatcher. A non-empty RedisAddr fans broadcasts
// out across instances and keeps seq counters in Redis.
type BroadcastConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	DeliverTimeout time.Duration `yaml:"deliver_timeout"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	SeqTTL         time.Duration `yaml:"seq_ttl"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FUNCTIONAL DISCOVERY: defaults run a single instance on a local SQLite file.
// A JWT secret has no default and must always be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			Path:         "./data/playsession.db",
			Timeout:      30 * time.Second,
			GameCacheTTL: time.Minute,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       600,
			KeypadAttempts:  10,
			KeypadWindow:    time.Minute,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: AuthConfig{
			Issuer:              "playsession",
			HostTokenTTL:        12 * time.Hour,
			ParticipantTokenTTL: 24 * time.Hour,
		},
		Broadcast: BroadcastConfig{
			QueueSize:      1000,
			DeliverTimeout: 5 * time.Second,
			SeqTTL:         48 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("HTTP rate limit cannot be negative")
	}
	if c.HTTP.KeypadAttempts < 0 {
		return errors.New("keypad attempts cannot be negative")
	}
	if c.HTTP.KeypadAttempts > 0 && c.HTTP.KeypadWindow <= 0 {
		return errors.New("keypad window must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth jwt secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.ParticipantTokenTTL <= 0 || c.Auth.HostTokenTTL <= 0 {
		return errors.New("auth token lifetimes must be positive")
	}

	if c.Broadcast.QueueSize <= 0 {
		return errors.New("broadcast queue size must be positive")
	}
	if c.Broadcast.DeliverTimeout <= 0 {
		return errors.New("broadcast deliver timeout must be positive")
	}
	if c.Broadcast.RedisDB < 0 {
		return errors.New("broadcast redis db cannot be negative")
	}
	if c.Broadcast.SeqTTL < 0 || c.Database.GameCacheTTL < 0 {
		return errors.New("cache lifetimes cannot be negative")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Load builds the configuration: defaults, then the optional YAML file at
// path, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFile overlays a YAML file. Unknown keys are rejected.
func (c *Config) applyFile(path string) error {
	// #nosec G304 -- the path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s contains more than one document", path)
	}
	return nil
}

// envReader collects the first malformed override.
type envReader struct {
	lookup func(string) string
	err    error
}

func (r *envReader) str(name string, dst *string) {
	if v := r.lookup(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func (r *envReader) int(name string, dst *int) {
	v := r.lookup(EnvPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, err)
		return
	}
	*dst = n
}

func (r *envReader) duration(name string, dst *time.Duration) {
	v := r.lookup(EnvPrefix + name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(name, err)
		return
	}
	*dst = d
}

func (r *envReader) list(name string, dst *[]string) {
	v := r.lookup(EnvPrefix + name)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (r *envReader) fail(name string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
}

// FUNCTIONAL DISCOVERY: Environment variables override file and defaults
// Supports containerized deployments where secrets arrive via the environment
func (c *Config) applyEnv(lookup func(string) string) error {
	r := &envReader{lookup: lookup}

	r.str("DATABASE_DRIVER", &c.Database.Driver)
	r.str("DATABASE_PATH", &c.Database.Path)
	r.str("DATABASE_DSN", &c.Database.DSN)
	r.duration("DATABASE_TIMEOUT", &c.Database.Timeout)
	r.duration("DATABASE_GAME_CACHE_TTL", &c.Database.GameCacheTTL)

	r.str("HTTP_HOST", &c.HTTP.Host)
	r.int("HTTP_PORT", &c.HTTP.Port)
	r.duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	r.duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	r.duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	r.int("HTTP_RATE_LIMIT", &c.HTTP.RateLimit)
	r.list("HTTP_ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)
	r.int("HTTP_KEYPAD_ATTEMPTS", &c.HTTP.KeypadAttempts)
	r.duration("HTTP_KEYPAD_WINDOW", &c.HTTP.KeypadWindow)

	r.duration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	r.duration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	r.duration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	r.int("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)

	r.str("AUTH_JWT_SECRET", &c.Auth.JWTSecret)
	r.str("AUTH_ISSUER", &c.Auth.Issuer)
	r.duration("AUTH_HOST_TOKEN_TTL", &c.Auth.HostTokenTTL)
	r.duration("AUTH_PARTICIPANT_TOKEN_TTL", &c.Auth.ParticipantTokenTTL)

	r.int("BROADCAST_QUEUE_SIZE", &c.Broadcast.QueueSize)
	r.duration("BROADCAST_DELIVER_TIMEOUT", &c.Broadcast.DeliverTimeout)
	r.str("REDIS_ADDR", &c.Broadcast.RedisAddr)
	r.str("REDIS_PASSWORD", &c.Broadcast.RedisPassword)
	r.int("REDIS_DB", &c.Broadcast.RedisDB)
	r.duration("BROADCAST_SEQ_TTL", &c.Broadcast.SeqTTL)

	r.str("LOG_LEVEL", &c.Log.Level)
	r.str("LOG_FORMAT", &c.Log.Format)

	return r.err
}
