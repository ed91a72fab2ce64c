package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "config-test-secret-0123"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playsession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())

	assert.Error(t, cfg.Validate(), "defaults carry no secret")
	assert.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty sqlite path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"zero db timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }},
		{"negative port", func(c *Config) { c.HTTP.Port = -1 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"negative rate limit", func(c *Config) { c.HTTP.RateLimit = -1 }},
		{"negative keypad attempts", func(c *Config) { c.HTTP.KeypadAttempts = -1 }},
		{"zero keypad window", func(c *Config) { c.HTTP.KeypadWindow = 0 }},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"zero token ttl", func(c *Config) { c.Auth.ParticipantTokenTTL = 0 }},
		{"zero queue", func(c *Config) { c.Broadcast.QueueSize = 0 }},
		{"negative redis db", func(c *Config) { c.Broadcast.RedisDB = -1 }},
		{"negative seq ttl", func(c *Config) { c.Broadcast.SeqTTL = -time.Second }},
		{"negative game cache ttl", func(c *Config) { c.Database.GameCacheTTL = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("postgres with dsn", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Driver = DriverPostgres
		cfg.Database.DSN = "postgres://localhost/playsession"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
database:
  driver: postgres
  dsn: postgres://play@db/playsession
http:
  port: 9090
  allowed_origins: ["https://lekbanken.example"]
websocket:
  ping_interval: 20s
auth:
  jwt_secret: file-secret-0123456789
broadcast:
  redis_addr: redis:6379
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://lekbanken.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 20*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, "redis:6379", cfg.Broadcast.RedisAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "http:\n  prot: 9090\nauth:\n  jwt_secret: file-secret-0123456789\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeFile(t, "auth:\n  jwt_secret: file-secret-0123456789\n---\nhttp:\n  port: 1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "http:\n  port: 9090\nauth:\n  jwt_secret: file-secret-0123456789\n")
	t.Setenv("PLAYSESSION_HTTP_PORT", "7777")
	t.Setenv("PLAYSESSION_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PLAYSESSION_AUTH_PARTICIPANT_TOKEN_TTL", "2h")
	t.Setenv("PLAYSESSION_REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 2*time.Hour, cfg.Auth.ParticipantTokenTTL)
	assert.Equal(t, 3, cfg.Broadcast.RedisDB)
	assert.Equal(t, "file-secret-0123456789", cfg.Auth.JWTSecret)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("PLAYSESSION_AUTH_JWT_SECRET", testSecret)
	t.Setenv("PLAYSESSION_DATABASE_PATH", "/tmp/play.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/play.db", cfg.Database.Path)
}

func TestLoad_MalformedEnv(t *testing.T) {
	t.Setenv("PLAYSESSION_AUTH_JWT_SECRET", testSecret)

	t.Run("port", func(t *testing.T) {
		t.Setenv("PLAYSESSION_HTTP_PORT", "invalid")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PLAYSESSION_HTTP_PORT")
	})
	t.Run("duration", func(t *testing.T) {
		t.Setenv("PLAYSESSION_HTTP_READ_TIMEOUT", "soon")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PLAYSESSION_HTTP_READ_TIMEOUT")
	})
}
