package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ADDR", "PORT", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "REDIS_URL",
		"JWT_SECRET", "TOKEN_TTL", "CORS_ORIGINS", "PRESENCE_REFCOUNT", "CLIENT_BUFFER",
		"PERSIST_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "LOG_PERSIST_FAILURES", "DISABLE_LOGIN",
	} {
		// Setenv registers the restore, Unsetenv leaves it unset for the test
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 256, cfg.ClientBuffer)
	assert.False(t, cfg.DisableLogin)
}

func TestLoadLayers(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "kanban.yml", `
addr: ":8080"
store_driver: postgres
database_url: postgres://file
token_ttl: 24h
cors_origins: ["https://a.example", "https://b.example"]
presence_refcount: true
disable_login: true
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("CLIENT_BUFFER", "64")

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL, "environment overrides the file")
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.PresenceRefCount)
	assert.True(t, cfg.DisableLogin)
	assert.Equal(t, 64, cfg.ClientBuffer)
}

func TestLoadPortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"CLIENT_BUFFER":     "lots",
		"TOKEN_TTL":         "a week",
		"PRESENCE_REFCOUNT": "maybe",
		"DISABLE_LOGIN":     "sometimes",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load("", "")
			assert.ErrorContains(t, err, key)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load("", filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		clearEnv(t)
		_, err := Load("", writeFile(t, "bad.yml", "addr: [unterminated"))
		assert.Error(t, err)
	})
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")
	env := writeFile(t, ".env", `
# comment
JWT_SECRET="from-file"
export REDIS_URL='redis://localhost:6379/0'
LOG_LEVEL=debug
not a pair
`)
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("REDIS_URL")
	})

	cfg, err := Load(env, "")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "warn", cfg.LogLevel, "process environment wins over .env")

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"), "")
	assert.NoError(t, err, "a missing .env file is not an error")
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.JWTSecret = "s"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no secret", func(c *Config) { c.JWTSecret = "" }},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }},
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }},
		{"sqlite without path", func(c *Config) { c.SQLitePath = "" }},
		{"zero buffer", func(c *Config) { c.ClientBuffer = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
