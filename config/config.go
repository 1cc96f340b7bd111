package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds everything the server needs to start
type Config struct {
	Addr        string        `yaml:"addr"`
	StoreDriver string        `yaml:"store_driver"` // sqlite or postgres
	SQLitePath  string        `yaml:"sqlite_path"`
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"` // empty disables the deployment feed
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	CORSOrigins []string      `yaml:"cors_origins"`

	// DisableLogin removes the development login route; tokens must then come
	// from an external identity provider sharing JWTSecret.
	DisableLogin bool `yaml:"disable_login"`

	PresenceRefCount bool          `yaml:"presence_refcount"`
	ClientBuffer     int           `yaml:"client_buffer"`
	PersistTimeout   time.Duration `yaml:"persist_timeout"`

	// LogFormat is text or json; LogPersistFailures is quiet or verbose
	LogLevel           string `yaml:"log_level"`
	LogFormat          string `yaml:"log_format"`
	LogPersistFailures string `yaml:"log_persist_failures"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Addr:               ":3001",
		StoreDriver:        DriverSQLite,
		SQLitePath:         "./kanban.db",
		TokenTTL:           7 * 24 * time.Hour,
		CORSOrigins:        []string{"*"},
		ClientBuffer:       256,
		PersistTimeout:     10 * time.Second,
		LogLevel:           "info",
		LogFormat:          "text",
		LogPersistFailures: "quiet",
	}
}

// Load builds the configuration from defaults, an optional .env file, an
// optional YAML file at path and finally the process environment.
func Load(envFile, path string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := LoadEnv(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ADDR"); v != "" {
		c.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
	setString(&c.StoreDriver, "STORE_DRIVER")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.LogPersistFailures, "LOG_PERSIST_FAILURES")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	var err error
	if c.TokenTTL, err = getenvDuration("TOKEN_TTL", c.TokenTTL); err != nil {
		return err
	}
	if c.PersistTimeout, err = getenvDuration("PERSIST_TIMEOUT", c.PersistTimeout); err != nil {
		return err
	}
	if c.ClientBuffer, err = getenvInt("CLIENT_BUFFER", c.ClientBuffer); err != nil {
		return err
	}
	if c.PresenceRefCount, err = getenvBool("PRESENCE_REFCOUNT", c.PresenceRefCount); err != nil {
		return err
	}
	if c.DisableLogin, err = getenvBool("DISABLE_LOGIN", c.DisableLogin); err != nil {
		return err
	}
	return nil
}

// Validate reports the first setting that cannot work
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.ClientBuffer <= 0 {
		return fmt.Errorf("client_buffer must be positive, got %d", c.ClientBuffer)
	}
	return nil
}

// LoadEnv loads environment variables from a .env file
func LoadEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue // Skip malformed lines
		}

		key := strings.TrimSpace(strings.TrimPrefix(parts[0], "export "))
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)

		// Real environment wins over the file
		if _, set := os.LookupEnv(key); set {
			continue
		}
		os.Setenv(key, value)
	}
	return scanner.Err()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
