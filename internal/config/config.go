package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// TCP listener
	TCPHost              string        `env:"TCP_HOST" default:"127.0.0.1"`
	TCPPort              int           `env:"TCP_PORT" default:"7775"`
	TCPMaxConnections    int           `env:"TCP_MAX_CONNECTIONS" default:"1024"`
	TCPFrameMode         string        `env:"TCP_FRAME_MODE" default:"line"`
	TCPMaxFrameBytes     int           `env:"TCP_MAX_FRAME_BYTES" default:"1048576"`
	TCPIdleTimeout       time.Duration `env:"TCP_IDLE_TIMEOUT" default:"0"`
	TCPResponseDelimiter bool          `env:"TCP_RESPONSE_DELIMITER" default:"false"`
	TCPRateLimit         float64       `env:"TCP_RATE_LIMIT" default:"0"`
	TCPRateBurst         int           `env:"TCP_RATE_BURST" default:"20"`
	LoginStrict          bool          `env:"LOGIN_STRICT" default:"false"`

	// Store
	DBDriver        string        `env:"DB_DRIVER" default:"postgres"`
	DBHost          string        `env:"DB_HOST" default:"localhost"`
	DBPort          int           `env:"DB_PORT" default:"5432"`
	DBName          string        `env:"DB_NAME" default:"runserver"`
	DBUser          string        `env:"DB_USER" default:"postgres"`
	DBPassword      string        `env:"DB_PASSWORD"`
	DBSSLMode       string        `env:"DB_SSLMODE" default:"disable"`
	DBTable         string        `env:"DB_TABLE" default:"clients"`
	DBContentColumn string        `env:"DB_CONTENT_COLUMN" default:"contentId"`
	DatabaseURL     string        `env:"DATABASE_URL"` // overrides the DB_* parts
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" default:"5s"`

	// Redis Cache
	RedisURL      string `env:"REDIS_URL"` // empty disables the cache
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" default:"3600"`

	// Admin HTTP
	AdminHost         string        `env:"ADMIN_HOST" default:"127.0.0.1"`
	AdminPort         int           `env:"ADMIN_PORT" default:"0"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	AdminTokenSecret  string        `env:"ADMIN_TOKEN_SECRET"`
	AdminTokenTTL     time.Duration `env:"ADMIN_TOKEN_TTL" default:"15m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`
}

// LoadConfig reads .env when present, then the environment
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(".env")
}

// LoadConfigFrom is LoadConfig with explicit env files. Missing files are
// skipped; variables already set in the environment win.
func LoadConfigFrom(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	config := &Config{}
	loaders := []func() error{
		func() error { return loadEnvString(&config.GoEnv, "GO_ENV", "development") },

		func() error { return loadEnvString(&config.TCPHost, "TCP_HOST", "127.0.0.1") },
		func() error { return loadEnvInt(&config.TCPPort, "TCP_PORT", 7775) },
		func() error { return loadEnvInt(&config.TCPMaxConnections, "TCP_MAX_CONNECTIONS", 1024) },
		func() error { return loadEnvString(&config.TCPFrameMode, "TCP_FRAME_MODE", "line") },
		func() error { return loadEnvInt(&config.TCPMaxFrameBytes, "TCP_MAX_FRAME_BYTES", 1024*1024) },
		func() error { return loadEnvDuration(&config.TCPIdleTimeout, "TCP_IDLE_TIMEOUT", 0) },
		func() error { return loadEnvBool(&config.TCPResponseDelimiter, "TCP_RESPONSE_DELIMITER", false) },
		func() error { return loadEnvFloat(&config.TCPRateLimit, "TCP_RATE_LIMIT", 0) },
		func() error { return loadEnvInt(&config.TCPRateBurst, "TCP_RATE_BURST", 20) },
		func() error { return loadEnvBool(&config.LoginStrict, "LOGIN_STRICT", false) },

		func() error { return loadEnvString(&config.DBDriver, "DB_DRIVER", "postgres") },
		func() error { return loadEnvString(&config.DBHost, "DB_HOST", "localhost") },
		func() error { return loadEnvInt(&config.DBPort, "DB_PORT", 5432) },
		func() error { return loadEnvString(&config.DBName, "DB_NAME", "runserver") },
		func() error { return loadEnvString(&config.DBUser, "DB_USER", "postgres") },
		func() error { return loadEnvString(&config.DBPassword, "DB_PASSWORD", "") },
		func() error { return loadEnvString(&config.DBSSLMode, "DB_SSLMODE", "disable") },
		func() error { return loadEnvString(&config.DBTable, "DB_TABLE", "clients") },
		func() error { return loadEnvString(&config.DBContentColumn, "DB_CONTENT_COLUMN", "contentId") },
		func() error { return loadEnvString(&config.DatabaseURL, "DATABASE_URL", "") },
		func() error { return loadEnvDuration(&config.StoreTimeout, "STORE_TIMEOUT", 5*time.Second) },

		func() error { return loadEnvString(&config.RedisURL, "REDIS_URL", "") },
		func() error { return loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", "") },
		func() error { return loadEnvInt(&config.CacheTTL, "CACHE_TTL", 3600) },

		func() error { return loadEnvString(&config.AdminHost, "ADMIN_HOST", "127.0.0.1") },
		func() error { return loadEnvInt(&config.AdminPort, "ADMIN_PORT", 0) },
		func() error { return loadEnvString(&config.AdminPasswordHash, "ADMIN_PASSWORD_HASH", "") },
		func() error { return loadEnvString(&config.AdminTokenSecret, "ADMIN_TOKEN_SECRET", "") },
		func() error { return loadEnvDuration(&config.AdminTokenTTL, "ADMIN_TOKEN_TTL", 15*time.Minute) },

		func() error { return loadEnvString(&config.LogLevel, "LOG_LEVEL", "info") },
		func() error { return loadEnvString(&config.LogFormat, "LOG_FORMAT", "json") },
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// loadEnvDuration accepts Go durations ("30s") or plain seconds ("30")
func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			*target = time.Duration(secs) * time.Second
			return nil
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.TCPPort < 0 || c.TCPPort > 65535 {
		errors = append(errors, "TCP_PORT must be between 0 and 65535")
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errors = append(errors, "ADMIN_PORT must be between 0 and 65535")
	}
	if c.AdminPort != 0 && c.AdminPort == c.TCPPort && c.AdminHost == c.TCPHost {
		errors = append(errors, "ADMIN_PORT must differ from TCP_PORT")
	}
	if c.TCPMaxConnections < 0 {
		errors = append(errors, "TCP_MAX_CONNECTIONS must not be negative")
	}
	if c.TCPMaxFrameBytes <= 0 {
		errors = append(errors, "TCP_MAX_FRAME_BYTES must be positive")
	}
	if c.TCPIdleTimeout < 0 {
		errors = append(errors, "TCP_IDLE_TIMEOUT must not be negative")
	}
	if c.TCPRateLimit < 0 {
		errors = append(errors, "TCP_RATE_LIMIT must not be negative")
	}
	if c.TCPRateBurst <= 0 {
		errors = append(errors, "TCP_RATE_BURST must be positive")
	}
	if c.StoreTimeout <= 0 {
		errors = append(errors, "STORE_TIMEOUT must be positive")
	}
	if c.CacheTTL < 0 {
		errors = append(errors, "CACHE_TTL must not be negative")
	}

	validFrameModes := []string{"line", "tail"}
	if !contains(validFrameModes, c.TCPFrameMode) {
		errors = append(errors, fmt.Sprintf("TCP_FRAME_MODE must be one of: %s", strings.Join(validFrameModes, ", ")))
	}

	validDrivers := []string{"postgres", "memory"}
	if !contains(validDrivers, c.DBDriver) {
		errors = append(errors, fmt.Sprintf("DB_DRIVER must be one of: %s", strings.Join(validDrivers, ", ")))
	}
	if c.DBDriver == "postgres" && c.DatabaseURL == "" && (c.DBHost == "" || c.DBName == "") {
		errors = append(errors, "DATABASE_URL or DB_HOST and DB_NAME are required for the postgres driver")
	}
	if c.DBTable == "" {
		errors = append(errors, "DB_TABLE must not be empty")
	}

	if c.AdminPasswordHash != "" && len(c.AdminTokenSecret) < 32 {
		errors = append(errors, "ADMIN_TOKEN_SECRET should be at least 32 characters long")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// DSN is DATABASE_URL when set, otherwise a postgres URL built from the
// DB_* parts
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.DBSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Config) TCPAddr() string {
	return net.JoinHostPort(c.TCPHost, strconv.Itoa(c.TCPPort))
}

func (c *Config) AdminAddr() string {
	return net.JoinHostPort(c.AdminHost, strconv.Itoa(c.AdminPort))
}

func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// SlogLevel maps LOG_LEVEL onto slog
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// LogValue renders the effective settings for the startup banner with
// secrets redacted
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.GoEnv),
		slog.String("tcp_addr", c.TCPAddr()),
		slog.Int("max_connections", c.TCPMaxConnections),
		slog.String("frame_mode", c.TCPFrameMode),
		slog.Int("max_frame_bytes", c.TCPMaxFrameBytes),
		slog.Duration("idle_timeout", c.TCPIdleTimeout),
		slog.Bool("response_delimiter", c.TCPResponseDelimiter),
		slog.Float64("rate_limit", c.TCPRateLimit),
		slog.Bool("login_strict", c.LoginStrict),
		slog.String("db_driver", c.DBDriver),
		slog.String("db_dsn", redactDSN(c.DSN())),
		slog.String("db_table", c.DBTable),
		slog.String("redis_url", redactDSN(c.RedisURL)),
		slog.Int("admin_port", c.AdminPort),
		slog.Bool("admin_auth", c.AdminPasswordHash != ""),
		slog.String("log_level", c.LogLevel),
	)
}

// redactDSN masks the password of a URL-style connection string
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		// key=value style, may carry a password anywhere
		return "[redacted]"
	}
	if u.User == nil {
		return dsn
	}
	return u.Redacted()
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
