// Package config provides centralized configuration management for the
// import service. Settings come from environment variables with defaults
// and are validated on startup so misconfiguration fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Storage  StorageConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout stays 0 so progress streams are not cut off
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is read when
	// DATABASE_URL is unset.
	URL string `env:"DATABASE_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" envDefault:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
}

// ImportConfig holds import engine and job settings.
type ImportConfig struct {
	// SleepInterval is the pause after each created row
	SleepInterval time.Duration `env:"IMPORT_SLEEP_INTERVAL" envDefault:"300ms"`

	// MaxRows is the largest number of data rows per file
	MaxRows int `env:"IMPORT_MAX_ROWS" envDefault:"500"`

	// CreateTimeout bounds a single row's creation; 0 disables it
	CreateTimeout time.Duration `env:"IMPORT_CREATE_TIMEOUT" envDefault:"30s"`

	// StrictDates rejects rows with unparsable DD.MM.YYYY dates
	StrictDates bool `env:"IMPORT_STRICT_DATES" envDefault:"false"`

	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" envDefault:"5"`
	MaxWaitTime   time.Duration `env:"IMPORT_MAX_WAIT_TIME" envDefault:"30s"`

	// JobTimeout is the maximum duration of one import job
	JobTimeout time.Duration `env:"IMPORT_JOB_TIMEOUT" envDefault:"30m"`

	// MaxFileSize is the largest accepted upload in bytes (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envDefault:"20971520"`

	// MessagesFile optionally points to a YAML file overriding the
	// user facing error messages
	MessagesFile string `env:"IMPORT_MESSAGES_FILE"`

	// RetainResults is how long finished jobs stay queryable
	RetainResults time.Duration `env:"IMPORT_RETAIN_RESULTS" envDefault:"5m"`
}

// StorageConfig holds S3 settings for importing files by URL.
type StorageConfig struct {
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`

	// PathStyle is needed for MinIO and most S3 compatible stores
	PathStyle bool `env:"S3_PATH_STYLE" envDefault:"true"`
}

// Enabled reports whether S3 credentials are configured.
func (c StorageConfig) Enabled() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// forwarding headers are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// RequireAuth protects the API with an API key or a bearer token
	RequireAuth bool `env:"REQUIRE_AUTH" envDefault:"false"`

	APIKeys []string `env:"API_KEYS" envSeparator:","`

	// JWTSecret enables HS256 bearer tokens when set
	JWTSecret string `env:"JWT_SECRET"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`

	// File additionally writes logs to a rotated file when set
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
