// Package config loads pagekeeper settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/internal/retry"
)

// Files backends.
const (
	FilesLocal = "local"
	FilesMinIO = "minio"
)

// Config is the full daemon configuration. MinIO credentials are read by
// the minio package itself.
type Config struct {
	DBPath          string        `env:"PAGEKEEPER_DB_PATH" envDefault:"pagekeeper.db"`
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	PoolSize        int           `env:"PAGEKEEPER_POOL_SIZE" envDefault:"4"`
	SavedPagesDir   string        `env:"PAGEKEEPER_SAVED_PAGES_DIR" envDefault:"saved-pages"`
	FilesBackend    string        `env:"PAGEKEEPER_FILES_BACKEND" envDefault:"local"`
	MinIOBucket     string        `env:"PAGEKEEPER_MINIO_BUCKET"`
	MinIOPrefix     string        `env:"PAGEKEEPER_MINIO_PREFIX" envDefault:"saved-pages"`
	PageCacheSize   int           `env:"PAGEKEEPER_PAGE_CACHE_SIZE" envDefault:"256"`
	APITokens       []string      `env:"PAGEKEEPER_API_TOKENS" envSeparator:","`
	APITokensFile   string        `env:"PAGEKEEPER_API_TOKENS_FILE"`
	RetryAttempts   int           `env:"PAGEKEEPER_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoffMS  []int         `env:"PAGEKEEPER_RETRY_BACKOFF_MS" envSeparator:"," envDefault:"500,2000"`
	ShutdownTimeout time.Duration `env:"PAGEKEEPER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("PAGEKEEPER_DB_PATH must not be empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGEKEEPER_POOL_SIZE must be positive, got %d", c.PoolSize))
	}
	switch c.FilesBackend {
	case FilesLocal:
		if c.SavedPagesDir == "" {
			errs = append(errs, errors.New("PAGEKEEPER_SAVED_PAGES_DIR is required for the local files backend"))
		}
	case FilesMinIO:
		if c.MinIOBucket == "" {
			errs = append(errs, errors.New("PAGEKEEPER_MINIO_BUCKET is required for the minio files backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAGEKEEPER_FILES_BACKEND %q (want %s or %s)", c.FilesBackend, FilesLocal, FilesMinIO))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Retry is the retry policy for remote file and network operations.
func (c Config) Retry() retry.Config {
	return retry.FromMillis(c.RetryAttempts, c.RetryBackoffMS, retry.Config{
		MaxAttempts: 3,
		Delays:      []time.Duration{500 * time.Millisecond, 2 * time.Second},
	})
}

// ConfigureLogging applies the log level and format to the standard logger.
func (c Config) ConfigureLogging() {
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
