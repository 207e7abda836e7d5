// Package config handles configuration of the docpdf server, including
// defaults, a JSON overlay and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// Store kinds.
const (
	StoreDisk = "disk"
	StoreS3   = "s3"
	StoreMem  = "mem"
)

// Lock modes.
const (
	LockNone  = "none"
	LockMem   = "mem"
	LockFlock = "flock"
)

// Config holds runtime settings.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string

	ConverterURL     string
	ConverterEnabled bool
	ConverterTimeout time.Duration
	SettingsFile     string

	CacheMaxEntries int
	Store           string
	StoreDir        string
	DebugBackend    bool
	LockMode        string
	LockDir         string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
	S3PathStyle bool

	RepositoryRoot string
	DatabaseDSN    string

	JWTSecret string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":8080"
	c.ShutdownTimeout = 10 * time.Second
	c.LogLevel = "info"
	c.ConverterURL = "http://localhost:3000"
	c.ConverterEnabled = false
	c.ConverterTimeout = 2 * time.Minute
	c.CacheMaxEntries = 20
	c.Store = StoreDisk
	c.StoreDir = "data/renditions"
	c.LockMode = LockMem
	c.S3Region = "us-east-1"
	c.RepositoryRoot = "repositories"
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreDisk:
		if c.StoreDir == "" {
			return fmt.Errorf("store %q needs a store directory", c.Store)
		}
	case StoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("store %q needs a bucket", c.Store)
		}
	case StoreMem:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.LockMode {
	case LockNone, LockMem:
	case LockFlock:
		if c.LockDir == "" {
			return fmt.Errorf("lock mode %q needs a lock directory", c.LockMode)
		}
	default:
		return fmt.Errorf("unknown lock mode %q", c.LockMode)
	}

	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("cache max entries must be positive, got %d", c.CacheMaxEntries)
	}
	if c.DatabaseDSN == "" && c.RepositoryRoot == "" {
		return fmt.Errorf("either a repository root or a database DSN is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
