package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration accepts "1m30s" style strings as well as integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
}

// JSONConfig is the file representation of Config. Absent keys leave the
// corresponding field unchanged.
type JSONConfig struct {
	ListenAddr      *string   `json:"listen"`
	ShutdownTimeout *Duration `json:"shutdown_timeout"`
	LogLevel        *string   `json:"log_level"`

	ConverterURL     *string   `json:"converter_url"`
	ConverterEnabled *bool     `json:"converter_enabled"`
	ConverterTimeout *Duration `json:"converter_timeout"`
	SettingsFile     *string   `json:"settings_file"`

	CacheMaxEntries *int    `json:"cache_max_entries"`
	Store           *string `json:"store"`
	StoreDir        *string `json:"store_dir"`
	DebugBackend    *bool   `json:"debug_backend"`
	LockMode        *string `json:"lock_mode"`
	LockDir         *string `json:"lock_dir"`

	S3Bucket    *string `json:"s3_bucket"`
	S3Region    *string `json:"s3_region"`
	S3Endpoint  *string `json:"s3_endpoint"`
	S3AccessKey *string `json:"s3_access_key"`
	S3SecretKey *string `json:"s3_secret_key"`
	S3Prefix    *string `json:"s3_prefix"`
	S3PathStyle *bool   `json:"s3_path_style"`

	RepositoryRoot *string `json:"repository_root"`
	DatabaseDSN    *string `json:"database_dsn"`

	JWTSecret *string `json:"jwt_secret"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// loadJSON overlays the file at path onto c.
func (c *Config) loadJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var j JSONConfig
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	set(&c.ListenAddr, j.ListenAddr)
	setDuration(&c.ShutdownTimeout, j.ShutdownTimeout)
	set(&c.LogLevel, j.LogLevel)
	set(&c.ConverterURL, j.ConverterURL)
	set(&c.ConverterEnabled, j.ConverterEnabled)
	setDuration(&c.ConverterTimeout, j.ConverterTimeout)
	set(&c.SettingsFile, j.SettingsFile)
	set(&c.CacheMaxEntries, j.CacheMaxEntries)
	set(&c.Store, j.Store)
	set(&c.StoreDir, j.StoreDir)
	set(&c.DebugBackend, j.DebugBackend)
	set(&c.LockMode, j.LockMode)
	set(&c.LockDir, j.LockDir)
	set(&c.S3Bucket, j.S3Bucket)
	set(&c.S3Region, j.S3Region)
	set(&c.S3Endpoint, j.S3Endpoint)
	set(&c.S3AccessKey, j.S3AccessKey)
	set(&c.S3SecretKey, j.S3SecretKey)
	set(&c.S3Prefix, j.S3Prefix)
	set(&c.S3PathStyle, j.S3PathStyle)
	set(&c.RepositoryRoot, j.RepositoryRoot)
	set(&c.DatabaseDSN, j.DatabaseDSN)
	set(&c.JWTSecret, j.JWTSecret)
	return nil
}
