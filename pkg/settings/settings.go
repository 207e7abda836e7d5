// Package settings holds the conversion server settings that can be changed
// at runtime.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// DefaultURL is where the conversion server is expected unless configured.
const DefaultURL = "http://localhost:3000"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid settings")

// Settings configure the conversion server.
type Settings struct {
	// URL is the base URL of the conversion server.
	URL string `json:"url"`
	// Enabled controls whether files advertise a PDF rendition.
	Enabled bool `json:"enabled"`
}

// Defaults returns the settings used before anything is configured.
func Defaults() Settings {
	return Settings{URL: DefaultURL}
}

// Validate checks that URL is an absolute http(s) URL.
func (s Settings) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url %q: scheme must be http or https", ErrInvalid, s.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url %q: missing host", ErrInvalid, s.URL)
	}
	return nil
}

// Store keeps the current settings and persists changes to a JSON file.
type Store struct {
	mu      sync.RWMutex
	current Settings
	path    string
	logger  *slog.Logger
}

// Open loads the settings from path on top of initial. A missing file is not
// an error. With an empty path the settings only live in memory.
func Open(path string, initial Settings, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{current: initial, path: path, logger: logger}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("no settings file, using defaults", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	loaded := initial
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	s.current = loaded
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// URL returns the current conversion server URL.
func (s *Store) URL() string {
	return s.Get().URL
}

// Set validates and persists settings. They become current only once they
// are written.
func (s *Store) Set(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := s.write(settings); err != nil {
			return err
		}
	}
	s.current = settings
	s.logger.Info("updated conversion settings", "url", settings.URL, "enabled", settings.Enabled)
	return nil
}

// write replaces the settings file atomically.
func (s *Store) write(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}
