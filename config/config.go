// Package config holds the connection settings shared by every call to the
// transcription API, and the file store they are persisted in.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	fileName       = "config.yaml"
)

// ApiConfig is the connection configuration. Values are immutable once
// published through a Holder.
type ApiConfig struct {
	BaseURL  string `yaml:"base_url"`
	AdminKey string `yaml:"admin_key,omitempty"`
	Stream   bool   `yaml:"stream"`
}

func Default() ApiConfig {
	return ApiConfig{BaseURL: DefaultBaseURL, Stream: true}
}

// Normalize trims whitespace and any trailing slash from the base URL and
// falls back to the default endpoint when it is empty.
func (c ApiConfig) Normalize() ApiConfig {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.AdminKey = strings.TrimSpace(c.AdminKey)
	return c
}

// Store persists an ApiConfig.
type Store interface {
	Load() (ApiConfig, error)
	Save(ApiConfig) error
}

// FileStore keeps the configuration as YAML in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultDir is the per-user directory for scribe's configuration and history.
func DefaultDir() (string, error) {
	if d := os.Getenv("SCRIBE_CONFIG_DIR"); d != "" {
		return d, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "scribe"), nil
}

func (s *FileStore) Path() string {
	return filepath.Join(s.dir, fileName)
}

// Load reads the stored configuration. A missing file yields the defaults.
// SCRIBE_API_URL and SCRIBE_ADMIN_KEY override the stored values.
func (s *FileStore) Load() (ApiConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(s.Path())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Default(), fmt.Errorf("parse config %s: %w", s.Path(), err)
		}
	}

	if v := os.Getenv("SCRIBE_API_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("SCRIBE_ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	return cfg.Normalize(), nil
}

// Save writes the configuration atomically (temp file + rename).
func (s *FileStore) Save(cfg ApiConfig) error {
	cfg = cfg.Normalize()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path())
}

// Holder publishes the process-wide configuration. Readers always observe a
// complete value; Save persists first and swaps the snapshot only on success.
type Holder struct {
	store Store
	cur   atomic.Pointer[ApiConfig]
}

// Open loads the configuration from store. A load error is returned together
// with a usable Holder carrying the defaults.
func Open(store Store) (*Holder, error) {
	h := &Holder{store: store}
	cfg, err := store.Load()
	cfg = cfg.Normalize()
	h.cur.Store(&cfg)
	return h, err
}

func (h *Holder) Get() ApiConfig {
	return *h.cur.Load()
}

func (h *Holder) Save(cfg ApiConfig) error {
	cfg = cfg.Normalize()
	if err := h.store.Save(cfg); err != nil {
		return err
	}
	h.cur.Store(&cfg)
	return nil
}
