package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://host:8000/", "http://host:8000"},
		{"  https://api.example.com  ", "https://api.example.com"},
		{"http://host//", "http://host"},
		{"", DefaultBaseURL},
	}
	for _, tt := range tests {
		got := ApiConfig{BaseURL: tt.in}.Normalize().BaseURL
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileStoreMissingFileGivesDefaults(t *testing.T) {
	t.Setenv("SCRIBE_API_URL", "")
	t.Setenv("SCRIBE_ADMIN_KEY", "")

	cfg, err := NewFileStore(t.TempDir()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Setenv("SCRIBE_API_URL", "")
	t.Setenv("SCRIBE_ADMIN_KEY", "")

	s := NewFileStore(filepath.Join(t.TempDir(), "nested"))
	want := ApiConfig{BaseURL: "https://whisper.example.com/", AdminKey: "secret", Stream: false}
	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	want.BaseURL = "https://whisper.example.com"
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFileStoreEnvOverrides(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Save(ApiConfig{BaseURL: "http://stored", Stream: true}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCRIBE_API_URL", "http://env:9000/")
	t.Setenv("SCRIBE_ADMIN_KEY", "k")

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.BaseURL != "http://env:9000" || got.AdminKey != "k" {
		t.Errorf("env overrides not applied: %+v", got)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("base_url: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewFileStore(dir).Load()
	if err == nil {
		t.Fatal("expected parse error")
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("corrupt config should fall back to defaults, got %+v", cfg)
	}
}

type failingStore struct{ saveErr error }

func (f failingStore) Load() (ApiConfig, error) { return ApiConfig{BaseURL: "http://a/"}, nil }
func (f failingStore) Save(ApiConfig) error     { return f.saveErr }

func TestHolderKeepsSnapshotOnFailedSave(t *testing.T) {
	h, err := Open(failingStore{saveErr: errors.New("disk full")})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Get().BaseURL; got != "http://a" {
		t.Fatalf("Get().BaseURL = %q", got)
	}

	if err := h.Save(ApiConfig{BaseURL: "http://b"}); err == nil {
		t.Fatal("expected save error")
	}
	if got := h.Get().BaseURL; got != "http://a" {
		t.Errorf("snapshot changed after failed save: %q", got)
	}
}

func TestHolderSave(t *testing.T) {
	t.Setenv("SCRIBE_API_URL", "")
	t.Setenv("SCRIBE_ADMIN_KEY", "")

	s := NewFileStore(t.TempDir())
	h, err := Open(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Save(ApiConfig{BaseURL: "http://new/", AdminKey: "x"}); err != nil {
		t.Fatal(err)
	}
	if got := h.Get(); got.BaseURL != "http://new" || got.AdminKey != "x" {
		t.Errorf("Get() = %+v", got)
	}
	stored, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if stored.BaseURL != "http://new" {
		t.Errorf("stored = %+v", stored)
	}
}
