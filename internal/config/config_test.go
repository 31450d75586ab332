package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.Model.Default != DefaultModel {
		t.Fatalf("expected default model, got %q", cfg.Model.Default)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"port":9000}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COPILOT_API_PORT", "9999")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected env to win, got %d", cfg.Port)
	}
}

func TestLoad_MalformedFileDiscarded(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load should not error on malformed file: %v", err)
	}
	if cfg.Host != DefaultHost {
		t.Fatalf("expected fallback to defaults, got %+v", cfg)
	}
}

func TestSave_StripsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := defaults()
	if err := Save(dir, &cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); !os.IsNotExist(err) {
		t.Fatalf("expected config.json to be removed for all-default config, err=%v", err)
	}
}

func TestSave_KeepsNonDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := defaults()
	cfg.Port = 8080
	if err := Save(dir, &cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("expected config.json to exist: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty config.json")
	}
}
