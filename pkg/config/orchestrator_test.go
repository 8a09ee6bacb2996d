package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Deploy.MaxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", cfg.Deploy.MaxAttempts)
	}
	if cfg.Deploy.WaitTimeout() != 1200*time.Second {
		t.Fatalf("unexpected wait timeout %s", cfg.Deploy.WaitTimeout())
	}
	if cfg.Deploy.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Deploy.PollInterval())
	}
	if cfg.Deploy.GPUHardware != "t4-small" {
		t.Fatalf("unexpected gpu hardware %q", cfg.Deploy.GPUHardware)
	}
	if len(cfg.Deploy.ArchiveBranches) != 2 || cfg.Deploy.ArchiveBranches[0] != "main" {
		t.Fatalf("unexpected archive branches %v", cfg.Deploy.ArchiveBranches)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
log_level = "debug"

[hub]
token = "file-token"
namespace = "acme"

[deploy]
max_attempts = 5
gpu_hardware = "a10g-small"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HF_TOKEN", "env-token")
	t.Setenv("ORCH_ARCHIVE_BRANCHES", "trunk, ,dev")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Hub.Token != "env-token" {
		t.Fatalf("expected env to override token, got %q", cfg.Hub.Token)
	}
	if cfg.Hub.Namespace != "acme" {
		t.Fatalf("expected namespace from file, got %q", cfg.Hub.Namespace)
	}
	if cfg.Deploy.MaxAttempts != 5 || cfg.Deploy.GPUHardware != "a10g-small" {
		t.Fatalf("file values not applied: %+v", cfg.Deploy)
	}
	if !cfg.Deploy.FailFastOnErrorStage {
		t.Fatalf("expected default fail-fast to survive partial file")
	}
	if got := cfg.Deploy.ArchiveBranches; len(got) != 2 || got[0] != "trunk" || got[1] != "dev" {
		t.Fatalf("unexpected branches %v", got)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level %q", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("ORCH_MAX_ATTEMPTS", "0")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for zero attempts")
	}
}

func TestSaveRoundTripPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Defaults()
	cfg.Hub.Namespace = "acme"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Hub.Namespace != "acme" {
		t.Fatalf("expected namespace to persist, got %q", loaded.Hub.Namespace)
	}
}

func TestGetList(t *testing.T) {
	t.Setenv("LIST_EMPTY", " , ")
	if got := GetList("LIST_EMPTY", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := GetList("LIST_UNSET_FOR_TEST", nil); got != nil {
		t.Fatalf("expected nil fallback, got %v", got)
	}
}
