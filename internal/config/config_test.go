package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Safety.Mode != "normal" {
		t.Errorf("expected safety mode normal, got %q", cfg.Safety.Mode)
	}
	if cfg.Consent.Level != "normal" {
		t.Errorf("expected consent level normal, got %q", cfg.Consent.Level)
	}
	if cfg.MemoryWindow() != 5*time.Minute {
		t.Errorf("expected 5m memory window, got %s", cfg.MemoryWindow())
	}
	if cfg.Supervisor.MaxConsecutiveFailures != 3 {
		t.Errorf("expected MaxConsecutiveFailures=3, got %d", cfg.Supervisor.MaxConsecutiveFailures)
	}
	if cfg.Safety.MaxEscalations != 10 {
		t.Errorf("expected MaxEscalations=10, got %d", cfg.Safety.MaxEscalations)
	}
	if !cfg.Tools.Exec.RestrictToWorkspace {
		t.Error("expected exec to be restricted to the workspace by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFrom_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
  "safety": {"mode": "Paranoid"},
  "consent": {"level": "trusted", "presets": ["auto_approve_git"]},
  "supervisor": {"max_retries": 5}
}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Safety.Mode != "paranoid" {
		t.Fatalf("expected paranoid, got %q", cfg.Safety.Mode)
	}
	if cfg.Consent.Level != "trusted" {
		t.Fatalf("expected trusted, got %q", cfg.Consent.Level)
	}
	if len(cfg.Consent.Presets) != 1 || cfg.Consent.Presets[0] != "auto_approve_git" {
		t.Fatalf("unexpected presets %v", cfg.Consent.Presets)
	}
	if cfg.Supervisor.MaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.Supervisor.MaxRetries)
	}
	if cfg.Supervisor.MaxTurns != 30 {
		t.Fatalf("expected default MaxTurns=30, got %d", cfg.Supervisor.MaxTurns)
	}
	if cfg.Tools.Exec.Timeout != 60 {
		t.Fatalf("expected default exec timeout, got %d", cfg.Tools.Exec.Timeout)
	}
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"safety": {"mode": "relaxed"}}`)
	t.Setenv("WARDEN_SAFETY_MODE", "expert")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Safety.Mode != "expert" {
		t.Fatalf("expected expert, got %q", cfg.Safety.Mode)
	}
}

func TestLoadFrom_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"safety mode":   `{"safety": {"mode": "careless"}}`,
		"consent level": `{"consent": {"level": "everything"}}`,
		"temperature":   `{"agent": {"temperature": 3}}`,
		"negative":      `{"supervisor": {"max_turns": -1}}`,
		"advisor":       `{"safety": {"advisor": "oracle"}}`,
		"policy mode":   `{"policy": {"mode": "lenient"}}`,
	}
	for name, body := range cases {
		if _, err := LoadFrom(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Consent.Level = "safe"
	cfg.Subtask.AllowTools = []string{"fs:*"}

	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}
	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if loaded.Consent.Level != "safe" {
		t.Fatalf("expected safe, got %q", loaded.Consent.Level)
	}
	if len(loaded.Subtask.AllowTools) != 1 || loaded.Subtask.AllowTools[0] != "fs:*" {
		t.Fatalf("unexpected allow tools %v", loaded.Subtask.AllowTools)
	}
}

func TestValidate_FillsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.Mode = ""
	cfg.Consent.MemoryWindowSeconds = 0
	cfg.Supervisor.RetryBackoffMs = 0
	cfg.Log.Level = ""
	cfg.Policy.Mode = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Safety.Mode != "normal" || cfg.Consent.MemoryWindowSeconds != 300 {
		t.Fatalf("expected defaults to be filled, got %+v %+v", cfg.Safety, cfg.Consent)
	}
	if cfg.RetryBackoff() != 250*time.Millisecond {
		t.Fatalf("expected 250ms backoff, got %s", cfg.RetryBackoff())
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info, got %q", cfg.Log.Level)
	}
	if cfg.Policy.Mode != "relaxed" {
		t.Fatalf("expected relaxed, got %q", cfg.Policy.Mode)
	}
}

func TestWorkspacePathChecked(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultConfig()
	got, err := cfg.WorkspacePathChecked()
	if err != nil {
		t.Fatalf("WorkspacePathChecked() error: %v", err)
	}
	if got != filepath.Join(home, ".warden", "workspace") {
		t.Fatalf("unexpected default workspace %q", got)
	}

	cfg.Agent.WorkspaceMode = "path"
	cfg.Agent.Workspace = "~/projects/app"
	got, err = cfg.WorkspacePathChecked()
	if err != nil {
		t.Fatalf("WorkspacePathChecked() error: %v", err)
	}
	if got != filepath.Join(home, "projects", "app") {
		t.Fatalf("expected expanded home path, got %q", got)
	}

	cfg.Agent.WorkspaceMode = "cwd"
	wd, _ := os.Getwd()
	if got, _ := cfg.WorkspacePathChecked(); got != wd {
		t.Fatalf("expected cwd %q, got %q", wd, got)
	}

	cfg.Agent.WorkspaceMode = "path"
	cfg.Agent.Workspace = ""
	if _, err := cfg.WorkspacePathChecked(); err == nil {
		t.Fatal("expected error for empty path workspace")
	}
}

func TestStatePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.WorkspaceMode = "path"
	cfg.Agent.Workspace = "/srv/ws"

	if got := cfg.RulesPath(); got != filepath.Join("/srv/ws", "state", "consent_rules.json") {
		t.Fatalf("unexpected rules path %q", got)
	}
	if got := cfg.ResultLogPath(); got != filepath.Join("/srv/ws", "state", "results.db") {
		t.Fatalf("unexpected result log path %q", got)
	}
	cfg.Consent.RulesFile = "/etc/warden/rules.json"
	if got := cfg.RulesPath(); got != "/etc/warden/rules.json" {
		t.Fatalf("expected absolute rules path to be kept, got %q", got)
	}
	cfg.Supervisor.ResultLog = "  "
	if got := cfg.ResultLogPath(); got != "" {
		t.Fatalf("expected empty result log path, got %q", got)
	}
	if !strings.HasSuffix(cfg.StateDir(), "state") {
		t.Fatalf("unexpected state dir %q", cfg.StateDir())
	}
}
