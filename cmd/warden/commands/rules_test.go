package commands

import (
	"os"
	"strings"
	"testing"

	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/consent"
)

func TestRulesCommand_AddListRemove(t *testing.T) {
	useTempHome(t)

	out, err := execute(t, NewRulesCmd(), "add", "auto_approve_git")
	if err != nil {
		t.Fatalf("rules add error: %v", err)
	}
	if !strings.Contains(out, "Added rule") {
		t.Fatalf("unexpected output: %s", out)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if _, err := os.Stat(cfg.RulesPath()); err != nil {
		t.Fatalf("expected rules file at %s: %v", cfg.RulesPath(), err)
	}
	stored, err := consent.NewStore(cfg.RulesPath()).Load()
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one stored rule, got %d (%v)", len(stored), err)
	}

	out, err = execute(t, NewRulesCmd(), "list")
	if err != nil {
		t.Fatalf("rules list error: %v", err)
	}
	if !strings.Contains(out, "Consent Rules") || !strings.Contains(out, "saved") {
		t.Fatalf("expected the saved rule, got:\n%s", out)
	}

	out, err = execute(t, NewRulesCmd(), "remove", stored[0].ID[:6])
	if err != nil {
		t.Fatalf("rules remove error: %v", err)
	}
	if !strings.Contains(out, "Removed rule "+stored[0].ID) {
		t.Fatalf("unexpected output: %s", out)
	}
	if left, _ := consent.NewStore(cfg.RulesPath()).Load(); len(left) != 0 {
		t.Fatalf("expected no stored rules, got %d", len(left))
	}

	events, err := audit.Tail(cfg.WorkspacePath(), 0, "")
	if err != nil {
		t.Fatalf("audit.Tail: %v", err)
	}
	if len(events) != 2 || events[0].Type != audit.TypeRuleChange || events[1].Action != "remove" {
		t.Fatalf("unexpected audit events %+v", events)
	}
}

func TestRulesCommand_UnknownPreset(t *testing.T) {
	useTempHome(t)
	if _, err := execute(t, NewRulesCmd(), "add", "auto_approve_everything"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestFindRule(t *testing.T) {
	rules := []consent.Rule{{ID: "abc123"}, {ID: "abd456"}, {ID: "xyz"}}
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{id: "abc123", want: "abc123"},
		{id: "abd", want: "abd456"},
		{id: "ab", wantErr: true},
		{id: "nope", wantErr: true},
		{id: " ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := findRule(rules, tt.id)
		if (err != nil) != tt.wantErr {
			t.Fatalf("findRule(%q) error = %v", tt.id, err)
		}
		if !tt.wantErr && got.ID != tt.want {
			t.Fatalf("findRule(%q): expected %q, got %q", tt.id, tt.want, got.ID)
		}
	}
}
