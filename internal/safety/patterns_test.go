package safety

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MEKXH/warden/internal/action"
)

func TestDefaultPatterns_Compile(t *testing.T) {
	p := testPatterns(t)
	if len(p.keywords) == 0 || len(p.malicious) == 0 || len(p.hardBlocks) == 0 {
		t.Fatalf("expected populated tables, got %d keywords, %d patterns, %d hard blocks",
			len(p.keywords), len(p.malicious), len(p.hardBlocks))
	}
	if !p.keys["alt+f4"] {
		t.Fatal("expected alt+f4 in the dangerous key table")
	}
}

func TestLoadPatterns_OverlaysAndKeepsHardBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	custom := `dangerous_keywords:
  - frobnicate
hard_blocks:
  - name: custom
    reason: frobnicating everything
    scope: payload
    patterns:
      - 'frobnicate\s+--all'
`
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("write patterns: %v", err)
	}

	p, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("LoadPatterns() error: %v", err)
	}
	if len(p.keywords) != 1 || p.keywords[0] != "frobnicate" {
		t.Fatalf("expected keyword table to be replaced, got %v", p.keywords)
	}
	if len(p.malicious) == 0 {
		t.Fatal("expected empty sections to keep the defaults")
	}

	f := newTestFilter(t, Options{Mode: ModeExpert, Patterns: p})
	v := f.Evaluate(context.Background(), action.NewShell("frobnicate --all", ""), "")
	if !v.IsBlocked() || !strings.HasPrefix(v.Reason, "custom:") {
		t.Fatalf("expected custom hard block, got %s", v)
	}
	v = f.Evaluate(context.Background(), action.NewShell("rm -rf /", ""), "")
	if !v.IsBlocked() || !strings.HasPrefix(v.Reason, "catastrophic_command:") {
		t.Fatalf("expected default hard blocks to survive an override, got %s", v)
	}
}

func TestLoadPatterns_Errors(t *testing.T) {
	if _, err := LoadPatterns(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("malicious_patterns:\n  - '(unclosed'\n"), 0o644); err != nil {
		t.Fatalf("write patterns: %v", err)
	}
	if _, err := LoadPatterns(path); err == nil || !strings.Contains(err.Error(), "compile malicious pattern") {
		t.Fatalf("expected compile error, got %v", err)
	}

	if _, err := LoadPatterns(""); err != nil {
		t.Fatalf("expected empty path to load defaults, got %v", err)
	}
}
