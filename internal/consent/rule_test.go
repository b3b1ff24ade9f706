package consent

import (
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/warden/internal/risk"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		text    string
		want    bool
	}{
		{"*", "anything", true},
		{"**", "", true},
		{"*push*", "git push origin", true},
		{"*push*", "git pull", false},
		{"*.go", "main.go", true},
		{"*.go", "main.rs", false},
		{"src/*", "src/app/main.go", true},
		{"src/*", "lib/src/x", false},
		{"npm*test", "npm run test", true},
		{"npm*test", "npm run build", false},
		{"ab*ba", "aba", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.text); got != tc.want {
			t.Fatalf("Match(%q, %q): expected %v, got %v", tc.pattern, tc.text, tc.want, got)
		}
	}
}

func TestRule_Matches(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dir := ForDirectory("/work/app/")

	cases := []struct {
		name string
		rule Rule
		req  Request
		want bool
	}{
		{"inside directory", dir, FileRequest(risk.CategoryFileWrite, "write", "/work/app/main.go"), true},
		{"outside directory", dir, FileRequest(risk.CategoryFileWrite, "write", "/etc/passwd"), false},
		{"no files skips path check", dir, NewRequest(risk.CategoryFileRead, risk.ReadOnly, "read", "", nil), true},
		{"category mismatch", dir, ShellRequest("make"), false},
		{"risk ceiling", AutoApproveReads(), FileRequest(risk.CategoryFileRead, "read", "a").WithRisk(risk.Low), false},
		{"empty categories match any", NewRule("any"), ShellRequest("go build ./..."), true},
	}
	for _, tc := range cases {
		if got := tc.rule.Matches(tc.req, now); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestRule_ExpiredAtBoundary(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rule := NewRule("short lived")
	rule.ExpiresAt = &at
	if rule.Expired(at.Add(-time.Second)) {
		t.Fatal("expected rule to be live before expiry")
	}
	if !rule.Expired(at) {
		t.Fatal("expected rule to be expired at its expiry time")
	}
	if rule.Matches(ShellRequest("go build"), at) {
		t.Fatal("expected expired rule not to match")
	}
}

func TestParseRuleAction(t *testing.T) {
	for raw, want := range map[string]RuleAction{"": ActionAuto, "AUTO": ActionAuto, " deny ": ActionDeny, "confirm": ActionConfirm} {
		got, err := ParseRuleAction(raw)
		if err != nil {
			t.Fatalf("ParseRuleAction(%q) error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseRuleAction(%q): expected %q, got %q", raw, want, got)
		}
	}
	if _, err := ParseRuleAction("maybe"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestRequest_IDIsDeterministic(t *testing.T) {
	a := NewRequest(risk.CategoryFileWrite, risk.Medium, "first description", "", []string{"a.txt"})
	b := NewRequest(risk.CategoryFileWrite, risk.Medium, "other description", "", []string{"a.txt"})
	if a.ID != b.ID {
		t.Fatalf("expected description not to affect the id, got %s and %s", a.ID, b.ID)
	}
	if c := a.WithRisk(risk.High); c.ID != a.ID || c.Risk != risk.High {
		t.Fatalf("expected a raised risk to keep the id, got %+v", c)
	}
	if d := a.InBatch("plan"); d.ID != a.ID || d.BatchID != "plan" {
		t.Fatalf("expected batch tag to keep the id, got %+v", d)
	}
	if req := ShellRequest("  ls  "); req.Description != "Execute: ls" {
		t.Fatalf("expected %q, got %q", "Execute: ls", req.Description)
	}
}

func TestPreset(t *testing.T) {
	for _, name := range PresetNames() {
		if strings.HasPrefix(name, "for_directory:") {
			continue
		}
		rule, err := Preset(name)
		if err != nil {
			t.Fatalf("Preset(%q) error: %v", name, err)
		}
		if rule.ID == "" || rule.Name == "" {
			t.Fatalf("Preset(%q) returned an incomplete rule %+v", name, rule)
		}
	}

	rule, err := Preset("for_directory:/srv/data")
	if err != nil {
		t.Fatalf("Preset(for_directory) error: %v", err)
	}
	if rule.PathPatterns[0] != "/srv/data/*" {
		t.Fatalf("expected /srv/data/*, got %q", rule.PathPatterns[0])
	}
	if _, err := Preset("for_directory:"); err == nil {
		t.Fatal("expected error for empty directory")
	}
	if _, err := Preset("approve_everything"); err == nil {
		t.Fatal("expected error for unknown preset")
	}

	deny := DenySystemOps()
	req := ShellRequest("dd if=/dev/zero of=/dev/sda")
	if !deny.Matches(req, time.Now()) {
		t.Fatal("expected system deny preset to cover critical system commands")
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range Levels() {
		got, err := ParseLevel(strings.ToUpper(string(level)))
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", level, err)
		}
		if got != level {
			t.Fatalf("expected %q, got %q", level, got)
		}
	}
	if got, _ := ParseLevel(""); got != LevelNormal {
		t.Fatalf("expected normal for empty level, got %q", got)
	}
	if _, err := ParseLevel("reckless"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
