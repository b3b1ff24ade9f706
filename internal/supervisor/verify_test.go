package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MEKXH/warden/internal/action"
)

func TestVerify(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "present.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	v := NewVerifier(workspace)

	edit := action.NewToolCall(action.ToolEditFile, map[string]any{"path": "present.txt", "old_text": "hello", "new_text": "goodbye"}, "")
	editDone := action.NewToolCall(action.ToolEditFile, map[string]any{"path": "present.txt", "old_text": "hi", "new_text": "world"}, "")

	tests := []struct {
		name     string
		c        action.Candidate
		exec     execution
		passed   bool
		critical bool
		note     string
	}{
		{
			name:   "successful shell",
			c:      action.NewShell("ls", ""),
			exec:   execution{Output: "present.txt", Success: true},
			passed: true,
		},
		{
			name: "non-zero exit",
			c:    action.NewShell("ls missing", ""),
			exec: execution{Output: "ls: missing: No such file", ExitCode: 2},
			note: "command exited with code 2",
		},
		{
			name: "tool error",
			c:    action.NewToolCall(action.ToolReadFile, map[string]any{"path": "x"}, ""),
			exec: execution{Err: errors.New("permission denied")},
			note: "permission denied",
		},
		{
			name:     "data loss indicator",
			c:        action.NewShell("cp a b", ""),
			exec:     execution{Output: "cp: No space left on device", Success: true},
			critical: true,
			note:     "no space left on device",
		},
		{
			name:   "write found",
			c:      action.Candidate{Kind: action.KindFileWrite, Command: "present.txt"},
			exec:   execution{Success: true},
			passed: true,
		},
		{
			name: "write missing fails",
			c:    action.Candidate{Kind: action.KindFileWrite, Command: "absent.txt"},
			exec: execution{Success: true},
			note: "File was not created",
		},
		{
			name: "delete left file behind",
			c:    action.Candidate{Kind: action.KindFileDelete, Command: "present.txt"},
			exec: execution{Success: true},
			note: "File still exists after delete",
		},
		{
			name: "edit not applied",
			c:    edit,
			exec: execution{Success: true},
			note: "does not contain the new text",
		},
		{
			name:   "edit applied",
			c:      editDone,
			exec:   execution{Success: true},
			passed: true,
		},
		{
			name:   "build output mentions errors",
			c:      action.NewShell("make build", ""),
			exec:   execution{Output: "compiling\nerror: undefined symbol", Success: true},
			passed: true,
			note:   "output mentions errors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Verify(tt.c, tt.exec)
			if got.Passed != tt.passed {
				t.Fatalf("expected passed=%v, got %v (%s)", tt.passed, got.Passed, got.Notes())
			}
			if got.Critical() != tt.critical {
				t.Fatalf("expected critical=%v, got %v", tt.critical, got.Critical())
			}
			if tt.note != "" && !strings.Contains(got.Notes(), tt.note) {
				t.Fatalf("expected notes to contain %q, got %q", tt.note, got.Notes())
			}
			if tt.note == "" && got.Notes() != "" {
				t.Fatalf("expected no notes, got %q", got.Notes())
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "a.txt")
	tests := []struct {
		workspace, path, want string
	}{
		{"/ws", "a.txt", filepath.Join("/ws", "a.txt")},
		{"/ws", abs, abs},
		{"", "a.txt", "a.txt"},
		{"/ws", "", ""},
	}
	for _, tt := range tests {
		if got := resolvePath(tt.workspace, tt.path); got != tt.want {
			t.Fatalf("resolvePath(%q, %q): expected %q, got %q", tt.workspace, tt.path, tt.want, got)
		}
	}
}
