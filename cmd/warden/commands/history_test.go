package commands

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/resultlog"
)

func seedResults(t *testing.T) {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	store, err := resultlog.Open(cfg.ResultLogPath())
	if err != nil {
		t.Fatalf("resultlog.Open: %v", err)
	}
	defer store.Close()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, rec := range []resultlog.Record{
		{TaskID: "task-a", Tool: "shell:exec", Command: "ls -la", Success: true, Verified: true, Timestamp: at},
		{TaskID: "task-b", Tool: "shell:exec", Command: "make build", Output: "error: missing target", Timestamp: at.Add(time.Second)},
	} {
		if _, err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestHistoryCommand_FiltersByTask(t *testing.T) {
	useTempHome(t)
	seedResults(t)

	out, err := execute(t, NewHistoryCmd(), "--task", "task-b")
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if !strings.Contains(out, "make build") || strings.Contains(out, "ls -la") {
		t.Fatalf("expected only task-b, got:\n%s", out)
	}
	if !strings.Contains(out, "failed") {
		t.Fatalf("expected failed status, got:\n%s", out)
	}
}

func TestHistoryCommand_Clear(t *testing.T) {
	useTempHome(t)
	seedResults(t)

	if _, err := execute(t, NewHistoryCmd(), "clear"); err != nil {
		t.Fatalf("history clear error: %v", err)
	}
	out, err := execute(t, NewHistoryCmd())
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if !strings.Contains(out, "No results recorded.") {
		t.Fatalf("expected empty log, got:\n%s", out)
	}
}
