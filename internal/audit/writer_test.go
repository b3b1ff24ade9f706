package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriter_AppendWritesOneLinePerEvent(t *testing.T) {
	workspace := t.TempDir()
	writer := NewWriter(workspace)
	at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	events := []Event{
		{Time: at, Type: TypeSafetyVerdict, TaskID: "t1", Tool: "shell:exec", Action: "rm -rf build", Risk: "high", Result: "risky", Reason: "recursive delete"},
		{Time: at.Add(time.Second), Type: TypeConsentDecision, TaskID: "t1", RequestID: "r1", Result: "needs_prompt"},
	}
	for _, e := range events {
		if err := writer.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(workspace, "state", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !first.Time.Equal(at) {
		t.Fatalf("expected time %s, got %s", at, first.Time)
	}
	first.Time = at
	if first != events[0] {
		t.Fatalf("expected %+v, got %+v", events[0], first)
	}
	if strings.Contains(lines[1], `"tool"`) {
		t.Fatalf("expected empty fields omitted, got %s", lines[1])
	}
}

func TestWriter_NilDiscards(t *testing.T) {
	var w *Writer
	if err := w.Append(Event{Type: TypeExecution}); err != nil {
		t.Fatalf("expected nil writer to discard, got %v", err)
	}
}

func TestWriter_AppendEvent_MkdirAllFailure(t *testing.T) {
	workspace := t.TempDir()
	statePath := filepath.Join(workspace, "state")
	if err := os.WriteFile(statePath, []byte("not-a-dir"), 0644); err != nil {
		t.Fatalf("WriteFile state blocker error: %v", err)
	}

	writer := NewWriter(workspace)
	err := writer.Append(Event{Time: time.Now().UTC(), Type: TypeConsentDecision})
	if err == nil {
		t.Fatal("expected append error when state path is a file")
	}
}

func TestWriter_AppendEvent_Concurrent(t *testing.T) {
	workspace := t.TempDir()
	writer := NewWriter(workspace)

	const total = 20
	var wg sync.WaitGroup
	errCh := make(chan error, total)
	wg.Add(total)
	for i := range total {
		go func() {
			defer wg.Done()
			if err := writer.Append(Event{
				Time:      time.Date(2026, 2, 15, 9, 0, i, 0, time.UTC),
				Type:      TypeExecution,
				RequestID: fmt.Sprintf("req-%d", i),
				Tool:      "shell:exec",
				Result:    "ok",
			}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("append failed in concurrent path: %v", err)
	}

	events, err := Tail(workspace, 0, "")
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != total {
		t.Fatalf("expected %d events, got %d", total, len(events))
	}
}

func TestTail_FiltersAndLimits(t *testing.T) {
	workspace := t.TempDir()
	writer := NewWriter(workspace)
	for i := 0; i < 6; i++ {
		task := "task-a"
		if i%2 == 1 {
			task = "task-b"
		}
		if err := writer.Append(Event{Type: TypeSafetyVerdict, TaskID: task, Result: fmt.Sprintf("v%d", i)}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	file, err := os.OpenFile(Path(workspace), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	_, _ = file.WriteString("{broken\n")
	_ = file.Close()

	events, err := Tail(workspace, 2, "task-a")
	if err != nil {
		t.Fatalf("Tail error: %v", err)
	}
	if len(events) != 2 || events[0].Result != "v2" || events[1].Result != "v4" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Time.IsZero() {
		t.Fatal("expected Append to stamp a time")
	}

	all, err := Tail(workspace, 0, "")
	if err != nil {
		t.Fatalf("Tail error: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 events, got %d", len(all))
	}
}

func TestTail_MissingLog(t *testing.T) {
	events, err := Tail(t.TempDir(), 10, "")
	if err != nil {
		t.Fatalf("Tail error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}
