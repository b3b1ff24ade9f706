package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/tools"
)

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	local, err := tools.NewLocalExecutor(tools.Options{Workspace: t.TempDir(), RestrictToWorkspace: true})
	if err != nil {
		t.Fatalf("NewLocalExecutor() error: %v", err)
	}
	return local.Registry()
}

func TestSubtask_NarrowsTools(t *testing.T) {
	exec := &fakeExecutor{}
	parent := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nls\n```"),
		executor: exec,
		opts:     Options{Registry: newRegistry(t)},
	})
	m := NewSubtaskManager(parent, SubtaskOptions{})

	res := m.Run(context.Background(), SubtaskRequest{Goal: "Read the notes", Tools: []string{"fs:read_file"}})
	if !errors.Is(res.Err, ErrAuthorizationDenied) {
		t.Fatalf("expected the shell tool to be out of reach, got %v", res.Err)
	}
	if res.ID != "subtask-1" {
		t.Fatalf("expected subtask-1, got %q", res.ID)
	}
	if len(exec.shellCalls()) != 0 {
		t.Fatal("expected nothing to execute")
	}
}

func TestSubtask_DefaultsToReadOnlyTools(t *testing.T) {
	exec := &fakeExecutor{}
	parent := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nls\n```", "The directory is listed."),
		executor: exec,
		level:    consent.LevelYolo,
		opts:     Options{Registry: newRegistry(t)},
	})
	m := NewSubtaskManager(parent, SubtaskOptions{})

	child, err := m.child(nil)
	if err != nil {
		t.Fatalf("child() error: %v", err)
	}
	if got := strings.Join(child.knownTools(), ","); got != "fs:grep,fs:list_dir,fs:read_file" {
		t.Fatalf("expected read-only tools, got %s", got)
	}

	res := m.Run(context.Background(), SubtaskRequest{Goal: "List the workspace"})
	if !errors.Is(res.Err, ErrAuthorizationDenied) {
		t.Fatalf("expected shell to be out of reach without an explicit request, got %v", res.Err)
	}
	if len(exec.shellCalls()) != 0 {
		t.Fatalf("expected nothing to execute, got %v", exec.shellCalls())
	}
}

func TestSubtask_ExplicitToolsWithinParentReach(t *testing.T) {
	exec := &fakeExecutor{}
	parent := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nls\n```", "The directory is listed."),
		executor: exec,
		opts:     Options{Registry: newRegistry(t)},
	})
	m := NewSubtaskManager(parent, SubtaskOptions{})

	res := m.Run(context.Background(), SubtaskRequest{Goal: "List the workspace", Tools: []string{"shell:exec"}})
	if res.Err != nil {
		t.Fatalf("Run() error: %v", res.Err)
	}
	if res.Outcome.Status != StatusCompleted || res.Outcome.TaskID != "subtask-1" {
		t.Fatalf("unexpected outcome %+v", res.Outcome)
	}
	if len(exec.shellCalls()) != 1 {
		t.Fatalf("expected one execution, got %d", len(exec.shellCalls()))
	}
}

func TestSubtask_FreshConsentSession(t *testing.T) {
	parent := newTestSupervisor(t, testSetup{
		model: replies("```bash\nmake build\n```"),
		opts:  Options{Registry: newRegistry(t)},
	})
	req := consent.ShellRequest("make build")
	if err := parent.Consent().RecordResponse(req, consent.Response{Approved: true, Scope: consent.ScopeSession}); err != nil {
		t.Fatalf("RecordResponse() error: %v", err)
	}
	if got := parent.Consent().RequestConsent(req).Outcome; got != consent.Approved {
		t.Fatalf("expected parent session approval, got %s", got)
	}

	res := NewSubtaskManager(parent, SubtaskOptions{}).Run(context.Background(), SubtaskRequest{Goal: "Build the project", Tools: []string{"shell:exec"}})
	if !errors.Is(res.Err, ErrAuthorizationDenied) {
		t.Fatalf("expected the child to need its own consent, got %v", res.Err)
	}
}

func TestSubtask_RunAllKeepsOrder(t *testing.T) {
	parent := newTestSupervisor(t, testSetup{model: replies()})
	m := NewSubtaskManager(parent, SubtaskOptions{MaxConcurrency: 2})

	results := m.RunAll(context.Background(), []SubtaskRequest{
		{Goal: "First question"},
		{Goal: ""},
		{Goal: "Third question"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Outcome.Status != StatusCompleted {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].Err == nil {
		t.Fatal("expected an error for the empty goal")
	}
	if results[2].Err != nil || results[2].Outcome.Status != StatusCompleted {
		t.Fatalf("unexpected third result %+v", results[2])
	}

	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.ID] {
			t.Fatalf("duplicate subtask id %q", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestSubtask_DelegateReportsEachGoal(t *testing.T) {
	registry := newRegistry(t)
	parent := newTestSupervisor(t, testSetup{model: replies(), opts: Options{Registry: registry}})
	m := NewSubtaskManager(parent, SubtaskOptions{})
	if err := tools.RegisterDelegation(registry, m); err != nil {
		t.Fatalf("RegisterDelegation() error: %v", err)
	}

	child, err := m.child(nil)
	if err != nil {
		t.Fatalf("child() error: %v", err)
	}
	for _, id := range child.knownTools() {
		if id == "agent:delegate" || id == "agent:delegate_all" {
			t.Fatalf("expected sub-tasks not to delegate further, got %v", child.knownTools())
		}
	}

	report, err := m.Delegate(context.Background(), tools.DelegateRequest{Goals: []string{"First question", "Second question"}})
	if err != nil {
		t.Fatalf("Delegate() error: %v", err)
	}
	if !strings.Contains(report, "[subtask-") || !strings.Contains(report, "completed: All done.") {
		t.Fatalf("unexpected report %q", report)
	}
	if lines := strings.Split(report, "\n"); len(lines) != 2 {
		t.Fatalf("expected one line per goal, got %q", report)
	}
}

func TestSubtask_DelegateFailsWhenEverySubtaskFails(t *testing.T) {
	parent := newTestSupervisor(t, testSetup{model: &scriptedModel{err: errors.New("offline")}})
	m := NewSubtaskManager(parent, SubtaskOptions{})

	_, err := m.Delegate(context.Background(), tools.DelegateRequest{Goals: []string{"Anything"}})
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected aggregated failure, got %v", err)
	}
}
