package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/metrics"
	"github.com/MEKXH/warden/internal/policy"
	"github.com/MEKXH/warden/internal/resultlog"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/tools"
	"github.com/cloudwego/eino/schema"
)

func TestRun_ReadOnlyCommandRunsWithoutPrompt(t *testing.T) {
	m := replies("```bash\nls -la\n```", "The workspace holds two files.")
	exec := &fakeExecutor{shell: func(string) tools.ShellResult {
		return tools.ShellResult{Stdout: "a.txt\nb.txt\n", Success: true}
	}}
	p := &scriptedPrompter{}
	s := newTestSupervisor(t, testSetup{model: m, executor: exec, prompter: p})

	out, err := s.Run(context.Background(), "List the files in the workspace")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != StatusCompleted || out.State != StateCompleted {
		t.Fatalf("expected completed, got %s/%s", out.Status, out.State)
	}
	if out.Summary != "The workspace holds two files." {
		t.Fatalf("unexpected summary %q", out.Summary)
	}
	if len(out.Results) != 1 || out.Results[0].Command != "ls -la" || !out.Results[0].Verified {
		t.Fatalf("unexpected results %+v", out.Results)
	}
	if p.askCount() != 0 {
		t.Fatalf("expected no prompt, got %d", p.askCount())
	}
	if out.Turns != 2 {
		t.Fatalf("expected 2 turns, got %d", out.Turns)
	}

	input := m.lastInput()
	feedback := input[len(input)-1]
	if feedback.Role != schema.User || !strings.Contains(feedback.Content, "Result of shell:exec: a.txt") {
		t.Fatalf("expected result feedback, got %q", feedback.Content)
	}
	if !strings.Contains(input[0].Content, "## Safety rules") {
		t.Fatal("expected safety rules in the system prompt")
	}
}

func TestRun_RansomwareContextBlockedInExpertMode(t *testing.T) {
	exec := &fakeExecutor{}
	p := &scriptedPrompter{}
	s := newTestSupervisor(t, testSetup{model: replies("CLICK 640 360"), executor: exec, prompter: p, mode: safety.ModeExpert})

	out, err := s.Run(context.Background(), "Your files are encrypted! Pay bitcoin to unlock.")
	if !errors.Is(err, ErrSafetyBlocked) {
		t.Fatalf("expected safety block, got %v", err)
	}
	if out.Status != StatusFailed || out.State != StateFailed {
		t.Fatalf("expected failed, got %s/%s", out.Status, out.State)
	}
	if !strings.Contains(out.Summary, "ransomware") {
		t.Fatalf("expected ransomware in summary, got %q", out.Summary)
	}
	if !strings.Contains(out.Summary, "Consider using WAIT") {
		t.Fatalf("expected suggested alternative, got %q", out.Summary)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Hint == "" {
		t.Fatalf("expected step error with hint, got %#v", err)
	}
	if len(exec.toolArgs) != 0 || p.askCount() != 0 {
		t.Fatal("expected nothing to execute or prompt")
	}
}

func TestRun_DeniedRequestIsNotPromptedAgain(t *testing.T) {
	reply := "```bash\nsudo apt install nginx\n```"
	exec := &fakeExecutor{}
	p := &scriptedPrompter{answers: []consent.Response{{Approved: false}}}
	s := newTestSupervisor(t, testSetup{model: replies(reply, reply), executor: exec, prompter: p})

	_, err := s.Run(context.Background(), "Set up a web server")
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected authorization denied, got %v", err)
	}
	if !strings.Contains(err.Error(), "denied by user") {
		t.Fatalf("expected user denial, got %v", err)
	}
	if p.askCount() != 1 {
		t.Fatalf("expected one prompt, got %d", p.askCount())
	}

	out, err := s.Run(context.Background(), "Set up a web server")
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected authorization denied, got %v", err)
	}
	if !strings.Contains(out.Summary, "previously denied") {
		t.Fatalf("expected remembered denial, got %q", out.Summary)
	}
	if p.askCount() != 1 {
		t.Fatalf("expected no second prompt, got %d", p.askCount())
	}
	if calls := exec.shellCalls(); len(calls) != 0 {
		t.Fatalf("expected no execution, got %v", calls)
	}
}

func TestRun_ConsecutiveFailuresAbort(t *testing.T) {
	exec := &fakeExecutor{shell: func(string) tools.ShellResult {
		return tools.ShellResult{Stderr: "make: *** [build] Error 2", ExitCode: 2}
	}}
	s := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nmake build\n```"),
		executor: exec,
		level:    consent.LevelTrusted,
	})

	out, err := s.Run(context.Background(), "Build the project")
	if !errors.Is(err, ErrExecutionFailure) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if !strings.Contains(out.Summary, "3 consecutive failures") {
		t.Fatalf("expected failure count in summary, got %q", out.Summary)
	}
	if calls := exec.shellCalls(); len(calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(calls))
	}
	if len(out.Results) != 1 || out.Results[0].Retries != 2 || out.Results[0].Success {
		t.Fatalf("unexpected results %+v", out.Results)
	}
}

func TestRun_ExhaustedRetriesFailTask(t *testing.T) {
	exec := &fakeExecutor{shell: func(string) tools.ShellResult {
		return tools.ShellResult{Stderr: "make: *** [build] Error 2", ExitCode: 2}
	}}
	s := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nmake build\n```", "All done."),
		executor: exec,
		level:    consent.LevelTrusted,
		opts:     Options{MaxRetries: 1},
	})

	out, err := s.Run(context.Background(), "Build the project")
	if !errors.Is(err, ErrExecutionFailure) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("expected failed, got %s (%q)", out.Status, out.Summary)
	}
	if !strings.Contains(out.Summary, "after 1 retries") {
		t.Fatalf("expected retry count in summary, got %q", out.Summary)
	}
	if calls := exec.shellCalls(); len(calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(calls))
	}
}

func TestRun_RetryRecovers(t *testing.T) {
	attempts := 0
	exec := &fakeExecutor{shell: func(string) tools.ShellResult {
		attempts++
		if attempts == 1 {
			return tools.ShellResult{Stderr: "flaky", ExitCode: 1}
		}
		return tools.ShellResult{Stdout: "built", Success: true}
	}}
	s := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nmake build\n```", "The build is done."),
		executor: exec,
		level:    consent.LevelTrusted,
	})

	out, err := s.Run(context.Background(), "Build the project")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", out.Status)
	}
	if len(out.Results) != 1 || out.Results[0].Retries != 1 || !out.Results[0].Verified {
		t.Fatalf("unexpected results %+v", out.Results)
	}
}

func TestRun_CriticalVerificationAbortsImmediately(t *testing.T) {
	exec := &fakeExecutor{shell: func(string) tools.ShellResult {
		return tools.ShellResult{Stdout: "cp: error writing 'big.iso': No space left on device", Success: true}
	}}
	s := newTestSupervisor(t, testSetup{
		model:    replies("```bash\ncp big.iso backup/\n```"),
		executor: exec,
		level:    consent.LevelYolo,
	})

	_, err := s.Run(context.Background(), "Back up the image")
	if !errors.Is(err, ErrVerificationFailure) {
		t.Fatalf("expected verification failure, got %v", err)
	}
	if calls := exec.shellCalls(); len(calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(calls))
	}
}

func TestRun_RepeatedActionStops(t *testing.T) {
	reply := "```bash\ngit status\n```"
	exec := &fakeExecutor{}
	s := newTestSupervisor(t, testSetup{model: replies(reply, reply), executor: exec, level: consent.LevelYolo})

	out, err := s.Run(context.Background(), "Check the repository")
	if err != nil {
		t.Fatalf("expected a stop without error, got %v", err)
	}
	if out.Status != StatusFailed || !strings.Contains(out.Summary, "twice in a row") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if calls := exec.shellCalls(); len(calls) != 1 {
		t.Fatalf("expected one execution, got %d", len(calls))
	}
}

func TestRun_TurnLimit(t *testing.T) {
	m := replies("```bash\necho one\n```", "```bash\necho two\n```", "```bash\necho three\n```")
	exec := &fakeExecutor{}
	s := newTestSupervisor(t, testSetup{model: m, executor: exec, level: consent.LevelYolo, opts: Options{MaxTurns: 2}})

	out, err := s.Run(context.Background(), "Say things")
	if err != nil {
		t.Fatalf("expected a stop without error, got %v", err)
	}
	if out.Status != StatusFailed || !strings.Contains(out.Summary, "limit of 2 turns") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if calls := exec.shellCalls(); len(calls) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(calls))
	}
}

func TestRun_ProviderError(t *testing.T) {
	m := &scriptedModel{err: errors.New("upstream 503")}
	out, err := newTestSupervisor(t, testSetup{model: m}).Run(context.Background(), "Anything")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if out.Status != StatusFailed || !strings.Contains(out.Summary, "upstream 503") {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRun_RequiresGoalAndModel(t *testing.T) {
	s := newTestSupervisor(t, testSetup{})
	if _, err := s.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty goal")
	}
	if _, err := s.Run(context.Background(), "Do something"); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error without a model, got %v", err)
	}
}

func TestRun_PromptWithoutPrompterDenies(t *testing.T) {
	exec := &fakeExecutor{}
	s := newTestSupervisor(t, testSetup{model: replies("```bash\nmake build\n```"), executor: exec})

	_, err := s.Run(context.Background(), "Build the project")
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected authorization denied, got %v", err)
	}
	if len(exec.shellCalls()) != 0 {
		t.Fatal("expected nothing to execute")
	}
}

func TestRun_SessionApprovalIsRemembered(t *testing.T) {
	reply := "```bash\nmake build\n```"
	p := &scriptedPrompter{answers: []consent.Response{{Approved: true, Scope: consent.ScopeSession}}}
	exec := &fakeExecutor{}
	s := newTestSupervisor(t, testSetup{model: replies(reply, "The build finished.", reply, "The build finished."), executor: exec, prompter: p})

	for i := 0; i < 2; i++ {
		out, err := s.Run(context.Background(), "Build the project")
		if err != nil {
			t.Fatalf("run %d: Run() error: %v", i, err)
		}
		if out.Status != StatusCompleted {
			t.Fatalf("run %d: expected completed, got %s", i, out.Status)
		}
	}
	if p.askCount() != 1 {
		t.Fatalf("expected one prompt across both runs, got %d", p.askCount())
	}
	if len(exec.shellCalls()) != 2 {
		t.Fatalf("expected two executions, got %d", len(exec.shellCalls()))
	}
}

func TestRun_PolicyDeniesTool(t *testing.T) {
	ev := policy.NewEvaluator(policy.Config{Mode: policy.ModeStrict, Allow: []string{"fs:*"}})
	exec := &fakeExecutor{}
	s := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nls -la\n```"),
		executor: exec,
		opts:     Options{Policy: &ev},
	})

	_, err := s.Run(context.Background(), "List the files")
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected authorization denied, got %v", err)
	}
	if len(exec.shellCalls()) != 0 {
		t.Fatal("expected nothing to execute")
	}
}

func TestRun_PolicyRequireApprovalPrompts(t *testing.T) {
	ev := policy.NewEvaluator(policy.Config{Mode: policy.ModeRelaxed, RequireApproval: []string{"shell:*"}})
	p := &scriptedPrompter{}
	s := newTestSupervisor(t, testSetup{
		model:    replies("```bash\nls -la\n```", "The listing is above."),
		prompter: p,
		level:    consent.LevelYolo,
		opts:     Options{Policy: &ev},
	})

	if _, err := s.Run(context.Background(), "List the files"); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if p.askCount() != 1 {
		t.Fatalf("expected an explicit prompt, got %d", p.askCount())
	}
}

func TestRun_NativeToolCallTakesPrecedence(t *testing.T) {
	reply := &schema.Message{
		Role:    schema.Assistant,
		Content: "```bash\nmake build\n```",
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "fs__read_file", Arguments: `{"path":"notes.txt"}`},
		}},
	}
	m := &scriptedModel{replies: []*schema.Message{reply, schema.AssistantMessage("The notes say hello.", nil)}}
	exec := &fakeExecutor{tool: func(toolID, args string) ([]tools.ContentBlock, error) {
		return []tools.ContentBlock{{Type: "text", Text: "hello"}}, nil
	}}
	workspace := t.TempDir()
	extractor := action.NewExtractor([]string{action.ToolReadFile, action.ToolWriteFile, action.ToolShellExec})
	s := newTestSupervisor(t, testSetup{model: m, executor: exec, opts: Options{Extractor: extractor, Workspace: workspace}})

	out, err := s.Run(context.Background(), "Read my notes")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(exec.shellCalls()) != 0 {
		t.Fatal("expected the native tool call to win over the text block")
	}
	if len(exec.toolArgs) != 1 || !strings.HasPrefix(exec.toolArgs[0], action.ToolReadFile+" ") {
		t.Fatalf("unexpected tool calls %v", exec.toolArgs)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(strings.TrimPrefix(exec.toolArgs[0], action.ToolReadFile+" ")), &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args["path"] != filepath.Join(workspace, "notes.txt") {
		t.Fatalf("expected workspace-relative path, got %q", args["path"])
	}
	if out.Summary != "The notes say hello." {
		t.Fatalf("unexpected summary %q", out.Summary)
	}
}

func TestRun_FileWriteVerified(t *testing.T) {
	workspace := t.TempDir()
	exec := &fakeExecutor{tool: func(toolID, args string) ([]tools.ContentBlock, error) {
		var in struct{ Path, Content string }
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return nil, err
		}
		if err := os.WriteFile(in.Path, []byte(in.Content), 0o644); err != nil {
			return nil, err
		}
		return []tools.ContentBlock{{Type: "text", Text: "Wrote file"}}, nil
	}}
	s := newTestSupervisor(t, testSetup{
		model:    replies(`{"action": "write_file", "path": "out.txt", "content": "hi"}`, "The file is written."),
		executor: exec,
		level:    consent.LevelTrusted,
		opts:     Options{Workspace: workspace},
	})

	out, err := s.Run(context.Background(), "Write a greeting")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(out.Results) != 1 || !out.Results[0].Verified || out.Results[0].Notes != "" {
		t.Fatalf("unexpected results %+v", out.Results)
	}
	if data, err := os.ReadFile(filepath.Join(workspace, "out.txt")); err != nil || string(data) != "hi" {
		t.Fatalf("expected file content hi, got %q (%v)", data, err)
	}
}

func TestRun_RecordsAuditMetricsAndResults(t *testing.T) {
	workspace := t.TempDir()
	store, err := resultlog.Open(resultlog.DefaultPath(workspace))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close()
	recorder := metrics.NewRecorder(workspace)

	s := newTestSupervisor(t, testSetup{
		model: replies("```bash\nls\n```", "Listed."),
		opts: Options{
			Workspace: workspace,
			Audit:     audit.NewWriter(workspace),
			Metrics:   recorder,
			Results:   store,
		},
	})

	out, err := s.Run(context.Background(), "Show the directory")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	events, err := audit.Tail(workspace, 0, out.TaskID)
	if err != nil {
		t.Fatalf("Tail() error: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.Type] = true
	}
	for _, want := range []string{
		audit.TypeExtracted, audit.TypeSafetyVerdict, audit.TypeConsentDecision,
		audit.TypeExecution, audit.TypeVerification, audit.TypeTaskStatus,
	} {
		if !seen[want] {
			t.Fatalf("expected audit event %s, got %+v", want, events)
		}
	}

	snap := recorder.Snapshot()
	if snap.Actions != 1 || snap.Execution.Total != 1 || snap.Tasks.Completed != 1 || snap.Consent.Approved != 1 {
		t.Fatalf("unexpected metrics %+v", snap)
	}

	records, err := store.Records(context.Background(), resultlog.Query{TaskID: out.TaskID})
	if err != nil {
		t.Fatalf("Records() error: %v", err)
	}
	if len(records) != 1 || records[0].Command != "ls" || !records[0].Verified {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestStepError(t *testing.T) {
	cause := errors.New("disk full")
	err := wrapStep(ErrExecutionFailure, cause, "run %s", "make")
	if !errors.Is(err, ErrExecutionFailure) || !errors.Is(err, cause) {
		t.Fatalf("expected both kind and cause to match, got %v", err)
	}
	if errors.Is(err, ErrSafetyBlocked) {
		t.Fatal("expected other kinds not to match")
	}
	if got := err.Error(); got != "execution failure: run make: disk full" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
		{"日本語", 6, "日本..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Fatalf("truncate(%q, %d): expected %q, got %q", tt.in, tt.n, tt.want, got)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
