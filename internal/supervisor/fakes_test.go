package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/tools"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []*schema.Message
	err     error
	calls   int
	inputs  [][]*schema.Message
}

func replies(texts ...string) *scriptedModel {
	m := &scriptedModel{}
	for _, text := range texts {
		m.replies = append(m.replies, schema.AssistantMessage(text, nil))
	}
	return m
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	if m.err != nil {
		return nil, m.err
	}
	idx := m.calls
	m.calls++
	if idx >= len(m.replies) {
		return schema.AssistantMessage("All done.", nil), nil
	}
	return m.replies[idx], nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (m *scriptedModel) lastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

type fakeExecutor struct {
	mu       sync.Mutex
	shell    func(command string) tools.ShellResult
	tool     func(toolID, args string) ([]tools.ContentBlock, error)
	commands []string
	toolArgs []string
}

func (e *fakeExecutor) RunShell(ctx context.Context, command, workingDir string) tools.ShellResult {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	e.mu.Unlock()
	if e.shell == nil {
		return tools.ShellResult{Stdout: "ok", Success: true}
	}
	return e.shell(command)
}

func (e *fakeExecutor) CallTool(ctx context.Context, toolID, argsJSON string) ([]tools.ContentBlock, error) {
	e.mu.Lock()
	e.toolArgs = append(e.toolArgs, toolID+" "+argsJSON)
	e.mu.Unlock()
	if e.tool == nil {
		return []tools.ContentBlock{{Type: "text", Text: "ok"}}, nil
	}
	return e.tool(toolID, argsJSON)
}

func (e *fakeExecutor) shellCalls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

type scriptedPrompter struct {
	mu      sync.Mutex
	answers []consent.Response
	choice  PlanChoice
	asked   []consent.Request
	reviews int
}

func (p *scriptedPrompter) Ask(ctx context.Context, req consent.Request, verdict safety.Verdict) (consent.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, req)
	if len(p.answers) == 0 {
		return consent.Response{Approved: true, Scope: consent.ScopeOnce}, nil
	}
	answer := p.answers[0]
	if len(p.answers) > 1 {
		p.answers = p.answers[1:]
	}
	return answer, nil
}

func (p *scriptedPrompter) ReviewPlan(ctx context.Context, plan Plan) (PlanChoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviews++
	return p.choice, nil
}

func (p *scriptedPrompter) askCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.asked)
}

type testSetup struct {
	model    *scriptedModel
	executor *fakeExecutor
	prompter Prompter
	opts     Options
	mode     safety.Mode
	level    consent.Level
}

func newTestSupervisor(t *testing.T, setup testSetup) *Supervisor {
	t.Helper()
	mode := setup.mode
	if mode == "" {
		mode = safety.ModeNormal
	}
	filter, err := safety.NewFilter(safety.Options{Mode: mode})
	if err != nil {
		t.Fatalf("NewFilter() error: %v", err)
	}
	opts := setup.opts
	if setup.model != nil {
		opts.Model = setup.model
	}
	if setup.executor == nil {
		setup.executor = &fakeExecutor{}
	}
	opts.Executor = setup.executor
	opts.Filter = filter
	if opts.Consent == nil {
		opts.Consent = consent.NewEngine(consent.Options{Level: setup.level})
	}
	opts.Prompter = setup.prompter
	if opts.Workspace == "" {
		opts.Workspace = t.TempDir()
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}
