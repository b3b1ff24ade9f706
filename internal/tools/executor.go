package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
)

// Server names for the built-in tools.
const (
	ServerShell = "shell"
	ServerFS    = "fs"
)

// ShellResult is the outcome of one shell command.
type ShellResult struct {
	Stdout   string
	Stderr   string
	Success  bool
	ExitCode int
}

// Output joins stdout and stderr for display and verification.
func (r ShellResult) Output() string {
	stdout := strings.TrimRight(r.Stdout, "\n")
	stderr := strings.TrimRight(r.Stderr, "\n")
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n" + stderr
	}
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type string
	Text string
}

// Text concatenates the text blocks.
func Text(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Executor performs authorized side effects.
type Executor interface {
	RunShell(ctx context.Context, command, workingDir string) ShellResult
	CallTool(ctx context.Context, toolID, argsJSON string) ([]ContentBlock, error)
}

// Options configures a LocalExecutor.
type Options struct {
	Workspace           string
	ExecTimeout         time.Duration
	RestrictToWorkspace bool
}

// LocalExecutor runs commands and tools on the local machine.
type LocalExecutor struct {
	registry *Registry
	shell    *shellRunner
}

// NewLocalExecutor registers the built-in shell and filesystem tools.
func NewLocalExecutor(opts Options) (*LocalExecutor, error) {
	fsWorkspace := ""
	if opts.RestrictToWorkspace {
		fsWorkspace = opts.Workspace
	}

	registry := NewRegistry()
	builtins := []struct {
		server string
		build  func() (tool.InvokableTool, error)
	}{
		{ServerShell, func() (tool.InvokableTool, error) {
			return NewExecTool(opts.ExecTimeout, opts.RestrictToWorkspace, opts.Workspace)
		}},
		{ServerFS, func() (tool.InvokableTool, error) { return NewReadFileTool(fsWorkspace) }},
		{ServerFS, func() (tool.InvokableTool, error) { return NewWriteFileTool(fsWorkspace) }},
		{ServerFS, func() (tool.InvokableTool, error) { return NewEditFileTool(fsWorkspace) }},
		{ServerFS, func() (tool.InvokableTool, error) { return NewDeleteFileTool(fsWorkspace) }},
		{ServerFS, func() (tool.InvokableTool, error) { return NewListDirTool(fsWorkspace) }},
		{ServerFS, func() (tool.InvokableTool, error) { return NewGrepTool(fsWorkspace) }},
	}
	for _, b := range builtins {
		t, err := b.build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(b.server, t); err != nil {
			return nil, err
		}
	}

	return &LocalExecutor{
		registry: registry,
		shell:    newShellRunner(opts.ExecTimeout, opts.RestrictToWorkspace, opts.Workspace),
	}, nil
}

// Registry exposes the tool registry for prompts and model binding.
func (e *LocalExecutor) Registry() *Registry {
	return e.registry
}

func (e *LocalExecutor) RunShell(ctx context.Context, command, workingDir string) ShellResult {
	meta := InvocationFromContext(ctx)
	start := time.Now()
	out, _ := e.shell.execute(ctx, &ExecInput{Command: command, WorkingDir: workingDir})
	slog.Debug("shell command finished",
		append(meta.logArgs(), "exit_code", out.ExitCode, "duration_ms", time.Since(start).Milliseconds())...)
	return ShellResult{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Success:  out.ExitCode == 0,
		ExitCode: out.ExitCode,
	}
}

func (e *LocalExecutor) CallTool(ctx context.Context, toolID, argsJSON string) ([]ContentBlock, error) {
	t, ok := e.registry.Get(toolID)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", toolID)
	}
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}

	meta := InvocationFromContext(ctx)
	start := time.Now()
	out, err := t.InvokableRun(ctx, argsJSON)
	slog.Debug("tool call finished",
		append(meta.logArgs(), "tool", toolID, "duration_ms", time.Since(start).Milliseconds(), "ok", err == nil)...)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", toolID, err)
	}
	return []ContentBlock{{Type: "text", Text: out}}, nil
}
