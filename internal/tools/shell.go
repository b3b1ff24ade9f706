package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const (
	defaultExecTimeout = 60 * time.Second
	blockedExitCode    = 126
)

// ExecInput parameters for the shell:exec tool
type ExecInput struct {
	Command    string `json:"command" jsonschema:"required,description=Shell command to execute"`
	WorkingDir string `json:"working_dir" jsonschema:"description=Working directory for the command"`
}

// ExecOutput result of the shell:exec tool
type ExecOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// refusedPatterns are commands the executor refuses even after authorization.
// The safety filter blocks these earlier; this is the executor's own floor.
var refusedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(sudo\s+)?rm\s+(-[a-z]*r[a-z]*\s+-[a-z]*f[a-z]*|-[a-z]*f[a-z]*\s+-[a-z]*r[a-z]*|-[a-z]*rf[a-z]*|-[a-z]*fr[a-z]*)\s+(/|~)\s*$`),
	regexp.MustCompile(`(?i)--no-preserve-root`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+if=.*\bof=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{.*\|.*&\s*\}\s*;`),
	regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
}

func refused(cmd string) (bool, string) {
	for _, pat := range refusedPatterns {
		if pat.MatchString(cmd) {
			return true, pat.String()
		}
	}
	return false, ""
}

type shellRunner struct {
	timeout             time.Duration
	restrictToWorkspace bool
	workspaceDir        string
}

func newShellRunner(timeout time.Duration, restrictToWorkspace bool, workspaceDir string) *shellRunner {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &shellRunner{timeout: timeout, restrictToWorkspace: restrictToWorkspace, workspaceDir: workspaceDir}
}

func (s *shellRunner) workDir(requested string) (string, error) {
	if s.restrictToWorkspace && s.workspaceDir != "" {
		if requested == "" {
			return s.workspaceDir, nil
		}
		if err := validatePath(requested, s.workspaceDir); err != nil {
			return "", err
		}
		return requested, nil
	}
	if requested == "" {
		return s.workspaceDir, nil
	}
	return requested, nil
}

func (s *shellRunner) execute(ctx context.Context, input *ExecInput) (*ExecOutput, error) {
	if strings.TrimSpace(input.Command) == "" {
		return &ExecOutput{Stderr: "empty command", ExitCode: 1}, nil
	}
	if blocked, pattern := refused(input.Command); blocked {
		return &ExecOutput{
			Stderr:   fmt.Sprintf("Refused command matching pattern: %s", pattern),
			ExitCode: blockedExitCode,
		}, nil
	}

	dir, err := s.workDir(input.WorkingDir)
	if err != nil {
		return &ExecOutput{Stderr: "Working directory rejected: " + err.Error(), ExitCode: 1}, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(timeoutCtx, "cmd", "/C", input.Command)
	} else {
		cmd = exec.CommandContext(timeoutCtx, "sh", "-c", input.Command)
	}
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return &ExecOutput{Stdout: stdout.String(), Stderr: err.Error(), ExitCode: 1}, nil
		}
		exitCode = exitErr.ExitCode()
		if timeoutCtx.Err() == context.DeadlineExceeded {
			stderr.WriteString(fmt.Sprintf("\ncommand timed out after %s", s.timeout))
		}
	}

	return &ExecOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// NewExecTool creates the exec tool, registered as shell:exec.
func NewExecTool(timeout time.Duration, restrictToWorkspace bool, workspaceDir string) (tool.InvokableTool, error) {
	runner := newShellRunner(timeout, restrictToWorkspace, workspaceDir)
	return utils.InferTool("exec", "Execute a shell command", runner.execute)
}
