package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/risk"
)

// Severity grades a verification issue.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Issue is one finding from verification.
type Issue struct {
	Severity Severity
	Message  string
}

// Verification is the heuristic check of one execution.
type Verification struct {
	Passed bool
	Issues []Issue
}

// Critical reports whether any issue must stop the task immediately.
func (v Verification) Critical() bool {
	for _, issue := range v.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Notes renders the issues on one line.
func (v Verification) Notes() string {
	parts := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Severity, issue.Message))
	}
	return strings.Join(parts, "; ")
}

// dataLossIndicators mark output that means the machine itself is in trouble.
var dataLossIndicators = []string{
	"no space left on device",
	"read-only file system",
	"input/output error",
	"database disk image is malformed",
}

// execution is what the executor reported for one attempt.
type execution struct {
	Tool     string
	Output   string
	Success  bool
	ExitCode int
	Err      error
}

// Verifier checks that an execution did what the action intended.
type Verifier struct {
	workspace string
	stat      func(string) (os.FileInfo, error)
	readFile  func(string) ([]byte, error)
}

// NewVerifier resolves relative paths against workspace.
func NewVerifier(workspace string) *Verifier {
	return &Verifier{workspace: workspace, stat: os.Stat, readFile: os.ReadFile}
}

// Verify inspects the result of running c.
func (v *Verifier) Verify(c action.Candidate, exec execution) Verification {
	var issues []Issue
	lower := strings.ToLower(exec.Output)
	for _, indicator := range dataLossIndicators {
		if strings.Contains(lower, indicator) {
			issues = append(issues, Issue{SeverityCritical, "output reports " + indicator})
		}
	}
	if !exec.Success {
		issues = append(issues, Issue{SeverityError, failureMessage(exec)})
	}

	if exec.Success {
		switch {
		case c.Kind == action.KindFileWrite:
			if !v.exists(c.Command) {
				issues = append(issues, Issue{SeverityError, "File was not created"})
			}
		case c.Kind == action.KindFileDelete:
			if v.exists(c.Command) {
				issues = append(issues, Issue{SeverityError, "File still exists after delete"})
			}
		case c.Kind == action.KindToolCall && c.ToolID == action.ToolEditFile:
			issues = append(issues, v.checkEdit(c)...)
		case c.Kind == action.KindShell:
			category := risk.ClassifyCommand(c.Command).Category
			if (category == risk.CategoryBuild || category == risk.CategoryTest) && reportsError(lower) {
				issues = append(issues, Issue{SeverityWarning, "output mentions errors"})
			}
		}
	}

	return Verification{Passed: !hasBlocking(issues), Issues: issues}
}

func (v *Verifier) checkEdit(c action.Candidate) []Issue {
	args := c.Args()
	path, _ := args["path"].(string)
	newText, _ := args["new_text"].(string)
	if path == "" || newText == "" {
		return nil
	}
	data, err := v.readFile(v.resolve(path))
	if err != nil {
		return []Issue{{SeverityError, "edited file could not be re-read"}}
	}
	if !strings.Contains(string(data), newText) {
		return []Issue{{SeverityError, "edited file does not contain the new text"}}
	}
	return nil
}

func (v *Verifier) exists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := v.stat(v.resolve(path))
	return err == nil
}

func (v *Verifier) resolve(path string) string {
	return resolvePath(v.workspace, path)
}

func resolvePath(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) || workspace == "" {
		return path
	}
	return filepath.Join(workspace, path)
}

func failureMessage(exec execution) string {
	if exec.Err != nil {
		return exec.Err.Error()
	}
	if exec.ExitCode != 0 {
		return fmt.Sprintf("command exited with code %d", exec.ExitCode)
	}
	return "execution reported failure"
}

func reportsError(lowerOutput string) bool {
	for _, line := range strings.Split(lowerOutput, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "error") || strings.Contains(line, " error:") {
			return true
		}
	}
	return false
}

func hasBlocking(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity != SeverityWarning {
			return true
		}
	}
	return false
}
