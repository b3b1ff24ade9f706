package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/supervisor"
	"github.com/mattn/go-isatty"
)

const maxPromptAttempts = 3

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newPrompter picks the consent prompter: auto-approve with --yes, the
// terminal UI on a TTY, and line prompts otherwise.
func newPrompter(yes, plain bool) supervisor.Prompter {
	switch {
	case yes:
		return supervisor.AutoApprove{}
	case !plain && stdinIsTerminal():
		return &tuiPrompter{}
	default:
		return newLinePrompter(os.Stdin, os.Stdout)
	}
}

// linePrompter asks on a line-oriented stream. Prompts are serialized so
// concurrent sub-tasks never interleave questions.
type linePrompter struct {
	mu    sync.Mutex
	in    *bufio.Reader
	out   io.Writer
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

func newLinePrompter(in io.Reader, out io.Writer) *linePrompter {
	return &linePrompter{in: bufio.NewReader(in), out: out}
}

func (p *linePrompter) Ask(ctx context.Context, req consent.Request, verdict safety.Verdict) (consent.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, describeRequest(req, verdict))
	for range maxPromptAttempts {
		fmt.Fprint(p.out, "Allow? [y]es once, [s]ession, [p]roject, [g]lobal, [n]o: ")
		line, err := p.readLine(ctx)
		if err != nil {
			return consent.Response{}, err
		}
		if resp, ok := parseConsentAnswer(line); ok {
			return resp, nil
		}
		fmt.Fprintf(p.out, "Unrecognized answer %q.\n", line)
	}
	return consent.Response{Approved: false, Comment: "no valid answer"}, nil
}

func (p *linePrompter) ReviewPlan(ctx context.Context, plan supervisor.Plan) (supervisor.PlanChoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, describePlan(plan))
	for range maxPromptAttempts {
		fmt.Fprint(p.out, "[a]pprove all, approve [s]ingle, [d]eny, [c]ancel: ")
		line, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}
		if choice, err := supervisor.ParsePlanChoice(line); err == nil {
			return choice, nil
		}
		fmt.Fprintf(p.out, "Unrecognized answer %q.\n", line)
	}
	return supervisor.PlanCancel, nil
}

// readLine waits for one line or ctx. A pending read is picked up by the
// next call.
func (p *linePrompter) readLine(ctx context.Context) (string, error) {
	if p.lines == nil {
		p.lines = make(chan lineResult, 1)
		go func() {
			text, err := p.in.ReadString('\n')
			p.lines <- lineResult{text: text, err: err}
		}()
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-p.lines:
		p.lines = nil
		text := strings.TrimSpace(res.text)
		if res.err != nil && (res.err != io.EOF || text == "") {
			return "", fmt.Errorf("read answer: %w", res.err)
		}
		return text, nil
	}
}

// parseConsentAnswer maps an answer to a response. An empty answer denies.
func parseConsentAnswer(raw string) (consent.Response, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "o", "once":
		return approved(consent.ScopeOnce), true
	case "s", "session":
		return approved(consent.ScopeSession), true
	case "p", "project":
		return approved(consent.ScopeProject), true
	case "g", "global", "always":
		return approved(consent.ScopeGlobal), true
	case "", "n", "no":
		return consent.Response{Approved: false, Comment: "denied by user"}, true
	default:
		return consent.Response{}, false
	}
}

func approved(scope consent.Scope) consent.Response {
	return consent.Response{Approved: true, Scope: scope}
}

func describeRequest(req consent.Request, verdict safety.Verdict) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Consent required: %s\n", req.Description)
	fmt.Fprintf(&sb, "  risk: %s  category: %s\n", req.Risk, req.Category)
	if req.Command != "" {
		fmt.Fprintf(&sb, "  command: %s\n", oneLine(req.Command))
	}
	if len(req.Files) > 0 {
		fmt.Fprintf(&sb, "  files: %s\n", strings.Join(req.Files, ", "))
	}
	if verdict.Kind != "" && verdict.Kind != safety.VerdictSafe {
		fmt.Fprintf(&sb, "  safety: %s (score %d)", verdict.Kind, verdict.Score)
		if verdict.Reason != "" {
			fmt.Fprintf(&sb, " %s", verdict.Reason)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func describePlan(plan supervisor.Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan %s: %s\n", plan.ID, plan.Goal)
	for i, a := range plan.Actions {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, a.Describe())
		if a.Explanation != "" {
			fmt.Fprintf(&sb, "     %s\n", a.Explanation)
		}
	}
	return sb.String()
}
