package safety

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/risk"
)

const (
	defaultMaxEscalations = 10
	escalationScore       = 20
	waitEscalationCount   = 3
)

// BlockedAction is one entry of the append-only blocked log.
type BlockedAction struct {
	Action action.Candidate
	Reason string
	At     time.Time
}

// Stats summarizes the filter state for status displays.
type Stats struct {
	TotalBlocked   int
	Mode           Mode
	Escalations    int
	MaxEscalations int
}

// Hints carries caller knowledge that can trigger escalation.
type Hints struct {
	ModelUncertain bool
}

// Options configures a Filter. Zero values select the defaults.
type Options struct {
	Mode           Mode
	Patterns       *Patterns
	Rules          []ScoringRule
	Advisor        Advisor
	MaxEscalations int
}

// Filter scores candidate actions and turns the score into a verdict.
type Filter struct {
	mu             sync.Mutex
	patterns       *Patterns
	mode           Mode
	rules          []ScoringRule
	advisor        Advisor
	maxEscalations int
	escalations    int
	waitCount      int
	blocked        []BlockedAction
	now            func() time.Time
}

// NewFilter builds a filter, compiling the embedded pattern tables when none
// are given.
func NewFilter(opts Options) (*Filter, error) {
	patterns := opts.Patterns
	if patterns == nil {
		p, err := DefaultPatterns()
		if err != nil {
			return nil, err
		}
		patterns = p
	}
	rules := opts.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	maxEscalations := opts.MaxEscalations
	if maxEscalations <= 0 {
		maxEscalations = defaultMaxEscalations
	}
	return &Filter{
		patterns:       patterns,
		mode:           ParseMode(string(opts.Mode)),
		rules:          rules,
		advisor:        opts.Advisor,
		maxEscalations: maxEscalations,
		now:            time.Now,
	}, nil
}

// Patterns exposes the compiled tables, e.g. for prompt building.
func (f *Filter) Patterns() *Patterns {
	return f.patterns
}

// Mode returns the active mode.
func (f *Filter) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// SetMode switches the thresholds for subsequent evaluations.
func (f *Filter) SetMode(mode Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = ParseMode(string(mode))
}

// Evaluate scores one action against the context text. It never consults the
// advisor.
func (f *Filter) Evaluate(ctx context.Context, a action.Candidate, contextText string) Verdict {
	if !a.Kind.Executable() {
		return Safe()
	}

	if v, ok := f.hardBlock(a, contextText); ok {
		f.recordBlocked(ctx, a, v.Reason)
		return v
	}

	in := newInput(a, contextText, f.patterns)
	total := 0
	var signals []Signal
	for _, rule := range f.rules {
		signal, ok := rule.Score(in)
		if !ok {
			continue
		}
		if signal.Rule == "" {
			signal.Rule = rule.Name
		}
		total += signal.Weight
		signals = append(signals, signal)
	}

	v := f.classify(a, total, signals)
	if v.IsBlocked() {
		f.recordBlocked(ctx, a, v.Reason)
	}
	return v
}

func (f *Filter) classify(a action.Candidate, total int, signals []Signal) Verdict {
	th := f.Mode().Thresholds()
	reason := joinReasons(signals)

	var v Verdict
	switch {
	case total >= th.Block:
		v = Blocked(reason, suggestAlternative(a))
	case total >= th.Confirm:
		v = NeedsConfirmation(reason, confirmationRisk(total))
	case total >= th.Suspicious:
		v = Suspicious(reason, total)
	default:
		v = Safe()
	}
	v.Score = total
	v.Signals = signals
	return v
}

func (f *Filter) hardBlock(a action.Candidate, contextText string) (Verdict, bool) {
	payload := a.Payload()
	for _, block := range f.patterns.hardBlocks {
		if len(block.kinds) > 0 && !block.kinds[a.Kind] {
			continue
		}
		var targets []string
		switch block.scope {
		case "payload":
			targets = []string{payload}
		case "context":
			targets = []string{contextText}
		default:
			targets = []string{payload, contextText}
		}
		for _, re := range block.patterns {
			for _, text := range targets {
				if text != "" && re.MatchString(text) {
					v := Blocked(block.name+": "+block.reason, suggestAlternative(a))
					v.Signals = []Signal{{Rule: "hard_block", Reason: block.name}}
					return v, true
				}
			}
		}
	}
	return Verdict{}, false
}

// Review evaluates the action and consults the advisor when the primary
// verdict is borderline. A blocked verdict is final.
func (f *Filter) Review(ctx context.Context, a action.Candidate, contextText string, hints Hints) Verdict {
	primary := f.Evaluate(ctx, a, contextText)
	if primary.IsBlocked() {
		return primary
	}

	waits := f.countWait(a)
	escalate := hints.ModelUncertain ||
		(primary.Kind == VerdictSuspicious && primary.Score >= escalationScore) ||
		waits >= waitEscalationCount
	if !escalate || f.advisor == nil || !f.takeEscalation() {
		return primary
	}

	advice := f.advisor.Advise(ctx, AdvisorRequest{Action: a, Context: contextText, Primary: primary})
	v := applyAdvice(primary, advice)
	slog.Debug("safety advisor consulted", "action", a.Describe(), "advice", advice.Kind, "verdict", v.Kind)
	if v.IsBlocked() {
		f.recordBlocked(ctx, a, v.Reason)
	}
	return v
}

func applyAdvice(primary Verdict, advice AdvisorVerdict) Verdict {
	switch advice.Kind {
	case AdviceBlock:
		level := advice.Level
		if level == "" {
			level = "HIGH"
		}
		alt := advice.Alternative
		if alt == "" {
			alt = "WAIT"
		}
		v := Blocked(fmt.Sprintf("[ADVISOR-%s] %s", level, advice.Reason), alt)
		v.Score, v.Signals = primary.Score, primary.Signals
		return v
	case AdviceSuggestAlternative:
		v := NeedsConfirmation("[ADVISOR] "+advice.Reason, risk.Medium)
		v.Alternative = advice.Alternative
		v.Score, v.Signals = primary.Score, primary.Signals
		return v
	case AdviceApprove:
		if advice.Confidence >= 80 {
			return Safe()
		}
		v := Suspicious(fmt.Sprintf("[ADVISOR-%d%%] %s", advice.Confidence, advice.Reason), 100-advice.Confidence)
		v.Signals = primary.Signals
		return v
	default:
		return primary
	}
}

// countWait tracks consecutive no-op actions and returns the current run.
func (f *Filter) countWait(a action.Candidate) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.Kind == action.KindWait {
		f.waitCount++
	} else {
		f.waitCount = 0
	}
	return f.waitCount
}

func (f *Filter) takeEscalation() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.escalations >= f.maxEscalations {
		return false
	}
	f.escalations++
	return true
}

func (f *Filter) recordBlocked(ctx context.Context, a action.Candidate, reason string) {
	f.mu.Lock()
	f.blocked = append(f.blocked, BlockedAction{Action: a, Reason: reason, At: f.now().UTC()})
	f.mu.Unlock()
	slog.WarnContext(ctx, "action blocked", "action", a.Describe(), "reason", reason)
}

// Blocked returns a copy of the blocked log.
func (f *Filter) Blocked() []BlockedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]BlockedAction, len(f.blocked))
	copy(out, f.blocked)
	return out
}

func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		TotalBlocked:   len(f.blocked),
		Mode:           f.mode,
		Escalations:    f.escalations,
		MaxEscalations: f.maxEscalations,
	}
}

// ResetAdvisor restores the escalation budget and clears the wait counter.
func (f *Filter) ResetAdvisor() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = 0
	f.waitCount = 0
}

func suggestAlternative(a action.Candidate) string {
	switch a.Kind {
	case action.KindClick, action.KindDoubleClick:
		return "Consider using WAIT to observe the screen state first"
	case action.KindKey:
		if strings.Contains(strings.ToLower(a.Key), "delete") {
			return "Use Ctrl+Z to undo instead of delete"
		}
		return "Use a safer keyboard shortcut or click action"
	case action.KindType:
		return "Verify the target field before typing sensitive information"
	case action.KindShell, action.KindFileDelete, action.KindFileWrite, action.KindToolCall:
		return "Run a read-only command first to inspect the target"
	default:
		return "WAIT"
	}
}

func joinReasons(signals []Signal) string {
	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		parts = append(parts, s.Reason)
	}
	return strings.Join(parts, "; ")
}
