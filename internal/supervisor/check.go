package supervisor

import (
	"context"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/policy"
	"github.com/MEKXH/warden/internal/safety"
)

// Assessment is the gating result for one action without running it.
type Assessment struct {
	Action   action.Candidate
	ToolID   string
	Policy   *policy.Decision
	Verdict  safety.Verdict
	Request  consent.Request
	Decision consent.Decision
}

// Runnable reports whether the action would run without a prompt.
func (a Assessment) Runnable() bool {
	if a.Policy != nil && a.Policy.Action != policy.ActionAllow {
		return false
	}
	return !a.Verdict.IsBlocked() && a.Decision.Outcome == consent.Approved
}

// Check gates an action the same way Run would and stops before any prompt
// or execution. The advisor is not consulted and nothing is recorded.
func (s *Supervisor) Check(ctx context.Context, c action.Candidate, contextText string) Assessment {
	a := Assessment{Action: c, ToolID: toolIDFor(c)}
	if s.policy != nil && c.Kind != action.KindWait {
		decision := s.policy.Evaluate(policy.Input{ToolID: a.ToolID})
		a.Policy = &decision
	}
	a.Verdict = s.filter.Evaluate(ctx, c, contextText)
	if a.Verdict.IsBlocked() || c.Kind == action.KindWait {
		return a
	}
	a.Request = s.request(c, a.Verdict)
	a.Decision = s.consent.RequestConsent(a.Request)
	return a
}

// Extractor exposes the extractor built for the reachable tool set.
func (s *Supervisor) Extractor() *action.Extractor {
	return s.extractor
}
