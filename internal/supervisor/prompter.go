package supervisor

import (
	"context"

	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/safety"
)

// Prompter asks the user for consent. Ask blocks until the user answers.
type Prompter interface {
	Ask(ctx context.Context, req consent.Request, verdict safety.Verdict) (consent.Response, error)
	ReviewPlan(ctx context.Context, plan Plan) (PlanChoice, error)
}

// AutoApprove answers every prompt with yes. Safety blocks and denied
// decisions still stop the action because they never reach the prompter.
type AutoApprove struct {
	Scope consent.Scope
}

func (a AutoApprove) Ask(context.Context, consent.Request, safety.Verdict) (consent.Response, error) {
	scope := a.Scope
	if scope == "" {
		scope = consent.ScopeOnce
	}
	return consent.Response{Approved: true, Scope: scope, Comment: "auto-approved"}, nil
}

func (a AutoApprove) ReviewPlan(context.Context, Plan) (PlanChoice, error) {
	return PlanApproveAll, nil
}
