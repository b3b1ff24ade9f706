package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/audit"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PlanChoice is the user's answer to a plan review.
type PlanChoice string

const (
	PlanApproveAll    PlanChoice = "approve_all"
	PlanApproveSingle PlanChoice = "approve_single"
	PlanDeny          PlanChoice = "deny"
	PlanCancel        PlanChoice = "cancel"
)

// ParsePlanChoice accepts the choice names plus the short forms a/s/d/c.
func ParsePlanChoice(raw string) (PlanChoice, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a", "all", string(PlanApproveAll):
		return PlanApproveAll, nil
	case "s", "single", string(PlanApproveSingle):
		return PlanApproveSingle, nil
	case "d", "deny", "n", "no":
		return PlanDeny, nil
	case "c", "cancel", "q":
		return PlanCancel, nil
	default:
		return "", fmt.Errorf("unknown plan choice %q", raw)
	}
}

// Plan is an ordered batch of actions reviewed as a whole.
type Plan struct {
	ID      string
	Goal    string
	Actions []action.Candidate
}

// NewPlan keeps only the executable actions.
func NewPlan(goal string, actions []action.Candidate) Plan {
	kept := make([]action.Candidate, 0, len(actions))
	for _, a := range actions {
		if a.Kind.Executable() {
			kept = append(kept, a)
		}
	}
	return Plan{ID: "plan-" + uuid.NewString()[:8], Goal: strings.TrimSpace(goal), Actions: kept}
}

// PlanFromText extracts every action from a planner reply.
func PlanFromText(extractor *action.Extractor, goal, text string) (Plan, bool) {
	plan := NewPlan(goal, extractor.Extract(text))
	return plan, len(plan.Actions) > 0
}

// ExecutePlan reviews the plan with the user and runs the actions in order
// through the same safety, consent and verification path as Run.
func (s *Supervisor) ExecutePlan(ctx context.Context, plan Plan) (Outcome, error) {
	if len(plan.Actions) == 0 {
		return Outcome{}, fmt.Errorf("plan has no executable actions")
	}
	goal := plan.Goal
	if goal == "" {
		goal = fmt.Sprintf("plan %s", plan.ID)
	}
	r := s.newRun(s.newTaskID(), goal)
	ctx, span := tracer.Start(ctx, "supervisor.plan", trace.WithAttributes(
		attribute.String("task_id", r.task.ID),
		attribute.String("plan_id", plan.ID),
		attribute.Int("actions", len(plan.Actions)),
	))
	defer span.End()
	r.span = span

	if s.prompter == nil {
		return s.fail(ctx, r, stepError(ErrAuthorizationDenied, "no prompter available to review the plan"))
	}
	choice, err := s.prompter.ReviewPlan(ctx, plan)
	if err != nil {
		return s.fail(ctx, r, wrapStep(ErrCancelled, err, "plan review"))
	}
	slog.Info("plan reviewed", "task_id", r.task.ID, "plan_id", plan.ID, "choice", string(choice), "actions", len(plan.Actions))
	s.record(audit.Event{Type: audit.TypeConsentResponse, TaskID: r.task.ID, Action: "plan " + plan.ID, Result: string(choice)})

	var opts stepOptions
	switch choice {
	case PlanApproveAll:
		s.consent.ApproveBatch(plan.ID)
		defer s.consent.RevokeBatch(plan.ID)
		opts.batchID = plan.ID
	case PlanApproveSingle:
		opts.forcePrompt = true
	case PlanDeny:
		return s.fail(ctx, r, stepError(ErrAuthorizationDenied, "plan denied by user"))
	case PlanCancel:
		return s.fail(ctx, r, stepError(ErrCancelled, "plan cancelled by user"))
	default:
		return s.fail(ctx, r, stepError(ErrCancelled, fmt.Sprintf("unknown plan choice %q", choice)))
	}

	for i, a := range plan.Actions {
		r.turns = i + 1
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, r, wrapStep(ErrCancelled, err, "plan interrupted"))
		}
		if _, stepErr := s.step(ctx, r, a, goal, opts); stepErr != nil {
			if errors.Is(stepErr.Kind, ErrExecutionFailure) || errors.Is(stepErr.Kind, ErrVerificationFailure) {
				stepErr.Reason = fmt.Sprintf("step %d (%s): %s", i+1, a.Describe(), stepErr.Reason)
			}
			return s.fail(ctx, r, stepErr)
		}
	}
	return s.complete(ctx, r, fmt.Sprintf("Plan %s finished: %d actions executed.", plan.ID, len(plan.Actions)))
}
