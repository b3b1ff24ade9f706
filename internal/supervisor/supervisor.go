package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/metrics"
	"github.com/MEKXH/warden/internal/policy"
	"github.com/MEKXH/warden/internal/resultlog"
	"github.com/MEKXH/warden/internal/risk"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/tools"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("github.com/MEKXH/warden/internal/supervisor")

const (
	defaultMaxTurns               = 30
	defaultMaxRetries             = 3
	defaultMaxConsecutiveFailures = 3
	defaultRetryBackoff           = 250 * time.Millisecond
	maxFeedbackChars              = 4000
)

// uncertainMarkers in a model reply ask the safety filter for a second opinion.
var uncertainMarkers = []string{"not sure", "i'm unsure", "uncertain", "i think", "might be", "possibly"}

// Status is the final result class of a task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ActionResult is one executed action. It is never modified after creation.
type ActionResult struct {
	Tool      string
	Command   string
	Success   bool
	Output    string
	Verified  bool
	Notes     string
	Retries   int
	Duration  time.Duration
	Timestamp time.Time
}

// Outcome is what a task run reports back.
type Outcome struct {
	TaskID  string
	Status  Status
	Summary string
	Results []ActionResult
	Turns   int
	State   State
}

// Options wires a Supervisor. Model, Executor, Filter and Consent are required
// for Run; ExecutePlan does not need a model.
type Options struct {
	Model     model.BaseChatModel
	Executor  tools.Executor
	Registry  *tools.Registry
	Extractor *action.Extractor
	Filter    *safety.Filter
	Consent   *consent.Engine
	Policy    *policy.Evaluator
	Prompter  Prompter

	Audit   *audit.Writer
	Metrics *metrics.Recorder
	Results *resultlog.Store

	Workspace   string
	ModelName   string
	Temperature float64
	MaxTokens   int

	MaxTurns               int
	MaxRetries             int
	MaxConsecutiveFailures int
	RetryBackoff           time.Duration
	TaskTimeout            time.Duration
}

// Supervisor drives tasks from model output to verified side effects.
type Supervisor struct {
	model     model.BaseChatModel
	executor  tools.Executor
	registry  *tools.Registry
	extractor *action.Extractor
	filter    *safety.Filter
	consent   *consent.Engine
	policy    *policy.Evaluator
	prompter  Prompter
	prompts   *safety.PromptBuilder
	verifier  *Verifier

	audit   *audit.Writer
	metrics *metrics.Recorder
	results *resultlog.Store

	workspace   string
	modelName   string
	temperature float64
	maxTokens   int

	maxTurns               int
	maxRetries             int
	maxConsecutiveFailures int
	retryBackoff           time.Duration
	taskTimeout            time.Duration

	now func() time.Time
}

// New validates the wiring and fills defaults.
func New(opts Options) (*Supervisor, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Filter == nil {
		return nil, fmt.Errorf("safety filter is required")
	}
	if opts.Consent == nil {
		return nil, fmt.Errorf("consent engine is required")
	}

	s := &Supervisor{
		model:                  opts.Model,
		executor:               opts.Executor,
		registry:               opts.Registry,
		filter:                 opts.Filter,
		consent:                opts.Consent,
		policy:                 opts.Policy,
		prompter:               opts.Prompter,
		prompts:                safety.NewPromptBuilder(opts.Filter.Patterns()),
		verifier:               NewVerifier(opts.Workspace),
		audit:                  opts.Audit,
		metrics:                opts.Metrics,
		results:                opts.Results,
		workspace:              opts.Workspace,
		modelName:              opts.ModelName,
		temperature:            opts.Temperature,
		maxTokens:              opts.MaxTokens,
		maxTurns:               orDefault(opts.MaxTurns, defaultMaxTurns),
		maxRetries:             opts.MaxRetries,
		maxConsecutiveFailures: orDefault(opts.MaxConsecutiveFailures, defaultMaxConsecutiveFailures),
		retryBackoff:           opts.RetryBackoff,
		taskTimeout:            opts.TaskTimeout,
		now:                    time.Now,
	}
	if opts.MaxRetries < 0 {
		s.maxRetries = 0
	}
	if opts.MaxRetries == 0 {
		s.maxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff < 0 {
		s.retryBackoff = 0
	}
	if opts.RetryBackoff == 0 {
		s.retryBackoff = defaultRetryBackoff
	}

	s.extractor = opts.Extractor
	if s.extractor == nil {
		s.extractor = action.NewExtractor(s.knownTools())
	}
	return s, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Consent exposes the engine, e.g. for rule management between tasks.
func (s *Supervisor) Consent() *consent.Engine {
	return s.consent
}

// Filter exposes the safety filter.
func (s *Supervisor) Filter() *safety.Filter {
	return s.filter
}

// run is the mutable bookkeeping of one task.
type run struct {
	task     *Task
	span     trace.Span
	results  []ActionResult
	turns    int
	failures int
}

func (s *Supervisor) newRun(id, goal string) *run {
	return &run{task: newTask(id, goal, s.now)}
}

func (s *Supervisor) newTaskID() string {
	return "task-" + uuid.NewString()[:8]
}

// Run works toward goal until the model answers without an action, an action
// is refused, or a ceiling is reached. The returned error is a *StepError when
// a step stopped the task; ceilings stop the task without an error.
func (s *Supervisor) Run(ctx context.Context, goal string) (Outcome, error) {
	return s.runTask(ctx, s.newTaskID(), goal)
}

func (s *Supervisor) runTask(ctx context.Context, taskID, goal string) (Outcome, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Outcome{}, fmt.Errorf("goal is required")
	}
	r := s.newRun(taskID, goal)
	ctx, span := tracer.Start(ctx, "supervisor.run", trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()
	r.span = span

	if s.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.taskTimeout)
		defer cancel()
	}

	slog.Info("task started", "task_id", taskID, "goal", truncate(goal, 120))
	s.record(audit.Event{Type: audit.TypeTaskStatus, TaskID: taskID, Result: string(StatePlanning), Reason: truncate(goal, 200)})

	if s.model == nil {
		return s.fail(ctx, r, stepError(ErrProvider, "no model configured"))
	}

	known := s.knownTools()
	messages := []*schema.Message{
		schema.SystemMessage(s.systemPrompt(ctx, known, goal)),
		schema.UserMessage(goal),
	}
	genOpts := s.generateOptions(ctx, known)
	observation := goal
	var last *action.Candidate

	for turn := 1; turn <= s.maxTurns; turn++ {
		r.turns = turn
		if ctx.Err() != nil {
			return s.interrupted(ctx, r)
		}

		resp, err := s.model.Generate(ctx, messages, genOpts...)
		if err != nil {
			if ctx.Err() != nil {
				return s.interrupted(ctx, r)
			}
			return s.fail(ctx, r, wrapStep(ErrProvider, err, "generate"))
		}
		if resp == nil {
			resp = schema.AssistantMessage("", nil)
		}
		logUsage(taskID, turn, resp)

		c := s.candidate(resp)
		if !c.Kind.Executable() && c.Kind != action.KindWait {
			text := strings.TrimSpace(resp.Content)
			if text == "" {
				text = "Task finished without further actions."
			}
			return s.complete(ctx, r, text)
		}
		if c.Kind != action.KindWait && last != nil && c.Equal(*last) {
			slog.Warn("repeated action, stopping", "task_id", taskID, "action", c.Describe())
			return s.stop(ctx, r, fmt.Sprintf("Stopped: the model proposed %s twice in a row.", c.Describe()))
		}
		last = &c

		contextText := observation + "\n" + resp.Content
		res, stepErr := s.step(ctx, r, c, contextText, stepOptions{uncertain: isUncertain(resp.Content)})
		if stepErr != nil {
			return s.fail(ctx, r, stepErr)
		}
		if err := r.task.Transition(StatePlanning); err != nil {
			slog.Warn("task transition failed", "task_id", taskID, "error", err)
		}

		assistant := strings.TrimSpace(resp.Content)
		if assistant == "" {
			assistant = "Proposed: " + c.Describe()
		}
		feedback := feedbackMessage(res)
		messages = append(messages, schema.AssistantMessage(assistant, nil), schema.UserMessage(feedback))
		observation = res.Output
	}

	slog.Warn("turn limit reached", "task_id", taskID, "max_turns", s.maxTurns)
	return s.stop(ctx, r, fmt.Sprintf("Stopped: reached the limit of %d turns.", s.maxTurns))
}

// stepOptions tune how one action is authorized.
type stepOptions struct {
	batchID     string
	forcePrompt bool
	uncertain   bool
}

// step takes one candidate through policy, safety, consent, execution and
// verification. A non-nil *StepError ends the task.
func (s *Supervisor) step(ctx context.Context, r *run, c action.Candidate, contextText string, opts stepOptions) (ActionResult, *StepError) {
	taskID := r.task.ID
	toolID := toolIDFor(c)
	ctx, span := tracer.Start(ctx, "supervisor.step", trace.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("tool", toolID),
		attribute.String("kind", string(c.Kind)),
	))
	defer span.End()

	slog.Info("action extracted", "task_id", taskID, "tool", toolID, "action", c.Describe(), "source", c.Source)
	s.record(audit.Event{Type: audit.TypeExtracted, TaskID: taskID, Tool: toolID, Action: c.Describe()})
	s.observe(s.metrics.RecordAction())

	needsApproval := opts.forcePrompt
	if s.policy != nil && c.Kind != action.KindWait {
		decision := s.policy.Evaluate(policy.Input{ToolID: toolID})
		switch decision.Action {
		case policy.ActionDeny:
			span.SetAttributes(attribute.String("policy", string(decision.Action)))
			return ActionResult{}, stepError(ErrAuthorizationDenied, decision.Reason)
		case policy.ActionRequireApproval:
			needsApproval = true
		}
	}

	before := s.filter.Stats().Escalations
	verdict := s.filter.Review(ctx, c, contextText, safety.Hints{ModelUncertain: opts.uncertain})
	if s.filter.Stats().Escalations > before {
		s.observe(s.metrics.RecordEscalation())
	}
	s.observe(s.metrics.RecordVerdict(string(verdict.Kind)))
	s.record(audit.Event{Type: audit.TypeSafetyVerdict, TaskID: taskID, Tool: toolID, Action: c.Describe(), Result: string(verdict.Kind), Reason: verdict.Reason})
	span.SetAttributes(attribute.String("verdict", string(verdict.Kind)))
	slog.Info("safety verdict", "task_id", taskID, "tool", toolID, "verdict", string(verdict.Kind), "score", verdict.Score)
	if verdict.IsBlocked() {
		return ActionResult{}, &StepError{Kind: ErrSafetyBlocked, Reason: verdict.Reason, Hint: verdict.Alternative}
	}

	if c.Kind == action.KindWait {
		res := ActionResult{Tool: "wait", Command: "WAIT", Success: true, Verified: true, Output: "Waited for the screen to settle.", Timestamp: s.now()}
		r.results = append(r.results, res)
		return res, nil
	}

	req := s.request(c, verdict)
	if opts.batchID != "" {
		req = req.InBatch(opts.batchID)
	}
	if stepErr := s.authorize(ctx, r, req, verdict, needsApproval); stepErr != nil {
		return ActionResult{}, stepErr
	}

	if err := r.task.Transition(StateExecuting); err != nil {
		slog.Warn("task transition failed", "task_id", taskID, "error", err)
	}
	res, stepErr := s.executeWithRetries(ctx, r, c)
	r.results = append(r.results, res)
	s.appendResult(ctx, taskID, res)
	if stepErr != nil {
		span.SetStatus(codes.Error, stepErr.Error())
	}
	return res, stepErr
}

// authorize runs the consent decision and, when needed, the prompt.
func (s *Supervisor) authorize(ctx context.Context, r *run, req consent.Request, verdict safety.Verdict, needsApproval bool) *StepError {
	taskID := r.task.ID
	if err := r.task.Transition(StateAwaitingConsent); err != nil {
		slog.Warn("task transition failed", "task_id", taskID, "error", err)
	}

	decision := s.consent.RequestConsent(req)
	if needsApproval && decision.Outcome == consent.Approved {
		decision = consent.Decision{Outcome: consent.NeedsPrompt, Reason: "explicit approval required"}
	}
	s.observe(s.metrics.RecordDecision(string(decision.Outcome)))
	s.record(audit.Event{
		Type:      audit.TypeConsentDecision,
		TaskID:    taskID,
		RequestID: req.ID,
		Action:    req.Description,
		Risk:      req.Risk.String(),
		Result:    string(decision.Outcome),
		Reason:    decision.Reason,
	})
	slog.Info("consent decision", "task_id", taskID, "request_id", req.ID, "risk", req.Risk.String(), "decision", string(decision.Outcome), "reason", decision.Reason)

	switch decision.Outcome {
	case consent.Approved:
		return nil
	case consent.Denied:
		return stepError(ErrAuthorizationDenied, decision.Reason)
	}

	if s.prompter == nil {
		return stepError(ErrAuthorizationDenied, "confirmation required but no prompter is available")
	}
	resp, err := s.prompter.Ask(ctx, req, verdict)
	if err != nil {
		return wrapStep(ErrCancelled, err, "consent prompt")
	}
	if err := s.consent.RecordResponse(req, resp); err != nil {
		slog.Warn("persist consent response failed", "task_id", taskID, "request_id", req.ID, "error", err)
	}
	s.observe(s.metrics.RecordPromptAnswer(resp.Approved))
	result := "denied"
	if resp.Approved {
		result = "approved:" + string(resp.Scope)
	}
	s.record(audit.Event{Type: audit.TypeConsentResponse, TaskID: taskID, RequestID: req.ID, Action: req.Description, Result: result, Reason: resp.Comment})
	if !resp.Approved {
		return stepError(ErrAuthorizationDenied, "denied by user")
	}
	return nil
}

// executeWithRetries runs the same action until verification passes. Spending
// the retry budget or tripping the consecutive-failure ceiling ends the task.
func (s *Supervisor) executeWithRetries(ctx context.Context, r *run, c action.Candidate) (ActionResult, *StepError) {
	limiter := rate.NewLimiter(rate.Every(s.retryBackoff), 1)
	limiter.Allow()
	start := s.now()

	var res ActionResult
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := limiter.Wait(ctx); err != nil {
				return res, wrapStep(ErrCancelled, err, "retry backoff")
			}
			slog.Info("retrying action", "task_id", r.task.ID, "attempt", attempt+1, "action", c.Describe())
		}

		attemptStart := s.now()
		exec := s.execute(ctx, r, c)
		duration := s.now().Sub(attemptStart)
		verification := s.verifier.Verify(c, exec)

		s.observe(s.metrics.RecordExecution(duration, exec.Output, executionError(exec), attempt > 0))
		s.observe(s.metrics.RecordVerification(verification.Passed, verification.Critical()))
		s.record(audit.Event{Type: audit.TypeExecution, TaskID: r.task.ID, Tool: exec.Tool, Action: c.Describe(), Result: successLabel(exec.Success), Reason: truncate(exec.Output, 200)})
		s.record(audit.Event{Type: audit.TypeVerification, TaskID: r.task.ID, Tool: exec.Tool, Result: successLabel(verification.Passed), Reason: verification.Notes()})

		res = ActionResult{
			Tool:      exec.Tool,
			Command:   commandFor(c),
			Success:   exec.Success,
			Output:    exec.Output,
			Verified:  verification.Passed,
			Notes:     verification.Notes(),
			Retries:   attempt,
			Duration:  s.now().Sub(start),
			Timestamp: s.now(),
		}

		if verification.Critical() {
			return res, stepError(ErrVerificationFailure, verification.Notes())
		}
		if verification.Passed {
			r.failures = 0
			return res, nil
		}

		r.failures++
		slog.Warn("action attempt failed", "task_id", r.task.ID, "tool", exec.Tool, "attempt", attempt+1, "consecutive_failures", r.failures, "notes", verification.Notes())
		if r.failures >= s.maxConsecutiveFailures {
			kind := ErrExecutionFailure
			if exec.Success {
				kind = ErrVerificationFailure
			}
			return res, stepError(kind, fmt.Sprintf("%d consecutive failures; last: %s", r.failures, verification.Notes()))
		}
	}
	kind := ErrExecutionFailure
	if res.Success {
		kind = ErrVerificationFailure
	}
	return res, stepError(kind, fmt.Sprintf("failed after %d retries: %s", s.maxRetries, res.Notes))
}

// execute performs one attempt through the executor.
func (s *Supervisor) execute(ctx context.Context, r *run, c action.Candidate) execution {
	toolID := toolIDFor(c)
	ctx, span := tracer.Start(ctx, "supervisor.execute", trace.WithAttributes(attribute.String("tool", toolID)))
	defer span.End()
	ctx = tools.WithInvocationContext(ctx, tools.InvocationContext{TaskID: r.task.ID, Turn: r.turns})

	if c.Kind == action.KindShell {
		out := s.executor.RunShell(ctx, c.Command, s.workspace)
		if !out.Success {
			span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", out.ExitCode))
		}
		return execution{Tool: action.ToolShellExec, Output: out.Output(), Success: out.Success, ExitCode: out.ExitCode}
	}

	blocks, err := s.executor.CallTool(ctx, toolID, s.argsFor(c))
	exec := execution{Tool: toolID, Output: tools.Text(blocks), Success: err == nil, Err: err}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if exec.Output == "" {
			exec.Output = "Error: " + err.Error()
		}
	}
	return exec
}

// request builds the consent request for a candidate. A confirmation verdict
// raises the request risk to at least the verdict risk.
func (s *Supervisor) request(c action.Candidate, verdict safety.Verdict) consent.Request {
	var req consent.Request
	switch c.Kind {
	case action.KindShell:
		req = consent.ShellRequest(c.Command)
	case action.KindFileWrite:
		path := resolvePath(s.workspace, c.Command)
		req = consent.FileRequest(risk.CategoryFileWrite, "Write file: "+path, path)
	case action.KindFileDelete:
		path := resolvePath(s.workspace, c.Command)
		req = consent.FileRequest(risk.CategoryFileDelete, "Delete file: "+path, path)
	case action.KindToolCall:
		category := toolCategory(c.ToolID)
		var files []string
		if path, ok := c.Args()["path"].(string); ok && path != "" {
			files = []string{resolvePath(s.workspace, path)}
		}
		req = consent.NewRequest(category, category.DefaultLevel(), "Call "+c.ToolID, c.ToolID+" "+c.ArgsJSON(), files)
	default:
		req = consent.NewRequest(risk.CategoryCustom, risk.Low, c.Describe(), c.Describe(), nil)
	}
	if verdict.Kind == safety.VerdictNeedsConfirmation {
		req = req.WithRisk(risk.Max(req.Risk, verdict.Risk))
	}
	return req
}

// argsFor encodes executor arguments with file paths resolved against the
// workspace.
func (s *Supervisor) argsFor(c action.Candidate) string {
	var args map[string]any
	switch c.Kind {
	case action.KindFileWrite:
		args = map[string]any{"path": resolvePath(s.workspace, c.Command), "content": c.Content}
	case action.KindFileDelete:
		args = map[string]any{"path": resolvePath(s.workspace, c.Command)}
	case action.KindClick, action.KindDoubleClick:
		args = map[string]any{"x": c.X, "y": c.Y}
	case action.KindType:
		args = map[string]any{"text": c.Text}
	case action.KindKey:
		args = map[string]any{"key": c.Key}
	default:
		args = c.Args()
		if path, ok := args["path"].(string); ok && path != "" {
			args["path"] = resolvePath(s.workspace, path)
		}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// candidate picks the first action of a reply. Native tool calls win over
// text parsing.
func (s *Supervisor) candidate(resp *schema.Message) action.Candidate {
	if len(resp.ToolCalls) > 0 {
		if calls := s.extractor.FromToolCalls(resp.ToolCalls); len(calls) > 0 {
			return calls[0]
		}
	}
	return s.extractor.Interpret(resp.Content)
}

func (s *Supervisor) knownTools() []string {
	if s.registry == nil {
		return nil
	}
	ids := s.registry.IDs()
	if s.policy != nil {
		ids = s.policy.Filter(ids)
	}
	return ids
}

func (s *Supervisor) systemPrompt(ctx context.Context, known []string, goal string) string {
	var sb strings.Builder
	sb.WriteString("You are warden's task agent. Work toward the user's goal one action at a time.\n")
	sb.WriteString("Propose exactly one action per reply. When the goal is done, reply in plain text without an action.\n")
	sb.WriteString("Every action is checked for safety and may need the user's consent before it runs.\n\n")
	if s.registry != nil && len(known) > 0 {
		sb.WriteString("## Tools\n")
		sb.WriteString(s.registry.Describe(ctx, known))
		sb.WriteString("\n")
	}
	sb.WriteString(s.prompts.SystemPrompt())
	sb.WriteString("\n")
	sb.WriteString(s.prompts.ContextHints(goal))
	return sb.String()
}

func (s *Supervisor) generateOptions(ctx context.Context, known []string) []model.Option {
	var opts []model.Option
	if s.modelName != "" {
		opts = append(opts, model.WithModel(s.modelName))
	}
	if s.temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(s.temperature)))
	}
	if s.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(s.maxTokens))
	}
	if s.registry != nil && len(known) > 0 {
		infos, err := s.registry.Infos(ctx, known)
		if err != nil {
			slog.Warn("build tool infos failed", "error", err)
		} else if len(infos) > 0 {
			opts = append(opts, model.WithTools(infos))
		}
	}
	return opts
}

func (s *Supervisor) complete(ctx context.Context, r *run, summary string) (Outcome, error) {
	if err := r.task.Transition(StateCompleted); err != nil {
		slog.Warn("task transition failed", "task_id", r.task.ID, "error", err)
	}
	s.observe(s.metrics.RecordTask(true))
	s.record(audit.Event{Type: audit.TypeTaskStatus, TaskID: r.task.ID, Result: string(StateCompleted)})
	slog.Info("task completed", "task_id", r.task.ID, "turns", r.turns, "actions", len(r.results))
	return s.outcome(r, StatusCompleted, summary), nil
}

// stop ends the task at a ceiling. It is reported, not returned as an error.
func (s *Supervisor) stop(ctx context.Context, r *run, summary string) (Outcome, error) {
	if err := r.task.Transition(StateFailed); err != nil {
		slog.Warn("task transition failed", "task_id", r.task.ID, "error", err)
	}
	s.observe(s.metrics.RecordTask(false))
	s.record(audit.Event{Type: audit.TypeTaskStatus, TaskID: r.task.ID, Result: string(StateFailed), Reason: summary})
	return s.outcome(r, StatusFailed, summary), nil
}

func (s *Supervisor) fail(ctx context.Context, r *run, stepErr *StepError) (Outcome, error) {
	if err := r.task.Transition(StateFailed); err != nil {
		slog.Warn("task transition failed", "task_id", r.task.ID, "error", err)
	}
	if r.span != nil {
		r.span.RecordError(stepErr)
		r.span.SetStatus(codes.Error, stepErr.Error())
	}
	s.observe(s.metrics.RecordTask(false))
	s.record(audit.Event{Type: audit.TypeTaskStatus, TaskID: r.task.ID, Result: string(StateFailed), Reason: stepErr.Error()})
	slog.Warn("task failed", "task_id", r.task.ID, "turns", r.turns, "error", stepErr)

	summary := "Failed: " + stepErr.Error()
	if stepErr.Hint != "" {
		summary += "\nSuggestion: " + stepErr.Hint
	}
	return s.outcome(r, StatusFailed, summary), stepErr
}

func (s *Supervisor) interrupted(ctx context.Context, r *run) (Outcome, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && s.taskTimeout > 0 {
		slog.Warn("task time limit reached", "task_id", r.task.ID, "timeout", s.taskTimeout.String())
		return s.stop(ctx, r, fmt.Sprintf("Stopped: reached the time limit of %s.", s.taskTimeout))
	}
	return s.fail(ctx, r, wrapStep(ErrCancelled, ctx.Err(), "task interrupted"))
}

func (s *Supervisor) outcome(r *run, status Status, summary string) Outcome {
	return Outcome{
		TaskID:  r.task.ID,
		Status:  status,
		Summary: summary,
		Results: append([]ActionResult(nil), r.results...),
		Turns:   r.turns,
		State:   r.task.State(),
	}
}

func (s *Supervisor) appendResult(ctx context.Context, taskID string, res ActionResult) {
	if s.results == nil {
		return
	}
	_, err := s.results.Append(ctx, resultlog.Record{
		TaskID:     taskID,
		Tool:       res.Tool,
		Command:    res.Command,
		Success:    res.Success,
		Output:     truncate(res.Output, maxFeedbackChars),
		Verified:   res.Verified,
		Notes:      res.Notes,
		Retries:    res.Retries,
		DurationMs: res.Duration.Milliseconds(),
		Timestamp:  res.Timestamp,
	})
	if err != nil {
		slog.Warn("append result log failed", "task_id", taskID, "error", err)
	}
}

func (s *Supervisor) record(ev audit.Event) {
	if err := s.audit.Append(ev); err != nil {
		slog.Warn("write audit event failed", "type", ev.Type, "error", err)
	}
}

func (s *Supervisor) observe(err error) {
	if err != nil {
		slog.Warn("record pipeline metrics failed", "error", err)
	}
}

func logUsage(taskID string, turn int, resp *schema.Message) {
	if resp.ResponseMeta == nil || resp.ResponseMeta.Usage == nil {
		return
	}
	usage := resp.ResponseMeta.Usage
	slog.Debug("model usage", "task_id", taskID, "turn", turn,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
	)
}

func feedbackMessage(res ActionResult) string {
	output := strings.TrimSpace(res.Output)
	if output == "" {
		output = "(no output)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Result of %s: %s", res.Tool, truncate(output, maxFeedbackChars))
	if !res.Verified {
		sb.WriteString("\nThe action did not pass verification")
		if res.Notes != "" {
			sb.WriteString(": " + res.Notes)
		}
		fmt.Fprintf(&sb, " (after %d retries).", res.Retries)
	}
	return sb.String()
}

func toolIDFor(c action.Candidate) string {
	switch c.Kind {
	case action.KindShell:
		return action.ToolShellExec
	case action.KindFileWrite:
		return action.ToolWriteFile
	case action.KindFileDelete:
		return action.ToolDeleteFile
	case action.KindClick, action.KindDoubleClick, action.KindType, action.KindKey, action.KindWait:
		return "gui:" + string(c.Kind)
	default:
		return c.ToolID
	}
}

func toolCategory(toolID string) risk.Category {
	switch toolID {
	case action.ToolReadFile, action.ToolListDir, action.ToolGrep:
		return risk.CategoryFileRead
	case action.ToolWriteFile, action.ToolEditFile:
		return risk.CategoryFileWrite
	case action.ToolDeleteFile:
		return risk.CategoryFileDelete
	case action.ToolShellExec:
		return risk.CategoryShell
	default:
		return risk.CategoryCustom
	}
}

func commandFor(c action.Candidate) string {
	if c.Kind == action.KindShell {
		return c.Command
	}
	return c.Describe()
}

func executionError(exec execution) error {
	if exec.Err != nil || exec.Success {
		return exec.Err
	}
	return errors.New(failureMessage(exec))
}

func successLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func isUncertain(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range uncertainMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
