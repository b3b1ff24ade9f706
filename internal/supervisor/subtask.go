package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/policy"
	"github.com/MEKXH/warden/internal/tools"
)

const (
	defaultSubtaskTimeout     = 5 * time.Minute
	defaultSubtaskConcurrency = 2
)

// SubtaskRequest delegates a goal to a child supervisor limited to Tools.
// An empty Tools list means policy.ReadOnlyTools.
type SubtaskRequest struct {
	Goal  string
	Tools []string
}

// SubtaskResult is the outcome of one delegated goal.
type SubtaskResult struct {
	ID      string
	Outcome Outcome
	Err     error
}

// SubtaskOptions configures a SubtaskManager.
type SubtaskOptions struct {
	// Store supplies the persistent rules each child engine starts from.
	Store          *consent.Store
	MemoryWindow   time.Duration
	Timeout        time.Duration
	MaxConcurrency int
	// DefaultTools applies to requests that name no tools.
	DefaultTools []string
}

// SubtaskManager runs child tasks with their own consent session and a tool
// set never broader than the parent's.
type SubtaskManager struct {
	parent  *Supervisor
	store   *consent.Store
	window  time.Duration
	timeout time.Duration
	tools   []string
	slots   chan struct{}
	nextID  uint64
}

func NewSubtaskManager(parent *Supervisor, opts SubtaskOptions) *SubtaskManager {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultSubtaskTimeout
	}
	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultSubtaskConcurrency
	}
	return &SubtaskManager{
		parent:  parent,
		store:   opts.Store,
		window:  opts.MemoryWindow,
		timeout: timeout,
		tools:   opts.DefaultTools,
		slots:   make(chan struct{}, concurrency),
	}
}

func (m *SubtaskManager) nextTaskID() string {
	id := atomic.AddUint64(&m.nextID, 1)
	return fmt.Sprintf("subtask-%d", id)
}

// Run executes one sub-task synchronously.
func (m *SubtaskManager) Run(ctx context.Context, req SubtaskRequest) SubtaskResult {
	id := m.nextTaskID()
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return SubtaskResult{ID: id, Err: fmt.Errorf("subtask goal is required")}
	}

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		return SubtaskResult{ID: id, Err: ctx.Err()}
	}

	requested := req.Tools
	if len(requested) == 0 {
		requested = m.tools
	}
	child, err := m.child(requested)
	if err != nil {
		return SubtaskResult{ID: id, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	slog.Info("subtask started", "task_id", id, "tools", child.knownTools())
	outcome, err := child.runTask(ctx, id, goal)
	slog.Info("subtask finished", "task_id", id, "status", string(outcome.Status), "error", err)
	return SubtaskResult{ID: id, Outcome: outcome, Err: err}
}

// RunAll executes sub-tasks concurrently, bounded by MaxConcurrency, and
// returns results in request order.
func (m *SubtaskManager) RunAll(ctx context.Context, reqs []SubtaskRequest) []SubtaskResult {
	results := make([]SubtaskResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req SubtaskRequest) {
			defer wg.Done()
			results[i] = m.Run(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

// child copies the parent wiring with a fresh consent engine and a narrowed
// tool policy.
func (m *SubtaskManager) child(requested []string) (*Supervisor, error) {
	p := m.parent
	engine := consent.NewEngine(consent.Options{
		Level:        p.consent.Level(),
		MemoryWindow: m.window,
		Store:        m.store,
	})
	if _, err := engine.LoadRules(); err != nil {
		return nil, fmt.Errorf("load consent rules for subtask: %w", err)
	}

	child := *p
	child.consent = engine

	if len(requested) == 0 {
		requested = policy.ReadOnlyTools
	}
	known := requested
	if p.registry != nil {
		known = nil
		for _, id := range p.registry.IDs() {
			// Sub-tasks never delegate further.
			if !strings.HasPrefix(id, tools.ServerAgent+":") {
				known = append(known, id)
			}
		}
	}
	parentPolicy := policy.NewEvaluator(policy.Config{Mode: policy.ModeOff})
	if p.policy != nil {
		parentPolicy = *p.policy
	}
	narrowed := parentPolicy.Narrow(requested, known)
	child.policy = &narrowed
	child.extractor = action.NewExtractor(narrowed.Filter(known))
	return &child, nil
}

// Delegate implements tools.Delegator: every goal becomes a concurrent
// sub-task and the outcomes are rendered one per line. It fails only when no
// sub-task succeeded.
func (m *SubtaskManager) Delegate(ctx context.Context, req tools.DelegateRequest) (string, error) {
	reqs := make([]SubtaskRequest, 0, len(req.Goals))
	for _, goal := range req.Goals {
		reqs = append(reqs, SubtaskRequest{Goal: goal, Tools: req.Tools})
	}
	slog.Info("delegating sub-tasks", "task_id", req.ParentTaskID, "count", len(reqs), "tools", req.Tools)

	results := m.RunAll(ctx, reqs)
	lines := make([]string, 0, len(results))
	failed := 0
	for _, res := range results {
		status := string(res.Outcome.Status)
		summary := res.Outcome.Summary
		if res.Err != nil {
			failed++
			if status == "" {
				status = string(StatusFailed)
			}
			if summary == "" {
				summary = res.Err.Error()
			}
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", res.ID, status, strings.TrimSpace(summary)))
	}
	report := strings.Join(lines, "\n")
	if failed == len(results) {
		return "", fmt.Errorf("all %d sub-tasks failed:\n%s", failed, report)
	}
	return report, nil
}
