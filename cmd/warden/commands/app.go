package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/metrics"
	"github.com/MEKXH/warden/internal/policy"
	"github.com/MEKXH/warden/internal/provider"
	"github.com/MEKXH/warden/internal/resultlog"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/supervisor"
	"github.com/MEKXH/warden/internal/tools"
	"github.com/cloudwego/eino/components/model"
)

// appOptions are the per-invocation overrides shared by the task commands.
type appOptions struct {
	Mode     string
	Level    string
	MaxTurns int
	// Offline skips the chat model; check and extract never call it.
	Offline  bool
	Prompter supervisor.Prompter
}

// app is the wired pipeline for one CLI invocation.
type app struct {
	cfg        *config.Config
	workspace  string
	model      model.BaseChatModel
	supervisor *supervisor.Supervisor
	subtasks   *supervisor.SubtaskManager
	engine     *consent.Engine
	store      *consent.Store
	results    *resultlog.Store
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	workspace, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	a := &app{cfg: cfg, workspace: workspace}
	if !opts.Offline {
		a.model, err = provider.NewChatModel(ctx, cfg)
		if err != nil {
			slog.Warn("no model configured", "error", err)
		}
	}

	filter, err := newFilter(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	if a.engine, a.store, err = newConsentEngine(cfg, opts.Level); err != nil {
		return nil, err
	}

	local, err := tools.NewLocalExecutor(tools.Options{
		Workspace:           workspace,
		ExecTimeout:         time.Duration(cfg.Tools.Exec.Timeout) * time.Second,
		RestrictToWorkspace: cfg.Tools.Exec.RestrictToWorkspace,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	// The extractor is built from the registry in supervisor.New, so the
	// delegation tools are registered first and bound to the manager below.
	if err := tools.RegisterDelegation(local.Registry(), tools.DelegatorFunc(a.delegate)); err != nil {
		return nil, fmt.Errorf("register delegation tools: %w", err)
	}

	if path := cfg.ResultLogPath(); path != "" {
		if a.results, err = resultlog.Open(path); err != nil {
			return nil, err
		}
	}

	evaluator := policy.NewEvaluator(policy.Config{
		Mode:            policy.Mode(cfg.Policy.Mode),
		Allow:           cfg.Policy.Allow,
		Deny:            cfg.Policy.Deny,
		RequireApproval: cfg.Policy.RequireApproval,
	})
	maxTurns := cfg.Supervisor.MaxTurns
	if opts.MaxTurns > 0 {
		maxTurns = opts.MaxTurns
	}

	a.supervisor, err = supervisor.New(supervisor.Options{
		Model:                  a.model,
		Executor:               local,
		Registry:               local.Registry(),
		Filter:                 filter,
		Consent:                a.engine,
		Policy:                 &evaluator,
		Prompter:               opts.Prompter,
		Audit:                  audit.NewWriter(workspace),
		Metrics:                metrics.NewRecorder(workspace),
		Results:                a.results,
		Workspace:              workspace,
		ModelName:              cfg.Agent.Model,
		Temperature:            cfg.Agent.Temperature,
		MaxTokens:              cfg.Agent.MaxTokens,
		MaxTurns:               maxTurns,
		MaxRetries:             cfg.Supervisor.MaxRetries,
		MaxConsecutiveFailures: cfg.Supervisor.MaxConsecutiveFailures,
		RetryBackoff:           cfg.RetryBackoff(),
		TaskTimeout:            cfg.TaskTimeout(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.subtasks = supervisor.NewSubtaskManager(a.supervisor, supervisor.SubtaskOptions{
		Store:          a.store,
		MemoryWindow:   cfg.MemoryWindow(),
		Timeout:        time.Duration(cfg.Subtask.TimeoutSeconds) * time.Second,
		MaxConcurrency: cfg.Subtask.MaxConcurrency,
		DefaultTools:   cfg.Subtask.AllowTools,
	})
	return a, nil
}

func (a *app) delegate(ctx context.Context, req tools.DelegateRequest) (string, error) {
	if a.subtasks == nil {
		return "", errors.New("delegation is not ready")
	}
	return a.subtasks.Delegate(ctx, req)
}

// watchRules reloads persistent rules until ctx is done when enabled.
func (a *app) watchRules(ctx context.Context) {
	if !a.cfg.Consent.WatchRules || a.store == nil {
		return
	}
	w := consent.NewWatcher(a.engine, a.store)
	w.OnReload(func(count int) {
		slog.Info("consent rules reloaded", "rules", count)
	})
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("consent rules watcher stopped", "error", err)
		}
	}()
}

func (a *app) Close() {
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			slog.Warn("close result log failed", "error", err)
		}
	}
}

func newFilter(ctx context.Context, cfg *config.Config, opts appOptions) (*safety.Filter, error) {
	patterns, err := safety.LoadPatterns(cfg.Safety.PatternsFile)
	if err != nil {
		return nil, err
	}

	mode := cfg.Safety.Mode
	if strings.TrimSpace(opts.Mode) != "" {
		mode = opts.Mode
	}

	var advisor safety.Advisor
	switch cfg.Safety.Advisor {
	case "off":
	case "model":
		rules := safety.NewRuleAdvisor(patterns)
		advisor = rules
		if opts.Offline {
			break
		}
		m, err := provider.NewAdvisorModel(ctx, cfg)
		if err != nil {
			slog.Warn("advisor model unavailable, using rule advisor", "error", err)
			break
		}
		advisor = safety.NewModelAdvisor(m, rules)
	default:
		advisor = safety.NewRuleAdvisor(patterns)
	}

	return safety.NewFilter(safety.Options{
		Mode:           safety.ParseMode(mode),
		Patterns:       patterns,
		Advisor:        advisor,
		MaxEscalations: cfg.Safety.MaxEscalations,
	})
}

// newConsentEngine loads persistent rules and adds the configured presets as
// session rules.
func newConsentEngine(cfg *config.Config, levelOverride string) (*consent.Engine, *consent.Store, error) {
	level, err := consent.ParseLevel(cfg.Consent.Level)
	if err != nil {
		return nil, nil, err
	}

	store := consent.NewStore(cfg.RulesPath())
	engine := consent.NewEngine(consent.Options{Level: level, MemoryWindow: cfg.MemoryWindow(), Store: store})
	if strings.TrimSpace(levelOverride) != "" {
		override, err := consent.ParseLevel(levelOverride)
		if err != nil {
			return nil, nil, err
		}
		engine.SetLevel(override)
	}
	if n, err := engine.LoadRules(); err != nil {
		return nil, nil, fmt.Errorf("load consent rules: %w", err)
	} else if n > 0 {
		slog.Debug("consent rules loaded", "rules", n)
	}

	for _, name := range cfg.Consent.Presets {
		rule, err := consent.Preset(name)
		if err != nil {
			return nil, nil, err
		}
		if err := engine.AddRule(rule); err != nil {
			return nil, nil, err
		}
	}
	return engine, store, nil
}

// loadWorkspace loads config and resolves the workspace for the read-only
// commands.
func loadWorkspace() (*config.Config, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	workspace, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, "", fmt.Errorf("invalid workspace: %w", err)
	}
	return cfg, workspace, nil
}
