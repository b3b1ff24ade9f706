package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// ServerAgent hosts the delegation tools.
const ServerAgent = "agent"

// DelegateRequest is the normalized request for delegation tools.
type DelegateRequest struct {
	Goals []string
	// Tools narrows what the sub-task may call. Empty inherits the parent set.
	Tools        []string
	ParentTaskID string
	RequestID    string
}

// Delegator runs delegated goals as sub-tasks and reports a text summary.
type Delegator interface {
	Delegate(ctx context.Context, req DelegateRequest) (string, error)
}

// DelegatorFunc adapts a function to Delegator.
type DelegatorFunc func(ctx context.Context, req DelegateRequest) (string, error)

func (f DelegatorFunc) Delegate(ctx context.Context, req DelegateRequest) (string, error) {
	return f(ctx, req)
}

type DelegateInput struct {
	Goal  string   `json:"goal" jsonschema:"required,description=Goal to hand to a sub-task with its own consent session"`
	Tools []string `json:"tools,omitempty" jsonschema:"description=Tool ids the sub-task may use; defaults to the current set"`
}

type DelegateAllInput struct {
	Goals []string `json:"goals" jsonschema:"required,description=Independent goals to run as concurrent sub-tasks"`
	Tools []string `json:"tools,omitempty" jsonschema:"description=Tool ids every sub-task may use; defaults to the current set"`
}

type delegateToolImpl struct {
	delegator Delegator
}

func (t *delegateToolImpl) delegateOne(ctx context.Context, input *DelegateInput) (string, error) {
	if input == nil {
		return "", fmt.Errorf("delegate input is required")
	}
	return t.run(ctx, []string{input.Goal}, input.Tools)
}

func (t *delegateToolImpl) delegateAll(ctx context.Context, input *DelegateAllInput) (string, error) {
	if input == nil {
		return "", fmt.Errorf("delegate input is required")
	}
	return t.run(ctx, input.Goals, input.Tools)
}

func (t *delegateToolImpl) run(ctx context.Context, goals, toolIDs []string) (string, error) {
	req, err := buildDelegateRequest(ctx, goals, toolIDs)
	if err != nil {
		return "", err
	}
	if t.delegator == nil {
		return "", fmt.Errorf("delegation is not configured")
	}
	return t.delegator.Delegate(ctx, req)
}

func buildDelegateRequest(ctx context.Context, goals, toolIDs []string) (DelegateRequest, error) {
	cleaned := make([]string, 0, len(goals))
	for _, raw := range goals {
		if goal := strings.TrimSpace(raw); goal != "" {
			cleaned = append(cleaned, goal)
		}
	}
	if len(cleaned) == 0 {
		return DelegateRequest{}, fmt.Errorf("goal is required")
	}

	ids := make([]string, 0, len(toolIDs))
	for _, raw := range toolIDs {
		if id := strings.TrimSpace(raw); id != "" {
			ids = append(ids, id)
		}
	}

	meta := InvocationFromContext(ctx)
	return DelegateRequest{
		Goals:        cleaned,
		Tools:        ids,
		ParentTaskID: meta.TaskID,
		RequestID:    meta.RequestID,
	}, nil
}

// NewDelegateTool creates the single-goal delegation tool.
func NewDelegateTool(delegator Delegator) (tool.InvokableTool, error) {
	impl := &delegateToolImpl{delegator: delegator}
	return utils.InferTool(
		"delegate",
		"Run a goal as a sub-task with its own consent session and a narrowed tool set, and return its summary.",
		impl.delegateOne,
	)
}

// NewDelegateAllTool creates the concurrent multi-goal delegation tool.
func NewDelegateAllTool(delegator Delegator) (tool.InvokableTool, error) {
	impl := &delegateToolImpl{delegator: delegator}
	return utils.InferTool(
		"delegate_all",
		"Run independent goals as concurrent sub-tasks and return their summaries in order.",
		impl.delegateAll,
	)
}

// RegisterDelegation adds the delegation tools to the registry.
func RegisterDelegation(r *Registry, delegator Delegator) error {
	for _, build := range []func(Delegator) (tool.InvokableTool, error){NewDelegateTool, NewDelegateAllTool} {
		t, err := build(delegator)
		if err != nil {
			return err
		}
		if err := r.Register(ServerAgent, t); err != nil {
			return err
		}
	}
	return nil
}
