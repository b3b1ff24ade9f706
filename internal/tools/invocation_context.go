package tools

import (
	"context"
	"strings"
)

type invocationContextKey struct{}

// InvocationContext carries caller metadata for tool execution.
type InvocationContext struct {
	TaskID    string
	SubtaskID string
	RequestID string
	Turn      int
}

// WithInvocationContext stores invocation metadata in context for tools.
func WithInvocationContext(ctx context.Context, meta InvocationContext) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, meta)
}

// InvocationFromContext reads invocation metadata from context.
func InvocationFromContext(ctx context.Context) InvocationContext {
	v := ctx.Value(invocationContextKey{})
	meta, ok := v.(InvocationContext)
	if !ok {
		return InvocationContext{}
	}
	meta.TaskID = strings.TrimSpace(meta.TaskID)
	meta.SubtaskID = strings.TrimSpace(meta.SubtaskID)
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	return meta
}

func (m InvocationContext) logArgs() []any {
	args := make([]any, 0, 8)
	if m.TaskID != "" {
		args = append(args, "task_id", m.TaskID)
	}
	if m.SubtaskID != "" {
		args = append(args, "subtask_id", m.SubtaskID)
	}
	if m.RequestID != "" {
		args = append(args, "request_id", m.RequestID)
	}
	if m.Turn > 0 {
		args = append(args, "turn", m.Turn)
	}
	return args
}
