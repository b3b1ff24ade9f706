package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Registry manages tools by server:tool id.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.InvokableTool
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// Register adds a tool under server; the id is server:<tool name>.
func (r *Registry) Register(server string, t tool.InvokableTool) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}
	server = strings.TrimSpace(server)
	if server == "" || strings.Contains(server, ":") {
		return fmt.Errorf("invalid tool server %q", server)
	}
	id := server + ":" + info.Name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[id]; exists {
		return fmt.Errorf("tool already registered: %s", id)
	}
	r.tools[id] = t
	return nil
}

// Get retrieves a tool by id
func (r *Registry) Get(id string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[id]
	return t, ok
}

// IDs returns every registered id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Infos returns tool schemas for model binding, restricted to the given ids
// (all when ids is nil). Model-facing names use "__" in place of ":" since
// providers reject colons in function names.
func (r *Registry) Infos(ctx context.Context, ids []string) ([]*schema.ToolInfo, error) {
	if ids == nil {
		ids = r.IDs()
	}
	infos := make([]*schema.ToolInfo, 0, len(ids))
	for _, id := range ids {
		t, ok := r.Get(id)
		if !ok {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", id, err)
		}
		copied := *info
		copied.Name = ModelName(id)
		infos = append(infos, &copied)
	}
	return infos, nil
}

// Describe renders "id: description" lines for the system prompt.
func (r *Registry) Describe(ctx context.Context, ids []string) string {
	if ids == nil {
		ids = r.IDs()
	}
	var sb strings.Builder
	for _, id := range ids {
		t, ok := r.Get(id)
		if !ok {
			continue
		}
		desc := ""
		if info, err := t.Info(ctx); err == nil && info != nil {
			desc = info.Desc
		}
		fmt.Fprintf(&sb, "- %s: %s\n", id, desc)
	}
	return sb.String()
}

// ModelName converts a server:tool id into the name exposed to models.
func ModelName(id string) string {
	return strings.Replace(id, ":", "__", 1)
}
