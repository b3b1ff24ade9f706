package policy

import (
	"sort"
	"strings"

	"github.com/MEKXH/warden/internal/consent"
)

// Evaluator performs pure tool-scoping decisions.
type Evaluator struct {
	mode            Mode
	allow           []string
	deny            []string
	requireApproval []string
}

// NewEvaluator builds a deterministic, side-effect free evaluator.
func NewEvaluator(cfg Config) Evaluator {
	return Evaluator{
		mode:            normalizeMode(cfg.Mode),
		allow:           normalizeList(cfg.Allow),
		deny:            normalizeList(cfg.Deny),
		requireApproval: normalizeList(cfg.RequireApproval),
	}
}

// Evaluate returns a deterministic decision for the given input. The
// deny-list wins in every mode except off.
func (e Evaluator) Evaluate(input Input) Decision {
	toolID := normalizeToolID(input.ToolID)
	if toolID == "" {
		return Decision{Action: ActionDeny, Reason: "empty tool id"}
	}

	switch e.mode {
	case ModeOff:
		return Decision{Action: ActionAllow}
	case ModeRelaxed, ModeStrict:
	default:
		return Decision{Action: ActionDeny, Reason: "unknown policy mode"}
	}

	if matchAny(e.deny, toolID) {
		return Decision{Action: ActionDeny, Reason: "tool " + toolID + " is denied"}
	}
	if e.mode == ModeStrict && !matchAny(e.allow, toolID) {
		return Decision{Action: ActionDeny, Reason: "tool " + toolID + " is not in the allow-list"}
	}
	if matchAny(e.requireApproval, toolID) {
		return Decision{Action: ActionRequireApproval, Reason: "tool " + toolID + " requires approval"}
	}
	return Decision{Action: ActionAllow}
}

// Allowed reports whether the tool may be invoked at all.
func (e Evaluator) Allowed(toolID string) bool {
	return e.Evaluate(Input{ToolID: toolID}).Action != ActionDeny
}

// Filter returns the subset of known tool ids the evaluator allows, sorted.
func (e Evaluator) Filter(known []string) []string {
	out := make([]string, 0, len(known))
	for _, id := range known {
		if e.Allowed(id) {
			out = append(out, normalizeToolID(id))
		}
	}
	sort.Strings(out)
	return out
}

// ReadOnlyTools is the child allow-list for a request that names no tools.
var ReadOnlyTools = []string{"fs:read_file", "fs:list_dir", "fs:grep"}

// Narrow derives a child evaluator limited to the requested tools. The child
// allow-list is the intersection of requested and what e allows among known,
// so a child can never reach a tool its parent cannot. An empty request
// narrows to ReadOnlyTools.
func (e Evaluator) Narrow(requested, known []string) Evaluator {
	if len(requested) == 0 {
		requested = ReadOnlyTools
	}
	wanted := normalizeList(requested)
	reachable := e.Filter(known)
	allow := make([]string, 0, len(reachable))
	for _, id := range reachable {
		if matchAny(wanted, id) {
			allow = append(allow, id)
		}
	}
	return Evaluator{
		mode:            ModeStrict,
		allow:           allow,
		deny:            append([]string(nil), e.deny...),
		requireApproval: append([]string(nil), e.requireApproval...),
	}
}

// Mode returns the normalized mode.
func (e Evaluator) Mode() Mode {
	return e.mode
}

func normalizeMode(mode Mode) Mode {
	normalized := Mode(strings.ToLower(strings.TrimSpace(string(mode))))
	if normalized == "" {
		return ModeRelaxed
	}
	return normalized
}

func normalizeToolID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func normalizeList(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if normalized := normalizeToolID(id); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

func matchAny(patterns []string, toolID string) bool {
	for _, pattern := range patterns {
		if consent.Match(pattern, toolID) {
			return true
		}
	}
	return false
}
