package policy

// Action is the policy decision for a tool invocation.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// Mode controls evaluator behavior.
type Mode string

const (
	// ModeStrict allows only tools on the allow-list.
	ModeStrict Mode = "strict"
	// ModeRelaxed allows everything not on the deny-list.
	ModeRelaxed Mode = "relaxed"
	ModeOff     Mode = "off"
)

// Config holds tool-scoping settings. Entries are tool ids in server:tool
// form and may use consent glob patterns such as "fs:*".
type Config struct {
	Mode            Mode
	Allow           []string
	Deny            []string
	RequireApproval []string
}

// Input is the minimum evaluation context.
type Input struct {
	ToolID string
}

// Decision is the deterministic policy result.
type Decision struct {
	Action Action
	Reason string
}
