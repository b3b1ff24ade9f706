package consent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/risk"
	"github.com/google/uuid"
)

// RuleAction is what a matching rule does.
type RuleAction string

const (
	ActionAuto    RuleAction = "auto"
	ActionDeny    RuleAction = "deny"
	ActionConfirm RuleAction = "confirm"
)

func ParseRuleAction(raw string) (RuleAction, error) {
	switch RuleAction(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionAuto, "":
		return ActionAuto, nil
	case ActionDeny:
		return ActionDeny, nil
	case ActionConfirm:
		return ActionConfirm, nil
	default:
		return "", fmt.Errorf("unknown rule action %q", raw)
	}
}

// Rule is a standing consent decision. Empty categories match any category;
// empty pattern lists match anything.
type Rule struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Categories         []risk.Category `json:"categories"`
	MaxAutoApproveRisk risk.Level      `json:"max_auto_approve_risk"`
	PathPatterns       []string        `json:"path_patterns"`
	CommandPatterns    []string        `json:"command_patterns"`
	Persistent         bool            `json:"persistent"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	Action             RuleAction      `json:"action"`
}

// NewRule returns a session rule that auto-approves up to Medium risk.
func NewRule(name string) Rule {
	return Rule{
		ID:                 uuid.NewString(),
		Name:               name,
		MaxAutoApproveRisk: risk.Medium,
		Action:             ActionAuto,
	}
}

// UnmarshalJSON applies the defaults for fields missing from stored rules.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	decoded := plain{MaxAutoApproveRisk: risk.Medium, Action: ActionAuto}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = Rule(decoded)
	return nil
}

// Expired reports whether the rule has an expiry at or before now.
func (r Rule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Matches reports whether the rule applies to the request at time now.
func (r Rule) Matches(req Request, now time.Time) bool {
	if r.Expired(now) {
		return false
	}
	if len(r.Categories) > 0 && !containsCategory(r.Categories, req.Category) {
		return false
	}
	if req.Risk > r.MaxAutoApproveRisk {
		return false
	}
	if len(r.PathPatterns) > 0 && len(req.Files) > 0 && !anyMatch(r.PathPatterns, req.Files...) {
		return false
	}
	if len(r.CommandPatterns) > 0 && req.Command != "" && !anyMatch(r.CommandPatterns, req.Command) {
		return false
	}
	return true
}

func (r Rule) clone() Rule {
	out := r
	out.Categories = append([]risk.Category(nil), r.Categories...)
	out.PathPatterns = append([]string(nil), r.PathPatterns...)
	out.CommandPatterns = append([]string(nil), r.CommandPatterns...)
	if r.ExpiresAt != nil {
		at := *r.ExpiresAt
		out.ExpiresAt = &at
	}
	return out
}

func normalizeRule(r Rule) Rule {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	if r.Action == "" {
		r.Action = ActionAuto
	}
	return r
}

func containsCategory(categories []risk.Category, c risk.Category) bool {
	for _, candidate := range categories {
		if candidate == c {
			return true
		}
	}
	return false
}

func anyMatch(patterns []string, texts ...string) bool {
	for _, text := range texts {
		for _, pattern := range patterns {
			if Match(pattern, text) {
				return true
			}
		}
	}
	return false
}
