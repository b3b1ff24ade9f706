package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/risk"
)

// Signal is one rule's contribution to the total risk score.
type Signal struct {
	Rule   string
	Weight int
	Reason string
}

// Input is what every scoring rule sees.
type Input struct {
	Action   action.Candidate
	Context  string
	Patterns *Patterns

	payload      string
	lowerContext string
	lowerPayload string
}

func newInput(a action.Candidate, context string, patterns *Patterns) Input {
	payload := a.Payload()
	return Input{
		Action:       a,
		Context:      context,
		Patterns:     patterns,
		payload:      payload,
		lowerContext: strings.ToLower(context),
		lowerPayload: strings.ToLower(payload),
	}
}

// ScoringRule is an independent check. Rules never see each other's output.
type ScoringRule struct {
	Name  string
	Score func(in Input) (Signal, bool)
}

// DefaultRules is the ordered rule set summed by the filter.
func DefaultRules() []ScoringRule {
	return []ScoringRule{
		{Name: "dangerous_keywords", Score: scoreKeywords},
		{Name: "malicious_patterns", Score: scoreMaliciousPatterns},
		{Name: "dangerous_keys", Score: scoreDangerousKeys},
		{Name: "dangerous_regions", Score: scoreDangerousRegions},
		{Name: "context_dangers", Score: scoreContextDangers},
		{Name: "obfuscation", Score: scoreObfuscation},
		{Name: "action_type", Score: scoreActionType},
	}
}

func scoreKeywords(in Input) (Signal, bool) {
	text := in.lowerPayload + " " + strings.ToLower(in.Action.Key) + " " + in.lowerContext
	var found []string
	for _, keyword := range in.Patterns.keywords {
		if containsWord(text, keyword) {
			found = append(found, keyword)
		}
	}
	if len(found) == 0 {
		return Signal{}, false
	}
	sort.Strings(found)
	return Signal{
		Rule:   "dangerous_keywords",
		Weight: 20 * len(found),
		Reason: "dangerous keywords: " + strings.Join(found, ", "),
	}, true
}

func scoreMaliciousPatterns(in Input) (Signal, bool) {
	for _, re := range in.Patterns.malicious {
		if re.MatchString(in.Context) {
			return Signal{Rule: "malicious_patterns", Weight: 50, Reason: "malicious pattern: " + re.String()}, true
		}
	}
	return Signal{}, false
}

func scoreDangerousKeys(in Input) (Signal, bool) {
	if in.Action.Kind != action.KindKey || in.Action.Key == "" {
		return Signal{}, false
	}
	if in.Patterns.keys[normalizeKey(in.Action.Key)] {
		return Signal{Rule: "dangerous_keys", Weight: 30, Reason: "dangerous keyboard shortcut: " + in.Action.Key}, true
	}
	return Signal{}, false
}

func scoreDangerousRegions(in Input) (Signal, bool) {
	if !in.Action.HasPoint {
		return Signal{}, false
	}
	x, y := in.Action.X, in.Action.Y
	for _, r := range in.Patterns.regions {
		if x < r.x[0] || x > r.x[1] || y < r.y[0] || y > r.y[1] {
			continue
		}
		if r.contextDependent && !hasUnsavedMarker(in.Context) {
			continue
		}
		return Signal{Rule: "dangerous_regions", Weight: regionWeight(r.level), Reason: "click in dangerous region: " + r.name}, true
	}
	return Signal{}, false
}

func hasUnsavedMarker(context string) bool {
	return strings.Contains(context, "unsaved") || strings.Contains(context, "*") || strings.Contains(context, "modified")
}

func regionWeight(level risk.Level) int {
	switch level {
	case risk.Critical:
		return 60
	case risk.High:
		return 40
	case risk.Medium:
		return 25
	default:
		return 10
	}
}

func scoreContextDangers(in Input) (Signal, bool) {
	ctx := in.lowerContext
	isClick := in.Action.Kind == action.KindClick || in.Action.Kind == action.KindDoubleClick

	if (strings.Contains(ctx, "unsaved") || strings.Contains(ctx, "not saved")) && isClick &&
		containsAny(ctx, "close", "exit", "quit") {
		return Signal{Rule: "context_dangers", Weight: 45, Reason: "closing with unsaved work"}, true
	}
	if containsAny(ctx, "dialog", "popup") && containsAny(ctx, "delete", "format", "erase") {
		return Signal{Rule: "context_dangers", Weight: 35, Reason: "interacting with a destructive dialog"}, true
	}
	if containsAny(ctx, "fake", "scam", "phishing") {
		return Signal{Rule: "context_dangers", Weight: 50, Reason: "context indicates fake or scam content"}, true
	}
	return Signal{}, false
}

var executableName = regexp.MustCompile(`(?i)\.(exe|bat|scr|vbs)\b`)

func scoreActionType(in Input) (Signal, bool) {
	ctx := in.lowerContext
	switch in.Action.Kind {
	case action.KindType:
		if containsAny(ctx, "password", "credential") && containsAny(ctx, "fake", "phishing", "suspicious") {
			return Signal{Rule: "action_type", Weight: 60, Reason: "typing credentials on a suspicious page"}, true
		}
	case action.KindDoubleClick:
		if executableName.MatchString(in.Action.Text) || executableName.MatchString(in.Context) {
			return Signal{Rule: "action_type", Weight: 40, Reason: "double-clicking a suspicious executable"}, true
		}
	case action.KindShell:
		switch c := risk.ClassifyCommand(in.Action.Command); c.Level {
		case risk.Critical:
			return Signal{Rule: "action_type", Weight: 60, Reason: fmt.Sprintf("critical %s command", c.Category)}, true
		case risk.High:
			return Signal{Rule: "action_type", Weight: 25, Reason: fmt.Sprintf("high-risk %s command", c.Category)}, true
		}
	case action.KindFileDelete:
		return Signal{Rule: "action_type", Weight: 25, Reason: "file deletion"}, true
	}
	return Signal{}, false
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

// containsWord matches needle only where it is not glued to surrounding
// letters or digits, so "format" does not fire on "information".
func containsWord(text, needle string) bool {
	if needle == "" {
		return false
	}
	for offset := 0; ; {
		idx := strings.Index(text[offset:], needle)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(needle)
		before := start == 0 || !isAlnum(text[start-1]) || !isAlnum(needle[0])
		after := end == len(text) || !isAlnum(text[end]) || !isAlnum(needle[len(needle)-1])
		if before && after {
			return true
		}
		offset = start + 1
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
