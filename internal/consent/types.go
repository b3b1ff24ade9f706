package consent

import (
	"fmt"
	"strings"

	"github.com/MEKXH/warden/internal/risk"
)

// Level is the global consent posture.
type Level string

const (
	LevelSafe    Level = "safe"
	LevelNormal  Level = "normal"
	LevelTrusted Level = "trusted"
	LevelYolo    Level = "yolo"
)

// Levels lists the postures from most to least cautious.
func Levels() []Level {
	return []Level{LevelSafe, LevelNormal, LevelTrusted, LevelYolo}
}

// ParseLevel validates a level name.
func ParseLevel(raw string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case LevelSafe:
		return LevelSafe, nil
	case LevelNormal, "":
		return LevelNormal, nil
	case LevelTrusted:
		return LevelTrusted, nil
	case LevelYolo:
		return LevelYolo, nil
	default:
		return "", fmt.Errorf("unknown consent level %q", raw)
	}
}

// AutoApproves reports whether the level approves the risk without asking.
func (l Level) AutoApproves(r risk.Level) bool {
	switch l {
	case LevelTrusted:
		return r <= risk.Medium
	case LevelYolo:
		return r < risk.Critical
	default:
		return r == risk.ReadOnly
	}
}

// Allows reports whether the risk may run at all, possibly after a prompt.
func (l Level) Allows(r risk.Level) bool {
	switch l {
	case LevelSafe:
		return r == risk.ReadOnly
	case LevelTrusted, LevelYolo:
		return true
	default:
		return r <= risk.High
	}
}

// Outcome is the result class of a consent decision.
type Outcome string

const (
	Approved    Outcome = "approved"
	Denied      Outcome = "denied"
	NeedsPrompt Outcome = "needs_prompt"
)

// Decision is what the engine answers for a request.
type Decision struct {
	Outcome Outcome
	Reason  string
	RuleID  string
}

func (d Decision) String() string {
	if d.Reason == "" {
		return string(d.Outcome)
	}
	return string(d.Outcome) + ": " + d.Reason
}

// Scope says how long an approval is remembered.
type Scope string

const (
	ScopeOnce    Scope = "once"
	ScopeSession Scope = "session"
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Response is the user's answer to a prompt.
type Response struct {
	Approved bool
	Scope    Scope
	Comment  string
}
