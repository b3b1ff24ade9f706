package safety

import (
	"fmt"
	"strings"

	"github.com/MEKXH/warden/internal/risk"
)

// VerdictKind is the outcome class of a safety evaluation.
type VerdictKind string

const (
	VerdictSafe              VerdictKind = "safe"
	VerdictSuspicious        VerdictKind = "suspicious"
	VerdictNeedsConfirmation VerdictKind = "needs_confirmation"
	VerdictBlocked           VerdictKind = "blocked"
)

// Verdict is produced fresh for every action and never cached.
type Verdict struct {
	Kind        VerdictKind
	Reason      string
	Score       int
	Risk        risk.Level
	Alternative string
	Signals     []Signal
}

func Safe() Verdict {
	return Verdict{Kind: VerdictSafe}
}

func Suspicious(reason string, score int) Verdict {
	return Verdict{Kind: VerdictSuspicious, Reason: reason, Score: score}
}

func NeedsConfirmation(reason string, level risk.Level) Verdict {
	return Verdict{Kind: VerdictNeedsConfirmation, Reason: reason, Risk: level}
}

func Blocked(reason, alternative string) Verdict {
	return Verdict{Kind: VerdictBlocked, Reason: reason, Alternative: alternative}
}

func (v Verdict) IsBlocked() bool { return v.Kind == VerdictBlocked }

func (v Verdict) String() string {
	switch v.Kind {
	case VerdictSafe:
		return "safe"
	case VerdictSuspicious:
		return fmt.Sprintf("suspicious (score %d): %s", v.Score, v.Reason)
	case VerdictNeedsConfirmation:
		return fmt.Sprintf("needs confirmation (%s): %s", v.Risk, v.Reason)
	case VerdictBlocked:
		if v.Alternative != "" {
			return fmt.Sprintf("blocked: %s (try: %s)", v.Reason, v.Alternative)
		}
		return "blocked: " + v.Reason
	default:
		return string(v.Kind)
	}
}

// Mode picks how aggressively scores turn into blocks.
type Mode string

const (
	ModeParanoid Mode = "paranoid"
	ModeNormal   Mode = "normal"
	ModeRelaxed  Mode = "relaxed"
	ModeExpert   Mode = "expert"
)

// Thresholds maps a total score onto a verdict.
type Thresholds struct {
	Block      int
	Confirm    int
	Suspicious int
}

// ParseMode normalizes a mode name; unknown names fall back to normal.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeParanoid:
		return ModeParanoid
	case ModeRelaxed:
		return ModeRelaxed
	case ModeExpert:
		return ModeExpert
	default:
		return ModeNormal
	}
}

func (m Mode) Thresholds() Thresholds {
	switch m {
	case ModeParanoid:
		return Thresholds{Block: 30, Confirm: 15, Suspicious: 5}
	case ModeRelaxed:
		return Thresholds{Block: 70, Confirm: 50, Suspicious: 30}
	case ModeExpert:
		return Thresholds{Block: 90, Confirm: 70, Suspicious: 50}
	default:
		return Thresholds{Block: 50, Confirm: 30, Suspicious: 15}
	}
}

// confirmationRisk maps a score in the confirm band to a risk level.
func confirmationRisk(score int) risk.Level {
	switch {
	case score >= 40:
		return risk.High
	case score >= 25:
		return risk.Medium
	default:
		return risk.Low
	}
}
