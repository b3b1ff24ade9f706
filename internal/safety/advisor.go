package safety

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MEKXH/warden/internal/action"
	"github.com/MEKXH/warden/internal/risk"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// AdviceKind is the advisor's answer class.
type AdviceKind string

const (
	AdviceApprove            AdviceKind = "approve"
	AdviceBlock              AdviceKind = "block"
	AdviceSuggestAlternative AdviceKind = "suggest_alternative"
	AdviceNeedMoreContext    AdviceKind = "need_more_context"
	AdviceUnavailable        AdviceKind = "unavailable"
)

// AdvisorVerdict is a second opinion on a borderline action.
type AdvisorVerdict struct {
	Kind        AdviceKind
	Reason      string
	Confidence  int
	Level       string
	Alternative string
}

// AdvisorRequest is what the advisor sees.
type AdvisorRequest struct {
	Action  action.Candidate
	Context string
	Primary Verdict
}

// Advisor gives a second opinion. Implementations must not block indefinitely.
type Advisor interface {
	Advise(ctx context.Context, req AdvisorRequest) AdvisorVerdict
}

// RuleAdvisor is the strict table-driven advisor used when no model is
// configured and as the model advisor's fallback.
type RuleAdvisor struct {
	patterns *Patterns
}

func NewRuleAdvisor(patterns *Patterns) *RuleAdvisor {
	return &RuleAdvisor{patterns: patterns}
}

func (r *RuleAdvisor) Advise(_ context.Context, req AdvisorRequest) AdvisorVerdict {
	ctx := strings.ToLower(req.Context)
	kind := req.Action.Kind

	if kind == action.KindClick || kind == action.KindDoubleClick {
		for _, indicator := range r.patterns.advisor.BlockIndicators {
			if strings.Contains(ctx, indicator) {
				return AdvisorVerdict{
					Kind:   AdviceBlock,
					Reason: fmt.Sprintf("dangerous indicator %q in context", indicator),
					Level:  "HIGH",
				}
			}
		}
	}

	switch kind {
	case action.KindWait:
		return AdvisorVerdict{Kind: AdviceApprove, Confidence: 100, Reason: "WAIT is always safe"}
	case action.KindShell:
		if c := risk.ClassifyCommand(req.Action.Command); c.Level <= risk.Low {
			return AdvisorVerdict{Kind: AdviceApprove, Confidence: 85, Reason: fmt.Sprintf("%s command at %s risk", c.Category, c.Level)}
		}
		return AdvisorVerdict{
			Kind:        AdviceSuggestAlternative,
			Reason:      "command changes state; inspect first",
			Alternative: "run a read-only command first",
		}
	}

	for _, indicator := range r.patterns.advisor.SafeIndicators {
		if strings.Contains(ctx, indicator) {
			return AdvisorVerdict{Kind: AdviceApprove, Confidence: 70, Reason: "context appears safe, no danger indicators found"}
		}
	}
	return AdvisorVerdict{Kind: AdviceSuggestAlternative, Reason: "context is ambiguous, recommending caution", Alternative: "WAIT"}
}

// ModelAdvisor asks a chat model for the second opinion.
type ModelAdvisor struct {
	model    model.BaseChatModel
	fallback Advisor
}

// NewModelAdvisor wraps a chat model; fallback answers when the model fails.
func NewModelAdvisor(chatModel model.BaseChatModel, fallback Advisor) *ModelAdvisor {
	return &ModelAdvisor{model: chatModel, fallback: fallback}
}

func (m *ModelAdvisor) Advise(ctx context.Context, req AdvisorRequest) AdvisorVerdict {
	resp, err := m.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(advisorSystemPrompt),
		schema.UserMessage(advisorUserPrompt(req)),
	})
	if err != nil || resp == nil {
		slog.Warn("safety advisor model failed", "error", err)
		if m.fallback != nil {
			return m.fallback.Advise(ctx, req)
		}
		return AdvisorVerdict{Kind: AdviceUnavailable}
	}
	return ParseAdvice(resp.Content)
}

const advisorSystemPrompt = `You are a SAFETY ADVISOR for an automation agent. Your ONLY job is to prevent dangerous actions.

CRITICAL RULES:
1. If the context mentions ANYTHING suspicious (virus, malware, ransomware, scam, fake, phishing, urgent, prize, shutdown, delete, format), the action is DANGEROUS
2. If the action targets something labeled dangerous in the context, BLOCK IT
3. If there's ANY doubt, choose BLOCK
4. Never approve actions that could delete data, close unsaved work, shut down or restart the system, enter credentials on suspicious sites, click fake alerts or format anything

Respond with EXACTLY one of:
APPROVE: [brief reason why this is safe]
BLOCK: [what danger you detected]
ALTERNATIVE: [suggest WAIT or different action]`

func advisorUserPrompt(req AdvisorRequest) string {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	b.WriteString(req.Context)
	b.WriteString("\n\nPLANNED ACTION:\n- Kind: ")
	b.WriteString(string(req.Action.Kind))
	b.WriteString("\n- Action: ")
	b.WriteString(req.Action.Describe())
	b.WriteString("\n\nSAFETY FILTER ANALYSIS:\n")
	b.WriteString(req.Primary.String())
	return b.String()
}

// ParseAdvice reads the first recognized directive in a model reply.
// Anything else is treated as a request for more context.
func ParseAdvice(reply string) AdvisorVerdict {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "*#- "))
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "APPROVE:"):
			return AdvisorVerdict{Kind: AdviceApprove, Confidence: 85, Reason: strings.TrimSpace(line[len("APPROVE:"):])}
		case strings.HasPrefix(upper, "BLOCK:"):
			return AdvisorVerdict{Kind: AdviceBlock, Level: "HIGH", Reason: strings.TrimSpace(line[len("BLOCK:"):]), Alternative: "WAIT"}
		case strings.HasPrefix(upper, "ALTERNATIVE:"):
			alt := strings.TrimSpace(line[len("ALTERNATIVE:"):])
			return AdvisorVerdict{Kind: AdviceSuggestAlternative, Reason: "advisor suggests: " + alt, Alternative: alt}
		}
	}
	return AdvisorVerdict{Kind: AdviceNeedMoreContext, Reason: strings.TrimSpace(reply)}
}
