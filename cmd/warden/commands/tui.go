package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MEKXH/warden/internal/consent"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/supervisor"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var promptBoxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#8E4EC6")).
	Padding(0, 1)

// tuiPrompter shows each prompt as a small Bubble Tea program.
type tuiPrompter struct {
	mu sync.Mutex
}

func (p *tuiPrompter) Ask(ctx context.Context, req consent.Request, verdict safety.Verdict) (consent.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	final, err := tea.NewProgram(newConsentModel(req, verdict), tea.WithContext(ctx)).Run()
	if err != nil {
		return consent.Response{}, fmt.Errorf("consent prompt: %w", err)
	}
	m, ok := final.(consentModel)
	if !ok || !m.done {
		return consent.Response{}, fmt.Errorf("consent prompt closed without an answer")
	}
	return m.resp, nil
}

func (p *tuiPrompter) ReviewPlan(ctx context.Context, plan supervisor.Plan) (supervisor.PlanChoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	final, err := tea.NewProgram(newPlanModel(plan), tea.WithContext(ctx)).Run()
	if err != nil {
		return "", fmt.Errorf("plan review: %w", err)
	}
	m, ok := final.(planModel)
	if !ok || !m.done {
		return supervisor.PlanCancel, nil
	}
	return m.choice, nil
}

type consentKeyMap struct {
	Once    key.Binding
	Session key.Binding
	Project key.Binding
	Global  key.Binding
	Deny    key.Binding
}

func defaultConsentKeys() consentKeyMap {
	return consentKeyMap{
		Once:    key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "allow once")),
		Session: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "session")),
		Project: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "project")),
		Global:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "always")),
		Deny:    key.NewBinding(key.WithKeys("n", "esc", "ctrl+c"), key.WithHelp("n/esc", "deny")),
	}
}

func (k consentKeyMap) bindings() []key.Binding {
	return []key.Binding{k.Once, k.Session, k.Project, k.Global, k.Deny}
}

type consentModel struct {
	req     consent.Request
	verdict safety.Verdict
	keys    consentKeyMap
	help    help.Model
	resp    consent.Response
	done    bool
}

func newConsentModel(req consent.Request, verdict safety.Verdict) consentModel {
	return consentModel{req: req, verdict: verdict, keys: defaultConsentKeys(), help: help.New()}
}

func (m consentModel) Init() tea.Cmd {
	return nil
}

func (m consentModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(k, m.keys.Once):
		m.resp = approved(consent.ScopeOnce)
	case key.Matches(k, m.keys.Session):
		m.resp = approved(consent.ScopeSession)
	case key.Matches(k, m.keys.Project):
		m.resp = approved(consent.ScopeProject)
	case key.Matches(k, m.keys.Global):
		m.resp = approved(consent.ScopeGlobal)
	case key.Matches(k, m.keys.Deny):
		m.resp = consent.Response{Approved: false, Comment: "denied by user"}
	default:
		return m, nil
	}
	m.done = true
	return m, tea.Quit
}

func (m consentModel) View() string {
	if m.done {
		return ""
	}
	body := strings.TrimRight(describeRequest(m.req, m.verdict), "\n")
	return promptBoxStyle.Render(body) + "\n" + m.help.ShortHelpView(m.keys.bindings()) + "\n"
}

type planKeyMap struct {
	All    key.Binding
	Single key.Binding
	Deny   key.Binding
	Cancel key.Binding
}

func defaultPlanKeys() planKeyMap {
	return planKeyMap{
		All:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve all")),
		Single: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "one by one")),
		Deny:   key.NewBinding(key.WithKeys("d", "n"), key.WithHelp("d", "deny")),
		Cancel: key.NewBinding(key.WithKeys("c", "esc", "ctrl+c"), key.WithHelp("c/esc", "cancel")),
	}
}

type planModel struct {
	plan   supervisor.Plan
	keys   planKeyMap
	help   help.Model
	choice supervisor.PlanChoice
	done   bool
}

func newPlanModel(plan supervisor.Plan) planModel {
	return planModel{plan: plan, keys: defaultPlanKeys(), help: help.New()}
}

func (m planModel) Init() tea.Cmd {
	return nil
}

func (m planModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(k, m.keys.All):
		m.choice = supervisor.PlanApproveAll
	case key.Matches(k, m.keys.Single):
		m.choice = supervisor.PlanApproveSingle
	case key.Matches(k, m.keys.Deny):
		m.choice = supervisor.PlanDeny
	case key.Matches(k, m.keys.Cancel):
		m.choice = supervisor.PlanCancel
	default:
		return m, nil
	}
	m.done = true
	return m, tea.Quit
}

func (m planModel) View() string {
	if m.done {
		return ""
	}
	body := strings.TrimRight(describePlan(m.plan), "\n")
	bindings := []key.Binding{m.keys.All, m.keys.Single, m.keys.Deny, m.keys.Cancel}
	return promptBoxStyle.Render(body) + "\n" + m.help.ShortHelpView(bindings) + "\n"
}
