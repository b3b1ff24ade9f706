package consent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MEKXH/warden/internal/risk"
)

const defaultMemoryWindow = 5 * time.Minute

// Options configures an Engine.
type Options struct {
	Level        Level
	MemoryWindow time.Duration
	Store        *Store
}

// Engine decides whether an operation may run. All state sits behind one
// mutex, so a decision always sees a consistent snapshot.
type Engine struct {
	mu      sync.Mutex
	level   Level
	window  time.Duration
	rules   []Rule
	memory  map[string]time.Time
	denied  map[string]struct{}
	batches map[string]struct{}
	store   *Store
	now     func() time.Time
}

func NewEngine(opts Options) *Engine {
	level := opts.Level
	if level == "" {
		level = LevelNormal
	}
	window := opts.MemoryWindow
	if window <= 0 {
		window = defaultMemoryWindow
	}
	return &Engine{
		level:   level,
		window:  window,
		memory:  make(map[string]time.Time),
		denied:  make(map[string]struct{}),
		batches: make(map[string]struct{}),
		store:   opts.Store,
		now:     time.Now,
	}
}

// RequestConsent evaluates a request. The first applicable step wins:
// a recorded denial, an approved batch, session memory, the global level,
// then the standing rules in insertion order.
func (e *Engine) RequestConsent(req Request) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.pruneLocked(now)

	if _, ok := e.denied[req.ID]; ok {
		return Decision{Outcome: Denied, Reason: "previously denied"}
	}
	if req.BatchID != "" {
		if _, ok := e.batches[req.BatchID]; ok {
			return Decision{Outcome: Approved, Reason: "batch " + req.BatchID + " approved"}
		}
	}
	if _, ok := e.memory[req.ConsentKey()]; ok {
		return Decision{Outcome: Approved, Reason: "approved earlier this session"}
	}
	if e.level.AutoApproves(req.Risk) {
		return Decision{Outcome: Approved, Reason: fmt.Sprintf("%s risk auto-approved at level %s", req.Risk, e.level)}
	}
	if !e.level.Allows(req.Risk) {
		slog.Warn("consent denied by level", "request_id", req.ID, "risk", req.Risk.String(), "level", string(e.level))
		return Decision{Outcome: Denied, Reason: fmt.Sprintf("%s risk not allowed at level %s", req.Risk, e.level)}
	}

	for _, rule := range e.rules {
		if !rule.Matches(req, now) {
			continue
		}
		switch rule.Action {
		case ActionAuto:
			return Decision{Outcome: Approved, Reason: "rule: " + rule.Name, RuleID: rule.ID}
		case ActionDeny:
			return Decision{Outcome: Denied, Reason: "rule: " + rule.Name, RuleID: rule.ID}
		}
	}
	return Decision{Outcome: NeedsPrompt, Reason: fmt.Sprintf("%s %s operation needs confirmation", req.Risk, req.Category)}
}

// RecordResponse stores the user's answer. Denials are remembered by request
// id only and never become rules.
func (e *Engine) RecordResponse(req Request, resp Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !resp.Approved {
		e.denied[req.ID] = struct{}{}
		return nil
	}

	if req.BatchID != "" {
		e.batches[req.BatchID] = struct{}{}
	}

	switch resp.Scope {
	case ScopeSession:
		e.memory[req.ConsentKey()] = e.now()
	case ScopeProject, ScopeGlobal:
		rule := NewRule("Auto-approved: " + req.Description)
		rule.Categories = []risk.Category{req.Category}
		rule.MaxAutoApproveRisk = req.Risk
		rule.Persistent = resp.Scope == ScopeGlobal
		e.rules = append(e.rules, rule)
		if rule.Persistent {
			return e.saveLocked()
		}
	}
	return nil
}

// ApproveBatch grants blanket approval to every request carrying batchID.
func (e *Engine) ApproveBatch(batchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches[batchID] = struct{}{}
	slog.Info("batch approved", "batch_id", batchID)
}

func (e *Engine) RevokeBatch(batchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.batches, batchID)
}

// AddRule appends a rule; persistent rules are written through to the store.
func (e *Engine) AddRule(rule Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule = normalizeRule(rule.clone())
	e.rules = append(e.rules, rule)
	if rule.Persistent {
		return e.saveLocked()
	}
	return nil
}

// RemoveRule deletes a rule by id and reports whether it existed.
func (e *Engine) RemoveRule(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, rule := range e.rules {
		if rule.ID != id {
			continue
		}
		e.rules = append(e.rules[:i], e.rules[i+1:]...)
		if rule.Persistent {
			return true, e.saveLocked()
		}
		return true, nil
	}
	return false, nil
}

// Rules returns a snapshot of the standing rules.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, len(e.rules))
	for i, rule := range e.rules {
		out[i] = rule.clone()
	}
	return out
}

// ClearSession forgets session memory, denials, batches and session rules.
// Persistent rules survive. Calling it twice is the same as calling it once.
func (e *Engine) ClearSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memory = make(map[string]time.Time)
	e.denied = make(map[string]struct{})
	e.batches = make(map[string]struct{})
	kept := e.rules[:0]
	for _, rule := range e.rules {
		if rule.Persistent {
			kept = append(kept, rule)
		}
	}
	e.rules = kept
}

func (e *Engine) Level() Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

func (e *Engine) SetLevel(level Level) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.level = level
}

// LoadRules appends the store's persistent rules and returns how many were
// loaded. Rules already present by id are skipped.
func (e *Engine) LoadRules() (int, error) {
	if e.store == nil {
		return 0, nil
	}
	loaded, err := e.store.Load()
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	known := make(map[string]bool, len(e.rules))
	for _, rule := range e.rules {
		known[rule.ID] = true
	}
	added := 0
	for _, rule := range loaded {
		if known[rule.ID] {
			continue
		}
		e.rules = append(e.rules, rule)
		added++
	}
	return added, nil
}

// SaveRules writes the persistent rules to the store.
func (e *Engine) SaveRules() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked()
}

// ReplacePersistent swaps in a fresh set of persistent rules, e.g. after the
// rules file changed on disk. Session rules keep their relative order after
// the persistent ones.
func (e *Engine) ReplacePersistent(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]Rule, 0, len(rules)+len(e.rules))
	for _, rule := range rules {
		if rule.Persistent {
			next = append(next, normalizeRule(rule.clone()))
		}
	}
	for _, rule := range e.rules {
		if !rule.Persistent {
			next = append(next, rule)
		}
	}
	e.rules = next
}

func (e *Engine) saveLocked() error {
	if e.store == nil {
		return nil
	}
	return e.store.Save(e.rules)
}

// pruneLocked drops expired rules and memory entries outside the window.
func (e *Engine) pruneLocked(now time.Time) {
	for key, at := range e.memory {
		if now.Sub(at) >= e.window {
			delete(e.memory, key)
		}
	}
	kept := e.rules[:0]
	for _, rule := range e.rules {
		if !rule.Expired(now) {
			kept = append(kept, rule)
		}
	}
	e.rules = kept
}
