package supervisor

import (
	"fmt"
	"time"
)

// State is a task lifecycle state.
type State string

const (
	StatePlanning        State = "planning"
	StateAwaitingConsent State = "awaiting_consent"
	StateExecuting       State = "executing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	// StateRolledBack is reached only through an explicit undo of a
	// finished task.
	StateRolledBack State = "rolled_back"
)

var transitions = map[State][]State{
	StatePlanning:        {StateAwaitingConsent, StateExecuting, StateCompleted, StateFailed},
	StateAwaitingConsent: {StateExecuting, StateFailed},
	StateExecuting:       {StatePlanning, StateAwaitingConsent, StateCompleted, StateFailed},
	StateCompleted:       {StateRolledBack},
	StateFailed:          {StateRolledBack},
}

// Terminal reports whether no further work happens in the state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateRolledBack:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Task tracks the lifecycle of one goal.
type Task struct {
	ID      string
	Goal    string
	state   State
	history []Transition
	now     func() time.Time
}

func newTask(id, goal string, now func() time.Time) *Task {
	if now == nil {
		now = time.Now
	}
	return &Task{ID: id, Goal: goal, state: StatePlanning, now: now}
}

// State returns the current state.
func (t *Task) State() State {
	return t.state
}

// History returns a copy of the recorded transitions.
func (t *Task) History() []Transition {
	return append([]Transition(nil), t.history...)
}

// Transition moves the task to a new state. Staying in the same state is a
// no-op; illegal moves are rejected.
func (t *Task) Transition(to State) error {
	if t.state == to {
		return nil
	}
	if !CanTransition(t.state, to) {
		return fmt.Errorf("illegal task transition %s -> %s", t.state, to)
	}
	t.history = append(t.history, Transition{From: t.state, To: to, At: t.now()})
	t.state = to
	return nil
}

// RollBack marks a finished task as undone.
func (t *Task) RollBack() error {
	return t.Transition(StateRolledBack)
}
