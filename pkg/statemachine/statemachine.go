package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Guard evaluates whether a transition may proceed.
type Guard[S, E comparable] func(ctx context.Context, from S, event E) bool

// Action runs before the state changes. Returning an error aborts the transition.
type Action[S, E comparable] func(ctx context.Context, from, to S, event E) error

// Transition defines a state change triggered by an event.
type Transition[S, E comparable] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E]  // all must pass
	Actions []Action[S, E] // executed in order
}

// Machine is a thread-safe finite state machine over comparable state and
// event types. Transitions are registered up front and immutable afterwards.
type Machine[S, E comparable] struct {
	mu          sync.RWMutex
	initial     S
	current     S
	transitions map[S]map[E][]Transition[S, E]
	onChange    []func(from, to S, event E)
}

// Option configures a Machine during construction.
type Option[S, E comparable] func(*Machine[S, E])

// WithTransition registers a transition.
func WithTransition[S, E comparable](from, to S, event E, guards ...Guard[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) {
		m.add(Transition[S, E]{From: from, To: to, Event: event, Guards: guards})
	}
}

// WithTransitionDef registers a fully specified transition.
func WithTransitionDef[S, E comparable](t Transition[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) { m.add(t) }
}

// WithOnChange registers a callback invoked after every committed transition,
// outside the machine lock.
func WithOnChange[S, E comparable](fn func(from, to S, event E)) Option[S, E] {
	return func(m *Machine[S, E]) {
		if fn != nil {
			m.onChange = append(m.onChange, fn)
		}
	}
}

// New creates a machine starting at initial.
func New[S, E comparable](initial S, opts ...Option[S, E]) *Machine[S, E] {
	m := &Machine[S, E]{
		initial:     initial,
		current:     initial,
		transitions: make(map[S]map[E][]Transition[S, E]),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine[S, E]) add(t Transition[S, E]) {
	if _, ok := m.transitions[t.From]; !ok {
		m.transitions[t.From] = make(map[E][]Transition[S, E])
	}
	// Several transitions per (from, event) allow guard-based branching.
	m.transitions[t.From][t.Event] = append(m.transitions[t.From][t.Event], t)
}

func (m *Machine[S, E]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is currently in state s.
func (m *Machine[S, E]) Is(s S) bool {
	return m.Current() == s
}

// Fire applies event to the current state. The first transition whose guards
// all pass wins.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) error {
	m.mu.Lock()

	from := m.current
	t, err := m.find(ctx, from, event)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	for _, action := range t.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, from, t.To, event); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("action failed: %w", err)
		}
	}

	m.current = t.To
	hooks := m.onChange
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(from, t.To, event)
	}
	return nil
}

// CanFire reports whether Fire would find an allowed transition.
func (m *Machine[S, E]) CanFire(ctx context.Context, event E) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.find(ctx, m.current, event)
	return err == nil
}

// Reset returns the machine to its initial state without running actions.
func (m *Machine[S, E]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.initial
}

func (m *Machine[S, E]) find(ctx context.Context, from S, event E) (*Transition[S, E], error) {
	candidates := m.transitions[from][event]
	if len(candidates) == 0 {
		return nil, &NoTransitionError{State: fmt.Sprint(from), Event: fmt.Sprint(event)}
	}

	for i := range candidates {
		if guardsPass(ctx, candidates[i].Guards, from, event) {
			return &candidates[i], nil
		}
	}
	return nil, &TransitionRejectedError{State: fmt.Sprint(from), Event: fmt.Sprint(event)}
}

func guardsPass[S, E comparable](ctx context.Context, guards []Guard[S, E], from S, event E) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event) {
			return false
		}
	}
	return true
}
