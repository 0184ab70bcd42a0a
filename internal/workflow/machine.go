// Package workflow is the transition engine shared by business documents.
//
// A Machine is a closed table of (from, event) -> to edges. Transitions are
// one-way: a state with no outgoing edge is terminal and nothing brings a
// document back out of it. Callers re-read the persisted status under a row
// lock and pass it to Fire, so a racing duplicate request observes the
// advanced status and fails with an InvalidTransitionError instead of
// applying side effects twice.
package workflow

import (
	"fmt"
	"slices"

	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// Event names a transition trigger.
type Event string

// Transition is one edge of a machine.
type Transition[S ~string] struct {
	From  S
	Event Event
	To    S
}

// Machine is an immutable transition table for one document type.
type Machine[S ~string] struct {
	document string
	states   []S
	edges    map[edgeKey[S]]S
	sources  map[Event][]S
}

type edgeKey[S ~string] struct {
	from  S
	event Event
}

// New builds a machine. It panics on a duplicate edge or an edge naming an
// undeclared state, since both are programming errors in a static table.
func New[S ~string](document string, states []S, transitions ...Transition[S]) *Machine[S] {
	m := &Machine[S]{
		document: document,
		states:   slices.Clone(states),
		edges:    make(map[edgeKey[S]]S, len(transitions)),
		sources:  make(map[Event][]S),
	}
	for _, t := range transitions {
		if !slices.Contains(states, t.From) || !slices.Contains(states, t.To) {
			panic(fmt.Sprintf("workflow: %s: undeclared state in %s -%s-> %s", document, t.From, t.Event, t.To))
		}
		key := edgeKey[S]{from: t.From, event: t.Event}
		if _, dup := m.edges[key]; dup {
			panic(fmt.Sprintf("workflow: %s: duplicate edge %s -%s->", document, t.From, t.Event))
		}
		m.edges[key] = t.To
		if !slices.Contains(m.sources[t.Event], t.From) {
			m.sources[t.Event] = append(m.sources[t.Event], t.From)
		}
	}
	return m
}

// Document returns the document name used in errors.
func (m *Machine[S]) Document() string { return m.document }

// Valid reports whether s is a declared state.
func (m *Machine[S]) Valid(s S) bool { return slices.Contains(m.states, s) }

// Sources lists the states from which event may fire.
func (m *Machine[S]) Sources(event Event) []S {
	return slices.Clone(m.sources[event])
}

// Can reports whether event may fire from current.
func (m *Machine[S]) Can(current S, event Event) bool {
	_, ok := m.edges[edgeKey[S]{from: current, event: event}]
	return ok
}

// IsTerminal reports whether no event leaves s.
func (m *Machine[S]) IsTerminal(s S) bool {
	for key := range m.edges {
		if key.from == s {
			return false
		}
	}
	return true
}

// Fire returns the target state of event from current, or an
// InvalidTransitionError naming the legal source states.
func (m *Machine[S]) Fire(id int64, current S, event Event) (S, error) {
	to, ok := m.edges[edgeKey[S]{from: current, event: event}]
	if !ok {
		return current, m.reject(id, current, event, m.sources[event])
	}
	return to, nil
}

// Guard checks current against an explicit set of expected states. It is used
// where the target depends on more than the event, e.g. derived statuses.
func (m *Machine[S]) Guard(id int64, current S, event Event, expected ...S) error {
	if slices.Contains(expected, current) {
		return nil
	}
	return m.reject(id, current, event, expected)
}

// Reach checks that to is reachable from current through event. Used when the
// caller derived the target itself and must still respect the table.
func (m *Machine[S]) Reach(id int64, current S, event Event, to S) error {
	got, err := m.Fire(id, current, event)
	if err != nil {
		return err
	}
	if got != to {
		return m.reject(id, current, event, m.sources[event])
	}
	return nil
}

func (m *Machine[S]) reject(id int64, current S, event Event, expected []S) error {
	names := make([]string, 0, len(expected))
	for _, s := range expected {
		names = append(names, string(s))
	}
	return &shared.InvalidTransitionError{
		Document: m.document,
		ID:       id,
		Event:    string(event),
		Expected: names,
		Actual:   string(current),
	}
}
