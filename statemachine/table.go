// Package statemachine holds the immutable transition-table type shared by the
// batch journey and order lifecycle machines.
package statemachine

import (
	"fmt"

	apperrors "github.com/goliatone/go-errors"
)

const ErrCodeIllegalTransition = "ILLEGAL_TRANSITION"

// ErrIllegalTransition is the base error returned by Table.Apply. Callers classify
// it with errors.As and the TextCode.
var ErrIllegalTransition = apperrors.New("illegal transition", apperrors.CategoryBadInput).
	WithTextCode(ErrCodeIllegalTransition)

// Edge is one outgoing transition of a state.
type Edge[S ~string, E ~string] struct {
	Event E
	To    S
}

// Row declares a state and its outgoing edges in display order.
type Row[S ~string, E ~string] struct {
	From  S
	Edges []Edge[S, E]
}

// Table is a finite transition table. It is never mutated after NewTable returns,
// so a single value may be shared by any number of goroutines.
type Table[S ~string, E ~string] struct {
	states []S
	edges  map[S][]Edge[S, E]
	index  map[S]map[E]S
}

// NewTable builds a table from rows. It panics on duplicate states or duplicate
// events within a state: tables are static package configuration.
func NewTable[S ~string, E ~string](rows ...Row[S, E]) *Table[S, E] {
	t := &Table[S, E]{
		states: make([]S, 0, len(rows)),
		edges:  make(map[S][]Edge[S, E], len(rows)),
		index:  make(map[S]map[E]S, len(rows)),
	}
	for _, row := range rows {
		if _, exists := t.index[row.From]; exists {
			panic(fmt.Sprintf("statemachine: duplicate state %q", row.From))
		}
		byEvent := make(map[E]S, len(row.Edges))
		for _, e := range row.Edges {
			if _, exists := byEvent[e.Event]; exists {
				panic(fmt.Sprintf("statemachine: duplicate event %q in state %q", e.Event, row.From))
			}
			byEvent[e.Event] = e.To
		}
		t.states = append(t.states, row.From)
		t.edges[row.From] = append([]Edge[S, E](nil), row.Edges...)
		t.index[row.From] = byEvent
	}
	return t
}

// States returns every declared state in declaration order.
func (t *Table[S, E]) States() []S {
	return append([]S(nil), t.states...)
}

// Known reports whether s is a declared state.
func (t *Table[S, E]) Known(s S) bool {
	_, ok := t.index[s]
	return ok
}

// Events returns the events defined for from, in declared order. Unknown states yield an empty slice.
func (t *Table[S, E]) Events(from S) []E {
	edges := t.edges[from]
	out := make([]E, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Event)
	}
	return out
}

// Can reports whether event is defined for from.
func (t *Table[S, E]) Can(from S, event E) bool {
	_, ok := t.index[from][event]
	return ok
}

// Next returns the target of (from, event), or from unchanged when the pair is undefined.
func (t *Table[S, E]) Next(from S, event E) S {
	if to, ok := t.index[from][event]; ok {
		return to
	}
	return from
}

// Apply is the strict form of Next.
func (t *Table[S, E]) Apply(from S, event E) (S, error) {
	to, ok := t.index[from][event]
	if !ok {
		err := ErrIllegalTransition.Clone()
		err.Message = fmt.Sprintf("event %q is not allowed from state %q", event, from)
		return from, err.WithMetadata(map[string]any{
			"from":  string(from),
			"event": string(event),
		})
	}
	return to, nil
}

// IsTerminal reports whether s is declared and has no outgoing edges.
func (t *Table[S, E]) IsTerminal(s S) bool {
	edges, ok := t.edges[s]
	return ok && len(edges) == 0
}

// Replay folds events from start, stopping at the first illegal step.
// The returned state is the last legal state reached.
func (t *Table[S, E]) Replay(start S, events []E) (S, error) {
	cur := start
	for i, ev := range events {
		next, err := t.Apply(cur, ev)
		if err != nil {
			return cur, fmt.Errorf("step %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}
