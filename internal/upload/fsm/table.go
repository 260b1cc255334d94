// Package fsm holds the static transition graph of an upload and the planner
// that walks it.
package fsm

import "github.com/lk2023060901/resumable-upload/internal/upload/types"

// Table is an ordered directed graph of legal transitions. Successor order is
// the order in which the planner explores edges.
type Table struct {
	order []types.State
	edges map[types.State][]types.State
}

// Edge lists the successors of one state in declared order.
type Edge struct {
	From types.State
	To   []types.State
}

// NewTable builds a table from edges. The slice order fixes the state order.
func NewTable(edges ...Edge) *Table {
	t := &Table{
		order: make([]types.State, 0, len(edges)),
		edges: make(map[types.State][]types.State, len(edges)),
	}
	for _, e := range edges {
		to := make([]types.State, len(e.To))
		copy(to, e.To)
		if _, seen := t.edges[e.From]; !seen {
			t.order = append(t.order, e.From)
		}
		t.edges[e.From] = to
	}
	return t
}

// UploadTable is the transition graph shared by every upload record.
var UploadTable = NewTable(
	Edge{From: types.StateIdle, To: []types.State{types.StateReceiving}},
	Edge{From: types.StateReceiving, To: []types.State{types.StateReceived, types.StateReceiveFailure, types.StateIdle}},
	Edge{From: types.StateReceiveFailure, To: []types.State{types.StateReceiving}}, // retry receiving
	Edge{From: types.StateReceived, To: []types.State{types.StateMerged, types.StateMergeFailure}},
	Edge{From: types.StateMergeFailure, To: []types.State{types.StateMerged}},
	Edge{From: types.StateMerged}, // end of upload life
)

// Allowed reports whether to is a declared successor of from.
func (t *Table) Allowed(from, to types.State) bool {
	for _, s := range t.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns a copy of the successors of from.
func (t *Table) Successors(from types.State) []types.State {
	next := t.edges[from]
	out := make([]types.State, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether state has no outgoing edges.
func (t *Table) IsTerminal(state types.State) bool {
	_, known := t.edges[state]
	return known && len(t.edges[state]) == 0
}

// States returns every state in declared order.
func (t *Table) States() []types.State {
	out := make([]types.State, len(t.order))
	copy(out, t.order)
	return out
}
