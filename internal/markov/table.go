// Package markov walks a hand-tuned transition table to order phrase words.
package markov

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidTable is returned for tables that are empty or not square over
// their label set.
var ErrInvalidTable = errors.New("invalid transition table")

// Table maps each state to one weight per possible next state. Rows are not
// required to sum to 1.
type Table struct {
	labels []string
	index  map[string]int
	rows   [][]float64
	sorted [][]float64
}

// NewTable builds a table whose row i holds the weights out of labels[i].
func NewTable(labels []string, rows [][]float64) (*Table, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no states", ErrInvalidTable)
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("%w: %d rows for %d states", ErrInvalidTable, len(rows), len(labels))
	}
	t := &Table{
		labels: append([]string(nil), labels...),
		index:  make(map[string]int, len(labels)),
		rows:   make([][]float64, len(rows)),
		sorted: make([][]float64, len(rows)),
	}
	for i, l := range labels {
		if _, dup := t.index[l]; dup {
			return nil, fmt.Errorf("%w: duplicate state %q", ErrInvalidTable, l)
		}
		t.index[l] = i
	}
	for i, row := range rows {
		if len(row) != len(labels) {
			return nil, fmt.Errorf("%w: row %q has %d weights, want %d", ErrInvalidTable, labels[i], len(row), len(labels))
		}
		t.rows[i] = append([]float64(nil), row...)
		t.sorted[i] = append([]float64(nil), row...)
		sort.Float64s(t.sorted[i])
	}
	return t, nil
}

// FromMap builds a table from rows keyed by label, ordered by labels.
func FromMap(labels []string, rows map[string][]float64) (*Table, error) {
	ordered := make([][]float64, len(labels))
	for i, l := range labels {
		row, ok := rows[l]
		if !ok {
			return nil, fmt.Errorf("%w: no row for state %q", ErrInvalidTable, l)
		}
		ordered[i] = row
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("%w: %d rows for %d states", ErrInvalidTable, len(rows), len(labels))
	}
	return NewTable(labels, ordered)
}

// Labels returns the states in index order.
func (t *Table) Labels() []string {
	return append([]string(nil), t.labels...)
}

// Len returns the number of states.
func (t *Table) Len() int { return len(t.labels) }

// Index returns the position of a state.
func (t *Table) Index(label string) (int, bool) {
	i, ok := t.index[label]
	return i, ok
}

// Row returns a copy of the weights out of a state.
func (t *Table) Row(label string) ([]float64, bool) {
	i, ok := t.index[label]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), t.rows[i]...), true
}

// next picks the successor of state for draw r: the smallest weight in the
// row that is >= r, mapped back to the first column holding that weight.
// It reports false when every weight is below r.
func (t *Table) next(state int, r float64) (int, bool) {
	sorted := t.sorted[state]
	k := sort.SearchFloat64s(sorted, r)
	if k == len(sorted) {
		return state, false
	}
	w := sorted[k]
	for col, v := range t.rows[state] {
		if v == w {
			return col, true
		}
	}
	return state, false
}

// PhraseWeights is the hand-tuned table for the built-in phrase, indexed in
// cut-table order (i, will, give, my, love, an, apple).
var PhraseWeights = [][]float64{
	{0, 0.33, 0.18, 0, 0.143, 0.2, 0.143},
	{0.3, 0, 0.6, 0, 0.1, 0, 0},
	{0, 0.1, 0.33, 0.3, 0, 0.28, 0},
	{0.2, 0, 0.2, 0.33, 0.15, 0.12, 0},
	{0.24, 0.3, 0, 0.2, 0.26, 0, 0},
	{0.2, 0, 0.32, 0, 0.48, 0, 0},
	{0, 0, 0.25, 0, 0.25, 0, 0.5},
}
