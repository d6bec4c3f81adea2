// Package rel implements the schema-carrying relation type threaded between
// query stages, together with its algebra (projection, selection, sort,
// limit, extended projection).
//
// A Relation pairs an ordered attribute list with an ordered sequence of
// tuples. Relations are immutable values: every operator returns a new
// Relation and never mutates its receiver. Tuples are partial maps from
// attribute name to value; extended projection may produce tuples narrower
// than the schema, and consumers are expected to tolerate absent attributes.
package rel

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
)

// ErrArity is wrapped by constructors when a positional row's arity disagrees
// with the declared schema. This is a contract violation in the caller, not a
// user error.
var ErrArity = errors.New("tuple arity disagrees with schema")

// Tuple is one row, viewed as a partial map from attribute name to value.
// Operators treat tuples as immutable; a tuple reachable from a Relation must
// not be modified.
type Tuple map[string]any

// Relation is an ordered sequence of tuples with an ordered attribute list.
// Two relations are never implicitly compared; identity is by construction.
type Relation struct {
	attrs  []string
	tuples []Tuple
}

// New builds a relation from positional rows aligned to attrs. Every row must
// have exactly len(attrs) values; a mismatch fails with ErrArity.
func New(attrs []string, rows [][]any) (*Relation, error) {
	tuples := make([]Tuple, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(attrs) {
			return nil, fmt.Errorf("row %d has %d values for %d attributes: %w", i, len(row), len(attrs), ErrArity)
		}
		t := make(Tuple, len(attrs))
		for j, a := range attrs {
			t[a] = row[j]
		}
		tuples = append(tuples, t)
	}
	return &Relation{attrs: copyAttrs(attrs), tuples: tuples}, nil
}

// FromRecords builds a relation from map records. If attrs is empty the
// schema is inferred as the union of record keys: records are scanned in
// order and each record's keys contribute in lexicographic order (Go maps
// carry no key order), first seen wins, duplicates collapse.
func FromRecords(records []Tuple, attrs ...string) *Relation {
	if len(attrs) == 0 {
		attrs = inferAttrs(records)
	}
	tuples := make([]Tuple, 0, len(records))
	for _, rec := range records {
		t := make(Tuple, len(attrs))
		for _, a := range attrs {
			if v, ok := rec[a]; ok {
				t[a] = v
			}
		}
		tuples = append(tuples, t)
	}
	return &Relation{attrs: copyAttrs(attrs), tuples: tuples}
}

// Empty returns a zero-tuple relation that still carries a schema, so
// downstream operators that branch on attributes keep working on empty
// results.
func Empty(attrs []string) *Relation {
	return &Relation{attrs: copyAttrs(attrs)}
}

// Is reports whether x is a relation, i.e. carries an attribute list.
func Is(x any) bool {
	r, ok := x.(*Relation)
	return ok && r != nil
}

// Attributes returns the schema in order. The returned slice is a copy.
func (r *Relation) Attributes() []string {
	return copyAttrs(r.attrs)
}

// Tuples returns the rows in order. Tuples are already attribute-keyed, so
// attribute-indexed lookup needs no schema re-threading. The slice is a copy;
// the tuples themselves are shared and must not be mutated.
func (r *Relation) Tuples() []Tuple {
	return append([]Tuple(nil), r.tuples...)
}

// Len returns the number of tuples.
func (r *Relation) Len() int {
	return len(r.tuples)
}

// Row realizes tuple i positionally, aligned to the schema. Attributes absent
// from a sparse tuple come out as nil.
func (r *Relation) Row(i int) []any {
	row := make([]any, len(r.attrs))
	for j, a := range r.attrs {
		row[j] = r.tuples[i][a]
	}
	return row
}

// Rows realizes every tuple positionally, aligned to the schema.
func (r *Relation) Rows() [][]any {
	rows := make([][]any, len(r.tuples))
	for i := range r.tuples {
		rows[i] = r.Row(i)
	}
	return rows
}

// Project restricts the relation to attrs, preserving row order. The result
// schema is attrs exactly as given, not re-filtered through the original
// order: callers rely on declaring their output column order here.
func (r *Relation) Project(attrs []string) *Relation {
	tuples := make([]Tuple, len(r.tuples))
	for i, t := range r.tuples {
		nt := make(Tuple, len(attrs))
		for _, a := range attrs {
			if v, ok := t[a]; ok {
				nt[a] = v
			}
		}
		tuples[i] = nt
	}
	return &Relation{attrs: copyAttrs(attrs), tuples: tuples}
}

// Mapping is one extended-projection column: Fn derives the value from the
// whole input tuple, As names the output attribute.
type Mapping struct {
	Fn func(Tuple) any
	As string
}

// ExtendProject replaces the schema with the mapping output names and derives
// each column by applying its extractor to the input tuple. A nil extractor
// result is treated as missing and dropped from the output tuple, so output
// tuples may be narrower than the schema.
func (r *Relation) ExtendProject(mappings []Mapping) *Relation {
	attrs := make([]string, len(mappings))
	for i, m := range mappings {
		attrs[i] = m.As
	}
	tuples := make([]Tuple, len(r.tuples))
	for i, t := range r.tuples {
		nt := make(Tuple, len(mappings))
		for _, m := range mappings {
			if v := m.Fn(t); v != nil {
				nt[m.As] = v
			}
		}
		tuples[i] = nt
	}
	return &Relation{attrs: attrs, tuples: tuples}
}

// Select filters tuples by pred, preserving schema and row order.
func (r *Relation) Select(pred func(Tuple) bool) *Relation {
	var tuples []Tuple
	for _, t := range r.tuples {
		if pred(t) {
			tuples = append(tuples, t)
		}
	}
	return &Relation{attrs: copyAttrs(r.attrs), tuples: tuples}
}

// Limit takes the first n tuples in current order, or all of them if fewer.
// n must be non-negative; n = 0 yields an empty schema-preserving relation.
func (r *Relation) Limit(n int) (*Relation, error) {
	if n < 0 {
		return nil, fmt.Errorf("limit %d: negative count", n)
	}
	if n > len(r.tuples) {
		n = len(r.tuples)
	}
	return &Relation{attrs: copyAttrs(r.attrs), tuples: append([]Tuple(nil), r.tuples[:n]...)}, nil
}

// Order selects a sort direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Sort stable-sorts by the named attribute's natural comparison. Descending
// swaps the comparator's arguments rather than reversing afterwards, so tie
// handling is identical in both directions. Values without a total order
// against each other make the sort fail with ErrIncomparable.
func (r *Relation) Sort(attr string, order Order) (*Relation, error) {
	tuples := append([]Tuple(nil), r.tuples...)
	var sortErr error
	sort.SliceStable(tuples, func(i, j int) bool {
		a, b := tuples[i][attr], tuples[j][attr]
		if order == Descending {
			a, b = b, a
		}
		c, err := Compare(a, b)
		if err != nil && sortErr == nil {
			sortErr = fmt.Errorf("sort on %q: %w", attr, err)
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return &Relation{attrs: copyAttrs(r.attrs), tuples: tuples}, nil
}

// Transduce applies an arbitrary composed stream transformation (map, filter,
// take compositions over the tuple sequence) while preserving the schema. It
// is the escape hatch for operators expressible purely as a stream transform.
func (r *Relation) Transduce(xform func(iter.Seq[Tuple]) iter.Seq[Tuple]) *Relation {
	src := func(yield func(Tuple) bool) {
		for _, t := range r.tuples {
			if !yield(t) {
				return
			}
		}
	}
	var tuples []Tuple
	for t := range xform(src) {
		tuples = append(tuples, t)
	}
	return &Relation{attrs: copyAttrs(r.attrs), tuples: tuples}
}

// AddAttribute appends attr to the schema unless already present. Tuple
// contents are untouched; the new column simply reads as absent until an
// operator fills it.
func (r *Relation) AddAttribute(attr string) *Relation {
	for _, a := range r.attrs {
		if a == attr {
			return r
		}
	}
	attrs := make([]string, 0, len(r.attrs)+1)
	attrs = append(attrs, r.attrs...)
	attrs = append(attrs, attr)
	return &Relation{attrs: attrs, tuples: r.tuples}
}

// String renders the relation compactly for traces: schema then row count.
func (r *Relation) String() string {
	return fmt.Sprintf("relation[%s]{%d tuples}", strings.Join(r.attrs, " "), len(r.tuples))
}

// Table renders the relation as a markdown table for debugging output.
func (r *Relation) Table() string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(r.attrs, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(r.attrs)) + "\n")
	for _, t := range r.tuples {
		cells := make([]string, len(r.attrs))
		for i, a := range r.attrs {
			if v, ok := t[a]; ok {
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

func copyAttrs(attrs []string) []string {
	return append([]string(nil), attrs...)
}

func inferAttrs(records []Tuple) []string {
	var attrs []string
	seen := make(map[string]bool)
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				attrs = append(attrs, k)
			}
		}
	}
	return attrs
}
