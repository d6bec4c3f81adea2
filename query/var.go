package query

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Marker is the prefix character distinguishing variables from plain symbols.
const Marker = "?"

// genPrefix marks variables minted by Fresh. User-authored variables never
// carry it, which is what lets CloseOrJoin exclude machinery-internal names.
const genPrefix = "?G__"

// NamespaceSep joins the namespace and local part of a qualified name when it
// is flattened into a variable name. The flattening is lossy: two differently
// namespaced identifiers can collide on the same flattened string. Known
// limitation, kept rather than silently re-encoded.
const NamespaceSep = "_"

var genCounter atomic.Uint64

// ToVariable normalizes an identifier into a query variable. Qualified names
// ("ns/local") are flattened with NamespaceSep because the underlying
// evaluator has no structured names in variable position. Already marked
// names pass through unchanged.
func ToVariable(name string) Sym {
	flat := strings.ReplaceAll(name, "/", NamespaceSep)
	if strings.HasPrefix(flat, Marker) {
		return Sym(flat)
	}
	return Sym(Marker + flat)
}

// Fresh returns a variable from the process-wide monotonic token source. The
// optional prefix is purely for readability of traces. Fresh variables carry
// the generated marker and cannot collide with user-authored variables.
func Fresh(prefix string) Sym {
	n := genCounter.Add(1)
	if prefix == "" {
		return Sym(fmt.Sprintf("%s%d", genPrefix, n))
	}
	return Sym(fmt.Sprintf("%s%s_%d", genPrefix, prefix, n))
}

// IsVariable reports whether t is a plain symbol carrying the variable marker.
// Compound forms and non-symbol terms are never variables.
func IsVariable(t Term) bool {
	s, ok := t.(Sym)
	return ok && strings.HasPrefix(string(s), Marker)
}

// IsGenerated reports whether v was minted by Fresh.
func IsGenerated(v Sym) bool {
	return strings.HasPrefix(string(v), genPrefix)
}

// Attr converts a variable to the relation attribute name it binds: the
// variable name without its marker.
func Attr(v Sym) string {
	return strings.TrimPrefix(string(v), Marker)
}

// FreeVariables walks arbitrarily nested forms and returns the distinct
// variables appearing anywhere in them, in first-seen order.
func FreeVariables(forms ...Term) []Sym {
	var out []Sym
	seen := make(map[Sym]bool)
	var walk func(t Term)
	walk = func(t Term) {
		switch v := t.(type) {
		case Sym:
			if IsVariable(v) && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		case Seq:
			for _, sub := range v {
				walk(sub)
			}
		}
	}
	for _, f := range forms {
		walk(f)
	}
	return out
}

// CloseOrJoin completes the join-variable list of a disjunction clause. The
// form's join list is its first Seq element (an optional leading head symbol
// such as or-join is tolerated); everything after it is a branch. Free
// variables of the branches that are neither generated nor already declared
// are appended to the join list in first-seen order. Without this, a
// user-authored variable used inside a branch but omitted from the declared
// list would silently become unbound outside the disjunction.
func CloseOrJoin(form Seq) (Seq, error) {
	if len(form) == 0 {
		return nil, fmt.Errorf("close or-join: empty form")
	}
	i := 0
	if _, ok := form[0].(Sym); ok {
		i = 1
	}
	if i >= len(form) {
		return nil, fmt.Errorf("close or-join: form %v has no join-variable list", form)
	}
	joinList, ok := form[i].(Seq)
	if !ok {
		return nil, fmt.Errorf("close or-join: form %v: first element must be the join-variable list", form)
	}

	declared := make(map[Sym]bool, len(joinList))
	for _, t := range joinList {
		if v, ok := t.(Sym); ok {
			declared[v] = true
		}
	}

	closed := append(Seq(nil), joinList...)
	for _, v := range FreeVariables(Seq(form[i+1:])) {
		if IsGenerated(v) || declared[v] {
			continue
		}
		declared[v] = true
		closed = append(closed, v)
	}

	out := append(Seq(nil), form[:i+1]...)
	out[i] = closed
	return append(out, form[i+1:]...), nil
}
