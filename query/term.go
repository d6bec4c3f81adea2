// Package query defines the structured find/in/where query form consumed by
// the executor, along with variable utilities over clause forms.
//
// Queries arrive already parsed: a clause is a Seq of terms, and terms are a
// closed set of variants (symbols, keywords, literals, nested sequences).
// Surface syntax is out of scope; callers construct these forms directly or
// hand them over from a separate compiler.
package query

import (
	"fmt"
	"reflect"
	"strings"
)

// Term is one node of a clause form. The variants are Sym, Kw, Lit and Seq.
type Term interface {
	isTerm()
}

// Sym is a symbolic identifier. A Sym whose name starts with the variable
// marker '?' is a query variable; any other Sym is a plain symbol (predicate
// name, non-binding input name, clause head).
type Sym string

// Kw is a keyword constant such as Kw("eq"), rendered as :eq.
type Kw string

// Lit wraps a literal constant value carried inside a clause.
type Lit struct {
	Value any
}

// Seq is a nested clause form: an ordered list of terms, possibly containing
// further lists.
type Seq []Term

func (Sym) isTerm() {}
func (Kw) isTerm()  {}
func (Lit) isTerm() {}
func (Seq) isTerm() {}

// Clause is one condition within a query body. Structurally it is a Seq; the
// alias exists so signatures read as what they take.
type Clause = Seq

func (s Sym) String() string { return string(s) }

func (k Kw) String() string { return ":" + string(k) }

func (l Lit) String() string {
	if s, ok := l.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", l.Value)
}

func (s Seq) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = fmt.Sprintf("%v", t)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Equal reports structural equality of two terms. Sym, Kw and Seq compare by
// shape and name; Lit values compare with reflect.DeepEqual so numeric and
// composite literals behave sensibly.
func Equal(a, b Term) bool {
	switch av := a.(type) {
	case Sym:
		bv, ok := b.(Sym)
		return ok && av == bv
	case Kw:
		bv, ok := b.(Kw)
		return ok && av == bv
	case Lit:
		bv, ok := b.(Lit)
		return ok && reflect.DeepEqual(av.Value, bv.Value)
	case Seq:
		bv, ok := b.(Seq)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	}
	return false
}
