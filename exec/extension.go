// Package exec drives query execution: it splices registered extensions into
// an otherwise declarative query, recursively splitting the clause body and
// threading the growing relation forward between evaluator calls.
package exec

import (
	"errors"
	"fmt"

	"relq/query"
	"relq/rel"
)

// ErrContract marks programming-contract violations: an extension binding
// already-bound variables, two extensions recognizing the same clause, and
// the like. These abort the query; they indicate a bug in an extension or in
// clause construction, not bad user input.
var ErrContract = errors.New("extension contract violation")

// SymbolSet is an extension's declaration for one matched clause: the input
// symbols it reads and the new variables it binds.
type SymbolSet struct {
	// Args are the symbols the extension reads, in argument order. Variables
	// resolve from the current tuple; plain symbols resolve from the
	// externally supplied non-binding inputs.
	Args []query.Sym
	// Outs are the new variables the extension binds, in output order. They
	// must be disjoint from every variable already bound at the splice point.
	Outs []query.Sym
}

// TupleFn transforms one input tuple's argument values into output values for
// the declared out symbols. ok = false drops the tuple from the relation.
type TupleFn func(args []any) (outs []any, ok bool, err error)

// Extension is a registered non-declarative predicate. The engine probes
// Matches against each where-clause; on the first match it asks for the
// clause's symbol declaration and executor and splices the result relation
// back into the query.
type Extension interface {
	// Matches classifies whether the clause belongs to this extension.
	Matches(c query.Clause) bool
	// DeclareSymbols returns the symbols read and bound for a matched clause.
	DeclareSymbols(c query.Clause) (SymbolSet, error)
	// Executor returns the tuple transform for a matched clause. The engine
	// calls it fresh per splice and never caches results.
	Executor(c query.Clause) (TupleFn, error)
}

// ApplyExtension runs one extension over every tuple of the relation.
// scalars supplies the values of non-binding input symbols; vars is the list
// of variables already bound, which out symbols must not overlap. Out values
// append to each tuple; tuples the executor declines are filtered out.
// Returns the new relation and vars extended by the out symbols, which
// becomes the binding-variable list for everything downstream.
func ApplyExtension(ext Extension, clause query.Clause, scalars map[query.Sym]any, vars []query.Sym, r *rel.Relation) (*rel.Relation, []query.Sym, error) {
	syms, err := ext.DeclareSymbols(clause)
	if err != nil {
		return nil, nil, fmt.Errorf("declare symbols for %v: %w", clause, err)
	}

	bound := make(map[query.Sym]bool, len(vars))
	for _, v := range vars {
		bound[v] = true
	}
	for _, out := range syms.Outs {
		if bound[out] {
			return nil, nil, fmt.Errorf("clause %v: out symbol %s is already bound: %w", clause, out, ErrContract)
		}
	}

	fn, err := ext.Executor(clause)
	if err != nil {
		return nil, nil, fmt.Errorf("executor for %v: %w", clause, err)
	}

	attrs := r.Attributes()
	for _, out := range syms.Outs {
		attrs = append(attrs, query.Attr(out))
	}

	var tuples []rel.Tuple
	for _, t := range r.Tuples() {
		args := make([]any, len(syms.Args))
		for i, arg := range syms.Args {
			if query.IsVariable(arg) {
				args[i] = t[query.Attr(arg)]
			} else {
				args[i] = scalars[arg]
			}
		}

		outs, ok, err := fn(args)
		if err != nil {
			return nil, nil, fmt.Errorf("extension executor for %v: %w", clause, err)
		}
		if !ok {
			continue
		}
		if len(outs) != len(syms.Outs) {
			return nil, nil, fmt.Errorf("clause %v: executor returned %d values for %d out symbols: %w",
				clause, len(outs), len(syms.Outs), ErrContract)
		}

		nt := make(rel.Tuple, len(t)+len(outs))
		for k, v := range t {
			nt[k] = v
		}
		for i, out := range syms.Outs {
			nt[query.Attr(out)] = outs[i]
		}
		tuples = append(tuples, nt)
	}

	out := rel.FromRecords(tuples, attrs...)
	return out, append(append([]query.Sym(nil), vars...), syms.Outs...), nil
}

// FuncExtension adapts plain functions into an Extension. It is the common
// way to register a predicate whose clause shape is "head symbol first":
// Head names the clause, Declare and Run supply the protocol pieces.
type FuncExtension struct {
	// Head is the clause head symbol this extension recognizes.
	Head query.Sym
	// Declare returns the symbol declaration for a matched clause.
	Declare func(c query.Clause) (SymbolSet, error)
	// Run is the tuple transform applied per input tuple.
	Run TupleFn
}

func (f FuncExtension) Matches(c query.Clause) bool {
	if len(c) == 0 {
		return false
	}
	head, ok := c[0].(query.Sym)
	return ok && head == f.Head
}

func (f FuncExtension) DeclareSymbols(c query.Clause) (SymbolSet, error) {
	if f.Declare != nil {
		return f.Declare(c)
	}
	// Default shape: every variable after the head is an argument except the
	// last, which is the output.
	vars := query.FreeVariables(c)
	if len(vars) == 0 {
		return SymbolSet{}, fmt.Errorf("clause %v: no variables to declare", c)
	}
	return SymbolSet{Args: vars[:len(vars)-1], Outs: vars[len(vars)-1:]}, nil
}

func (f FuncExtension) Executor(query.Clause) (TupleFn, error) {
	if f.Run == nil {
		return nil, fmt.Errorf("extension %s has no executor", f.Head)
	}
	return f.Run, nil
}
