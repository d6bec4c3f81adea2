package exec

import (
	"fmt"

	"go.uber.org/zap"

	"relq/query"
	"relq/rel"
)

// Evaluator is the declarative logic-query boundary. Anything that answers a
// find/in/where query over its inputs with a relation of tuples is
// substitutable here; the engine never looks behind this signature.
type Evaluator interface {
	Evaluate(q query.Query, inputs ...any) (*rel.Relation, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(q query.Query, inputs ...any) (*rel.Relation, error)

func (f EvaluatorFunc) Evaluate(q query.Query, inputs ...any) (*rel.Relation, error) {
	return f(q, inputs...)
}

// Engine executes queries whose bodies may interleave declarative clauses
// with clauses recognized by registered extensions. Execution is synchronous
// and pure with respect to its inputs; an Engine is safe for concurrent use
// as long as its evaluator and extensions are.
type Engine struct {
	eval Evaluator
	exts []Extension
	log  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger installs a logger for debug-level execution traces.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithExtensions registers extensions in order. Order matters only for
// diagnostics; two extensions recognizing the same clause is a contract error
// surfaced at first use.
func WithExtensions(exts ...Extension) Option {
	return func(e *Engine) { e.exts = append(e.exts, exts...) }
}

// NewEngine builds an engine over the given declarative evaluator.
func NewEngine(eval Evaluator, opts ...Option) *Engine {
	e := &Engine{eval: eval, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds an extension after construction.
func (e *Engine) Register(ext Extension) {
	e.exts = append(e.exts, ext)
}

// Query executes q against inputs. The body is repeatedly partitioned at the
// first extension-recognized clause: the declarative prefix goes to the
// evaluator, the matched extension transforms that result, and the remainder
// re-enters as a new query whose final input is the extension's output
// relation. With no recognized clause left, the evaluator answers directly.
// The find shape of the final relation always equals the find shape of the
// submitted query.
func (e *Engine) Query(q query.Query, inputs ...any) (*rel.Relation, error) {
	if len(inputs) != len(q.In) {
		return nil, fmt.Errorf("query has %d in entries but %d inputs were supplied", len(q.In), len(inputs))
	}
	return e.run(q, inputs, 0)
}

func (e *Engine) run(q query.Query, inputs []any, depth int) (*rel.Relation, error) {
	prefix, custom, rest, ext, err := e.split(q.Where)
	if err != nil {
		return nil, err
	}

	if ext == nil {
		e.log.Debug("delegating to evaluator", zap.Int("depth", depth), zap.Int("clauses", len(q.Where)))
		return e.eval.Evaluate(q, inputs...)
	}

	e.log.Debug("splitting at custom clause",
		zap.Int("depth", depth),
		zap.Stringer("clause", custom),
		zap.Int("prefix", len(prefix)),
		zap.Int("rest", len(rest)))

	// Variables the evaluator must expose so the extension can see them:
	// everything free in the in entries and the declarative prefix.
	forms := make([]query.Term, 0, len(q.In)+len(prefix))
	forms = append(forms, q.In...)
	for _, c := range prefix {
		forms = append(forms, c)
	}
	vars := query.FreeVariables(forms...)

	// Non-binding in symbols carry scalar parameters; pair them with their
	// supplied values so both the extension step and the next recursion level
	// can reach them.
	var scalarSyms []query.Term
	var scalarVals []any
	scalars := make(map[query.Sym]any)
	for i, entry := range q.In {
		s, ok := entry.(query.Sym)
		if ok && !query.IsVariable(s) {
			scalarSyms = append(scalarSyms, s)
			scalarVals = append(scalarVals, inputs[i])
			scalars[s] = inputs[i]
		}
	}

	sub := query.Query{Find: symsToTerms(vars), In: q.In, Where: prefix}
	r, err := e.eval.Evaluate(sub, inputs...)
	if err != nil {
		return nil, err
	}

	r, extended, err := ApplyExtension(ext, custom, scalars, vars, r)
	if err != nil {
		return nil, err
	}
	e.log.Debug("extension applied",
		zap.Int("depth", depth),
		zap.Stringer("clause", custom),
		zap.Int("tuples", r.Len()))

	// The extension's output becomes a fresh relation input, destructured
	// positionally into the extended variable list. Find stays the original
	// top-level find: the output shape is invariant across recursion steps.
	next := query.Query{
		Find:  q.Find,
		In:    append(append([]query.Term(nil), scalarSyms...), query.RelationBinding(extended...)),
		Where: rest,
	}
	nextInputs := append(append([]any(nil), scalarVals...), r)
	return e.run(next, nextInputs, depth+1)
}

// split partitions where into the longest extension-free prefix, the first
// clause recognized by some extension, and the remainder. A clause recognized
// by more than one extension is a contract error.
func (e *Engine) split(where []query.Clause) (prefix []query.Clause, custom query.Clause, rest []query.Clause, ext Extension, err error) {
	for i, c := range where {
		var match Extension
		for _, candidate := range e.exts {
			if !candidate.Matches(c) {
				continue
			}
			if match != nil {
				return nil, nil, nil, nil, fmt.Errorf("clause %v is recognized by more than one extension: %w", c, ErrContract)
			}
			match = candidate
		}
		if match != nil {
			return where[:i], c, where[i+1:], match, nil
		}
	}
	return where, nil, nil, nil, nil
}

func symsToTerms(vars []query.Sym) []query.Term {
	out := make([]query.Term, len(vars))
	for i, v := range vars {
		out[i] = v
	}
	return out
}
