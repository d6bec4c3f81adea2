// Package mangleval adapts the google/mangle Datalog engine to the exec
// evaluator boundary. A query's in entries become synthetic input predicates,
// its body compiles to a single rule, the program is analyzed and evaluated
// over a fresh fact store, and the derived head facts come back as a relation
// over the find variables.
//
// The adapter accepts predicate atoms, single-atom negation ("not" forms) and
// disjunctions ("or"/"or-join" forms, compiled to one synthetic predicate
// with a rule per branch). Aggregates and function terms in find position are
// not supported here.
package mangleval

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"relq/query"
	"relq/rel"
)

// Evaluator answers find/in/where queries over a Mangle program. Fact and
// rule sources load up front; each Evaluate call composes them with the
// synthetic clauses derived from the query and runs a fresh evaluation over a
// fresh fact store, so calls never observe each other.
type Evaluator struct {
	sources []string
	log     *zap.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger installs a logger for debug traces of generated programs.
func WithLogger(log *zap.Logger) Option {
	return func(ev *Evaluator) { ev.log = log }
}

// New builds an empty evaluator. Load supplies the fact database.
func New(opts ...Option) *Evaluator {
	ev := &Evaluator{log: zap.NewNop()}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Load adds a Mangle source fragment (declarations, facts, rules). The
// fragment is parsed immediately so malformed sources fail at load time, then
// kept in textual form and recompiled with each query.
func (ev *Evaluator) Load(src string) error {
	if _, err := parse.Unit(bytes.NewReader([]byte(src))); err != nil {
		return fmt.Errorf("parse source fragment: %w", err)
	}
	ev.sources = append(ev.sources, src)
	return nil
}

type relBinding struct {
	vars []query.Sym
	rel  *rel.Relation
}

// Evaluate implements exec.Evaluator.
func (ev *Evaluator) Evaluate(q query.Query, inputs ...any) (*rel.Relation, error) {
	if len(inputs) != len(q.In) {
		return nil, fmt.Errorf("query has %d in entries but %d inputs were supplied", len(q.In), len(inputs))
	}

	findVars, err := findVariables(q.Find)
	if err != nil {
		return nil, err
	}

	var scalarSyms []query.Sym
	scalarVals := make(map[query.Sym]any)
	var bindings []relBinding
	for i, entry := range q.In {
		b, scalar, err := classifyInput(entry, inputs[i])
		if err != nil {
			return nil, err
		}
		if scalar != nil {
			scalarSyms = append(scalarSyms, scalar.sym)
			scalarVals[scalar.sym] = scalar.val
			continue
		}
		bindings = append(bindings, b)
	}

	// An empty body is the identity scan over the relation inputs: project
	// onto the find variables without touching Mangle, preserving row order.
	if len(q.Where) == 0 {
		return identityScan(findVars, bindings)
	}

	uid := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	prog, facts, headName, err := ev.compile(q, findVars, scalarSyms, scalarVals, bindings, uid)
	if err != nil {
		return nil, err
	}
	ev.log.Debug("compiled query program",
		zap.String("head", headName),
		zap.Int("input_facts", len(facts)),
		zap.String("program", prog))

	unit, err := parse.Unit(bytes.NewReader([]byte(prog)))
	if err != nil {
		return nil, fmt.Errorf("parse generated program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze query: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, fact := range facts {
		store.Add(fact)
	}
	if _, err := mengine.EvalProgramWithStats(programInfo, store); err != nil {
		return nil, fmt.Errorf("evaluate query: %w", err)
	}

	headSym := ast.PredicateSym{Symbol: headName, Arity: len(findVars)}
	var rows [][]any
	err = store.GetFacts(ast.NewQuery(headSym), func(fact ast.Atom) error {
		row := make([]any, len(fact.Args))
		for i, arg := range fact.Args {
			row[i] = termValue(arg)
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect results: %w", err)
	}

	// Derived facts are a set; order them canonically so results are stable.
	sort.SliceStable(rows, func(i, j int) bool {
		for k := range rows[i] {
			c, err := rel.Compare(rows[i][k], rows[j][k])
			if err != nil {
				return false
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	attrs := make([]string, len(findVars))
	for i, v := range findVars {
		attrs[i] = query.Attr(v)
	}
	return rel.New(attrs, rows)
}

type scalarBinding struct {
	sym query.Sym
	val any
}

func classifyInput(entry query.Term, input any) (relBinding, *scalarBinding, error) {
	switch e := entry.(type) {
	case query.Sym:
		if !query.IsVariable(e) {
			return relBinding{}, &scalarBinding{sym: e, val: input}, nil
		}
		// A bare variable binds a relation of 1-tuples or a plain collection.
		switch v := input.(type) {
		case *rel.Relation:
			return relBinding{vars: []query.Sym{e}, rel: v}, nil, nil
		case []any:
			rows := make([][]any, len(v))
			for i, item := range v {
				rows[i] = []any{item}
			}
			r, err := rel.New([]string{query.Attr(e)}, rows)
			if err != nil {
				return relBinding{}, nil, err
			}
			return relBinding{vars: []query.Sym{e}, rel: r}, nil, nil
		default:
			return relBinding{}, nil, fmt.Errorf("in entry %v: input %T is neither a relation nor a collection", e, input)
		}
	case query.Seq:
		if len(e) != 1 {
			return relBinding{}, nil, fmt.Errorf("in entry %v: expected a relation destructuring form [[?a ?b ...]]", e)
		}
		inner, ok := e[0].(query.Seq)
		if !ok {
			return relBinding{}, nil, fmt.Errorf("in entry %v: expected a relation destructuring form [[?a ?b ...]]", e)
		}
		vars := make([]query.Sym, len(inner))
		for i, t := range inner {
			v, ok := t.(query.Sym)
			if !ok || !query.IsVariable(v) {
				return relBinding{}, nil, fmt.Errorf("in entry %v: destructuring element %v is not a variable", e, t)
			}
			vars[i] = v
		}
		r, ok := input.(*rel.Relation)
		if !ok {
			return relBinding{}, nil, fmt.Errorf("in entry %v: input %T is not a relation", e, input)
		}
		if len(r.Attributes()) != len(vars) {
			return relBinding{}, nil, fmt.Errorf("in entry %v: relation has %d columns for %d variables", e, len(r.Attributes()), len(vars))
		}
		return relBinding{vars: vars, rel: r}, nil, nil
	default:
		return relBinding{}, nil, fmt.Errorf("unsupported in entry %v", entry)
	}
}

// identityScan projects the cross product of the relation inputs onto the
// find variables. With a single input, row order is preserved exactly.
func identityScan(findVars []query.Sym, bindings []relBinding) (*rel.Relation, error) {
	attrs := make([]string, len(findVars))
	for i, v := range findVars {
		attrs[i] = query.Attr(v)
	}
	if len(bindings) == 0 {
		return rel.Empty(attrs), nil
	}

	tuples := []rel.Tuple{{}}
	for _, b := range bindings {
		var next []rel.Tuple
		for _, have := range tuples {
			for i := 0; i < b.rel.Len(); i++ {
				row := b.rel.Row(i)
				t := make(rel.Tuple, len(have)+len(b.vars))
				for k, v := range have {
					t[k] = v
				}
				for j, v := range b.vars {
					t[query.Attr(v)] = row[j]
				}
				next = append(next, t)
			}
		}
		tuples = next
	}
	return rel.FromRecords(tuples, attrs...), nil
}

// compile renders the declarations and rules of the generated program and
// builds the input facts as typed atoms. Input relations and scalar
// parameters both become synthetic predicates whose facts go straight into
// the store, so values never round-trip through source text.
func (ev *Evaluator) compile(q query.Query, findVars []query.Sym, scalarSyms []query.Sym, scalarVals map[query.Sym]any, bindings []relBinding, uid string) (string, []ast.Atom, string, error) {
	var b strings.Builder
	for _, src := range ev.sources {
		b.WriteString(src)
		b.WriteString("\n")
	}

	var facts []ast.Atom
	var body []string
	for i, binding := range bindings {
		name := fmt.Sprintf("rq_in%d_%s", i, uid)
		writeDecl(&b, name, len(binding.vars))
		for r := 0; r < binding.rel.Len(); r++ {
			atom, err := rowAtom(name, binding.rel.Row(r))
			if err != nil {
				return "", nil, "", err
			}
			facts = append(facts, atom)
		}
		args := make([]string, len(binding.vars))
		for j, v := range binding.vars {
			args[j] = mangleVar(v)
		}
		body = append(body, fmt.Sprintf("%s(%s)", name, strings.Join(args, ", ")))
	}

	// Scalars bind through 1-ary predicates with a single fact each, joined
	// into the body on a dedicated variable.
	scalarVars := make(map[query.Sym]string, len(scalarSyms))
	for i, sym := range scalarSyms {
		name := fmt.Sprintf("rq_sc%d_%s", i, uid)
		writeDecl(&b, name, 1)
		atom, err := rowAtom(name, []any{scalarVals[sym]})
		if err != nil {
			return "", nil, "", err
		}
		facts = append(facts, atom)
		v := fmt.Sprintf("S%d", i)
		scalarVars[sym] = v
		body = append(body, fmt.Sprintf("%s(%s)", name, v))
	}

	c := &clauseCompiler{scalars: scalarVars, uid: uid, out: &b}
	for _, clause := range q.Where {
		lit, err := c.compile(clause)
		if err != nil {
			return "", nil, "", err
		}
		body = append(body, lit)
	}

	headName := "rq_find_" + uid
	headVars := make([]string, len(findVars))
	for i, v := range findVars {
		headVars[i] = mangleVar(v)
	}
	writeDecl(&b, headName, len(findVars))
	fmt.Fprintf(&b, "%s(%s) :- %s.\n", headName, strings.Join(headVars, ", "), strings.Join(body, ", "))
	return b.String(), facts, headName, nil
}

func writeDecl(b *strings.Builder, name string, arity int) {
	vars := make([]string, arity)
	for i := range vars {
		vars[i] = fmt.Sprintf("A%d", i)
	}
	fmt.Fprintf(b, "Decl %s(%s).\n", name, strings.Join(vars, ", "))
}

func rowAtom(name string, row []any) (ast.Atom, error) {
	terms := make([]ast.BaseTerm, len(row))
	for i, v := range row {
		term, err := convertValue(v)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", name, i, err)
		}
		terms[i] = term
	}
	return ast.NewAtom(name, terms...), nil
}

type clauseCompiler struct {
	scalars map[query.Sym]string
	uid     string
	out     *strings.Builder
	orCount int
}

// compile turns one where-clause into a body literal, emitting any synthetic
// predicates it needs into the program being built.
func (c *clauseCompiler) compile(clause query.Clause) (string, error) {
	if len(clause) == 0 {
		return "", fmt.Errorf("empty clause")
	}
	if head, ok := clause[0].(query.Sym); ok && !query.IsVariable(head) {
		switch string(head) {
		case "not":
			return c.compileNot(clause)
		case "or", "or-join":
			return c.compileOr(clause)
		}
	}
	return c.compileAtom(clause)
}

func (c *clauseCompiler) compileAtom(clause query.Clause) (string, error) {
	head, ok := clause[0].(query.Sym)
	if !ok || query.IsVariable(head) {
		return "", fmt.Errorf("clause %v: head must be a predicate symbol", clause)
	}
	args := make([]string, 0, len(clause)-1)
	for _, t := range clause[1:] {
		arg, err := c.compileArg(t)
		if err != nil {
			return "", fmt.Errorf("clause %v: %w", clause, err)
		}
		args = append(args, arg)
	}
	if len(args) == 0 {
		return string(head) + "()", nil
	}
	return fmt.Sprintf("%s(%s)", head, strings.Join(args, ", ")), nil
}

func (c *clauseCompiler) compileArg(t query.Term) (string, error) {
	switch v := t.(type) {
	case query.Sym:
		if query.IsVariable(v) {
			return mangleVar(v), nil
		}
		if sv, ok := c.scalars[v]; ok {
			return sv, nil
		}
		return renderLiteral(string(v))
	case query.Kw:
		return "/" + string(v), nil
	case query.Lit:
		return renderLiteral(v.Value)
	default:
		return "", fmt.Errorf("unsupported argument term %v", t)
	}
}

// compileNot handles single-atom negation: [not [pred ...]].
func (c *clauseCompiler) compileNot(clause query.Clause) (string, error) {
	if len(clause) != 2 {
		return "", fmt.Errorf("clause %v: negation takes exactly one atom", clause)
	}
	sub, ok := clause[1].(query.Seq)
	if !ok {
		return "", fmt.Errorf("clause %v: negation body must be an atom clause", clause)
	}
	atom, err := c.compileAtom(sub)
	if err != nil {
		return "", err
	}
	return "!" + atom, nil
}

// compileOr handles disjunctions: [or-join [?join...] branch...]. The join
// list is auto-closed over non-generated free variables, then the whole form
// compiles to a synthetic predicate with one rule per branch.
func (c *clauseCompiler) compileOr(clause query.Clause) (string, error) {
	closed, err := query.CloseOrJoin(clause)
	if err != nil {
		return "", err
	}
	joinList, ok := closed[1].(query.Seq)
	if !ok {
		return "", fmt.Errorf("clause %v: missing join-variable list", clause)
	}
	joinVars := make([]string, len(joinList))
	for i, t := range joinList {
		v, ok := t.(query.Sym)
		if !ok || !query.IsVariable(v) {
			return "", fmt.Errorf("clause %v: join element %v is not a variable", clause, t)
		}
		joinVars[i] = mangleVar(v)
	}

	c.orCount++
	name := fmt.Sprintf("rq_or%d_%s", c.orCount, c.uid)
	writeDecl(c.out, name, len(joinVars))

	for _, branch := range closed[2:] {
		sub, ok := branch.(query.Seq)
		if !ok {
			return "", fmt.Errorf("clause %v: branch %v is not a clause form", clause, branch)
		}
		lits, err := c.compileBranch(sub)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(c.out, "%s(%s) :- %s.\n", name, strings.Join(joinVars, ", "), strings.Join(lits, ", "))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(joinVars, ", ")), nil
}

// compileBranch compiles one disjunction branch: either a single clause or an
// [and clause...] conjunction form.
func (c *clauseCompiler) compileBranch(branch query.Seq) ([]string, error) {
	if len(branch) > 0 {
		if head, ok := branch[0].(query.Sym); ok && head == "and" {
			var lits []string
			for _, inner := range branch[1:] {
				innerSeq, ok := inner.(query.Seq)
				if !ok {
					return nil, fmt.Errorf("and-branch element %v is not a clause", inner)
				}
				lit, err := c.compile(innerSeq)
				if err != nil {
					return nil, err
				}
				lits = append(lits, lit)
			}
			return lits, nil
		}
	}
	lit, err := c.compile(branch)
	if err != nil {
		return nil, err
	}
	return []string{lit}, nil
}

// mangleVar maps a query variable to a Mangle variable name. Mangle variables
// must start uppercase; punctuation in the flattened name becomes '_'.
func mangleVar(v query.Sym) string {
	name := query.Attr(v)
	var b strings.Builder
	b.WriteString("V")
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// renderLiteral renders a constant appearing inline in a clause. Strings with
// a leading slash pass through as name constants; other strings render quoted
// so they round-trip without atomization. Floats are deliberately rejected
// here: float-valued parameters reach the program through scalar in bindings,
// which carry typed constants instead of source text.
func renderLiteral(v any) (string, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "/") {
			return val, nil
		}
		return strconv.Quote(val), nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case bool:
		if val {
			return "/true", nil
		}
		return "/false", nil
	default:
		return "", fmt.Errorf("unsupported literal %v (%T); bind it through an in parameter instead", v, v)
	}
}

// convertValue converts a Go value to a typed Mangle constant.
func convertValue(v any) (ast.BaseTerm, error) {
	switch val := v.(type) {
	case ast.BaseTerm:
		return val, nil
	case string:
		if strings.HasPrefix(val, "/") {
			return ast.Name(val)
		}
		return ast.String(val), nil
	case int:
		return ast.Number(int64(val)), nil
	case int32:
		return ast.Number(int64(val)), nil
	case int64:
		return ast.Number(val), nil
	case float32:
		return ast.Float64(float64(val)), nil
	case float64:
		return ast.Float64(val), nil
	case bool:
		if val {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// termValue converts a Mangle base term back to a Go value.
func termValue(term ast.BaseTerm) any {
	c, ok := term.(ast.Constant)
	if !ok {
		return term.String()
	}
	switch c.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue))
	default:
		return c.String()
	}
}

func findVariables(find []query.Term) ([]query.Sym, error) {
	vars := make([]query.Sym, 0, len(find))
	for _, t := range find {
		v, ok := t.(query.Sym)
		if !ok || !query.IsVariable(v) {
			return nil, fmt.Errorf("find element %v: only plain variables are supported", t)
		}
		vars = append(vars, v)
	}
	return vars, nil
}
