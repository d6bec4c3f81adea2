package query

// Query is the structured form of a find/in/where query.
//
// Find lists the output variables (or aggregate/expression wrappers around
// them); its order defines the output tuple shape. In lists input symbols:
// plain symbols bind scalar or collection parameters, variables and
// destructuring forms bind relations of tuples. Where is the ordered clause
// body. Clause order matters only insofar as it determines where the executor
// splits: clauses before the first extension-recognized clause must be fully
// answerable by the declarative evaluator.
type Query struct {
	Find  []Term
	In    []Term
	Where []Clause
}

// RelationBinding builds the in-clause destructuring form that binds a
// relation input positionally to vars: [[?a ?b ...]].
func RelationBinding(vars ...Sym) Seq {
	inner := make(Seq, len(vars))
	for i, v := range vars {
		inner[i] = v
	}
	return Seq{inner}
}

// Merge left-folds queries into one, concatenating each section in order.
// Only the combined where section is deduplicated (top-level structural
// duplicates removed, first occurrence kept); callers are responsible for
// avoiding duplicate find/in entries.
func Merge(qs ...Query) Query {
	var out Query
	for _, q := range qs {
		out.Find = append(out.Find, q.Find...)
		out.In = append(out.In, q.In...)
		for _, c := range q.Where {
			if !containsClause(out.Where, c) {
				out.Where = append(out.Where, c)
			}
		}
	}
	return out
}

func containsClause(cs []Clause, c Clause) bool {
	for _, have := range cs {
		if Equal(have, c) {
			return true
		}
	}
	return false
}
