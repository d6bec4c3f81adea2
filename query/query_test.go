package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func eqClause(v Sym, n int) Clause {
	return Clause{v, Kw("eq"), Lit{Value: n}}
}

func TestMergeDedupsWhere(t *testing.T) {
	q1 := Query{Where: []Clause{eqClause("?x", 1)}}
	q2 := Query{Where: []Clause{eqClause("?x", 1), eqClause("?y", 2)}}

	got := Merge(q1, q2)
	want := []Clause{eqClause("?x", 1), eqClause("?y", 2)}
	if len(got.Where) != len(want) {
		t.Fatalf("Merge where = %v, want %v", got.Where, want)
	}
	for i := range want {
		if !Equal(got.Where[i], want[i]) {
			t.Errorf("Merge where[%d] = %v, want %v", i, got.Where[i], want[i])
		}
	}
}

func TestMergeConcatenatesOtherSections(t *testing.T) {
	q1 := Query{Find: []Term{Sym("?x")}, In: []Term{Sym("model")}}
	q2 := Query{Find: []Term{Sym("?x")}, In: []Term{Sym("model")}}

	got := Merge(q1, q2)
	if len(got.Find) != 2 {
		t.Errorf("find entries = %d, want 2 (no dedup outside where)", len(got.Find))
	}
	if len(got.In) != 2 {
		t.Errorf("in entries = %d, want 2 (no dedup outside where)", len(got.In))
	}
}

func TestMergeEmpty(t *testing.T) {
	got := Merge()
	if len(got.Find) != 0 || len(got.In) != 0 || len(got.Where) != 0 {
		t.Errorf("Merge() = %+v, want empty query", got)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Term
		want bool
	}{
		{"equal syms", Sym("?x"), Sym("?x"), true},
		{"different syms", Sym("?x"), Sym("?y"), false},
		{"sym vs kw", Sym("eq"), Kw("eq"), false},
		{"equal lits", Lit{Value: 1}, Lit{Value: 1}, true},
		{"different lits", Lit{Value: 1}, Lit{Value: 2}, false},
		{"nested equal", Seq{Sym("?x"), Seq{Kw("eq")}}, Seq{Sym("?x"), Seq{Kw("eq")}}, true},
		{"nested length mismatch", Seq{Sym("?x")}, Seq{Sym("?x"), Sym("?y")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRelationBinding(t *testing.T) {
	got := RelationBinding("?x", "?y")
	want := Seq{Seq{Sym("?x"), Sym("?y")}}
	if !Equal(got, want) {
		t.Errorf("RelationBinding = %v, want %v", got, want)
	}
}

func TestTermStrings(t *testing.T) {
	got := Seq{Sym("?x"), Kw("eq"), Lit{Value: "a"}}.String()
	want := `[?x :eq "a"]`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Seq.String() mismatch (-want +got):\n%s", diff)
	}
}
