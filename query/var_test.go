package query

import (
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestToVariable(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Sym
	}{
		{"bare name", "x", "?x"},
		{"already marked", "?x", "?x"},
		{"qualified name", "model/score", "?model_score"},
		{"marked qualified", "?model/score", "?model_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToVariable(tt.in); got != tt.want {
				t.Errorf("ToVariable(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFreshUnique(t *testing.T) {
	seen := make(map[Sym]bool)
	for i := 0; i < 1000; i++ {
		v := Fresh("")
		if seen[v] {
			t.Fatalf("Fresh returned duplicate variable %v", v)
		}
		seen[v] = true
		if !IsGenerated(v) {
			t.Fatalf("Fresh variable %v not recognized as generated", v)
		}
		if !IsVariable(v) {
			t.Fatalf("Fresh variable %v not recognized as a variable", v)
		}
	}
}

func TestFreshPrefix(t *testing.T) {
	v := Fresh("rel")
	if !strings.Contains(string(v), "rel") {
		t.Errorf("Fresh(\"rel\") = %v, want prefix embedded", v)
	}
	if !IsGenerated(v) {
		t.Errorf("Fresh(\"rel\") = %v, want generated marker", v)
	}
}

func TestFreshConcurrent(t *testing.T) {
	const workers, each = 8, 500
	var mu sync.Mutex
	seen := make(map[Sym]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Sym, 0, each)
			for i := 0; i < each; i++ {
				local = append(local, Fresh("par"))
			}
			mu.Lock()
			defer mu.Unlock()
			for _, v := range local {
				if seen[v] {
					t.Errorf("concurrent Fresh collision on %v", v)
				}
				seen[v] = true
			}
		}()
	}
	wg.Wait()
}

func TestIsVariable(t *testing.T) {
	if !IsVariable(Sym("?x")) {
		t.Error("?x should be a variable")
	}
	if IsVariable(Sym("x")) {
		t.Error("plain symbol x should not be a variable")
	}
	if IsVariable(Seq{Sym("?x")}) {
		t.Error("compound form should not be a variable")
	}
	if IsVariable(Lit{Value: "?x"}) {
		t.Error("literal should not be a variable")
	}
}

func TestIsGenerated(t *testing.T) {
	if IsGenerated(Sym("?x")) {
		t.Error("user variable ?x should not read as generated")
	}
	if !IsGenerated(Sym("?G__x")) {
		t.Error("?G__x should read as generated")
	}
}

func TestFreeVariablesOrder(t *testing.T) {
	form := Seq{
		Seq{Sym("pred"), Sym("?b"), Lit{Value: 1}},
		Seq{Sym("?a"), Seq{Sym("?b"), Sym("?c")}},
		Sym("plain"),
	}
	got := FreeVariables(form)
	want := []Sym{"?b", "?a", "?c"}
	if len(got) != len(want) {
		t.Fatalf("FreeVariables = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FreeVariables = %v, want %v (first-seen order)", got, want)
		}
	}
}

func TestCloseOrJoin(t *testing.T) {
	form := Seq{
		Sym("or-join"),
		Seq{Sym("?a")},
		Seq{Sym("p"), Sym("?a"), Sym("?b")},
		Seq{Sym("q"), Sym("?a"), Sym("?G__x")},
	}
	closed, err := CloseOrJoin(form)
	if err != nil {
		t.Fatalf("CloseOrJoin() error = %v", err)
	}
	joinList, ok := closed[1].(Seq)
	if !ok {
		t.Fatalf("closed form %v has no join list in position 1", closed)
	}
	want := Seq{Sym("?a"), Sym("?b")}
	if !Equal(joinList, want) {
		t.Errorf("join list = %v, want %v", joinList, want)
	}
	for _, v := range joinList {
		if IsGenerated(v.(Sym)) {
			t.Errorf("generated variable %v leaked into join list", v)
		}
	}
}

func TestCloseOrJoinWithoutHead(t *testing.T) {
	form := Seq{
		Seq{Sym("?a")},
		Seq{Sym("p"), Sym("?b")},
	}
	closed, err := CloseOrJoin(form)
	if err != nil {
		t.Fatalf("CloseOrJoin() error = %v", err)
	}
	if !Equal(closed[0], Seq{Sym("?a"), Sym("?b")}) {
		t.Errorf("join list = %v, want [?a ?b]", closed[0])
	}
}

func TestCloseOrJoinErrors(t *testing.T) {
	if _, err := CloseOrJoin(Seq{}); err == nil {
		t.Error("empty form should fail")
	}
	if _, err := CloseOrJoin(Seq{Sym("or-join")}); err == nil {
		t.Error("form without join list should fail")
	}
	if _, err := CloseOrJoin(Seq{Sym("or-join"), Lit{Value: 1}}); err == nil {
		t.Error("non-list join position should fail")
	}
}

func TestAttr(t *testing.T) {
	if got := Attr("?x"); got != "x" {
		t.Errorf("Attr(?x) = %q, want x", got)
	}
	if got := Attr("x"); got != "x" {
		t.Errorf("Attr(x) = %q, want x", got)
	}
}
