package policy

import "testing"

func TestCELGuardCompileAndEvaluate(t *testing.T) {
	g, err := NewCELGuard()
	if err != nil {
		t.Fatalf("NewCELGuard: %v", err)
	}

	prg, err := g.Compile(`tool == "search" && params["q"] != ""`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ok, err := g.Evaluate(prg, "agent-1", "search", "query", map[string]any{"q": "ocean"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Fatal("expression should pass")
	}

	ok, err = g.Evaluate(prg, "agent-1", "search", "query", map[string]any{"q": ""})
	if err != nil {
		t.Fatalf("Evaluate empty q: %v", err)
	}
	if ok {
		t.Fatal("expression should fail on empty q")
	}
}

func TestCELGuardRejectsBadExpressions(t *testing.T) {
	g, err := NewCELGuard()
	if err != nil {
		t.Fatalf("NewCELGuard: %v", err)
	}

	if _, err := g.Compile(`tool ==`); err == nil {
		t.Fatal("syntax error should fail to compile")
	}
	if _, err := g.Compile(`unknown_variable == "x"`); err == nil {
		t.Fatal("unknown variable should fail type-checking")
	}

	// Non-boolean results are rejected at evaluation time.
	prg, err := g.Compile(`tool + action`)
	if err != nil {
		t.Fatalf("Compile string expr: %v", err)
	}
	if _, err := g.Evaluate(prg, "a", "search", "query", nil); err == nil {
		t.Fatal("non-boolean result should error")
	}
}

func TestEvaluateCustomExprGuard(t *testing.T) {
	e := NewEngine()
	merged := PolicySpec{
		Scopes: []string{"search:query"},
		Guards: &Guards{CustomExprs: []string{`params["q"] != "forbidden"`}},
	}

	d := e.Evaluate(merged, "agent-1", "search", "query", map[string]any{"q": "ocean"})
	if !d.Allowed {
		t.Fatalf("Evaluate() denied, reason %v", d.DenyReason)
	}

	d = e.Evaluate(merged, "agent-1", "search", "query", map[string]any{"q": "forbidden"})
	if d.Allowed {
		t.Fatal("Evaluate() allowed, want guard_failed")
	}
	if d.DenyReason != DenyGuardFailed {
		t.Fatalf("DenyReason = %v, want %v", d.DenyReason, DenyGuardFailed)
	}
}

func TestMergeConcatenatesCustomExprs(t *testing.T) {
	a := PolicySpec{Scopes: []string{"search:query"}, Guards: &Guards{CustomExprs: []string{`tool == "search"`}}}
	b := PolicySpec{Scopes: []string{"search:query"}, Guards: &Guards{CustomExprs: []string{`action == "query"`, `tool == "search"`}}}

	merged := Merge([]PolicySpec{a, b})
	if merged.Guards == nil || len(merged.Guards.CustomExprs) != 2 {
		t.Fatalf("merged custom exprs = %+v", merged.Guards)
	}
}
