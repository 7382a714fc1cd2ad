package rules

import (
	"context"
	"testing"

	"github.com/dshills/coherence/internal/schema"
)

func TestRegistry_Duplicate(t *testing.T) {
	reg := NewRegistry()
	ev := Func{ID: "r1", Fn: func(Input) []schema.RuleResult { return nil }}
	if err := reg.Register(ev); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.RegisterPerClause(ev); err == nil {
		t.Error("expected error registering a duplicate id")
	}
	if err := reg.Register(Func{}); err == nil {
		t.Error("expected error registering an empty id")
	}
}

func TestRegistry_LookupScope(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Func{ID: "snap", Fn: func(Input) []schema.RuleResult { return nil }})
	_ = reg.RegisterPerClause(Func{ID: "clause", Fn: func(Input) []schema.RuleResult { return nil }})

	if r, ok := reg.Lookup("snap"); !ok || r.Scope != ScopeSnapshot {
		t.Errorf("Lookup(snap) = %+v, %v", r, ok)
	}
	if r, ok := reg.Lookup("clause"); !ok || r.Scope != ScopeClause {
		t.Errorf("Lookup(clause) = %+v, %v", r, ok)
	}
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Lookup(missing) should fail")
	}
	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "clause" || ids[1] != "snap" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg, err := DefaultRegistry(QualitativeOptions{})
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	if n := len(reg.IDs()); n != 12 {
		t.Errorf("without a reasoner: %d evaluators, want 12", n)
	}

	reg, err = DefaultRegistry(QualitativeOptions{Reasoner: &fakeReasoner{}})
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	if n := len(reg.IDs()); n != 15 {
		t.Errorf("with a reasoner: %d evaluators, want 15", n)
	}
	r, ok := reg.Lookup("scope_clause_legal_risk")
	if !ok || r.Scope != ScopeClause {
		t.Errorf("qualitative rule registration = %+v, %v", r, ok)
	}
}

func TestFunc_Evaluate(t *testing.T) {
	f := Func{ID: "x", Fn: func(in Input) []schema.RuleResult {
		return []schema.RuleResult{{RuleID: "x", Status: schema.StatusPass}}
	}}
	if got := f.Evaluate(context.Background(), Input{}); len(got) != 1 || got[0].RuleID != "x" {
		t.Errorf("Evaluate = %+v", got)
	}
}
