package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/coherence/internal/catalog"
	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/rules"
	"github.com/dshills/coherence/internal/schema"
)

func mustCatalog(t *testing.T, ids ...string) *catalog.Catalog {
	t.Helper()
	var recs []catalog.Record
	for _, id := range ids {
		recs = append(recs, catalog.Record{
			ID: id, Description: "rule " + id, Severity: "medium", InputFields: []string{"x"},
		})
	}
	c, err := catalog.New(recs)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

// delayed returns results after sleeping, so that later units finish first.
func delayed(id string, d time.Duration, n int) rules.Evaluator {
	return rules.Func{ID: id, Fn: func(in rules.Input) []schema.RuleResult {
		time.Sleep(d)
		var out []schema.RuleResult
		for i := 0; i < n; i++ {
			out = append(out, schema.RuleResult{RuleID: id, Status: schema.StatusFail})
		}
		return out
	}}
}

func TestRun_DeterministicOrder(t *testing.T) {
	cat := mustCatalog(t, "a", "b", "c")
	reg := rules.NewRegistry()
	_ = reg.Register(delayed("a", 20*time.Millisecond, 2))
	_ = reg.Register(delayed("b", 0, 1))
	_ = reg.RegisterPerClause(rules.Func{ID: "c", Fn: func(in rules.Input) []schema.RuleResult {
		if in.Clause.ID == "SC-1" {
			time.Sleep(10 * time.Millisecond)
		}
		return []schema.RuleResult{{Status: schema.StatusPass, AffectedEntities: []string{in.Clause.ID}}}
	}})

	snap := &project.Snapshot{ProjectID: "P", ScopeClauses: []project.ScopeClause{{ID: "SC-1"}, {ID: "SC-2"}}}
	eng := New(cat, reg, Options{Parallelism: 4})

	for i := 0; i < 5; i++ {
		got, err := eng.Run(context.Background(), snap, time.Time{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		want := []string{"a", "a", "b", "c", "c"}
		if len(got) != len(want) {
			t.Fatalf("got %d results, want %d", len(got), len(want))
		}
		for j, id := range want {
			if got[j].RuleID != id {
				t.Fatalf("result[%d].RuleID = %q, want %q", j, got[j].RuleID, id)
			}
		}
		if got[3].AffectedEntities[0] != "SC-1" || got[4].AffectedEntities[0] != "SC-2" {
			t.Errorf("per-clause results out of input order: %+v", got[3:])
		}
	}
}

func TestRun_SkipsUnregisteredAndFillsPass(t *testing.T) {
	cat := mustCatalog(t, "quiet", "unregistered")
	reg := rules.NewRegistry()
	_ = reg.Register(rules.Func{ID: "quiet", Fn: func(rules.Input) []schema.RuleResult { return nil }})

	got, err := New(cat, reg, Options{}).Run(context.Background(), &project.Snapshot{ProjectID: "P"}, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].RuleID != "quiet" || got[0].Status != schema.StatusPass {
		t.Errorf("result = %+v, want PASS for quiet", got[0])
	}
}

func TestRun_DefaultsSeverityFromDescriptor(t *testing.T) {
	cat := mustCatalog(t, "r")
	reg := rules.NewRegistry()
	_ = reg.Register(rules.Func{ID: "r", Fn: func(rules.Input) []schema.RuleResult {
		return []schema.RuleResult{{Status: schema.StatusFail}}
	}})
	got, err := New(cat, reg, Options{}).Run(context.Background(), &project.Snapshot{ProjectID: "P"}, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got[0].RuleID != "r" || got[0].Severity != schema.SeverityMedium {
		t.Errorf("result = %+v", got[0])
	}
}

func TestRun_InjectsNow(t *testing.T) {
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	cat := mustCatalog(t, "r")
	reg := rules.NewRegistry()
	var seen time.Time
	_ = reg.Register(rules.Func{ID: "r", Fn: func(in rules.Input) []schema.RuleResult {
		seen = in.Now
		return nil
	}})
	if _, err := New(cat, reg, Options{Parallelism: 1}).Run(context.Background(), &project.Snapshot{ProjectID: "P"}, now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !seen.Equal(now) {
		t.Errorf("evaluator saw now = %v, want %v", seen, now)
	}
}

func TestRun_Cancelled(t *testing.T) {
	cat := mustCatalog(t, "r")
	reg := rules.NewRegistry()
	_ = reg.Register(delayed("r", 0, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(cat, reg, Options{}).Run(ctx, &project.Snapshot{ProjectID: "P"}, time.Time{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestRun_NilSnapshot(t *testing.T) {
	_, err := New(mustCatalog(t, "r"), rules.NewRegistry(), Options{}).Run(context.Background(), nil, time.Time{})
	if !errors.Is(err, ErrNilSnapshot) {
		t.Fatalf("Run error = %v, want ErrNilSnapshot", err)
	}
}

func TestRun_BuiltinCatalog(t *testing.T) {
	reg, err := rules.DefaultRegistry(rules.QualitativeOptions{})
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	snap := &project.Snapshot{
		ProjectID: "P",
		BudgetLines: []project.BudgetLine{
			{ID: "BL-1", PlannedAmount: 200000, CurrentAmount: 250000},
		},
	}
	got, err := New(catalog.Builtin(), reg, Options{}).Run(context.Background(), snap, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got[0].RuleID != rules.RuleBudgetOverrun || got[0].Status != schema.StatusFail {
		t.Errorf("first result = %+v, want budget_overrun FAIL", got[0])
	}
	// One result per deterministic rule: 11 PASS plus the overrun.
	if len(got) != 12 {
		t.Errorf("got %d results, want 12", len(got))
	}
}
