// Package rules defines the evaluator capability, the registry that binds
// catalog rule ids to evaluators, and the built-in evaluators.
package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/schema"
)

// Input is the unit an evaluator inspects. Clause is nil for
// snapshot-scoped evaluators. Now is the reference date; evaluators never
// read the clock.
type Input struct {
	Snapshot *project.Snapshot
	Clause   *project.ScopeClause
	Rule     schema.RuleDescriptor
	Now      time.Time
}

// Evaluator maps an Input to zero or more rule results.
type Evaluator interface {
	RuleID() string
	Evaluate(ctx context.Context, in Input) []schema.RuleResult
}

// Func adapts a plain function to the Evaluator interface.
type Func struct {
	ID string
	Fn func(in Input) []schema.RuleResult
}

// RuleID returns the rule id this evaluator implements.
func (f Func) RuleID() string { return f.ID }

// Evaluate calls f.Fn.
func (f Func) Evaluate(_ context.Context, in Input) []schema.RuleResult { return f.Fn(in) }

// Scope selects the input units an evaluator runs against.
type Scope int

const (
	// ScopeSnapshot evaluators run once per snapshot.
	ScopeSnapshot Scope = iota
	// ScopeClause evaluators run once per scope clause.
	ScopeClause
)

// Registration is one registry entry.
type Registration struct {
	Evaluator Evaluator
	Scope     Scope
}

// Registry maps rule ids to evaluators. It is built once at startup and is
// read-only afterwards.
type Registry struct {
	entries map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a snapshot-scoped evaluator.
func (r *Registry) Register(ev Evaluator) error {
	return r.add(ev, ScopeSnapshot)
}

// RegisterPerClause adds an evaluator that runs once per scope clause.
func (r *Registry) RegisterPerClause(ev Evaluator) error {
	return r.add(ev, ScopeClause)
}

func (r *Registry) add(ev Evaluator, scope Scope) error {
	id := ev.RuleID()
	if id == "" {
		return fmt.Errorf("rules: evaluator has empty rule id")
	}
	if _, dup := r.entries[id]; dup {
		return fmt.Errorf("rules: evaluator for %q already registered", id)
	}
	r.entries[id] = Registration{Evaluator: ev, Scope: scope}
	return nil
}

// Lookup returns the registration for id.
func (r *Registry) Lookup(id string) (Registration, bool) {
	reg, ok := r.entries[id]
	return reg, ok
}

// IDs returns the registered rule ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultRegistry registers every deterministic evaluator and, when
// q.Reasoner is set, the built-in qualitative evaluators.
func DefaultRegistry(q QualitativeOptions) (*Registry, error) {
	reg := NewRegistry()
	for _, ev := range Deterministic() {
		if err := reg.Register(ev); err != nil {
			return nil, err
		}
	}
	if q.Reasoner == nil {
		return reg, nil
	}
	for _, id := range QualitativeRuleIDs() {
		if err := reg.RegisterPerClause(NewQualitative(id, q)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// fromFinding builds a violation result from a finding. The finding data
// becomes the result metadata.
func fromFinding(ruleID string, status schema.RuleStatus, sev schema.Severity, msg string, f schema.Finding, entities ...string) schema.RuleResult {
	meta := make(map[string]any, len(f.Data))
	for k, v := range f.Data {
		meta[k] = v
	}
	return schema.RuleResult{
		RuleID:           ruleID,
		Status:           status,
		Severity:         sev,
		Message:          msg,
		AffectedEntities: entities,
		Metadata:         meta,
	}
}

// round2 rounds x to two decimal places.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
