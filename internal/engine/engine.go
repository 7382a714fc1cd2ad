// Package engine runs the rule catalog against a project snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/coherence/internal/catalog"
	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/rules"
	"github.com/dshills/coherence/internal/schema"
)

// ErrNilSnapshot is returned by Run when no snapshot is supplied.
var ErrNilSnapshot = errors.New("engine: snapshot is nil")

// Options configures an Engine.
type Options struct {
	// Parallelism bounds concurrent evaluator calls. Values below 1 use
	// GOMAXPROCS.
	Parallelism int
	Logger      *slog.Logger
}

// Engine composes a catalog with an evaluator registry.
type Engine struct {
	catalog  *catalog.Catalog
	registry *rules.Registry
	limit    int
	log      *slog.Logger
}

// New returns an Engine. Both cat and reg are read-only after construction.
func New(cat *catalog.Catalog, reg *rules.Registry, opts Options) *Engine {
	limit := opts.Parallelism
	if limit < 1 {
		limit = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		catalog:  cat,
		registry: reg,
		limit:    limit,
		log:      log.With(slog.String("component", "engine")),
	}
}

// unit is one evaluator invocation. slot addresses its output by
// (rule index, input index).
type unit struct {
	rule   int
	input  int
	desc   schema.RuleDescriptor
	reg    rules.Registration
	clause *project.ScopeClause
}

// Run evaluates every catalog rule that has a registered evaluator. The
// returned results are ordered by catalog declaration order, then by input
// order. The only error is cancellation of ctx.
func (e *Engine) Run(ctx context.Context, snap *project.Snapshot, now time.Time) ([]schema.RuleResult, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	descs := e.catalog.Rules()
	slots := make([][][]schema.RuleResult, len(descs))
	var units []unit
	for i, d := range descs {
		reg, ok := e.registry.Lookup(d.ID)
		if !ok {
			e.log.Debug("no evaluator registered, skipping rule", slog.String("rule_id", d.ID))
			continue
		}
		switch reg.Scope {
		case rules.ScopeClause:
			slots[i] = make([][]schema.RuleResult, len(snap.ScopeClauses))
			for j := range snap.ScopeClauses {
				units = append(units, unit{rule: i, input: j, desc: d, reg: reg, clause: &snap.ScopeClauses[j]})
			}
		default:
			slots[i] = make([][]schema.RuleResult, 1)
			units = append(units, unit{rule: i, desc: d, reg: reg})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for _, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := u.reg.Evaluator.Evaluate(gctx, rules.Input{
				Snapshot: snap,
				Clause:   u.clause,
				Rule:     u.desc,
				Now:      now,
			})
			slots[u.rule][u.input] = normalize(u, out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("engine: run: %w", err)
	}

	var results []schema.RuleResult
	for _, perRule := range slots {
		for _, perInput := range perRule {
			results = append(results, perInput...)
		}
	}
	e.log.Debug("rules evaluated",
		slog.String("project_id", snap.ProjectID),
		slog.Int("units", len(units)),
		slog.Int("results", len(results)))
	return results, nil
}

// normalize fills in defaults from the descriptor. A snapshot evaluator
// with nothing to report yields one PASS result for the rule.
func normalize(u unit, out []schema.RuleResult) []schema.RuleResult {
	if len(out) == 0 && u.reg.Scope == rules.ScopeSnapshot {
		return []schema.RuleResult{{
			RuleID:  u.desc.ID,
			Status:  schema.StatusPass,
			Message: "no violations",
		}}
	}
	for i := range out {
		if out[i].RuleID == "" {
			out[i].RuleID = u.desc.ID
		}
		if out[i].Status.IsViolation() && out[i].Severity == "" {
			out[i].Severity = u.desc.Severity
		}
	}
	return out
}
