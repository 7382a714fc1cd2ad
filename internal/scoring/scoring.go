// Package scoring provides deterministic local logic for category
// subscores and the weighted global coherence score. No I/O is done here.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/coherence/internal/schema"
)

// ErrInvalidWeights is returned when a weight set fails validation.
var ErrInvalidWeights = errors.New("scoring: invalid category weights")

// weightTolerance is the allowed deviation of the weight sum from 1.0.
const weightTolerance = 1e-9

// floorEpsilon absorbs float error in the weighted sum before flooring, so
// that an exact 100 does not become 99.
const floorEpsilon = 1e-9

// builtinCategories maps the built-in rule ids to their category.
var builtinCategories = map[string]schema.Category{
	"budget_overrun":                     schema.CategoryBudget,
	"schedule_delay":                     schema.CategoryTime,
	"schedule_contract_mismatch":         schema.CategoryTime,
	"milestone_consistency":              schema.CategoryTime,
	"activity_exceeds_contract":          schema.CategoryLegal,
	"budget_actual_deviation":            schema.CategoryBudget,
	"wbs_level4_without_activity":        schema.CategoryScope,
	"wbs_without_budget":                 schema.CategoryBudget,
	"scope_clause_coverage":              schema.CategoryScope,
	"bom_without_budget":                 schema.CategoryBudget,
	"budget_variance_trend":              schema.CategoryBudget,
	"procurement_delivery_risk":          schema.CategoryTechnical,
	"scope_clause_ambiguity":             schema.CategoryQuality,
	"scope_clause_legal_risk":            schema.CategoryLegal,
	"technical_requirement_completeness": schema.CategoryTechnical,
}

// Mapper resolves a rule id to exactly one category.
type Mapper struct {
	descriptors map[string]schema.Category
}

// NewMapper returns a Mapper that prefers the categories declared on descs.
func NewMapper(descs []schema.RuleDescriptor) *Mapper {
	m := &Mapper{descriptors: make(map[string]schema.Category, len(descs))}
	for _, d := range descs {
		if d.Category != "" {
			m.descriptors[d.ID] = d.Category
		}
	}
	return m
}

// Category returns the category for ruleID: the declared category, then the
// built-in table, then QUALITY.
func (m *Mapper) Category(ruleID string) schema.Category {
	if m != nil {
		if c, ok := m.descriptors[ruleID]; ok {
			return c
		}
	}
	if c, ok := builtinCategories[ruleID]; ok {
		return c
	}
	return schema.CategoryQuality
}

// ruleOutcome is the worst status seen for one rule.
type ruleOutcome struct {
	category schema.Category
	failed   bool
	warned   bool
	count    int
}

// Breakdown computes the per-category subscores and violation details.
//
// For each category, n is the number of distinct rules with at least one
// non-ERROR result, and v counts each failing rule as 1 and each rule with
// only warnings as 0.5. The subscore is floor(100*(n-v)/n), or 100 when n
// is zero. All six categories are always present in both maps.
func Breakdown(results []schema.RuleResult, m *Mapper) (map[schema.Category]int, map[schema.Category]schema.CategoryDetail) {
	outcomes := make(map[string]*ruleOutcome)
	for _, r := range results {
		if r.Status == schema.StatusError {
			continue
		}
		o, ok := outcomes[r.RuleID]
		if !ok {
			o = &ruleOutcome{category: m.Category(r.RuleID)}
			outcomes[r.RuleID] = o
		}
		switch r.Status {
		case schema.StatusFail:
			o.failed = true
			o.count++
		case schema.StatusWarn:
			o.warned = true
			o.count++
		}
	}

	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	details := make(map[schema.Category]schema.CategoryDetail, 6)
	penalty := make(map[schema.Category]float64, 6)
	for _, c := range schema.Categories() {
		details[c] = schema.CategoryDetail{}
	}
	for _, id := range ids {
		o := outcomes[id]
		d := details[o.category]
		d.RulesEvaluated++
		d.Violations += o.count
		switch {
		case o.failed:
			penalty[o.category] += 1
			d.ViolatedRules = append(d.ViolatedRules, id)
		case o.warned:
			penalty[o.category] += 0.5
			d.ViolatedRules = append(d.ViolatedRules, id)
		}
		details[o.category] = d
	}

	scores := make(map[schema.Category]int, 6)
	for _, c := range schema.Categories() {
		n := details[c].RulesEvaluated
		if n == 0 {
			scores[c] = 100
			continue
		}
		scores[c] = clamp(int(math.Floor(100*(float64(n)-penalty[c])/float64(n)+floorEpsilon)), 0, 100)
	}
	return scores, details
}

// DefaultWeights returns the default category weights.
func DefaultWeights() schema.CategoryWeights {
	return schema.CategoryWeights{
		schema.CategoryScope:     0.20,
		schema.CategoryBudget:    0.20,
		schema.CategoryQuality:   0.15,
		schema.CategoryTechnical: 0.15,
		schema.CategoryLegal:     0.15,
		schema.CategoryTime:      0.15,
	}
}

// ValidateWeights returns an error wrapping ErrInvalidWeights when w does
// not carry exactly the six categories with non-negative weights summing
// to 1.0.
func ValidateWeights(w schema.CategoryWeights) error {
	var errs []string
	for _, c := range schema.Categories() {
		v, ok := w[c]
		if !ok {
			errs = append(errs, fmt.Sprintf("missing weight for %s", c))
			continue
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("weight for %s must be a non-negative number, got %v", c, v))
		}
	}
	known := make(map[schema.Category]bool, 6)
	for _, c := range schema.Categories() {
		known[c] = true
	}
	var unknown []string
	for c := range w {
		if !known[c] {
			unknown = append(unknown, string(c))
		}
	}
	sort.Strings(unknown)
	for _, c := range unknown {
		errs = append(errs, fmt.Sprintf("unknown category %q", c))
	}
	if len(errs) == 0 {
		if sum := sumWeights(w); math.Abs(sum-1.0) > weightTolerance {
			errs = append(errs, fmt.Sprintf("weights sum to %v, want 1.0", sum))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWeights, strings.Join(errs, "; "))
	}
	return nil
}

// SameWeights reports whether a and b assign equal weights to every
// category. A nil side never matches.
func SameWeights(a, b schema.CategoryWeights) bool {
	if a == nil || b == nil || len(a) != len(b) {
		return false
	}
	for c, v := range a {
		if w, ok := b[c]; !ok || w != v {
			return false
		}
	}
	return true
}

// sumWeights adds weights in canonical category order so the result does
// not depend on map iteration.
func sumWeights(w schema.CategoryWeights) float64 {
	var sum float64
	for _, c := range schema.Categories() {
		sum += w[c]
	}
	return sum
}

// GlobalScore returns floor(Σ w[c]*s[c]) clamped to [0, 100]. Weights are
// assumed valid; call ValidateWeights first.
func GlobalScore(scores map[schema.Category]int, w schema.CategoryWeights) int {
	var total float64
	for _, c := range schema.Categories() {
		total += w[c] * float64(scores[c])
	}
	return clamp(int(math.Floor(total+floorEpsilon)), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
