// Package antigaming inspects recent user activity for patterns that
// inflate the coherence score without improving the project. The detector
// is a pure function of its input; it never reads storage or the clock.
package antigaming

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dshills/coherence/internal/schema"
)

// Heuristic rule ids.
const (
	RuleMassChange           = "mass_change"
	RuleResolveReintroduce   = "resolve_reintroduce"
	RuleHighScoreLowEvidence = "high_score_low_evidence"
	RuleLargeWeightChange    = "large_weight_change"
)

// ratioEpsilon keeps ratios such as 0.2/0.8 on the inclusive side of the
// weight-change threshold despite float error.
const ratioEpsilon = 1e-9

// Config holds the heuristic thresholds. Penalties are zero or negative.
type Config struct {
	MassChangeWindow  time.Duration `json:"mass_change_window" koanf:"mass_change_window"`
	MassChangeMax     int           `json:"mass_change_max" koanf:"mass_change_max"`
	MassChangePenalty int           `json:"mass_change_penalty" koanf:"mass_change_penalty"`

	ResolveThreshold int `json:"resolve_threshold" koanf:"resolve_threshold"`
	ResolvePenalty   int `json:"resolve_penalty" koanf:"resolve_penalty"`

	HighScoreThreshold int `json:"high_score_threshold" koanf:"high_score_threshold"`
	MinDocuments       int `json:"min_documents" koanf:"min_documents"`
	HighScorePenalty   int `json:"high_score_penalty" koanf:"high_score_penalty"`

	WeightChangeWindow    time.Duration `json:"weight_change_window" koanf:"weight_change_window"`
	WeightChangeThreshold float64       `json:"weight_change_threshold" koanf:"weight_change_threshold"`
	WeightChangePenalty   int           `json:"weight_change_penalty" koanf:"weight_change_penalty"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MassChangeWindow:      30 * time.Minute,
		MassChangeMax:         10,
		ResolveThreshold:      3,
		ResolvePenalty:        -10,
		HighScoreThreshold:    90,
		MinDocuments:          3,
		WeightChangeWindow:    24 * time.Hour,
		WeightChangeThreshold: 0.25,
	}
}

// Validate returns field-level error messages for c.
func (c Config) Validate() []string {
	var errs []string
	if c.MassChangeWindow <= 0 {
		errs = append(errs, "mass_change_window must be positive")
	}
	if c.WeightChangeWindow <= 0 {
		errs = append(errs, "weight_change_window must be positive")
	}
	if c.MassChangeMax < 0 || c.ResolveThreshold < 0 || c.MinDocuments < 0 {
		errs = append(errs, "counts must not be negative")
	}
	if c.WeightChangeThreshold <= 0 || math.IsNaN(c.WeightChangeThreshold) {
		errs = append(errs, "weight_change_threshold must be positive")
	}
	for name, p := range map[string]int{
		"mass_change_penalty":   c.MassChangePenalty,
		"resolve_penalty":       c.ResolvePenalty,
		"high_score_penalty":    c.HighScorePenalty,
		"weight_change_penalty": c.WeightChangePenalty,
	} {
		if p > 0 {
			errs = append(errs, fmt.Sprintf("%s must not be positive", name))
		}
	}
	sort.Strings(errs)
	return errs
}

// Input is the context of one detection run.
type Input struct {
	Events        []schema.UserEvent
	Now           time.Time
	Score         int
	DocumentCount int
}

// Result aggregates the violations of all heuristics.
type Result struct {
	Violations     []schema.GamingViolation
	GamingDetected bool
	PenaltyPoints  int
}

// Detector runs the four heuristics. It is safe for concurrent use.
type Detector struct {
	cfg Config
}

// New returns a Detector, or an error when cfg is invalid.
func New(cfg Config) (*Detector, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("antigaming: invalid config: %s", strings.Join(errs, "; "))
	}
	return &Detector{cfg: cfg}, nil
}

// Detect runs every heuristic against in. Violations are returned in a
// fixed heuristic order. An empty event slice yields no event-driven
// violations.
func (d *Detector) Detect(in Input) Result {
	var res Result
	for _, check := range []func(Input) (schema.GamingViolation, bool){
		d.massChange,
		d.resolveReintroduce,
		d.highScoreLowEvidence,
		d.largeWeightChange,
	} {
		if v, ok := check(in); ok {
			res.Violations = append(res.Violations, v)
			res.PenaltyPoints += v.PenaltyPoints
		}
	}
	res.GamingDetected = len(res.Violations) > 0
	return res
}

// within reports whether ts lies in [now-window, now].
func within(ts, now time.Time, window time.Duration) bool {
	return !ts.Before(now.Add(-window)) && !ts.After(now)
}

func (d *Detector) massChange(in Input) (schema.GamingViolation, bool) {
	n := 0
	for _, e := range in.Events {
		if e.Type == schema.EventEdit && within(e.Timestamp, in.Now, d.cfg.MassChangeWindow) {
			n++
		}
	}
	if n <= d.cfg.MassChangeMax {
		return schema.GamingViolation{}, false
	}
	return schema.GamingViolation{
		RuleID: RuleMassChange,
		Message: fmt.Sprintf("%d edits within %s exceeds the limit of %d",
			n, d.cfg.MassChangeWindow, d.cfg.MassChangeMax),
		Action:        schema.ActionFlagForReview,
		PenaltyPoints: d.cfg.MassChangePenalty,
	}, true
}

func (d *Detector) resolveReintroduce(in Input) (schema.GamingViolation, bool) {
	counts := make(map[string]int)
	for _, e := range in.Events {
		if e.Type == schema.EventResolve && e.ContentHash != "" {
			counts[e.ContentHash]++
		}
	}
	var hashes []string
	for h, n := range counts {
		if n > d.cfg.ResolveThreshold {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		return schema.GamingViolation{}, false
	}
	sort.Strings(hashes)
	return schema.GamingViolation{
		RuleID: RuleResolveReintroduce,
		Message: fmt.Sprintf("content resolved more than %d times: %s",
			d.cfg.ResolveThreshold, strings.Join(hashes, ", ")),
		Action:        schema.ActionFlagForReview,
		PenaltyPoints: d.cfg.ResolvePenalty,
	}, true
}

func (d *Detector) highScoreLowEvidence(in Input) (schema.GamingViolation, bool) {
	if in.Score <= d.cfg.HighScoreThreshold || in.DocumentCount >= d.cfg.MinDocuments {
		return schema.GamingViolation{}, false
	}
	return schema.GamingViolation{
		RuleID: RuleHighScoreLowEvidence,
		Message: fmt.Sprintf("score %d backed by only %d documents (minimum %d)",
			in.Score, in.DocumentCount, d.cfg.MinDocuments),
		Action:        schema.ActionRequireAudit,
		PenaltyPoints: d.cfg.HighScorePenalty,
	}, true
}

func (d *Detector) largeWeightChange(in Input) (schema.GamingViolation, bool) {
	var changes []schema.UserEvent
	for _, e := range in.Events {
		if e.Type != schema.EventWeightChange || e.OldWeight == nil || e.NewWeight == nil {
			continue
		}
		if within(e.Timestamp, in.Now, d.cfg.WeightChangeWindow) {
			changes = append(changes, e)
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Timestamp.Before(changes[j].Timestamp)
	})
	for _, e := range changes {
		old, cur := *e.OldWeight, *e.NewWeight
		if old <= 0 {
			continue
		}
		ratio := math.Abs(cur-old) / old
		if ratio+ratioEpsilon < d.cfg.WeightChangeThreshold {
			continue
		}
		return schema.GamingViolation{
			RuleID: RuleLargeWeightChange,
			Message: fmt.Sprintf("weight changed from %g to %g (%.1f%%) at %s",
				old, cur, ratio*100, e.Timestamp.UTC().Format(time.RFC3339)),
			Action:        schema.ActionNotifyAdmin,
			PenaltyPoints: d.cfg.WeightChangePenalty,
		}, true
	}
	return schema.GamingViolation{}, false
}
