// Package decay implements the severity-decay score: an alternate scoring
// path that deducts diminishing severity penalties from a flat alert list.
package decay

import (
	"fmt"
	"math"
	"sort"

	"github.com/dshills/coherence/internal/schema"
)

// Config holds the deduction weights.
type Config struct {
	// BaseWeights is the deduction for the first alert of each severity.
	BaseWeights map[schema.Severity]float64 `json:"base_weights" koanf:"base_weights"`
	// Factor multiplies the deduction of each further alert of the same
	// severity. Must be in (0, 1].
	Factor float64 `json:"factor" koanf:"factor"`
	// Overrides maps a rule id to a fixed deduction that bypasses decay.
	Overrides map[string]float64 `json:"overrides,omitempty" koanf:"overrides"`
}

// DefaultConfig returns CRITICAL 25, HIGH 15, MEDIUM 8, LOW 3 and factor
// 0.85.
func DefaultConfig() Config {
	return Config{
		BaseWeights: map[schema.Severity]float64{
			schema.SeverityCritical: 25,
			schema.SeverityHigh:     15,
			schema.SeverityMedium:   8,
			schema.SeverityLow:      3,
		},
		Factor: 0.85,
	}
}

// Validate returns field-level error messages for c.
func (c Config) Validate() []string {
	var errs []string
	if c.Factor <= 0 || c.Factor > 1 || math.IsNaN(c.Factor) {
		errs = append(errs, fmt.Sprintf("factor must be in (0, 1], got %v", c.Factor))
	}
	for _, sev := range schema.Severities() {
		if w, ok := c.BaseWeights[sev]; !ok {
			errs = append(errs, fmt.Sprintf("base weight for %s is required", sev))
		} else if w < 0 {
			errs = append(errs, fmt.Sprintf("base weight for %s must not be negative", sev))
		}
	}
	for id, w := range c.Overrides {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("override for %q must not be negative", id))
		}
	}
	sort.Strings(errs)
	return errs
}

// Breakdown explains a score.
type Breakdown struct {
	Score      float64                     `json:"score"`
	Deduction  float64                     `json:"deduction"`
	BySeverity map[schema.Severity]float64 `json:"by_severity"`
	ByOverride map[string]float64          `json:"by_override,omitempty"`
}

// Service computes severity-decay scores. It is safe for concurrent use.
type Service struct {
	cfg Config
}

// New returns a Service, or an error when cfg is invalid.
func New(cfg Config) (*Service, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("decay: invalid config: %v", errs)
	}
	return &Service{cfg: cfg}, nil
}

// Score returns clamp(100 - deduction, 0, 100) rounded to two decimals.
// The result depends only on the multiset of alerts, never on their order.
func (s *Service) Score(alerts []schema.Alert) float64 {
	return s.Explain(alerts).Score
}

// Explain returns the score with its per-severity and per-override
// deductions.
func (s *Service) Explain(alerts []schema.Alert) Breakdown {
	sevCounts := make(map[schema.Severity]int)
	overrideCounts := make(map[string]int)
	for _, a := range alerts {
		if _, ok := s.cfg.Overrides[a.RuleID]; ok {
			overrideCounts[a.RuleID]++
			continue
		}
		sevCounts[a.Severity]++
	}

	b := Breakdown{BySeverity: make(map[schema.Severity]float64)}

	sevs := make([]string, 0, len(sevCounts))
	for sev := range sevCounts {
		sevs = append(sevs, string(sev))
	}
	sort.Strings(sevs)
	for _, name := range sevs {
		sev := schema.Severity(name)
		base := s.cfg.BaseWeights[sev]
		var d float64
		for n := 0; n < sevCounts[sev]; n++ {
			d += base * math.Pow(s.cfg.Factor, float64(n))
		}
		b.BySeverity[sev] = d
		b.Deduction += d
	}

	ids := make([]string, 0, len(overrideCounts))
	for id := range overrideCounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		b.ByOverride = make(map[string]float64, len(ids))
	}
	for _, id := range ids {
		d := s.cfg.Overrides[id] * float64(overrideCounts[id])
		b.ByOverride[id] = d
		b.Deduction += d
	}

	score := math.Max(0, math.Min(100, 100-b.Deduction))
	b.Score = math.Round(score*100) / 100
	return b
}
