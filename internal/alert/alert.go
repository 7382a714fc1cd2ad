// Package alert provides pure logic helpers that turn rule violations into
// alerts and summarize them.
package alert

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/dshills/coherence/internal/schema"
)

// NewID generates alert ids. It is a package-level variable so tests can
// make ids predictable; restore it with t.Cleanup.
var NewID = func() string { return ulid.Make().String() }

// Categorizer resolves the category of a rule. scoring.Mapper implements it.
type Categorizer interface {
	Category(ruleID string) schema.Category
}

// FromResults returns one alert per violating result, in result order.
// PASS and ERROR results produce no alert.
func FromResults(results []schema.RuleResult, cat Categorizer) []schema.Alert {
	var out []schema.Alert
	for _, r := range results {
		if !r.Status.IsViolation() {
			continue
		}
		a := schema.Alert{
			ID:               NewID(),
			RuleID:           r.RuleID,
			Severity:         r.Severity,
			Message:          r.Message,
			AffectedEntities: append([]string(nil), r.AffectedEntities...),
			Evidence:         evidence(r),
		}
		if cat != nil {
			a.Category = cat.Category(r.RuleID)
		}
		out = append(out, a)
	}
	return out
}

// evidence derives the alert evidence from result metadata. The claim is the
// result message.
func evidence(r schema.RuleResult) schema.Evidence {
	e := schema.Evidence{Claim: r.Message}
	if s, ok := r.Metadata["source_ref"].(string); ok {
		e.SourceRef = s
	}
	if q, ok := r.Metadata["evidence_quote"].(string); ok {
		e.Quote = q
	}
	if e.SourceRef == "" && len(r.AffectedEntities) > 0 {
		e.SourceRef = strings.Join(r.AffectedEntities, ",")
	}
	return e
}

// Validate returns field-level error messages for an alert.
func Validate(a schema.Alert) []string {
	var errs []string
	if a.ID == "" {
		errs = append(errs, "id is required")
	}
	if a.RuleID == "" {
		errs = append(errs, "rule_id is required")
	}
	if a.Severity == "" {
		errs = append(errs, "severity is required")
	} else if _, err := schema.ParseSeverity(string(a.Severity)); err != nil || strings.ToUpper(string(a.Severity)) != string(a.Severity) {
		errs = append(errs, fmt.Sprintf("severity %q is not valid", a.Severity))
	}
	if a.Message == "" {
		errs = append(errs, "message is required")
	}
	return errs
}

// CountBySeverity returns the number of alerts at each severity level.
func CountBySeverity(alerts []schema.Alert) map[schema.Severity]int {
	counts := make(map[schema.Severity]int, 4)
	for _, sev := range schema.Severities() {
		counts[sev] = 0
	}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	return counts
}

// Filter returns the alerts whose id is not in exclude, preserving order.
func Filter(alerts []schema.Alert, exclude []string) []schema.Alert {
	if len(exclude) == 0 {
		return alerts
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := make([]schema.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !skip[a.ID] {
			out = append(out, a)
		}
	}
	return out
}
