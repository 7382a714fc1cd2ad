// Package schema defines the canonical data types shared by the coherence
// engine, the scoring services and the use cases.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a rule result or alert.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities returns every severity, most severe first.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// ParseSeverity converts a case-insensitive string to a Severity constant.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev, nil
	}
	return "", fmt.Errorf("schema: unknown severity %q", s)
}

// RuleStatus is the outcome of one rule evaluation.
// Deterministic evaluators emit PASS, WARN or FAIL; qualitative evaluators
// emit PASS, FAIL or ERROR.
type RuleStatus string

const (
	StatusPass  RuleStatus = "PASS"
	StatusWarn  RuleStatus = "WARN"
	StatusFail  RuleStatus = "FAIL"
	StatusError RuleStatus = "ERROR"
)

// IsViolation reports whether the status represents a rule violation.
// ERROR is an evaluation fault, not a violation.
func (s RuleStatus) IsViolation() bool {
	return s == StatusFail || s == StatusWarn
}

// Category is one of the six fixed coherence dimensions.
type Category string

const (
	CategoryScope     Category = "SCOPE"
	CategoryBudget    Category = "BUDGET"
	CategoryQuality   Category = "QUALITY"
	CategoryTechnical Category = "TECHNICAL"
	CategoryLegal     Category = "LEGAL"
	CategoryTime      Category = "TIME"
)

// Categories returns the six categories in canonical order.
func Categories() []Category {
	return []Category{
		CategoryScope,
		CategoryBudget,
		CategoryQuality,
		CategoryTechnical,
		CategoryLegal,
		CategoryTime,
	}
}

// ParseCategory converts a case-insensitive string to a Category constant.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("schema: unknown category %q", s)
}

// CategoryWeights maps each category to its share of the global score.
type CategoryWeights map[Category]float64

// RuleDescriptor is one entry of the rule catalog.
type RuleDescriptor struct {
	ID             string   `json:"id" yaml:"id"`
	Description    string   `json:"description" yaml:"description"`
	Severity       Severity `json:"severity" yaml:"severity"`
	InputFields    []string `json:"input_fields" yaml:"input_fields"`
	EvidenceFields []string `json:"evidence_fields" yaml:"evidence_fields"`
	// Category is optional; when empty the category mapper resolves it.
	Category Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// Finding is the raw evidence produced by one evaluator invocation: the
// triggering input record plus supporting data.
type Finding struct {
	Input any
	Data  map[string]any
}

// RuleResult is the outcome of evaluating one rule against one input unit.
type RuleResult struct {
	RuleID           string         `json:"rule_id"`
	Status           RuleStatus     `json:"status"`
	Severity         Severity       `json:"severity,omitempty"`
	Message          string         `json:"message"`
	AffectedEntities []string       `json:"affected_entities,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Evidence backs an alert with a source reference, a quoted passage and the
// claim derived from it.
type Evidence struct {
	SourceRef string `json:"source_ref,omitempty"`
	Quote     string `json:"quote,omitempty"`
	Claim     string `json:"claim,omitempty"`
}

// Alert is the user-facing record of a rule violation.
type Alert struct {
	ID               string   `json:"id"`
	RuleID           string   `json:"rule_id"`
	Severity         Severity `json:"severity"`
	Category         Category `json:"category,omitempty"`
	Message          string   `json:"message"`
	AffectedEntities []string `json:"affected_entities,omitempty"`
	Evidence         Evidence `json:"evidence"`
}

// CategoryDetail summarizes the violations that shaped one category subscore.
type CategoryDetail struct {
	RulesEvaluated int      `json:"rules_evaluated"`
	Violations     int      `json:"violations"`
	ViolatedRules  []string `json:"violated_rules,omitempty"`
}

// UserEvent types understood by the anti-gaming detector.
const (
	EventEdit         = "edit"
	EventResolve      = "resolve"
	EventWeightChange = "weight_change"
)

// UserEvent is one recorded user action.
type UserEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	ContentHash string    `json:"content_hash,omitempty"`
	OldWeight   *float64  `json:"old_weight,omitempty"`
	NewWeight   *float64  `json:"new_weight,omitempty"`
}

// GamingAction is the remediation recommended for a gaming violation.
type GamingAction string

const (
	ActionFlagForReview GamingAction = "flag_for_review"
	ActionRequireAudit  GamingAction = "require_audit"
	ActionNotifyAdmin   GamingAction = "notify_admin"
)

// GamingViolation is one anti-gaming heuristic hit. PenaltyPoints is never
// positive.
type GamingViolation struct {
	RuleID        string       `json:"rule_id"`
	Message       string       `json:"message"`
	Action        GamingAction `json:"action"`
	PenaltyPoints int          `json:"penalty_points"`
}

// CoherenceResult is the output of one coherence calculation.
type CoherenceResult struct {
	ProjectID        string                      `json:"project_id"`
	GlobalScore      int                         `json:"global_score"`
	CategoryScores   map[Category]int            `json:"category_scores"`
	CategoryDetails  map[Category]CategoryDetail `json:"category_details"`
	Alerts           []Alert                     `json:"alerts"`
	GamingDetected   bool                        `json:"gaming_detected"`
	GamingViolations []GamingViolation           `json:"gaming_violations"`
	PenaltyPoints    int                         `json:"penalty_points"`
	// Weights are the category weights the global score was computed with.
	Weights          CategoryWeights             `json:"weights,omitempty"`
	Results          []RuleResult                `json:"results,omitempty"`
	CalculatedAt     time.Time                   `json:"calculated_at"`
}

// AlertAction is a state transition applied to one or more alerts.
type AlertAction string

const (
	AlertResolved     AlertAction = "RESOLVED"
	AlertDismissed    AlertAction = "DISMISSED"
	AlertAcknowledged AlertAction = "ACKNOWLEDGED"
)

// ParseAlertAction converts a case-insensitive string to an AlertAction.
func ParseAlertAction(s string) (AlertAction, error) {
	switch a := AlertAction(strings.ToUpper(strings.TrimSpace(s))); a {
	case AlertResolved, AlertDismissed, AlertAcknowledged:
		return a, nil
	}
	return "", fmt.Errorf("schema: unknown alert action %q", s)
}

// RecalculateResult reports the effect of an alert action on the score.
type RecalculateResult struct {
	ProjectID              string           `json:"project_id"`
	AlertIDs               []string         `json:"alert_ids"`
	Action                 AlertAction      `json:"action"`
	PreviousScore          int              `json:"previous_score"`
	NewScore               int              `json:"new_score"`
	PreviousCategoryScores map[Category]int `json:"previous_category_scores"`
	NewCategoryScores      map[Category]int `json:"new_category_scores"`
	ScoreDelta             int              `json:"score_delta"`
	ResolvedAlertIDs       []string         `json:"resolved_alert_ids"`
	RecalculationTriggered bool             `json:"recalculation_triggered"`
}
