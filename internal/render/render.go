// Package render produces JSON and Markdown output for calculation,
// recalculation and decay results.
package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/coherence/internal/alert"
	"github.com/dshills/coherence/internal/decay"
	"github.com/dshills/coherence/internal/schema"
)

// JSON produces a pretty-printed JSON representation of v.
func JSON(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("render: nil value")
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// Markdown produces a GitHub-flavoured Markdown summary of a coherence
// result. Every alert id present in the result appears in the output.
func Markdown(res *schema.CoherenceResult) string {
	if res == nil {
		return ""
	}
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Coherence Report: %s\n\n", mdEscape(res.ProjectID))
	fmt.Fprintf(&sb, "**Global score:** %d/100  \n", res.GlobalScore)
	counts := alert.CountBySeverity(res.Alerts)
	fmt.Fprintf(&sb, "**Critical:** %d | **High:** %d | **Medium:** %d | **Low:** %d\n\n",
		counts[schema.SeverityCritical], counts[schema.SeverityHigh],
		counts[schema.SeverityMedium], counts[schema.SeverityLow])

	sb.WriteString("## Categories\n\n")
	sb.WriteString("| Category | Score | Rules | Violated |\n")
	sb.WriteString("|---|---|---|---|\n")
	for _, c := range schema.Categories() {
		d := res.CategoryDetails[c]
		fmt.Fprintf(&sb, "| %s | %d | %d | %s |\n",
			c, res.CategoryScores[c], d.RulesEvaluated, mdEscape(strings.Join(d.ViolatedRules, ", ")))
	}
	sb.WriteString("\n")

	if len(res.Alerts) > 0 {
		sb.WriteString("## Alerts\n\n")
		for _, a := range res.Alerts {
			fmt.Fprintf(&sb, "<details>\n<summary><strong>%s</strong> [%s] %s: %s</summary>\n\n",
				a.ID, a.Severity, a.RuleID, mdEscape(a.Message))
			if a.Category != "" {
				fmt.Fprintf(&sb, "**Category:** %s\n\n", a.Category)
			}
			if len(a.AffectedEntities) > 0 {
				fmt.Fprintf(&sb, "**Affected:** %s\n\n", mdEscape(strings.Join(a.AffectedEntities, ", ")))
			}
			writeEvidence(&sb, a.Evidence)
			sb.WriteString("</details>\n\n")
		}
	}

	if res.GamingDetected {
		sb.WriteString("## Gaming Detected\n\n")
		fmt.Fprintf(&sb, "**Penalty points:** %d\n\n", res.PenaltyPoints)
		sb.WriteString("| Rule | Action | Penalty | Message |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, v := range res.GamingViolations {
			fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n", v.RuleID, v.Action, v.PenaltyPoints, mdEscape(v.Message))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RecalculateMarkdown summarizes the effect of an alert action.
func RecalculateMarkdown(res *schema.RecalculateResult) string {
	if res == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Recalculation: %s\n\n", mdEscape(res.ProjectID))
	fmt.Fprintf(&sb, "**Action:** %s on %s  \n", res.Action, mdEscape(strings.Join(res.AlertIDs, ", ")))
	if !res.RecalculationTriggered {
		fmt.Fprintf(&sb, "**Score:** %d/100 (not recalculated)\n", res.PreviousScore)
		return sb.String()
	}
	fmt.Fprintf(&sb, "**Score:** %d → %d (%+d)\n\n", res.PreviousScore, res.NewScore, res.ScoreDelta)
	sb.WriteString("| Category | Before | After |\n")
	sb.WriteString("|---|---|---|\n")
	for _, c := range schema.Categories() {
		fmt.Fprintf(&sb, "| %s | %d | %d |\n", c, res.PreviousCategoryScores[c], res.NewCategoryScores[c])
	}
	return sb.String()
}

// DecayMarkdown explains a severity-decay score.
func DecayMarkdown(b decay.Breakdown) string {
	var sb strings.Builder
	sb.WriteString("## Severity-Decay Score\n\n")
	fmt.Fprintf(&sb, "**Score:** %.2f/100  \n", b.Score)
	fmt.Fprintf(&sb, "**Deduction:** %.2f\n\n", b.Deduction)
	sb.WriteString("| Source | Deduction |\n")
	sb.WriteString("|---|---|\n")
	for _, sev := range schema.Severities() {
		if d, ok := b.BySeverity[sev]; ok {
			fmt.Fprintf(&sb, "| %s | %.2f |\n", sev, d)
		}
	}
	for _, id := range sortedKeys(b.ByOverride) {
		fmt.Fprintf(&sb, "| %s (override) | %.2f |\n", id, b.ByOverride[id])
	}
	return sb.String()
}

// writeEvidence renders alert evidence into sb.
func writeEvidence(sb *strings.Builder, ev schema.Evidence) {
	if ev == (schema.Evidence{}) {
		return
	}
	sb.WriteString("**Evidence:**\n\n")
	if ev.SourceRef != "" {
		fmt.Fprintf(sb, "- Source: `%s`\n", ev.SourceRef)
	}
	if ev.Quote != "" {
		fmt.Fprintf(sb, "- Quote: > %s\n", mdEscape(ev.Quote))
	}
	if ev.Claim != "" {
		fmt.Fprintf(sb, "- Claim: %s\n", mdEscape(ev.Claim))
	}
	sb.WriteString("\n")
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
