// Package prompt defines the fixed prompt contracts sent to the reasoning
// service by qualitative rules. Each contract contributes a rule-specific
// addendum to a shared system prompt and renders the clause under review
// into the user prompt.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/schema"
)

// Contract describes how one qualitative rule is put to the model.
type Contract struct {
	RuleID               string
	SystemPromptAddendum string
}

// builtins is the registry of prompt contracts keyed by rule id.
var builtins = map[string]Contract{
	"scope_clause_ambiguity": {
		RuleID: "scope_clause_ambiguity",
		SystemPromptAddendum: "Judge whether the clause is specific enough to be priced and verified. " +
			"Vague quantities, undefined deliverables, 'as required' or 'including but not limited to' " +
			"language without a bounded list make the clause non-compliant.",
	},
	"scope_clause_legal_risk": {
		RuleID: "scope_clause_legal_risk",
		SystemPromptAddendum: "Judge whether the clause shifts unbounded liability, open-ended " +
			"obligations or uncapped indemnities onto the contractor. Any obligation without a time, " +
			"cost or quantity bound is non-compliant. Use CRITICAL only for uncapped indemnities.",
	},
	"technical_requirement_completeness": {
		RuleID: "technical_requirement_completeness",
		SystemPromptAddendum: "Judge whether every technical requirement in the clause states a " +
			"measurable acceptance criterion (standard, tolerance, test method or performance value). " +
			"A requirement without one is non-compliant.",
	},
}

// Load returns the contract for ruleID or an error if none is registered.
func Load(ruleID string) (Contract, error) {
	c, ok := builtins[ruleID]
	if !ok {
		return Contract{}, fmt.Errorf("prompt: no contract for rule %q", ruleID)
	}
	return c, nil
}

// RuleIDs returns the rule ids with a registered contract, in a stable order.
func RuleIDs() []string {
	return []string{"scope_clause_ambiguity", "scope_clause_legal_risk", "technical_requirement_completeness"}
}

// OutputSchema is the JSON contract shown to the model.
const OutputSchema = `Output schema (JSON only):
{
  "compliant": true,
  "reasoning": "one or two sentences",
  "severity": "critical|high|medium|low",
  "evidence_quote": "exact text copied from the clause, or omit"
}
`

// System assembles the system prompt for a contract.
func System(c Contract, rule schema.RuleDescriptor) string {
	var sb strings.Builder

	sb.WriteString("You are a contract coherence reviewer for construction projects.\n\n")

	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")

	sb.WriteString("Quote evidence verbatim from the clause. Never paraphrase inside evidence_quote. " +
		"If the clause is compliant, omit evidence_quote.\n\n")

	fmt.Fprintf(&sb, "Rule %s: %s\n", rule.ID, rule.Description)
	if rule.Severity != "" {
		fmt.Fprintf(&sb, "Default severity when non-compliant: %s\n", strings.ToLower(string(rule.Severity)))
	}
	sb.WriteString("\n")

	if c.SystemPromptAddendum != "" {
		sb.WriteString(c.SystemPromptAddendum)
		sb.WriteString("\n\n")
	}

	sb.WriteString(OutputSchema)
	return sb.String()
}

// User renders the clause under review.
func User(clause project.ScopeClause) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CLAUSE %s", clause.ID)
	if clause.Section != "" {
		fmt.Fprintf(&sb, " (section %s)", clause.Section)
	}
	sb.WriteString(":\n")
	sb.WriteString(clause.Text)
	sb.WriteString("\n\nProduce the JSON verdict now.")
	return sb.String()
}
