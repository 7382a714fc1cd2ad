package prompt

import (
	"strings"
	"testing"

	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/schema"
)

func TestLoad_AllBuiltins(t *testing.T) {
	for _, id := range RuleIDs() {
		c, err := Load(id)
		if err != nil {
			t.Errorf("Load(%q) error: %v", id, err)
			continue
		}
		if c.RuleID != id {
			t.Errorf("Load(%q).RuleID = %q", id, c.RuleID)
		}
		if c.SystemPromptAddendum == "" {
			t.Errorf("Load(%q).SystemPromptAddendum is empty", id)
		}
	}
}

func TestLoad_Unknown(t *testing.T) {
	if _, err := Load("nonexistent"); err == nil {
		t.Fatal("Load(\"nonexistent\") expected error, got nil")
	}
}

func TestSystem_IncludesRuleAndSchema(t *testing.T) {
	c, _ := Load("scope_clause_ambiguity")
	rule := schema.RuleDescriptor{ID: "scope_clause_ambiguity", Description: "be specific", Severity: schema.SeverityMedium}
	got := System(c, rule)
	for _, want := range []string{"scope_clause_ambiguity", "be specific", "medium", `"compliant"`, c.SystemPromptAddendum} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestUser_RendersClause(t *testing.T) {
	got := User(project.ScopeClause{ID: "CL-7", Section: "4.2", Text: "Supply all pumps."})
	if !strings.Contains(got, "CLAUSE CL-7 (section 4.2):") {
		t.Errorf("user prompt header missing: %q", got)
	}
	if !strings.Contains(got, "Supply all pumps.") {
		t.Errorf("user prompt missing clause text: %q", got)
	}
}
