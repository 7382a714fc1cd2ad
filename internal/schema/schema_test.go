package schema_test

import (
	"testing"

	"github.com/dshills/coherence/internal/schema"
)

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in      string
		want    schema.Severity
		wantErr bool
	}{
		{"critical", schema.SeverityCritical, false},
		{"HIGH", schema.SeverityHigh, false},
		{" Medium ", schema.SeverityMedium, false},
		{"low", schema.SeverityLow, false},
		{"info", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := schema.ParseSeverity(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseSeverity(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCategories_ExactlySix(t *testing.T) {
	cats := schema.Categories()
	if len(cats) != 6 {
		t.Fatalf("len(Categories()) = %d, want 6", len(cats))
	}
	seen := map[schema.Category]bool{}
	for _, c := range cats {
		if seen[c] {
			t.Errorf("duplicate category %q", c)
		}
		seen[c] = true
	}
}

func TestParseCategory(t *testing.T) {
	if got, err := schema.ParseCategory("budget"); err != nil || got != schema.CategoryBudget {
		t.Errorf("ParseCategory(budget) = %q, %v", got, err)
	}
	if _, err := schema.ParseCategory("finance"); err == nil {
		t.Error("ParseCategory(finance) expected error, got nil")
	}
}

func TestRuleStatus_IsViolation(t *testing.T) {
	cases := map[schema.RuleStatus]bool{
		schema.StatusPass:  false,
		schema.StatusWarn:  true,
		schema.StatusFail:  true,
		schema.StatusError: false,
	}
	for status, want := range cases {
		if got := status.IsViolation(); got != want {
			t.Errorf("%s.IsViolation() = %v, want %v", status, got, want)
		}
	}
}

func TestParseAlertAction(t *testing.T) {
	for _, in := range []string{"resolved", "DISMISSED", "Acknowledged"} {
		if _, err := schema.ParseAlertAction(in); err != nil {
			t.Errorf("ParseAlertAction(%q) error: %v", in, err)
		}
	}
	if _, err := schema.ParseAlertAction("deleted"); err == nil {
		t.Error("ParseAlertAction(deleted) expected error, got nil")
	}
}
