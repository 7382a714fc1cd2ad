package locate

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/coherence/internal/project"
)

func TestLocate(t *testing.T) {
	clause := project.ScopeClause{
		ID:        "CL-1",
		SourceRef: "contract.pdf",
		LineStart: 40,
		Text: "The Contractor shall supply all pumps\n" +
			"\n" +
			"and associated   valves as required\n" +
			"by the Engineer.",
	}
	cases := []struct {
		quote      string
		start, end int
	}{
		{"supply all pumps", 40, 40},
		{"AS REQUIRED by the engineer", 42, 43},
		{"pumps and associated valves", 40, 42},
	}
	l := New()
	for _, c := range cases {
		loc, err := l.Locate(context.Background(), clause, c.quote)
		if err != nil {
			t.Errorf("Locate(%q) error: %v", c.quote, err)
			continue
		}
		if loc.LineStart != c.start || loc.LineEnd != c.end {
			t.Errorf("Locate(%q) = %d-%d, want %d-%d", c.quote, loc.LineStart, loc.LineEnd, c.start, c.end)
		}
		if loc.ClauseID != "CL-1" || loc.SourceRef != "contract.pdf" {
			t.Errorf("Locate(%q) lost clause identity: %+v", c.quote, loc)
		}
	}
}

func TestLocate_NotFound(t *testing.T) {
	_, err := New().Locate(context.Background(), project.ScopeClause{Text: "abc"}, "xyz")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLocate_DefaultBase(t *testing.T) {
	loc, err := New().Locate(context.Background(), project.ScopeClause{Text: "one\ntwo"}, "two")
	if err != nil {
		t.Fatal(err)
	}
	if loc.LineStart != 2 {
		t.Errorf("LineStart = %d, want 2", loc.LineStart)
	}
}

func TestLocate_EmptyQuote(t *testing.T) {
	if _, err := New().Locate(context.Background(), project.ScopeClause{Text: "abc"}, "   "); err == nil {
		t.Fatal("expected error for blank quote")
	}
}
