package project

import (
	"strings"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDaysBetween(t *testing.T) {
	cases := []struct {
		a, b time.Time
		want int
	}{
		{date(2025, 1, 1), date(2025, 1, 1), 0},
		{date(2025, 1, 1), date(2025, 1, 6), 5},
		{date(2025, 1, 6), date(2025, 1, 1), -5},
		// Time of day is ignored.
		{time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC), date(2025, 1, 2), 1},
		{date(2024, 2, 28), date(2024, 3, 1), 2},
	}
	for _, c := range cases {
		if got := DaysBetween(c.a, c.b); got != c.want {
			t.Errorf("DaysBetween(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestContractByID(t *testing.T) {
	s := &Snapshot{Contracts: []Contract{{ID: "C1"}, {ID: "C2"}}}
	if c, ok := s.ContractByID(""); !ok || c.ID != "C1" {
		t.Errorf("ContractByID(\"\") = %v, %v; want C1", c.ID, ok)
	}
	if c, ok := s.ContractByID("C2"); !ok || c.ID != "C2" {
		t.Errorf("ContractByID(C2) = %v, %v", c.ID, ok)
	}
	if _, ok := s.ContractByID("C9"); ok {
		t.Error("ContractByID(C9) should not be found")
	}
	var empty *Snapshot
	if _, ok := empty.PrimaryContract(); ok {
		t.Error("nil snapshot should have no primary contract")
	}
}

func TestDecode(t *testing.T) {
	in := `{"project_id":"P-1","contracts":[{"id":"C1","start_date":"2025-01-01T00:00:00Z","end_date":"2025-12-31T00:00:00Z"}],
	"budget_lines":[{"id":"B1","planned_amount":100,"current_amount":120,"actual_amount":90}]}`
	s, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.ProjectID != "P-1" {
		t.Errorf("ProjectID = %q", s.ProjectID)
	}
	if s.BudgetLines[0].ActualAmount == nil || *s.BudgetLines[0].ActualAmount != 90 {
		t.Errorf("ActualAmount not decoded: %+v", s.BudgetLines[0])
	}
	if s.BudgetLines[0].PreviousDeviationPct != nil {
		t.Error("PreviousDeviationPct should be nil when absent")
	}
}

func TestDecode_MissingProjectID(t *testing.T) {
	if _, err := Decode(strings.NewReader(`{}`)); err == nil {
		t.Fatal("expected error for snapshot without project_id")
	}
}
