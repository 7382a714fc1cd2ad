// Package project defines the typed project facts that rule evaluators
// consume. Callers assemble a Snapshot; this module never fetches one.
package project

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Contract is a signed contract with its validity window.
type Contract struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Schedule is a baseline schedule tied to a contract.
type Schedule struct {
	ID         string    `json:"id"`
	ContractID string    `json:"contract_id,omitempty"`
	StartDate  time.Time `json:"start_date"`
}

// ScheduleItem is one tracked line of a schedule.
type ScheduleItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status"`
	PlannedDate time.Time `json:"planned_date,omitempty"`
}

// Milestone groups activities that must complete on the milestone date.
type Milestone struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Date        time.Time `json:"date"`
	ActivityIDs []string  `json:"activity_ids"`
}

// Activity is a scheduled unit of work, optionally linked to a WBS item.
type Activity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	WBSItemID string    `json:"wbs_item_id,omitempty"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// WBSItem is a node of the work breakdown structure. Level 1 is the root.
type WBSItem struct {
	ID       string `json:"id"`
	Code     string `json:"code,omitempty"`
	Name     string `json:"name,omitempty"`
	Level    int    `json:"level"`
	ParentID string `json:"parent_id,omitempty"`
}

// BudgetLine carries planned, current and actual amounts for a WBS item.
// ActualAmount and PreviousDeviationPct are nil when not yet reported.
type BudgetLine struct {
	ID                   string   `json:"id"`
	WBSItemID            string   `json:"wbs_item_id,omitempty"`
	Description          string   `json:"description,omitempty"`
	PlannedAmount        float64  `json:"planned_amount"`
	CurrentAmount        float64  `json:"current_amount"`
	ActualAmount         *float64 `json:"actual_amount,omitempty"`
	PreviousDeviationPct *float64 `json:"previous_deviation_pct,omitempty"`
}

// ScopeClause is one contractual scope statement.
type ScopeClause struct {
	ID         string   `json:"id"`
	Section    string   `json:"section,omitempty"`
	Text       string   `json:"text"`
	SourceRef  string   `json:"source_ref,omitempty"`
	LineStart  int      `json:"line_start,omitempty"`
	WBSItemIDs []string `json:"wbs_item_ids,omitempty"`
}

// BOMItem is a bill-of-materials entry.
type BOMItem struct {
	ID             string `json:"id"`
	Description    string `json:"description,omitempty"`
	ClientProvided bool   `json:"client_provided"`
	BudgetLineID   string `json:"budget_line_id,omitempty"`
}

// ProcurementOrder is a purchase order awaiting delivery.
type ProcurementOrder struct {
	ID               string    `json:"id"`
	Supplier         string    `json:"supplier,omitempty"`
	ExpectedDelivery time.Time `json:"expected_delivery"`
	Delivered        bool      `json:"delivered"`
}

// Snapshot is the full set of project facts evaluated in one calculation.
type Snapshot struct {
	ProjectID         string             `json:"project_id"`
	TenantID          string             `json:"tenant_id,omitempty"`
	Contracts         []Contract         `json:"contracts"`
	Schedules         []Schedule         `json:"schedules"`
	ScheduleItems     []ScheduleItem     `json:"schedule_items"`
	Milestones        []Milestone        `json:"milestones"`
	Activities        []Activity         `json:"activities"`
	WBSItems          []WBSItem          `json:"wbs_items"`
	BudgetLines       []BudgetLine       `json:"budget_lines"`
	ScopeClauses      []ScopeClause      `json:"scope_clauses"`
	BOMItems          []BOMItem          `json:"bom_items"`
	ProcurementOrders []ProcurementOrder `json:"procurement_orders"`
	// DocumentCount is the number of source documents backing the snapshot.
	DocumentCount int `json:"document_count"`
}

// PrimaryContract returns the first contract, or false when there is none.
func (s *Snapshot) PrimaryContract() (Contract, bool) {
	if s == nil || len(s.Contracts) == 0 {
		return Contract{}, false
	}
	return s.Contracts[0], true
}

// ContractByID returns the contract with the given id, falling back to the
// primary contract when id is empty.
func (s *Snapshot) ContractByID(id string) (Contract, bool) {
	if id == "" {
		return s.PrimaryContract()
	}
	for _, c := range s.Contracts {
		if c.ID == id {
			return c, true
		}
	}
	return Contract{}, false
}

// DaysBetween returns the number of calendar days from a to b, using UTC
// dates. Positive when b is after a.
func DaysBetween(a, b time.Time) int {
	da := civil(a)
	db := civil(b)
	return int(db.Sub(da).Hours() / 24)
}

// SameDay reports whether a and b fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	return civil(a).Equal(civil(b))
}

func civil(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Decode reads a JSON snapshot from r.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("project: decode snapshot: %w", err)
	}
	if s.ProjectID == "" {
		return nil, fmt.Errorf("project: snapshot has no project_id")
	}
	return &s, nil
}

// LoadFile reads a JSON snapshot from path.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("project: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}
