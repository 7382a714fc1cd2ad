package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/schema"
)

// Thresholds shared by the deterministic evaluators.
const (
	overrunFactor          = 1.1
	deviationLimitPct      = 10.0
	trendLimitPct          = 11.0
	deliveryWarnWindowDays = 7
	wbsActivityLevel       = 4
)

// Rule ids of the deterministic evaluators.
const (
	RuleBudgetOverrun            = "budget_overrun"
	RuleScheduleDelay            = "schedule_delay"
	RuleScheduleContractMismatch = "schedule_contract_mismatch"
	RuleMilestoneConsistency     = "milestone_consistency"
	RuleActivityExceedsContract  = "activity_exceeds_contract"
	RuleBudgetActualDeviation    = "budget_actual_deviation"
	RuleWBSLevel4WithoutActivity = "wbs_level4_without_activity"
	RuleWBSWithoutBudget         = "wbs_without_budget"
	RuleScopeClauseCoverage      = "scope_clause_coverage"
	RuleBOMWithoutBudget         = "bom_without_budget"
	RuleBudgetVarianceTrend      = "budget_variance_trend"
	RuleProcurementDeliveryRisk  = "procurement_delivery_risk"
)

// Deterministic returns every built-in deterministic evaluator.
func Deterministic() []Evaluator {
	return []Evaluator{
		Func{ID: RuleBudgetOverrun, Fn: budgetOverrun},
		Func{ID: RuleScheduleDelay, Fn: scheduleDelay},
		Func{ID: RuleScheduleContractMismatch, Fn: scheduleContractMismatch},
		Func{ID: RuleMilestoneConsistency, Fn: milestoneConsistency},
		Func{ID: RuleActivityExceedsContract, Fn: activityExceedsContract},
		Func{ID: RuleBudgetActualDeviation, Fn: budgetActualDeviation},
		Func{ID: RuleWBSLevel4WithoutActivity, Fn: wbsLevel4WithoutActivity},
		Func{ID: RuleWBSWithoutBudget, Fn: wbsWithoutBudget},
		Func{ID: RuleScopeClauseCoverage, Fn: scopeClauseCoverage},
		Func{ID: RuleBOMWithoutBudget, Fn: bomWithoutBudget},
		Func{ID: RuleBudgetVarianceTrend, Fn: budgetVarianceTrend},
		Func{ID: RuleProcurementDeliveryRisk, Fn: procurementDeliveryRisk},
	}
}

func budgetOverrun(in Input) []schema.RuleResult {
	var out []schema.RuleResult
	for _, b := range in.Snapshot.BudgetLines {
		if b.PlannedAmount <= 0 || b.CurrentAmount <= b.PlannedAmount*overrunFactor {
			continue
		}
		pct := round2((b.CurrentAmount/b.PlannedAmount - 1) * 100)
		f := schema.Finding{Input: b, Data: map[string]any{
			"planned_amount":     b.PlannedAmount,
			"current_amount":     b.CurrentAmount,
			"overrun_percentage": pct,
		}}
		out = append(out, fromFinding(RuleBudgetOverrun, schema.StatusFail, schema.SeverityHigh,
			fmt.Sprintf("budget line %s is %.2f%% over its planned amount", b.ID, pct), f, b.ID))
	}
	return out
}

func scheduleDelay(in Input) []schema.RuleResult {
	var out []schema.RuleResult
	for _, s := range in.Snapshot.ScheduleItems {
		if !strings.EqualFold(strings.TrimSpace(s.Status), "delayed") {
			continue
		}
		f := schema.Finding{Input: s, Data: map[string]any{"status": s.Status}}
		out = append(out, fromFinding(RuleScheduleDelay, schema.StatusFail, schema.SeverityMedium,
			fmt.Sprintf("schedule item %s is delayed", s.ID), f, s.ID))
	}
	return out
}

func scheduleContractMismatch(in Input) []schema.RuleResult {
	var out []schema.RuleResult
	for _, s := range in.Snapshot.Schedules {
		c, ok := in.Snapshot.ContractByID(s.ContractID)
		if !ok || s.StartDate.IsZero() || c.StartDate.IsZero() {
			continue
		}
		delta := project.DaysBetween(c.StartDate, s.StartDate)
		f := schema.Finding{Input: s, Data: map[string]any{
			"delta_days":  delta,
			"contract_id": c.ID,
		}}
		switch {
		case delta > 0:
			out = append(out, fromFinding(RuleScheduleContractMismatch, schema.StatusFail, schema.SeverityHigh,
				fmt.Sprintf("schedule %s starts %d days after contract %s", s.ID, delta, c.ID), f, s.ID, c.ID))
		case delta < 0:
			out = append(out, fromFinding(RuleScheduleContractMismatch, schema.StatusWarn, schema.SeverityMedium,
				fmt.Sprintf("schedule %s starts %d days before contract %s", s.ID, -delta, c.ID), f, s.ID, c.ID))
		}
	}
	return out
}

func milestoneConsistency(in Input) []schema.RuleResult {
	activities := make(map[string]project.Activity, len(in.Snapshot.Activities))
	for _, a := range in.Snapshot.Activities {
		activities[a.ID] = a
	}
	var out []schema.RuleResult
	for _, m := range in.Snapshot.Milestones {
		if len(m.ActivityIDs) == 0 {
			f := schema.Finding{Input: m, Data: map[string]any{"linked_activities": 0}}
			out = append(out, fromFinding(RuleMilestoneConsistency, schema.StatusFail, schema.SeverityMedium,
				fmt.Sprintf("milestone %s has no linked activities", m.ID), f, m.ID))
			continue
		}
		var mismatched, missing []string
		for _, id := range m.ActivityIDs {
			a, ok := activities[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			if !project.SameDay(a.EndDate, m.Date) {
				mismatched = append(mismatched, id)
			}
		}
		if len(mismatched) == 0 && len(missing) == 0 {
			continue
		}
		f := schema.Finding{Input: m, Data: map[string]any{
			"mismatched_activities": mismatched,
			"missing_activities":    missing,
		}}
		entities := append([]string{m.ID}, mismatched...)
		out = append(out, fromFinding(RuleMilestoneConsistency, schema.StatusFail, schema.SeverityMedium,
			fmt.Sprintf("milestone %s: %d linked activities do not finish on the milestone date, %d not found",
				m.ID, len(mismatched), len(missing)), f, entities...))
	}
	return out
}

func activityExceedsContract(in Input) []schema.RuleResult {
	c, ok := in.Snapshot.PrimaryContract()
	if !ok || c.StartDate.IsZero() || c.EndDate.IsZero() {
		return nil
	}
	var out []schema.RuleResult
	for _, a := range in.Snapshot.Activities {
		before, after := 0, 0
		if !a.StartDate.IsZero() {
			before = project.DaysBetween(a.StartDate, c.StartDate)
		}
		if !a.EndDate.IsZero() {
			after = project.DaysBetween(c.EndDate, a.EndDate)
		}
		if before <= 0 && after <= 0 {
			continue
		}
		f := schema.Finding{Input: a, Data: map[string]any{
			"days_before_start": max(before, 0),
			"days_after_end":    max(after, 0),
			"days_outside":      max(before, after),
			"contract_id":       c.ID,
		}}
		out = append(out, fromFinding(RuleActivityExceedsContract, schema.StatusFail, schema.SeverityHigh,
			fmt.Sprintf("activity %s falls outside contract %s validity", a.ID, c.ID), f, a.ID, c.ID))
	}
	return out
}

// deviationPct returns |actual-planned| as a percentage of planned.
func deviationPct(actual, planned float64) float64 {
	return math.Abs(actual-planned) * 100 / planned
}

func budgetActualDeviation(in Input) []schema.RuleResult {
	var out []schema.RuleResult
	for _, b := range in.Snapshot.BudgetLines {
		if b.ActualAmount == nil || b.PlannedAmount <= 0 {
			continue
		}
		actual := *b.ActualAmount
		pct := deviationPct(actual, b.PlannedAmount)
		if pct <= deviationLimitPct {
			continue
		}
		sev, dir := schema.SeverityMedium, "under"
		if actual > b.PlannedAmount {
			sev, dir = schema.SeverityHigh, "over"
		}
		f := schema.Finding{Input: b, Data: map[string]any{
			"budgeted_amount":      b.PlannedAmount,
			"actual_amount":        actual,
			"deviation_percentage": round2(pct),
			"direction":            dir,
		}}
		out = append(out, fromFinding(RuleBudgetActualDeviation, schema.StatusFail, sev,
			fmt.Sprintf("budget line %s actual cost is %.2f%% %s budget", b.ID, pct, dir), f, b.ID))
	}
	return out
}

func wbsLevel4WithoutActivity(in Input) []schema.RuleResult {
	linked := make(map[string]bool, len(in.Snapshot.Activities))
	for _, a := range in.Snapshot.Activities {
		if a.WBSItemID != "" {
			linked[a.WBSItemID] = true
		}
	}
	var out []schema.RuleResult
	for _, w := range in.Snapshot.WBSItems {
		if w.Level != wbsActivityLevel || linked[w.ID] {
			continue
		}
		f := schema.Finding{Input: w, Data: map[string]any{"wbs_code": w.Code}}
		out = append(out, fromFinding(RuleWBSLevel4WithoutActivity, schema.StatusFail, schema.SeverityMedium,
			fmt.Sprintf("level-4 WBS item %s has no scheduled activity", w.ID), f, w.ID))
	}
	return out
}

func wbsWithoutBudget(in Input) []schema.RuleResult {
	type totals struct {
		lines int
		sum   float64
	}
	byWBS := make(map[string]*totals)
	for _, b := range in.Snapshot.BudgetLines {
		if b.WBSItemID == "" {
			continue
		}
		t, ok := byWBS[b.WBSItemID]
		if !ok {
			t = &totals{}
			byWBS[b.WBSItemID] = t
		}
		t.lines++
		t.sum += b.PlannedAmount
	}
	var out []schema.RuleResult
	// Every item needs its own line; children's budgets do not roll up.
	for _, w := range in.Snapshot.WBSItems {
		t, ok := byWBS[w.ID]
		switch {
		case !ok:
			f := schema.Finding{Input: w, Data: map[string]any{"budget_lines": 0}}
			out = append(out, fromFinding(RuleWBSWithoutBudget, schema.StatusFail, schema.SeverityHigh,
				fmt.Sprintf("WBS item %s has no budget line", w.ID), f, w.ID))
		case t.sum == 0:
			f := schema.Finding{Input: w, Data: map[string]any{"budget_lines": t.lines, "budget_total": 0.0}}
			out = append(out, fromFinding(RuleWBSWithoutBudget, schema.StatusWarn, schema.SeverityMedium,
				fmt.Sprintf("WBS item %s has a zero budget", w.ID), f, w.ID))
		}
	}
	return out
}

func scopeClauseCoverage(in Input) []schema.RuleResult {
	total := len(in.Snapshot.ScopeClauses)
	if total == 0 {
		return nil
	}
	var uncovered []string
	for _, c := range in.Snapshot.ScopeClauses {
		if len(c.WBSItemIDs) == 0 {
			uncovered = append(uncovered, c.ID)
		}
	}
	if len(uncovered) == 0 {
		return nil
	}
	pct := round2(float64(total-len(uncovered)) / float64(total) * 100)
	f := schema.Finding{Input: in.Snapshot.ScopeClauses, Data: map[string]any{
		"coverage_percentage": pct,
		"uncovered_clauses":   uncovered,
		"total_clauses":       total,
	}}
	return []schema.RuleResult{fromFinding(RuleScopeClauseCoverage, schema.StatusFail, schema.SeverityHigh,
		fmt.Sprintf("%d of %d scope clauses have no WBS coverage (%.2f%% covered)", len(uncovered), total, pct),
		f, uncovered...)}
}

func bomWithoutBudget(in Input) []schema.RuleResult {
	var out []schema.RuleResult
	for _, item := range in.Snapshot.BOMItems {
		if item.ClientProvided || strings.TrimSpace(item.BudgetLineID) != "" {
			continue
		}
		f := schema.Finding{Input: item, Data: map[string]any{"description": item.Description}}
		out = append(out, fromFinding(RuleBOMWithoutBudget, schema.StatusFail, schema.SeverityHigh,
			fmt.Sprintf("BOM item %s has no budget reference", item.ID), f, item.ID))
	}
	return out
}

func budgetVarianceTrend(in Input) []schema.RuleResult {
	var out []schema.RuleResult
	for _, b := range in.Snapshot.BudgetLines {
		if b.ActualAmount == nil || b.PreviousDeviationPct == nil || b.PlannedAmount <= 0 {
			continue
		}
		cur := deviationPct(*b.ActualAmount, b.PlannedAmount)
		prev := *b.PreviousDeviationPct
		if cur < trendLimitPct || cur <= prev {
			continue
		}
		f := schema.Finding{Input: b, Data: map[string]any{
			"deviation_percentage":          round2(cur),
			"previous_deviation_percentage": prev,
		}}
		out = append(out, fromFinding(RuleBudgetVarianceTrend, schema.StatusFail, schema.SeverityHigh,
			fmt.Sprintf("budget line %s deviation worsened from %.2f%% to %.2f%%", b.ID, prev, cur), f, b.ID))
	}
	return out
}

func procurementDeliveryRisk(in Input) []schema.RuleResult {
	var out []schema.RuleResult
	for _, o := range in.Snapshot.ProcurementOrders {
		if o.Delivered || o.ExpectedDelivery.IsZero() {
			continue
		}
		delta := project.DaysBetween(in.Now, o.ExpectedDelivery)
		f := schema.Finding{Input: o, Data: map[string]any{"delta_days": delta}}
		switch {
		case delta < 0:
			out = append(out, fromFinding(RuleProcurementDeliveryRisk, schema.StatusFail, schema.SeverityHigh,
				fmt.Sprintf("procurement order %s missed its delivery date by %d days", o.ID, -delta), f, o.ID))
		case delta <= deliveryWarnWindowDays:
			out = append(out, fromFinding(RuleProcurementDeliveryRisk, schema.StatusWarn, schema.SeverityMedium,
				fmt.Sprintf("procurement order %s is due in %d days", o.ID, delta), f, o.ID))
		}
	}
	return out
}
