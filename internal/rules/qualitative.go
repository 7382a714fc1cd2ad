package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dshills/coherence/internal/llm"
	"github.com/dshills/coherence/internal/locate"
	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/prompt"
	"github.com/dshills/coherence/internal/schema"
)

// Reasoner is the external reasoning service. llm.Service implements it.
type Reasoner interface {
	Reason(ctx context.Context, system, user, tenant string) (string, error)
}

// Locator resolves an evidence quote to a source location. locate.Locator
// implements it.
type Locator interface {
	Locate(ctx context.Context, clause project.ScopeClause, quote string) (locate.Location, error)
}

// QualitativeOptions wires the collaborators of qualitative evaluators.
// Locator and Logger may be nil.
type QualitativeOptions struct {
	Reasoner Reasoner
	Locator  Locator
	Logger   *slog.Logger
}

// QualitativeRuleIDs returns the ids of the built-in qualitative rules.
func QualitativeRuleIDs() []string {
	return prompt.RuleIDs()
}

// Verdict is the validated shape of a reasoning-service response.
type Verdict struct {
	Compliant     bool
	Reasoning     string
	Severity      schema.Severity
	EvidenceQuote string
}

// rawVerdict mirrors the wire schema. Pointers distinguish absent fields
// from zero values.
type rawVerdict struct {
	Compliant     *bool   `json:"compliant"`
	Reasoning     *string `json:"reasoning"`
	Severity      *string `json:"severity"`
	EvidenceQuote *string `json:"evidence_quote"`
}

// DecodeVerdict strictly decodes raw into a Verdict. Unknown fields,
// trailing data, missing required fields and invalid enums are rejected.
func DecodeVerdict(raw string) (Verdict, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var rv rawVerdict
	if err := dec.Decode(&rv); err != nil {
		return Verdict{}, fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Verdict{}, fmt.Errorf("decode: unexpected data after JSON object")
	}

	var errs []string
	if rv.Compliant == nil {
		errs = append(errs, "compliant is required")
	}
	if rv.Reasoning == nil || strings.TrimSpace(*rv.Reasoning) == "" {
		errs = append(errs, "reasoning is required")
	}
	v := Verdict{}
	if rv.Compliant != nil {
		v.Compliant = *rv.Compliant
	}
	if rv.Reasoning != nil {
		v.Reasoning = strings.TrimSpace(*rv.Reasoning)
	}
	if rv.EvidenceQuote != nil {
		v.EvidenceQuote = strings.TrimSpace(*rv.EvidenceQuote)
	}
	switch {
	case rv.Severity != nil && *rv.Severity != "":
		sev, err := schema.ParseSeverity(*rv.Severity)
		if err != nil {
			errs = append(errs, fmt.Sprintf("severity %q is not valid", *rv.Severity))
		}
		v.Severity = sev
	case rv.Compliant != nil && !*rv.Compliant:
		errs = append(errs, "severity is required when compliant is false")
	}
	if len(errs) > 0 {
		return Verdict{}, fmt.Errorf("schema: %s", strings.Join(errs, "; "))
	}
	return v, nil
}

// decodeLenient tries a strict decode, then one best-effort extraction
// from the surrounding text.
func decodeLenient(raw string) (Verdict, error) {
	v, err := DecodeVerdict(raw)
	if err == nil {
		return v, nil
	}
	candidate := llm.ExtractJSONObject(llm.StripMarkdownFences(raw))
	if candidate == "" {
		return Verdict{}, err
	}
	v, err2 := DecodeVerdict(candidate)
	if err2 == nil {
		return v, nil
	}
	v, err3 := DecodeVerdict(llm.FixInvalidJSONEscapes(candidate))
	if err3 == nil {
		return v, nil
	}
	return Verdict{}, err2
}

// ValidateVerdict is an llm.ValidateFunc that accepts only responses
// decodable as a Verdict, so schema failures are retried with a hardened
// prompt instead of surfacing as ERROR results.
func ValidateVerdict(raw string) []llm.ValidationError {
	if _, err := decodeLenient(raw); err != nil {
		return []llm.ValidationError{{Field: "verdict", Message: err.Error()}}
	}
	return nil
}

// Qualitative evaluates one scope clause through the reasoning service.
type Qualitative struct {
	id       string
	reasoner Reasoner
	locator  Locator
	log      *slog.Logger
}

// NewQualitative returns a per-clause evaluator for ruleID.
func NewQualitative(ruleID string, opts QualitativeOptions) *Qualitative {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Qualitative{
		id:       ruleID,
		reasoner: opts.Reasoner,
		locator:  opts.Locator,
		log:      log.With(slog.String("component", "qualitative"), slog.String("rule_id", ruleID)),
	}
}

// RuleID returns the rule id this evaluator implements.
func (q *Qualitative) RuleID() string { return q.id }

// Evaluate never returns an empty slice: every clause yields PASS, FAIL or
// ERROR.
func (q *Qualitative) Evaluate(ctx context.Context, in Input) []schema.RuleResult {
	if in.Clause == nil {
		return []schema.RuleResult{q.errorResult("", "no clause supplied")}
	}
	clause := *in.Clause

	contract, err := prompt.Load(q.id)
	if err != nil {
		return []schema.RuleResult{q.errorResult(clause.ID, err.Error())}
	}
	rule := in.Rule
	if rule.ID == "" {
		rule.ID = q.id
	}
	tenant := ""
	if in.Snapshot != nil {
		tenant = in.Snapshot.TenantID
	}

	raw, err := q.reasoner.Reason(ctx, prompt.System(contract, rule), prompt.User(clause), tenant)
	if err != nil {
		q.log.Warn("reasoning service failed", slog.String("clause_id", clause.ID), slog.Any("error", err))
		return []schema.RuleResult{q.errorResult(clause.ID, fmt.Sprintf("reasoning service: %v", err))}
	}

	v, err := decodeLenient(raw)
	if err != nil {
		q.log.Warn("invalid verdict", slog.String("clause_id", clause.ID), slog.Any("error", err))
		return []schema.RuleResult{q.errorResult(clause.ID, fmt.Sprintf("invalid verdict: %v", err))}
	}

	meta := map[string]any{"reasoning": v.Reasoning}
	if clause.SourceRef != "" {
		meta["source_ref"] = clause.SourceRef
	}
	if v.Compliant {
		return []schema.RuleResult{{
			RuleID:           q.id,
			Status:           schema.StatusPass,
			Message:          v.Reasoning,
			AffectedEntities: []string{clause.ID},
			Metadata:         meta,
		}}
	}

	if v.EvidenceQuote != "" {
		meta["evidence_quote"] = v.EvidenceQuote
		q.attachLocation(ctx, clause, v.EvidenceQuote, meta)
	}
	return []schema.RuleResult{{
		RuleID:           q.id,
		Status:           schema.StatusFail,
		Severity:         v.Severity,
		Message:          v.Reasoning,
		AffectedEntities: []string{clause.ID},
		Metadata:         meta,
	}}
}

// attachLocation records the resolved quote location in meta. A missing or
// failing locator is logged and otherwise ignored.
func (q *Qualitative) attachLocation(ctx context.Context, clause project.ScopeClause, quote string, meta map[string]any) {
	if q.locator == nil {
		q.log.Debug("source locator unavailable", slog.String("clause_id", clause.ID))
		return
	}
	loc, err := q.locator.Locate(ctx, clause, quote)
	if err != nil {
		q.log.Info("evidence quote not located", slog.String("clause_id", clause.ID), slog.Any("error", err))
		return
	}
	meta["location"] = loc
}

func (q *Qualitative) errorResult(clauseID, msg string) schema.RuleResult {
	r := schema.RuleResult{
		RuleID:  q.id,
		Status:  schema.StatusError,
		Message: msg,
	}
	if clauseID != "" {
		r.AffectedEntities = []string{clauseID}
	}
	return r
}

var _ Evaluator = (*Qualitative)(nil)
