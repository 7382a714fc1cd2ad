package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/coherence/internal/llm"
	"github.com/dshills/coherence/internal/locate"
	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/schema"
)

// fakeReasoner returns a canned response and records the prompts it saw.
type fakeReasoner struct {
	response string
	err      error
	system   string
	user     string
	tenant   string
	calls    int
}

func (f *fakeReasoner) Reason(_ context.Context, system, user, tenant string) (string, error) {
	f.calls++
	f.system, f.user, f.tenant = system, user, tenant
	return f.response, f.err
}

type fakeLocator struct {
	loc locate.Location
	err error
}

func (f fakeLocator) Locate(context.Context, project.ScopeClause, string) (locate.Location, error) {
	return f.loc, f.err
}

func clauseInput() Input {
	snap := &project.Snapshot{ProjectID: "P-1", TenantID: "tenant-7"}
	clause := project.ScopeClause{ID: "SC-9", Section: "4.2", Text: "Contractor shall supply all materials as required.", SourceRef: "contract.pdf"}
	return Input{Snapshot: snap, Clause: &clause}
}

func TestQualitative_Compliant(t *testing.T) {
	r := &fakeReasoner{response: `{"compliant":true,"reasoning":"bounded and specific"}`}
	ev := NewQualitative("scope_clause_ambiguity", QualitativeOptions{Reasoner: r})

	got := ev.Evaluate(context.Background(), clauseInput())
	if len(got) != 1 || got[0].Status != schema.StatusPass {
		t.Fatalf("Evaluate = %+v, want one PASS", got)
	}
	if r.tenant != "tenant-7" {
		t.Errorf("tenant = %q, want tenant-7", r.tenant)
	}
	if !strings.Contains(r.user, "SC-9") || !strings.Contains(r.user, "as required") {
		t.Errorf("user prompt does not render the clause: %q", r.user)
	}
	if !strings.Contains(r.system, "scope_clause_ambiguity") {
		t.Errorf("system prompt does not name the rule: %q", r.system)
	}
}

func TestQualitative_NonCompliantWithLocation(t *testing.T) {
	r := &fakeReasoner{response: `{"compliant":false,"reasoning":"open-ended","severity":"HIGH","evidence_quote":"as required"}`}
	loc := fakeLocator{loc: locate.Location{ClauseID: "SC-9", LineStart: 12, LineEnd: 12}}
	ev := NewQualitative("scope_clause_ambiguity", QualitativeOptions{Reasoner: r, Locator: loc})

	got := ev.Evaluate(context.Background(), clauseInput())
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	res := got[0]
	if res.Status != schema.StatusFail || res.Severity != schema.SeverityHigh {
		t.Errorf("status/severity = %s/%s, want FAIL/HIGH", res.Status, res.Severity)
	}
	if res.Metadata["evidence_quote"] != "as required" {
		t.Errorf("evidence_quote = %v", res.Metadata["evidence_quote"])
	}
	if l, ok := res.Metadata["location"].(locate.Location); !ok || l.LineStart != 12 {
		t.Errorf("location = %v", res.Metadata["location"])
	}
}

func TestQualitative_LocatorFailureIgnored(t *testing.T) {
	r := &fakeReasoner{response: `{"compliant":false,"reasoning":"x","severity":"LOW","evidence_quote":"missing"}`}
	ev := NewQualitative("scope_clause_ambiguity", QualitativeOptions{
		Reasoner: r,
		Locator:  fakeLocator{err: locate.ErrNotFound},
	})
	got := ev.Evaluate(context.Background(), clauseInput())
	if len(got) != 1 || got[0].Status != schema.StatusFail {
		t.Fatalf("Evaluate = %+v, want FAIL", got)
	}
	if _, ok := got[0].Metadata["location"]; ok {
		t.Error("location must be absent when the locator fails")
	}
}

func TestQualitative_NoLocator(t *testing.T) {
	r := &fakeReasoner{response: `{"compliant":false,"reasoning":"x","severity":"MEDIUM","evidence_quote":"as required"}`}
	ev := NewQualitative("scope_clause_ambiguity", QualitativeOptions{Reasoner: r})
	got := ev.Evaluate(context.Background(), clauseInput())
	if len(got) != 1 || got[0].Status != schema.StatusFail {
		t.Fatalf("Evaluate = %+v, want FAIL", got)
	}
}

func TestQualitative_ExtractionFallback(t *testing.T) {
	cases := []string{
		"```json\n{\"compliant\":true,\"reasoning\":\"ok\"}\n```",
		`Sure, here is my verdict: {"compliant":true,"reasoning":"ok"} Let me know.`,
		`{"compliant":true,"reasoning":"matches \d+ units"}`,
	}
	for _, raw := range cases {
		ev := NewQualitative("scope_clause_ambiguity", QualitativeOptions{Reasoner: &fakeReasoner{response: raw}})
		got := ev.Evaluate(context.Background(), clauseInput())
		if len(got) != 1 || got[0].Status != schema.StatusPass {
			t.Errorf("raw %q: Evaluate = %+v, want PASS", raw, got)
		}
	}
}

func TestQualitative_ErrorResults(t *testing.T) {
	cases := []struct {
		name string
		r    *fakeReasoner
		want string
	}{
		{"not json", &fakeReasoner{response: "I cannot decide"}, "invalid verdict"},
		{"unknown field", &fakeReasoner{response: `{"compliant":true,"reasoning":"ok","confidence":0.9}`}, "invalid verdict"},
		{"missing severity", &fakeReasoner{response: `{"compliant":false,"reasoning":"vague"}`}, "severity is required"},
		{"bad severity", &fakeReasoner{response: `{"compliant":false,"reasoning":"vague","severity":"SEVERE"}`}, "not valid"},
		{"missing reasoning", &fakeReasoner{response: `{"compliant":true}`}, "reasoning is required"},
		{"reasoner error", &fakeReasoner{err: errors.New("timeout")}, "timeout"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev := NewQualitative("scope_clause_legal_risk", QualitativeOptions{Reasoner: c.r})
			got := ev.Evaluate(context.Background(), clauseInput())
			if len(got) != 1 || got[0].Status != schema.StatusError {
				t.Fatalf("Evaluate = %+v, want one ERROR", got)
			}
			if !strings.Contains(got[0].Message, c.want) {
				t.Errorf("message %q does not contain %q", got[0].Message, c.want)
			}
			if got[0].AffectedEntities[0] != "SC-9" {
				t.Errorf("AffectedEntities = %v", got[0].AffectedEntities)
			}
		})
	}
}

func TestQualitative_UnknownRule(t *testing.T) {
	r := &fakeReasoner{response: `{"compliant":true,"reasoning":"ok"}`}
	ev := NewQualitative("no_such_rule", QualitativeOptions{Reasoner: r})
	got := ev.Evaluate(context.Background(), clauseInput())
	if len(got) != 1 || got[0].Status != schema.StatusError {
		t.Fatalf("Evaluate = %+v, want ERROR", got)
	}
	if r.calls != 0 {
		t.Error("reasoner must not be called without a prompt contract")
	}
}

func TestDecodeVerdict_TrailingData(t *testing.T) {
	if _, err := DecodeVerdict(`{"compliant":true,"reasoning":"ok"} {}`); err == nil {
		t.Error("expected error for trailing data")
	}
}

// scriptedProvider replies with one canned response per call.
type scriptedProvider struct {
	replies []string
	prompts []string
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.prompts = append(p.prompts, req.User)
	if len(p.prompts) > len(p.replies) {
		return "", errors.New("no scripted reply left")
	}
	return p.replies[len(p.prompts)-1], nil
}

func TestQualitative_SchemaFailureRetried(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		`{"compliant":false,"reasoning":"vague"}`,
		`{"compliant":false,"reasoning":"vague","severity":"MEDIUM"}`,
	}}
	svc := llm.NewService(p, llm.Options{MaxAttempts: 2, Validate: ValidateVerdict})
	ev := NewQualitative("scope_clause_ambiguity", QualitativeOptions{Reasoner: svc})

	got := ev.Evaluate(context.Background(), clauseInput())
	if len(p.prompts) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(p.prompts))
	}
	if !strings.Contains(p.prompts[1], "severity is required") {
		t.Errorf("retry prompt does not carry the validation error:\n%s", p.prompts[1])
	}
	if len(got) != 1 || got[0].Status != schema.StatusFail || got[0].Severity != schema.SeverityMedium {
		t.Fatalf("Evaluate = %+v, want one FAIL/MEDIUM", got)
	}
}

func TestValidateVerdict(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"compliant", `{"compliant":true,"reasoning":"ok"}`, true},
		{"fenced", "```json\n{\"compliant\":true,\"reasoning\":\"ok\"}\n```", true},
		{"missing severity", `{"compliant":false,"reasoning":"vague"}`, false},
		{"unknown field", `{"compliant":true,"reasoning":"ok","score":3}`, false},
		{"not json", "looks fine to me", false},
	}
	for _, c := range cases {
		if errs := ValidateVerdict(c.raw); (len(errs) == 0) != c.ok {
			t.Errorf("%s: ValidateVerdict = %v, want ok=%v", c.name, errs, c.ok)
		}
	}
}
