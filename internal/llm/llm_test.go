package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// mockProvider is a test double for Provider.
type mockProvider struct {
	responses []string // returned in order; last entry is repeated if list exhausted
	requests  []Request
	err       error
}

func (m *mockProvider) Complete(_ context.Context, req Request) (string, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mockProvider: no responses configured")
	}
	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

const validVerdict = `{"compliant":true,"reasoning":"clear"}`

func TestReason_ValidFirstResponse(t *testing.T) {
	mp := &mockProvider{responses: []string{validVerdict}}
	svc := NewService(mp, Options{MaxTokens: 100, Temperature: 0.2})

	got, err := svc.Reason(context.Background(), "sys", "user", "tenant-1")
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if got != validVerdict {
		t.Errorf("Reason = %q, want %q", got, validVerdict)
	}
	if len(mp.requests) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(mp.requests))
	}
	req := mp.requests[0]
	if req.System != "sys" || req.User != "user" || req.Tenant != "tenant-1" || req.MaxTokens != 100 {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestReason_RepairTriggered(t *testing.T) {
	// First response is invalid JSON; second is valid.
	mp := &mockProvider{responses: []string{"bad json", validVerdict}}
	svc := NewService(mp, Options{})

	if _, err := svc.Reason(context.Background(), "sys", "user", ""); err != nil {
		t.Fatalf("expected repair to succeed, got error: %v", err)
	}
	if len(mp.requests) != 2 {
		t.Fatalf("expected 2 provider calls (initial + repair), got %d", len(mp.requests))
	}
	repair := mp.requests[1].User
	if !strings.Contains(repair, "bad json") || !strings.Contains(repair, "json_parse") {
		t.Errorf("repair prompt lacks previous response or errors: %q", repair)
	}
	if !strings.HasPrefix(repair, "user") {
		t.Errorf("repair prompt should start with the original prompt: %q", repair)
	}
}

func TestReason_AllAttemptsInvalid(t *testing.T) {
	mp := &mockProvider{responses: []string{"bad json"}}
	svc := NewService(mp, Options{MaxAttempts: 3})

	_, err := svc.Reason(context.Background(), "sys", "user", "")
	if !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("expected ErrInvalidModelOutput, got %v", err)
	}
	if len(mp.requests) != 3 {
		t.Errorf("expected 3 provider calls, got %d", len(mp.requests))
	}
}

func TestReason_ProviderError(t *testing.T) {
	mp := &mockProvider{err: errors.New("boom")}
	svc := NewService(mp, Options{})
	_, err := svc.Reason(context.Background(), "sys", "user", "")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if errors.Is(err, ErrInvalidModelOutput) {
		t.Error("provider failure must not be reported as invalid output")
	}
}

func TestReason_CustomValidator(t *testing.T) {
	mp := &mockProvider{responses: []string{`{"a":1}`, `{"b":2}`}}
	svc := NewService(mp, Options{Validate: func(raw string) []ValidationError {
		if !strings.Contains(raw, `"b"`) {
			return []ValidationError{{Field: "required_field", Message: "b is missing"}}
		}
		return nil
	}})
	got, err := svc.Reason(context.Background(), "", "", "")
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if got != `{"b":2}` {
		t.Errorf("Reason = %q", got)
	}
}

func TestValidateJSONObject(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`{"a":1}`, true},
		{"```json\n{\"a\":1}\n```", true},
		{`{"pattern":"\d+"}`, true},
		{`[1,2]`, false},
		{`not json`, false},
	}
	for _, c := range cases {
		got := len(ValidateJSONObject(c.raw)) == 0
		if got != c.want {
			t.Errorf("ValidateJSONObject(%q) ok = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestStripMarkdownFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"~~~\n{}\n~~~", `{}`},
		{"```json\n{\"a\":1}", `{"a":1}`},
		{`  {"a":1}  `, `{"a":1}`},
	}
	for _, c := range cases {
		if got := StripMarkdownFences(c.in); got != c.want {
			t.Errorf("StripMarkdownFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct{ in, want string }{
		{`Here you go: {"a":{"b":1}} hope that helps`, `{"a":{"b":1}}`},
		{`{"s":"brace } inside"} trailing`, `{"s":"brace } inside"}`},
		{`{"s":"quote \" and }"}`, `{"s":"quote \" and }"}`},
		{`no object`, ``},
		{`{"unterminated":`, ``},
	}
	for _, c := range cases {
		if got := ExtractJSONObject(c.in); got != c.want {
			t.Errorf("ExtractJSONObject(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFixInvalidJSONEscapes(t *testing.T) {
	if got := FixInvalidJSONEscapes(`"\d+ \n"`); got != `"\\d+ \n"` {
		t.Errorf("FixInvalidJSONEscapes = %q", got)
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	if _, err := NewProvider(ProviderConfig{Name: "mystery"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewProvider_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewProvider(ProviderConfig{Name: "anthropic", Model: "m"}); err == nil {
		t.Fatal("expected error when ANTHROPIC_API_KEY is unset")
	}
}
