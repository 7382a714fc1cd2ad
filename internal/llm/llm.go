// Package llm implements the reasoning service used by qualitative rules:
// provider communication, structural validation of the raw response, and
// bounded retries with a hardened prompt.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrInvalidModelOutput is returned when every attempt fails validation.
var ErrInvalidModelOutput = errors.New("llm: invalid model output after repair attempts")

// Request is one completion request.
type Request struct {
	System      string
	User        string
	Tenant      string
	MaxTokens   int
	Temperature float64
}

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Name  string // anthropic, openai, google
	Model string
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(cfg ProviderConfig) (Provider, error) = defaultNewProvider

// ValidationError records a single validation failure on an LLM response.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// ValidateFunc inspects a raw response and returns validation failures.
type ValidateFunc func(raw string) []ValidationError

// Options configures a Service.
type Options struct {
	MaxTokens   int
	Temperature float64
	// MaxAttempts bounds the number of provider calls per Reason call,
	// including the first. Values below 1 are treated as 2.
	MaxAttempts int
	// Validate decides whether a response is acceptable. Defaults to
	// ValidateJSONObject.
	Validate ValidateFunc
	Logger   *slog.Logger
}

// Service calls a provider and retries with a hardened prompt when the
// response fails validation.
type Service struct {
	provider Provider
	opts     Options
	log      *slog.Logger
}

// NewService wraps provider.
func NewService(provider Provider, opts Options) *Service {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 2
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Validate == nil {
		opts.Validate = ValidateJSONObject
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{provider: provider, opts: opts, log: log.With(slog.String("component", "llm"))}
}

// Reason sends the prompt pair and returns the first response that passes
// validation. The returned text is the raw response; callers decode it.
func (s *Service) Reason(ctx context.Context, system, user, tenant string) (string, error) {
	s.log.Debug("reasoning request", slog.String("tenant", tenant), slog.Int("user_prompt_bytes", len(user)))

	prompt := user
	var lastErrs []ValidationError
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		raw, err := s.provider.Complete(ctx, Request{
			System:      system,
			User:        prompt,
			Tenant:      tenant,
			MaxTokens:   s.opts.MaxTokens,
			Temperature: s.opts.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("llm: complete (attempt %d): %w", attempt, err)
		}
		lastErrs = s.opts.Validate(raw)
		if len(lastErrs) == 0 {
			return raw, nil
		}
		s.log.Warn("model output failed validation",
			slog.Int("attempt", attempt), slog.Int("errors", len(lastErrs)))
		// Include the original prompt and the invalid response so the model
		// has full context.
		prompt = buildRepairPrompt(user, raw, lastErrs)
	}
	return "", fmt.Errorf("%w: %v", ErrInvalidModelOutput, lastErrs)
}

// ValidateJSONObject accepts any response that, after fence stripping and
// escape repair, decodes as a JSON object.
func ValidateJSONObject(raw string) []ValidationError {
	cleaned := StripMarkdownFences(raw)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		if err2 := json.Unmarshal([]byte(FixInvalidJSONEscapes(cleaned)), &obj); err2 != nil {
			return []ValidationError{{Field: "json_parse", Message: err.Error()}}
		}
	}
	return nil
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// StripMarkdownFences removes leading/trailing markdown code fences that LLMs
// sometimes wrap around JSON output. A lone opening fence (truncated
// response) is stripped as well.
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is not
// a valid JSON string escape character ("\/bfnrtu).
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// FixInvalidJSONEscapes replaces invalid JSON escape sequences in s with their
// correctly double-escaped equivalents.
func FixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// ExtractJSONObject returns the outermost {...} span of s, or "" when s has
// no balanced object. Braces inside JSON strings are ignored.
func ExtractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// buildRepairPrompt constructs the hardened retry message.
func buildRepairPrompt(originalUserPrompt, previousResponse string, errs []ValidationError) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "  - %s\n", e.Error())
	}
	sb.WriteString("\nRespond with a single JSON object only. No markdown fences, no commentary, " +
		"no text before or after the object.")
	return sb.String()
}

// providerUserID maps a tenant to the opaque end-user id sent to a
// provider for abuse tracking. Tenant names never leave the process.
func providerUserID(tenant string) string {
	if tenant == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(tenant))
	return "coherence-" + hex.EncodeToString(sum[:8])
}

// ── Provider dispatch ─────────────────────────────────────────────────────────

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Name) {
	case "anthropic", "":
		return newAnthropicProvider(cfg.Model)
	case "openai":
		return newOpenAIProvider(cfg.Model)
	case "google":
		return newGoogleProvider(cfg.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Name)
	}
}

// ── Anthropic provider ───────────────────────────────────────────────────────

// anthropicProvider implements Provider using the Anthropic SDK.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(model string) (Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicProvider{client: client, model: model}, nil
}

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if id := providerUserID(req.Tenant); id != "" {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String(id)}
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content blocks")
	}
	return strings.Join(parts, ""), nil
}
