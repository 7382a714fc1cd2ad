package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	googleoption "google.golang.org/api/option"

	"github.com/dshills/coherence/internal/schema"
)

// googleProvider implements Provider using the Google Generative AI SDK.
// A new genai.Client is created per Complete call so that the caller's
// context governs the connection. Gemini has no end-user field, so the
// tenant is not forwarded.
type googleProvider struct {
	apiKey string
	model  string
}

func newGoogleProvider(model string) (Provider, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llm: GOOGLE_API_KEY environment variable not set")
	}
	return &googleProvider{apiKey: apiKey, model: model}, nil
}

// verdictSchema constrains Gemini output to the clause verdict object.
// Severity is optional here; the decoder requires it for non-compliant
// verdicts and the service retries when it is missing.
func verdictSchema() *genai.Schema {
	sevs := make([]string, 0, 4)
	for _, s := range schema.Severities() {
		sevs = append(sevs, string(s))
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"compliant":      {Type: genai.TypeBoolean},
			"reasoning":      {Type: genai.TypeString},
			"severity":       {Type: genai.TypeString, Enum: sevs},
			"evidence_quote": {Type: genai.TypeString},
		},
		Required: []string{"compliant", "reasoning"},
	}
}

func (p *googleProvider) Complete(ctx context.Context, req Request) (string, error) {
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(p.apiKey))
	if err != nil {
		return "", fmt.Errorf("google: genai client: %w", err)
	}
	defer client.Close()

	m := client.GenerativeModel(p.model)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.System)},
	}
	m.SetMaxOutputTokens(int32(req.MaxTokens))
	m.SetTemperature(float32(req.Temperature))
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = verdictSchema()

	resp, err := m.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return "", fmt.Errorf("google: generate content: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("google: clause review blocked: %s", resp.PromptFeedback.BlockReason)
	}

	// Only the first candidate is read; the rest would be alternative
	// verdicts and concatenating them breaks the JSON.
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("google: response contained no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("google: response contained no text content")
	}
	return sb.String(), nil
}
