package llm

import (
	"context"
	"fmt"
	"os"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// openaiProvider implements Provider using the OpenAI SDK. Requests run in
// JSON mode, so replies are a bare object the verdict decoder can read.
type openaiProvider struct {
	client openai.Client
	model  string
}

func newOpenAIProvider(model string) (Provider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llm: OPENAI_API_KEY environment variable not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiProvider{client: client, model: model}, nil
}

func (p *openaiProvider) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openaiParams(p.model, req))
	if err != nil {
		return "", fmt.Errorf("openai: chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("openai: model refused clause review: %s", choice.Message.Refusal)
	}
	// A reply cut off at the token limit is still returned; validation
	// rejects it and the service retries.
	if choice.Message.Content == "" {
		return "", fmt.Errorf("openai: response contained no content (finish reason %q)", choice.FinishReason)
	}
	return choice.Message.Content, nil
}

// openaiParams builds a JSON-mode chat request for one clause review.
func openaiParams(model string, req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if id := providerUserID(req.Tenant); id != "" {
		params.User = openai.String(id)
	}
	return params
}
