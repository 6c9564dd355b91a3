package oracle

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Message is one prompt entry, already flattened to the chat roles the
// completion API understands.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Completion is the raw result of one completion attempt.
type Completion struct {
	Content          string
	PromptTokens     int64
	CompletionTokens int64
}

// Completer abstracts the completion API so the adapter can be tested with a
// scripted backend.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

// OpenAIBackend drives the OpenAI Chat Completions API in JSON mode.
type OpenAIBackend struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAIBackend creates the backend with an explicit API key.
func NewOpenAIBackend(apiKey, model string, temperature float64) *OpenAIBackend {
	return &OpenAIBackend{
		client:      openai.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
	}
}

// Complete performs one blocking completion call.
func (b *OpenAIBackend) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       b.model,
		Temperature: openai.Float(b.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
