package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single role-tagged conversation turn.
type Message struct {
	Role    string
	Content string
}

type StreamChunk struct {
	Content   string
	ModelUsed string
	Done      bool
	Err       error
}

// ChatBackend is the transport to a generation service. Implementations are
// opaque and individually failable; retry and fallback live in the Gateway.
type ChatBackend interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
	Stream(ctx context.Context, model string, messages []Message) (<-chan StreamChunk, error)
}

type OpenAIBackend struct {
	client      *openai.Client
	temperature float32
	maxTokens   int
}

// NewOpenAIBackend talks to any OpenAI-compatible chat endpoint. baseURL
// selects the provider (Groq, OpenAI, a local server).
func NewOpenAIBackend(apiKey, baseURL string, temperature float32, maxTokens int) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(cfg),
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (b *OpenAIBackend) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := b.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       model,
			Messages:    toOpenAIMessages(messages),
			Temperature: b.temperature,
			MaxTokens:   b.maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (b *OpenAIBackend) Stream(ctx context.Context, model string, messages []Message) (<-chan StreamChunk, error) {
	stream, err := b.client.CreateChatCompletionStream(
		ctx,
		openai.ChatCompletionRequest{
			Model:       model,
			Messages:    toOpenAIMessages(messages),
			Temperature: b.temperature,
			MaxTokens:   b.maxTokens,
			Stream:      true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}

	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- StreamChunk{ModelUsed: model, Done: true}
				return
			}
			if err != nil {
				out <- StreamChunk{ModelUsed: model, Err: err, Done: true}
				return
			}

			if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
				select {
				case out <- StreamChunk{Content: resp.Choices[0].Delta.Content, ModelUsed: model}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			role = RoleUser
		}
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return converted
}
