package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// einoBackend adapts any eino chat model to ModelBackend
type einoBackend struct {
	name  string
	model model.BaseChatModel
}

func NewEinoBackend(name string, m model.BaseChatModel) ModelBackend {
	return &einoBackend{name: name, model: m}
}

// NewOpenAIBackend serves OpenAI and OpenAI-compatible endpoints.
func NewOpenAIBackend(ctx context.Context, apiKey, baseURL, modelID string) (ModelBackend, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: baseURL,
		Model:   modelID,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}
	return NewEinoBackend("openai/"+modelID, chatModel), nil
}

func NewGeminiBackend(ctx context.Context, apiKey, modelID string) (ModelBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini chat model: %w", err)
	}
	return NewEinoBackend("gemini/"+modelID, chatModel), nil
}

func (b *einoBackend) Name() string { return b.name }

func (b *einoBackend) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]*schema.Message, 0, len(p.Messages)+1)
	if p.System != "" {
		msgs = append(msgs, schema.SystemMessage(p.System))
	}
	for _, m := range p.Messages {
		if m.Role == RoleAssistant {
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		} else {
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}

	opts := []model.Option{model.WithMaxTokens(p.MaxTokens)}
	if p.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(p.Temperature)))
	}
	resp, err := b.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("nil response from chat model")
	}
	return resp.Content, nil
}
