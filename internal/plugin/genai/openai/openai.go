// Package openai provides a completion provider backed by an OpenAI-compatible
// chat completions API.
package openai

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrygenai "github.com/chirino/chat-service/internal/registry/genai"
	goopenai "github.com/sashabaranov/go-openai"
)

func init() {
	registrygenai.Register(registrygenai.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registrygenai.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai provider: CHAT_SERVICE_GENAI_OPENAI_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	return &provider{
		client:       goopenai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.OpenAIModelName,
	}, nil
}

type provider struct {
	client       *goopenai.Client
	defaultModel string
}

func (p *provider) DefaultModel() string { return p.defaultModel }

func (p *provider) Complete(ctx context.Context, history []registrygenai.Turn, modelName string) (string, error) {
	if modelName == "" {
		modelName = p.defaultModel
	}
	messages := make([]goopenai.ChatCompletionMessage, 0, len(history))
	for _, turn := range history {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    apiRole(turn.Role),
			Content: turn.Content,
		})
	}
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func apiRole(r model.Role) string {
	switch r {
	case model.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	case model.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	default:
		return goopenai.ChatMessageRoleUser
	}
}

var _ registrygenai.Provider = (*provider)(nil)
