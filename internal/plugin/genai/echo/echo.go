// Package echo provides a completion provider that mirrors the last user turn
// back. Used by tests and local development when no real model is configured.
package echo

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/model"
	registrygenai "github.com/chirino/chat-service/internal/registry/genai"
)

func init() {
	registrygenai.Register(registrygenai.Plugin{
		Name: "echo",
		Loader: func(ctx context.Context) (registrygenai.Provider, error) {
			return &provider{}, nil
		},
	})
}

type provider struct{}

func (p *provider) DefaultModel() string { return "echo" }

func (p *provider) Complete(_ context.Context, history []registrygenai.Turn, _ string) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			return fmt.Sprintf("echo: %s", history[i].Content), nil
		}
	}
	return "echo:", nil
}

var _ registrygenai.Provider = (*provider)(nil)
