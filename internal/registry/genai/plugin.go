package genai

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/model"
)

// Turn is a single conversation turn handed to a provider as history.
type Turn struct {
	Role    model.Role
	Content string
}

// Provider produces an assistant completion from conversation history. Request
// construction and streaming token handling live behind this interface; the
// engine only supplies resolved history and stores the returned text.
type Provider interface {
	// Complete returns the assistant reply for the given history.
	Complete(ctx context.Context, history []Turn, modelName string) (string, error)
	// DefaultModel returns the model used when the chat does not name one.
	DefaultModel() string
}

// Loader creates a Provider from config.
type Loader func(ctx context.Context) (Provider, error)

// Plugin represents a completion provider plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named provider plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown provider %q; valid: %v", name, Names())
}
