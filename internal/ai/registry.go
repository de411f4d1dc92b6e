package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/suPer8Hu/gemini-chat/internal/config"
)

var ErrUnknownProvider = errors.New("unknown ai provider")

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return f(ctx, model)
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewRegistryFromConfig registers every built-in provider with the endpoints
// and credentials from cfg. The model argument of Get overrides the
// configured model when non-empty.
func NewRegistryFromConfig(cfg config.Config) *Registry {
	reg := NewRegistry()
	pick := func(model, fallback string) string {
		if m := strings.TrimSpace(model); m != "" {
			return m
		}
		return fallback
	}

	reg.Register("gemini", func(ctx context.Context, model string) (Provider, error) {
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("gemini: GEMINI_API_KEY is not set")
		}
		return NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, pick(model, cfg.GeminiModel)), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider(cfg.OllamaBaseURL, pick(model, cfg.OllamaModel)), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("openrouter: OPENROUTER_API_KEY is not set")
		}
		return NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			pick(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

// NewFromConfig builds the provider named by cfg.AIProvider.
func NewFromConfig(ctx context.Context, cfg config.Config) (Provider, error) {
	return NewRegistryFromConfig(cfg).Get(ctx, cfg.AIProvider, "")
}
