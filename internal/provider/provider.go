package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/MEKXH/warden/internal/config"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

type providerName string

const (
	providerOpenRouter providerName = "openrouter"
	providerClaude     providerName = "claude"
	providerOpenAI     providerName = "openai"
	providerDeepSeek   providerName = "deepseek"
	providerOllama     providerName = "ollama"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
	ollamaBaseURL     = "http://localhost:11434"
)

// fallbackOrder is used when the model name carries no provider prefix.
var fallbackOrder = []providerName{
	providerOpenRouter,
	providerClaude,
	providerOpenAI,
	providerDeepSeek,
	providerOllama,
}

// NewChatModel creates the primary chat model from configuration.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	return NewChatModelFor(ctx, cfg, cfg.Agent.Model)
}

// NewAdvisorModel creates the model used by the safety advisor. It falls
// back to the primary model when no advisor model is configured.
func NewAdvisorModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	return NewChatModelFor(ctx, cfg, advisorModelName(cfg))
}

func advisorModelName(cfg *config.Config) string {
	if name := strings.TrimSpace(cfg.Safety.AdvisorModel); name != "" {
		return name
	}
	return cfg.Agent.Model
}

// NewChatModelFor creates a chat model for a specific model name.
func NewChatModelFor(ctx context.Context, cfg *config.Config, modelName string) (model.BaseChatModel, error) {
	name, p, err := resolveProvider(cfg, modelName)
	if err != nil {
		return nil, err
	}
	a := cfg.Agent
	switch name {
	case providerOpenRouter:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:       modelName,
			APIKey:      p.APIKey,
			BaseURL:     orDefault(p.BaseURL, openRouterBaseURL),
			Temperature: toFloat32Ptr(a.Temperature),
			MaxTokens:   toIntPtr(a.MaxTokens),
		})
	case providerClaude:
		ccfg := &claude.Config{
			APIKey:      p.APIKey,
			Model:       stripPrefix(modelName),
			MaxTokens:   a.MaxTokens,
			Temperature: toFloat32Ptr(a.Temperature),
		}
		if p.BaseURL != "" {
			baseURL := p.BaseURL
			ccfg.BaseURL = &baseURL
		}
		return claude.NewChatModel(ctx, ccfg)
	case providerOpenAI:
		ocfg := &openai.ChatModelConfig{
			Model:       stripPrefix(modelName),
			APIKey:      p.APIKey,
			Temperature: toFloat32Ptr(a.Temperature),
			MaxTokens:   toIntPtr(a.MaxTokens),
		}
		if p.BaseURL != "" {
			ocfg.BaseURL = p.BaseURL
		}
		return openai.NewChatModel(ctx, ocfg)
	case providerDeepSeek:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:       stripPrefix(modelName),
			APIKey:      p.APIKey,
			BaseURL:     orDefault(p.BaseURL, deepSeekBaseURL),
			Temperature: toFloat32Ptr(a.Temperature),
			MaxTokens:   toIntPtr(a.MaxTokens),
		})
	case providerOllama:
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: orDefault(p.BaseURL, ollamaBaseURL),
			Model:   stripPrefix(modelName),
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
}

// Name reports which provider the configuration resolves to.
func Name(cfg *config.Config) (string, error) {
	name, _, err := resolveProvider(cfg, cfg.Agent.Model)
	return string(name), err
}

// resolveProvider prefers the provider named by the model prefix when it is
// configured, then walks fallbackOrder.
func resolveProvider(cfg *config.Config, modelName string) (providerName, config.ProviderConfig, error) {
	if preferred := providerFromModel(modelName); preferred != "" {
		if p, ok := configured(cfg, preferred); ok {
			return preferred, p, nil
		}
	}
	for _, name := range fallbackOrder {
		if p, ok := configured(cfg, name); ok {
			return name, p, nil
		}
	}
	return "", config.ProviderConfig{}, fmt.Errorf("no provider configured: set api_key for at least one provider")
}

func configured(cfg *config.Config, name providerName) (config.ProviderConfig, bool) {
	p := providerConfig(cfg, name)
	if name == providerOllama {
		return p, strings.TrimSpace(p.BaseURL) != ""
	}
	return p, strings.TrimSpace(p.APIKey) != ""
}

func providerConfig(cfg *config.Config, name providerName) config.ProviderConfig {
	switch name {
	case providerOpenRouter:
		return cfg.Providers.OpenRouter
	case providerClaude:
		return cfg.Providers.Claude
	case providerOpenAI:
		return cfg.Providers.OpenAI
	case providerDeepSeek:
		return cfg.Providers.DeepSeek
	case providerOllama:
		return cfg.Providers.Ollama
	}
	return config.ProviderConfig{}
}

func providerFromModel(modelName string) providerName {
	prefix, _, ok := strings.Cut(strings.TrimSpace(modelName), "/")
	if !ok {
		return ""
	}
	switch strings.ToLower(prefix) {
	case "anthropic", "claude":
		return providerClaude
	case "openai":
		return providerOpenAI
	case "deepseek":
		return providerDeepSeek
	case "ollama":
		return providerOllama
	case "openrouter":
		return providerOpenRouter
	}
	return ""
}

// stripPrefix drops a provider prefix for providers that expect bare model
// names. OpenRouter keeps the full vendor/model form.
func stripPrefix(modelName string) string {
	if _, rest, ok := strings.Cut(modelName, "/"); ok {
		return rest
	}
	return modelName
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
