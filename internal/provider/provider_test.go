package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/MEKXH/warden/internal/config"
)

func TestNewChatModel_NoProvider(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.DefaultConfig())
	if err == nil || !strings.Contains(err.Error(), "no provider configured") {
		t.Fatalf("expected no provider error, got %v", err)
	}
}

func TestProviderFromModel(t *testing.T) {
	tests := map[string]providerName{
		"openai/gpt-4o":               providerOpenAI,
		"anthropic/claude-sonnet-4-5": providerClaude,
		"claude/claude-3-5-sonnet":    providerClaude,
		"deepseek/deepseek-chat":      providerDeepSeek,
		"ollama/llama3.1":             providerOllama,
		"openrouter/auto":             providerOpenRouter,
		"unknown/model":               "",
		"no-prefix-model":             "",
	}
	for model, want := range tests {
		if got := providerFromModel(model); got != want {
			t.Fatalf("providerFromModel(%q): expected %q, got %q", model, want, got)
		}
	}
}

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*config.Config)
		model     string
		want      providerName
		wantKey   string
		wantErr   bool
	}{
		{
			name: "prefix wins over fallback order",
			configure: func(c *config.Config) {
				c.Providers.OpenRouter.APIKey = "or-key"
				c.Providers.OpenAI.APIKey = "oa-key"
			},
			model:   "openai/gpt-4o",
			want:    providerOpenAI,
			wantKey: "oa-key",
		},
		{
			name: "no prefix walks fallback order",
			configure: func(c *config.Config) {
				c.Providers.Ollama.BaseURL = "http://127.0.0.1:11434"
				c.Providers.DeepSeek.APIKey = "ds-key"
			},
			model: "no-prefix-model",
			want:  providerDeepSeek,
		},
		{
			name:      "unconfigured prefix falls back",
			configure: func(c *config.Config) { c.Providers.OpenRouter.APIKey = "or-key" },
			model:     "anthropic/claude-sonnet-4-5",
			want:      providerOpenRouter,
		},
		{
			name:      "ollama needs a base url",
			configure: func(c *config.Config) {},
			model:     "ollama/llama3.1",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.configure(cfg)
			got, p, err := resolveProvider(cfg, tt.model)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got provider %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveProvider: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if tt.wantKey != "" && p.APIKey != tt.wantKey {
				t.Fatalf("expected key %q, got %q", tt.wantKey, p.APIKey)
			}
		})
	}
}

func TestAdvisorModelName(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Model = "openai/gpt-4o"
	if got := advisorModelName(cfg); got != "openai/gpt-4o" {
		t.Fatalf("expected primary model, got %q", got)
	}

	cfg.Safety.AdvisorModel = "  ollama/llama3.1 "
	if got := advisorModelName(cfg); got != "ollama/llama3.1" {
		t.Fatalf("expected advisor model, got %q", got)
	}
}

func TestName(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.Claude.APIKey = "claude-key"
	name, err := Name(cfg)
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if name != "claude" {
		t.Fatalf("expected %q, got %q", "claude", name)
	}
}

func TestStripPrefix(t *testing.T) {
	for in, want := range map[string]string{"openai/gpt-4o": "gpt-4o", "llama3": "llama3"} {
		if got := stripPrefix(in); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
