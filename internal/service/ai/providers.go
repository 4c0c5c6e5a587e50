package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"lexchat/internal/config"
	"lexchat/internal/metrics"
)

// Provider names accepted in ai.provider.
const (
	ProviderOpenAI           = "openai"
	ProviderClaude           = "claude"
	ProviderBedrock          = "bedrock"
	ProviderGemini           = "gemini"
	ProviderOpenAICompatible = "openai_compatible"
)

// NewService builds the chat and title models of the configured provider.
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	provider := cfg.AI.Provider
	provCfg, ok := cfg.ProviderFor(provider)
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second

	chat, err := newChatModel(ctx, provider, provCfg, cfg.AI.ChatModel, timeout)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	titler := chat
	if cfg.AI.TitleModel != "" && cfg.AI.TitleModel != cfg.AI.ChatModel {
		titler, err = newChatModel(ctx, provider, provCfg, cfg.AI.TitleModel, timeout)
		if err != nil {
			return nil, fmt.Errorf("init title model: %w", err)
		}
	}

	return New(chat, titler, Options{
		ChatModelName:  cfg.AI.ChatModel,
		TitleModelName: cfg.AI.TitleModel,
		Timeout:        timeout,
		RequestsPerSec: cfg.AI.RequestsPerSec,
		Pricing:        cfg.AI.Pricing,
		Logger:         logger,
		Metrics:        m,
	}), nil
}

func newChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName string, timeout time.Duration) (model.BaseChatModel, error) {
	if modelName == "" {
		modelName = provCfg.Model
	}
	if modelName == "" {
		return nil, fmt.Errorf("no model configured for provider %s", provider)
	}

	switch provider {
	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
			Timeout: timeout,
		})
	case ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 4000,
		})
	case ProviderBedrock:
		region := provCfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return claude.NewChatModel(ctx, &claude.Config{
			ByBedrock:       true,
			AccessKey:       provCfg.AccessKey,
			SecretAccessKey: provCfg.SecretKey,
			Region:          region,
			Model:           modelName,
			MaxTokens:       4000,
		})
	case ProviderOpenAICompatible:
		return newCompatModel(provCfg.BaseURL, provCfg.APIKey, modelName, timeout)
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}
