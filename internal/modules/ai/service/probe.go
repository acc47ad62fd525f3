package service

import (
	"context"
	"errors"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

type Config struct {
	Provider      string
	Model         string
	OpenAIKey     string
	OpenAIBaseURL string
	DeepSeekKey   string
	DeepSeekModel string
	MaxTokens     int
}

var errNoKey = errors.New("api key not set")

// Factory строит модель провайдера из конфига.
type Factory func(ctx context.Context, cfg Config) (model.BaseChatModel, error)

// Factories — известные провайдеры.
var Factories = map[string]Factory{
	ProviderOpenAI: func(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
		if cfg.OpenAIKey == "" {
			return nil, errNoKey
		}
		maxTokens := cfg.MaxTokens
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKey:    cfg.OpenAIKey,
			Model:     cfg.Model,
			MaxTokens: &maxTokens,
		})
	},
	ProviderDeepSeek: func(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
		if cfg.DeepSeekKey == "" {
			return nil, errNoKey
		}
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekKey,
			Model:     cfg.DeepSeekModel,
			MaxTokens: cfg.MaxTokens,
		})
	},
}

// Probe регистрирует все известные провайдеры; те, что не поднялись, остаются недоступными.
func Probe(ctx context.Context, cfg Config, factories map[string]Factory) *Registry {
	reg := NewRegistry(cfg.Provider)
	for name, build := range factories {
		m, err := build(ctx, cfg)
		if err != nil {
			logger.Warn("[AI] provider %s unavailable: %v", name, err)
			reg.Register(NewChatProvider(name, nil, err))
			continue
		}
		reg.Register(NewChatProvider(name, m, nil))
	}
	logger.Info("[AI] available providers: %v (preferred %s)", reg.Available(), cfg.Provider)
	return reg
}
