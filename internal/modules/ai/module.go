package ai

import (
	"context"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/ai/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"

	"go.uber.org/fx"
)

// NewRegistry пробует поднять всех известных провайдеров по ключам из конфига.
func NewRegistry(cfg *config.Config) *service.Registry {
	return service.Probe(context.Background(), service.Config{
		Provider:      cfg.AI.Provider,
		Model:         cfg.AI.Model,
		OpenAIKey:     cfg.AI.OpenAIKey,
		OpenAIBaseURL: cfg.AI.OpenAIBaseURL,
		DeepSeekKey:   cfg.AI.DeepSeekKey,
		DeepSeekModel: cfg.AI.DeepSeekModel,
		MaxTokens:     cfg.AI.MaxTokens,
	}, service.Factories)
}

func Module() fx.Option {
	return fx.Module("ai",
		fx.Provide(
			NewRegistry,
			service.NewDecider,
		),
	)
}
