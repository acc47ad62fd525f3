package strategy

import (
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/strategy/service"

	"go.uber.org/fx"
)

// NewConfig — периоды индикаторов для сводки модели.
func NewConfig(cfg *config.Config) service.Config {
	s := cfg.Strategy
	return service.Config{
		EMAShort:      s.EMAShort,
		EMALong:       s.EMALong,
		RSIPeriod:     s.RSIPeriod,
		RSIOverbought: s.RSIOverbought,
		RSIOversold:   s.RSIOversold,
		DonPeriod:     s.DonPeriod,
	}
}

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(NewConfig),
	)
}
