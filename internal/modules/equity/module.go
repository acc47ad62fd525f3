package equity

import (
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/equity/service"

	"go.uber.org/fx"
)

const historyFile = "equity_history.json"

func NewTracker(cfg *config.Config) *service.Tracker {
	return service.NewTracker(service.Config{
		Lookback:             cfg.Equity.Lookback,
		WarmupTrades:         cfg.Equity.WarmupTrades,
		EfficiencyLength:     cfg.Equity.EfficiencyLength,
		SMAMin:               cfg.Equity.SMAMin,
		SMAMax:               cfg.Equity.SMAMax,
		MaxConsecutiveLosses: cfg.Equity.MaxConsecutiveLosses,
		MaxDrawdownPct:       cfg.Equity.MaxDrawdownPct,
	}, service.NewFileStore(cfg.DataPath(historyFile)))
}

// Module — один трекер эквити на процесс.
func Module() fx.Option {
	return fx.Module("equity",
		fx.Provide(NewTracker),
	)
}
