package config

import (
	"strings"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"go.uber.org/fx"
)

// LogSummary — одна строка с режимом запуска. Исполнение всегда бумажное.
func LogSummary(cfg *Config) {
	logger.Info("[CONFIG] symbols=%s account=%t tpsl=%t trader=%t journal=%t",
		strings.Join(cfg.ActiveSymbols(), ","), cfg.Exchange.AccountAddress != "",
		cfg.TPSL.Enabled, cfg.Trader.Enabled, cfg.DB != "")
}

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
		fx.Invoke(LogSummary),
	)
}
