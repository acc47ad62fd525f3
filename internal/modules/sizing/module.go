package sizing

import (
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	equity "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/equity/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/sizing/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"go.uber.org/fx"
)

const stateFile = "strategy_state.json"

func NewSizer(cfg *config.Config, tracker *equity.Tracker) *service.Sizer {
	loc, err := time.LoadLocation(cfg.Sizing.Timezone)
	if err != nil {
		logger.Warn("[SIZING] unknown timezone %q, using UTC: %v", cfg.Sizing.Timezone, err)
		loc = time.UTC
	}

	s := cfg.Sizing
	return service.NewSizer(service.Config{
		DailyTargetPct:        s.DailyTargetPct,
		MinExpectedMove:       s.MinExpectedMove,
		MinConfidence:         s.MinConfidence,
		BaseLeverage:          s.BaseLeverage,
		MaxLeverage:           s.MaxLeverage,
		MinLeverage:           s.MinLeverage,
		PeakProtectMultiplier: s.PeakProtectMultiplier,
		AggressiveMultiplier:  s.AggressiveMultiplier,
		DrawdownThreshold:     s.DrawdownThreshold,
		MaxCombinedMultiplier: s.MaxCombinedMultiplier,
		GrowthTarget:          s.GrowthTarget,
		MaxPositionPct:        s.MaxPositionPct,
		MinNotional:           s.MinNotional,
		MaxDailyTrades:        s.MaxDailyTrades,
		Location:              loc,
	}, tracker, service.NewFileStateStore(cfg.DataPath(stateFile)))
}

func Module() fx.Option {
	return fx.Module("sizing",
		fx.Provide(NewSizer),
	)
}
