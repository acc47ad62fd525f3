package trader

import (
	"context"
	"sync"

	ai "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/ai/service"
	validator "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/closevalidator/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	equity "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/equity/service"
	hl "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_client/service"
	positions "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/position_tracker/service"
	sizing "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/sizing/service"
	strategy "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/strategy/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/trader/service"
	userstate "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/user_state/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/notify"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"go.uber.org/fx"
)

func NewTrader(
	cfg *config.Config,
	client *hl.Client,
	view userstate.View,
	paper *hl.PaperExecutor,
	decider *ai.Decider,
	cv *validator.Validator,
	sizer *sizing.Sizer,
	entries *positions.Tracker,
	tracker *equity.Tracker,
	notifier notify.Notifier,
	indicators strategy.Config,
) *service.Trader {
	t := cfg.Trader
	return service.NewTrader(service.Config{
		Symbols:        t.Symbols,
		Excluded:       t.Excluded,
		Interval:       t.Interval,
		CandleInterval: t.CandleInterval,
		CandleBars:     t.CandleBars,
		Concurrency:    t.Concurrency,
		ConfirmEntries: t.ConfirmEntries,
		ConfirmTimeout: t.ConfirmTimeout,
		Indicators:     indicators,
	}, client, view, paper, decider, cv, sizer, entries, tracker, notifier)
}

func Run(lc fx.Lifecycle, cfg *config.Config, t *service.Trader, decider *ai.Decider) {
	if !cfg.Trader.Enabled {
		logger.Info("[TRADER] disabled")
		return
	}
	if !decider.Available() {
		logger.Warn("[TRADER] no reasoning provider available, only emergency stops will close positions")
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.Run(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("trader",
		fx.Provide(NewTrader),
		fx.Invoke(Run),
	)
}
