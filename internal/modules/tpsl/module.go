package tpsl

import (
	"context"
	"sync"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	hl "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_client/service"
	positions "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/position_tracker/service"
	sizing "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/sizing/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/tpsl/service"
	userstate "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/user_state/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/notify"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"go.uber.org/fx"
)

func NewWatchdog(
	cfg *config.Config,
	view userstate.View,
	paper *hl.PaperExecutor,
	sizer *sizing.Sizer,
	tracker *positions.Tracker,
	notifier notify.Notifier,
) *service.Watchdog {
	return service.NewWatchdog(service.Config{
		Symbols:        cfg.Trader.Symbols,
		Excluded:       cfg.Trader.Excluded,
		Interval:       cfg.TPSL.Interval,
		TakeProfitPct:  cfg.TPSL.TakeProfitPct,
		StopLossPct:    cfg.TPSL.StopLossPct,
		CashReservePct: cfg.TPSL.CashReservePct,
	}, view, paper, sizer, tracker, notifier)
}

// Run — отдельная горутина на время жизни приложения.
func Run(lc fx.Lifecycle, cfg *config.Config, w *service.Watchdog) {
	if !cfg.TPSL.Enabled {
		logger.Info("[TPSL] disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
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
	return fx.Module("tpsl",
		fx.Provide(NewWatchdog),
		fx.Invoke(Run),
	)
}
