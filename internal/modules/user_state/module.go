package user_state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	hl "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_client/service"
	ws "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_ws/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/user_state/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/notify"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"go.uber.org/fx"
)

func NewReconciler(cfg *config.Config, stream *ws.Client) *service.Reconciler {
	return service.NewReconciler(cfg.Exchange.AccountAddress, stream)
}

// FillMessage — текст уведомления о филле живого аккаунта.
func FillMessage(f models.Fill) string {
	msg := fmt.Sprintf("💱 fill %s %s %.6g @ %.6g", f.Side, f.Coin, f.Size, f.Price)
	if f.ClosedPnl != 0 {
		msg += fmt.Sprintf(", closed pnl %.2f", f.ClosedPnl)
	}
	return msg
}

// NewView — единственный источник позиций и баланса для трейдера, watchdog и /positions.
func NewView(r *service.Reconciler) service.View {
	return r.View()
}

// Run: с адресом аккаунта снапшот через /info и пользовательские каналы стрима,
// без адреса состояние берётся из бумажной книги.
func Run(
	lc fx.Lifecycle,
	r *service.Reconciler,
	client *hl.Client,
	paper *hl.PaperExecutor,
	cfg *config.Config,
	notifier notify.Notifier,
) {
	if cfg.Exchange.AccountAddress == "" {
		runPaperFeed(lc, r, paper, cfg.Exchange.Paper.SyncInterval)
		return
	}
	var fillsID service.ListenerID
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			fillsID = r.AddFillListener(func(f models.Fill) { notifier.Send(FillMessage(f)) })
			if err := r.LoadInitialSnapshot(ctx, client); err != nil {
				logger.Warn("[USER_STATE] %v, waiting for stream", err)
			}
			return r.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			r.RemoveListener(fillsID)
			r.Stop()
			return nil
		},
	})
}

const paperSyncTimeout = 10 * time.Second

// runPaperFeed: полный sync после каждой бумажной сделки и по таймеру (PnL по mid).
func runPaperFeed(lc fx.Lifecycle, r *service.Reconciler, paper *hl.PaperExecutor, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	syncNow := func() {
		sctx, scancel := context.WithTimeout(ctx, paperSyncTimeout)
		defer scancel()
		if err := r.Sync(sctx, paper); err != nil && ctx.Err() == nil {
			logger.Warn("[USER_STATE] paper %v", err)
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			paper.OnChange(syncNow)
			syncNow()
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.SyncLoop(ctx, paper, interval)
			}()
			logger.Info("[USER_STATE] paper book feed every %s", interval)
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
	return fx.Module("user_state",
		fx.Provide(NewReconciler, NewView),
		fx.Invoke(Run),
	)
}
