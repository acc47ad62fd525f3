package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	equity "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/equity/service"
	sizing "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/sizing/service"
	userstate "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/user_state/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/notify"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"go.uber.org/fx"
)

// StatusText — ответ на /status.
func StatusText(m equity.Metrics, dailyProfit float64, dailyTrades int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💼 equity %.2f (avg %.2f, peak %.2f, dd %.2f%%)\n",
		m.CurrentEquity, m.AverageEquity, m.PeakEquity, m.DrawdownPct)
	fmt.Fprintf(&b, "📅 today: pnl %.2f, trades %d\n", dailyProfit, dailyTrades)
	fmt.Fprintf(&b, "🔢 trades %d, losses in a row %d", m.TotalTrades, m.ConsecutiveLosses)
	if m.InWarmup {
		b.WriteString(", warm-up")
	}
	if m.ShouldStop {
		b.WriteString("\n🛑 circuit breaker active")
	}
	return b.String()
}

// NewNotifier — Telegram при наличии токена, иначе лог.
func NewNotifier(
	lc fx.Lifecycle,
	cfg *config.Config,
	view userstate.View,
	tracker *equity.Tracker,
	sizer *sizing.Sizer,
) notify.Notifier {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Warn("[TELEGRAM] token or chat_id not set, notifications go to log")
		return notify.NewStdout()
	}

	status := func(ctx context.Context) string {
		profit, trades := sizer.Daily()
		return StatusText(tracker.Metrics(), profit, trades)
	}
	t, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, view, status)
	if err != nil {
		logger.Error("[TELEGRAM] init failed, notifications go to log: %v", err)
		return notify.NewStdout()
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return t.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			t.Stop()
			return nil
		},
	})
	return t
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(NewNotifier),
	)
}
