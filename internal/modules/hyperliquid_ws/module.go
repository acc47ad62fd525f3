package hyperliquid_ws

import (
	"context"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_ws/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/notify"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/metrics"

	"go.uber.org/fx"
)

func NewClient(cfg *config.Config) *service.Client {
	s := cfg.Stream
	return service.NewClient(service.Config{
		URL:                  cfg.Exchange.WSURL,
		AutoReconnect:        s.AutoReconnect,
		MaxReconnectAttempts: s.MaxReconnectAttempts,
		Backoff: service.Backoff{
			Initial:    s.InitialDelay,
			Max:        s.MaxDelay,
			Multiplier: s.Multiplier,
		},
		PingInterval: s.PingInterval,
	}, nil)
}

// TrackState пишет состояние сессии в метрики; обрыв уходит в нотифайер.
func TrackState(c *service.Client, notifier notify.Notifier) {
	names := service.StateNames()
	metrics.SetStreamState(c.StateName(), names)

	// текущее состояние, а не аргумент: хуки из разных горутин могут прийти не по порядку
	c.OnStateChange(func(service.State) {
		metrics.SetStreamState(c.StateName(), names)
	})
	c.OnDisconnect(func(clean bool) {
		if clean {
			return
		}
		metrics.StreamReconnects.Inc()
		if notifier != nil {
			notifier.Send("⚠️ exchange stream dropped, reconnecting")
		}
	})
}

// Module поднимает WS-сессию Hyperliquid. Подписки добавляют потребители.
func Module() fx.Option {
	return fx.Module("hyperliquid_ws",
		fx.Provide(NewClient),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client, notifier notify.Notifier) {
			TrackState(c, notifier)
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					c.Connect()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					c.Close()
					return nil
				},
			})
		}),
	)
}
