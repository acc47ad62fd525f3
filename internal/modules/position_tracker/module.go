package position_tracker

import (
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/position_tracker/service"

	"go.uber.org/fx"
)

func NewTracker(cfg *config.Config) *service.Tracker {
	return service.NewTracker(cfg.DataPath("position_tracker.json"), nil)
}

func Module() fx.Option {
	return fx.Module("position_tracker",
		fx.Provide(NewTracker),
	)
}
