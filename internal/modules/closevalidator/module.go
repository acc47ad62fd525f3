package closevalidator

import (
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/closevalidator/service"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"

	"go.uber.org/fx"
)

func NewValidator(cfg *config.Config) *service.Validator {
	c := cfg.Close
	return service.NewValidator(service.Config{
		EmergencyStopPct: c.EmergencyStopPct,
		TakeProfitPct:    c.TakeProfitPct,
		MinAgeHours:      c.MinAgeHours,
		SevereLossPct:    c.SevereLossPct,
		ModerateLossPct:  c.ModerateLossPct,
		SevereBoost:      c.SevereBoost,
		ModerateBoost:    c.ModerateBoost,
		MinConfidence:    c.MinConfidence,
	})
}

func Module() fx.Option {
	return fx.Module("close_validator",
		fx.Provide(NewValidator),
	)
}
