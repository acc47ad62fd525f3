package journal

import (
	"context"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/journal/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/db"

	"go.uber.org/fx"
)

// NewJournal — pg, если есть пул, иначе в памяти.
func NewJournal(lc fx.Lifecycle, tx *db.PgTxManager) service.Journal {
	if tx == nil {
		return service.NewMemoryJournal(500)
	}
	j := service.NewPgJournal(tx)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return j.EnsureSchema(ctx)
		},
	})
	return j
}

func Module() fx.Option {
	return fx.Module("journal",
		fx.Provide(NewJournal),
	)
}
