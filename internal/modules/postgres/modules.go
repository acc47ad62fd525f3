package postgres

import (
	"context"
	"fmt"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/db"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"go.uber.org/fx"
)

// NewTxManager — nil, если db_dsn пустой: журнал тогда живёт в памяти.
func NewTxManager(lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
	if cfg.DB == "" {
		logger.Warn("[POSTGRES] db_dsn is empty, journal falls back to memory")
		return nil, nil
	}
	poolMaster, err := db.NewPool(context.Background(), db.PoolConfig{
		DSN:      cfg.DB,
		MaxConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}
	manager := db.NewPgTxManager(poolMaster)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return poolMaster.Ping(ctx)
		},
		OnStop: func(ctx context.Context) error {
			manager.Close()
			return nil
		},
	})
	return manager, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewTxManager,
		),
	)
}
