package hyperliquid_client

import (
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_client/service"
	journal "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/journal/service"

	"go.uber.org/fx"
)

func NewClient(cfg *config.Config) *service.Client {
	return service.NewClient(service.Config{
		BaseURL:           cfg.Exchange.InfoURL,
		Address:           cfg.Exchange.AccountAddress,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Timeout:           cfg.Exchange.Timeout,
	})
}

// NewPaperExecutor — книга симулятора лежит в data_dir, цены берутся с биржи.
func NewPaperExecutor(cfg *config.Config, client *service.Client, j journal.Journal) *service.PaperExecutor {
	return service.NewPaperExecutor(service.PaperConfig{
		StartingBalance: cfg.Exchange.Paper.StartingBalance,
		FeeRate:         cfg.Exchange.Paper.FeeRate,
		StatePath:       cfg.DataPath("paper_book.json"),
	}, client, j)
}

func Module() fx.Option {
	return fx.Module("hyperliquid_client",
		fx.Provide(
			NewClient,
			NewPaperExecutor,
		),
	)
}
