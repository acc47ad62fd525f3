package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/ai"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/closevalidator"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/equity"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/health"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_client"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_ws"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/journal"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/position_tracker"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/postgres"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/sizing"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/strategy"
	telegram "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/telegram_bot"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/tpsl"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/trader"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/user_state"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

const serviceName = "perp_bot"

func newRootCmd() *cobra.Command {
	var configPath, logLevel string

	root := &cobra.Command{
		Use:          "bot",
		Short:        "Perpetual futures trading bot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				dir, file := filepath.Split(configPath)
				if dir == "" {
					dir = "."
				}
				_ = os.Setenv("CONFIG_DIR", dir)
				_ = os.Setenv("CONFIG_FILE", file)
			}
			if logLevel == "" {
				logLevel = os.Getenv("LOG_LEVEL")
			}
			if err := logger.Init(logLevel); err != nil {
				return err
			}
			logger.SetServiceName(serviceName)
			tracing.SetServiceName(serviceName)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default configs/values_local.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newRunCmd())
	root.AddCommand(newTPSLCmd())
	root.AddCommand(newEquityCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// common — модули, нужные любому режиму с исполнением.
func common() fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.InfoLogger}
		}),
		config.Module(),
		fx.Invoke(initTracing),
		postgres.Module(),
		journal.Module(),
		hyperliquid_client.Module(),
		equity.Module(),
		sizing.Module(),
		position_tracker.Module(),
		hyperliquid_ws.Module(),
		user_state.Module(),
		telegram.Module(),
	)
}

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	_, closer, err := tracing.InitTracer(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trader, TP/SL watchdog, account stream and health server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				common(),
				closevalidator.Module(),
				ai.Module(),
				strategy.Module(),
				trader.Module(),
				tpsl.Module(),
				health.Module(),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newTPSLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tpsl",
		Short: "Run only the TP/SL watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				common(),
				tpsl.Module(),
				health.Module(),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newEquityCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "equity",
		Short: "Print equity tracker metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			tracker := equity.NewTracker(cfg)
			if reset {
				tracker.Reset()
				logger.Info("[EQUITY] tracker reset")
			}
			sizer := sizing.NewSizer(cfg, tracker)
			profit, trades := sizer.Daily()

			out := map[string]any{
				"equity":       tracker.Metrics(),
				"daily_profit": profit,
				"daily_trades": trades,
			}
			bs, err := sonic.ConfigDefault.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bs))
			return err
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the equity window before printing")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Report config problems without starting the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(getenv("CONFIG_DIR", "configs"), getenv("CONFIG_FILE", "values_local.yaml"))
			_, problems := config.Load(path)
			if len(problems) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "config ok")
				return err
			}
			for _, p := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), "-", p)
			}
			return fmt.Errorf("%d config problems", len(problems))
		},
	})
	return cmd
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
