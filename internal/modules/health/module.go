package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/config"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/health/service"
	ws "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_ws/service"
	tpsl "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/tpsl/service"
	trader "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/trader/service"
	userstate "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/user_state/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.Service.HealthAddr}
}

// Sources — что есть в графе; в урезанных командах части может не быть.
type Sources struct {
	fx.In

	Stream     *ws.Client            `optional:"true"`
	Reconciler *userstate.Reconciler `optional:"true"`
	Trader     *trader.Trader        `optional:"true"`
	Watchdog   *tpsl.Watchdog        `optional:"true"`
}

func NewMux(state *service.State, src Sources) *http.ServeMux {
	var stream service.StreamProbe
	if src.Stream != nil {
		stream = src.Stream
	}
	var account service.AccountProbe
	if src.Reconciler != nil {
		account = src.Reconciler.View()
	}
	workers := map[string]service.Ticker{}
	if src.Trader != nil {
		workers["trader"] = service.TickerFunc(src.Trader.LastCycle)
	}
	if src.Watchdog != nil {
		workers["watchdog"] = service.TickerFunc(src.Watchdog.LastPass)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body, err := sonic.Marshal(state.Report(stream, account, workers))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, state *service.State) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("[HEALTH] serve: %v", err)
				}
			}()
			state.SetReady(true)
			logger.Info("[HEALTH] listening on %s", cfg.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
