// Package metrics — prometheus-метрики бота, регистрируются в init().
// Отдаются health-сервером на /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Equity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_equity_usd",
		Help: "Account value seen by the trader",
	})

	Leverage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_leverage",
		Help: "Leverage of the last sizing decision",
	})

	CombinedMultiplier = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_combined_multiplier",
		Help: "Combined sizing multiplier of the last sizing decision",
	})

	CircuitBreaker = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_circuit_breaker",
		Help: "1 while the circuit breaker blocks new entries",
	})

	StreamState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_stream_state",
		Help: "Stream connection state, one labeled series set to 1",
	}, []string{"state"})

	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_stream_reconnects_total",
		Help: "Stream reconnect attempts",
	})

	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_decisions_total",
		Help: "Decisions returned by the reasoning provider",
	}, []string{"provider", "action"})

	Opens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_opens_total",
		Help: "Positions opened",
	}, []string{"side"})

	Closes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_closes_total",
		Help: "Positions closed split by source and trigger",
	}, []string{"source", "trigger"})

	CloseDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_close_decisions_total",
		Help: "Close validator outcomes",
	}, []string{"decision"})

	WatchdogPass = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_watchdog_pass_seconds",
		Help:    "Duration of one TP/SL watchdog pass",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		Equity,
		Leverage,
		CombinedMultiplier,
		CircuitBreaker,
		StreamState,
		StreamReconnects,
		Decisions,
		Opens,
		Closes,
		CloseDecisions,
		WatchdogPass,
	)
}

// SetStreamState: одна серия = 1, остальные 0.
func SetStreamState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		StreamState.WithLabelValues(s).Set(v)
	}
}

func BoolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
