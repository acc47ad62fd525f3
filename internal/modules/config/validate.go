package config

import "fmt"

type rule struct {
	bad func(c *Config) bool
	msg func(c *Config) string
	fix func(c, def *Config)
}

func pctRule(name string, get func(c *Config) *float64, lo, hi float64) rule {
	return rule{
		bad: func(c *Config) bool { v := *get(c); return v < lo || v > hi },
		msg: func(c *Config) string {
			return fmt.Sprintf("%s=%v out of range [%v, %v]", name, *get(c), lo, hi)
		},
		fix: func(c, def *Config) { *get(c) = *get(def) },
	}
}

func positiveInt(name string, get func(c *Config) *int) rule {
	return rule{
		bad: func(c *Config) bool { return *get(c) <= 0 },
		msg: func(c *Config) string { return fmt.Sprintf("%s=%d must be positive", name, *get(c)) },
		fix: func(c, def *Config) { *get(c) = *get(def) },
	}
}

var rules = []rule{
	pctRule("sizing.daily_target_pct", func(c *Config) *float64 { return &c.Sizing.DailyTargetPct }, 0.01, 100),
	pctRule("sizing.max_position_pct", func(c *Config) *float64 { return &c.Sizing.MaxPositionPct }, 1, 100),
	pctRule("sizing.min_confidence", func(c *Config) *float64 { return &c.Sizing.MinConfidence }, 0, 100),
	pctRule("sizing.min_expected_move", func(c *Config) *float64 { return &c.Sizing.MinExpectedMove }, 0.01, 100),
	pctRule("close.min_confidence", func(c *Config) *float64 { return &c.Close.MinConfidence }, 0, 100),
	pctRule("close.emergency_stop_pct", func(c *Config) *float64 { return &c.Close.EmergencyStopPct }, -100, 0),
	pctRule("close.take_profit_pct", func(c *Config) *float64 { return &c.Close.TakeProfitPct }, 0, 1000),
	pctRule("tpsl.cash_reserve_pct", func(c *Config) *float64 { return &c.TPSL.CashReservePct }, 0, 100),
	pctRule("tpsl.take_profit_pct", func(c *Config) *float64 { return &c.TPSL.TakeProfitPct }, 0, 1000),
	pctRule("tpsl.stop_loss_pct", func(c *Config) *float64 { return &c.TPSL.StopLossPct }, -100, 0),
	pctRule("equity.max_drawdown_pct", func(c *Config) *float64 { return &c.Equity.MaxDrawdownPct }, 0, 100),
	pctRule("exchange.paper.fee_rate", func(c *Config) *float64 { return &c.Exchange.Paper.FeeRate }, 0, 0.01),
	positiveInt("equity.lookback", func(c *Config) *int { return &c.Equity.Lookback }),
	positiveInt("equity.max_consecutive_losses", func(c *Config) *int { return &c.Equity.MaxConsecutiveLosses }),
	positiveInt("sizing.base_leverage", func(c *Config) *int { return &c.Sizing.BaseLeverage }),
	positiveInt("sizing.max_daily_trades", func(c *Config) *int { return &c.Sizing.MaxDailyTrades }),
	positiveInt("stream.max_reconnect_attempts", func(c *Config) *int { return &c.Stream.MaxReconnectAttempts }),
	positiveInt("trader.candle_bars", func(c *Config) *int { return &c.Trader.CandleBars }),
	positiveInt("trader.concurrency", func(c *Config) *int { return &c.Trader.Concurrency }),
	positiveInt("strategy.ema_short", func(c *Config) *int { return &c.Strategy.EMAShort }),
	positiveInt("strategy.ema_long", func(c *Config) *int { return &c.Strategy.EMALong }),
	positiveInt("strategy.rsi_period", func(c *Config) *int { return &c.Strategy.RSIPeriod }),
	{
		bad: func(c *Config) bool {
			return c.Sizing.MinLeverage <= 0 || c.Sizing.MinLeverage > c.Sizing.MaxLeverage
		},
		msg: func(c *Config) string {
			return fmt.Sprintf("sizing leverage bounds invalid: min=%d max=%d", c.Sizing.MinLeverage, c.Sizing.MaxLeverage)
		},
		fix: func(c, def *Config) {
			c.Sizing.MinLeverage = def.Sizing.MinLeverage
			c.Sizing.MaxLeverage = def.Sizing.MaxLeverage
		},
	},
	{
		bad: func(c *Config) bool {
			return c.Sizing.BaseLeverage < c.Sizing.MinLeverage || c.Sizing.BaseLeverage > c.Sizing.MaxLeverage
		},
		msg: func(c *Config) string {
			return fmt.Sprintf("sizing.base_leverage=%d outside [%d, %d]", c.Sizing.BaseLeverage, c.Sizing.MinLeverage, c.Sizing.MaxLeverage)
		},
		fix: func(c, def *Config) {
			c.Sizing.BaseLeverage = clampInt(c.Sizing.BaseLeverage, c.Sizing.MinLeverage, c.Sizing.MaxLeverage)
		},
	},
	{
		bad: func(c *Config) bool { return c.Equity.SMAMin <= 0 || c.Equity.SMAMin > c.Equity.SMAMax },
		msg: func(c *Config) string {
			return fmt.Sprintf("equity sma bounds invalid: min=%d max=%d", c.Equity.SMAMin, c.Equity.SMAMax)
		},
		fix: func(c, def *Config) {
			c.Equity.SMAMin = def.Equity.SMAMin
			c.Equity.SMAMax = def.Equity.SMAMax
		},
	},
	{
		bad: func(c *Config) bool { return c.Stream.InitialDelay <= 0 || c.Stream.MaxDelay < c.Stream.InitialDelay },
		msg: func(c *Config) string {
			return fmt.Sprintf("stream delays invalid: initial=%s max=%s", c.Stream.InitialDelay, c.Stream.MaxDelay)
		},
		fix: func(c, def *Config) {
			c.Stream.InitialDelay = def.Stream.InitialDelay
			c.Stream.MaxDelay = def.Stream.MaxDelay
		},
	},
	{
		bad: func(c *Config) bool { return c.Stream.Multiplier < 1 },
		msg: func(c *Config) string { return fmt.Sprintf("stream.multiplier=%v must be >= 1", c.Stream.Multiplier) },
		fix: func(c, def *Config) { c.Stream.Multiplier = def.Stream.Multiplier },
	},
	{
		bad: func(c *Config) bool { return c.TPSL.Interval <= 0 },
		msg: func(c *Config) string { return fmt.Sprintf("tpsl.interval=%s must be positive", c.TPSL.Interval) },
		fix: func(c, def *Config) { c.TPSL.Interval = def.TPSL.Interval },
	},
	{
		bad: func(c *Config) bool { return c.Trader.Interval <= 0 },
		msg: func(c *Config) string { return fmt.Sprintf("trader.interval=%s must be positive", c.Trader.Interval) },
		fix: func(c, def *Config) { c.Trader.Interval = def.Trader.Interval },
	},
	{
		bad: func(c *Config) bool { return len(c.Trader.Symbols) == 0 },
		msg: func(c *Config) string { return "trader.symbols is empty" },
		fix: func(c, def *Config) { c.Trader.Symbols = append([]string(nil), def.Trader.Symbols...) },
	},
}

// Validate возвращает человекочитаемые проблемы конфига, ничего не меняя.
func (c *Config) Validate() []string {
	var out []string
	for _, r := range rules {
		if r.bad(c) {
			out = append(out, r.msg(c))
		}
	}
	return out
}

// sanitize откатывает невалидные поля на дефолты, возвращает найденные проблемы.
func (c *Config) sanitize(def *Config) []string {
	var out []string
	for _, r := range rules {
		if r.bad(c) {
			out = append(out, r.msg(c)+", falling back to default")
			r.fix(c, def)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
