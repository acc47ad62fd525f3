package service

import (
	"fmt"
	"strings"
)

type Bar struct {
	High  float64
	Low   float64
	Close float64
}

type Config struct {
	EMAShort      int
	EMALong       int
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	DonPeriod     int
}

func DefaultConfig() Config {
	return Config{
		EMAShort:      9,
		EMALong:       21,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		DonPeriod:     20,
	}
}

const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// Snapshot — индикаторы на последней свече.
type Snapshot struct {
	EMAShort float64
	EMALong  float64
	RSI      float64
	DonHigh  float64
	DonLow   float64
	Trend    string
	// Breakout: "up"/"down", если close вышел за канал предыдущих DonPeriod свечей.
	Breakout string
	Ready    bool
	cfg      Config
}

// Compute прогоняет свечи по порядку. Ready=false, пока данных меньше прогрева.
func Compute(cfg Config, bars []Bar) Snapshot {
	short, long := newEMA(cfg.EMAShort), newEMA(cfg.EMALong)
	rsi := newRSI(cfg.RSIPeriod)
	for _, b := range bars {
		short.Update(b.Close)
		long.Update(b.Close)
		rsi.Update(b.Close)
	}

	s := Snapshot{
		EMAShort: short.Value(),
		EMALong:  long.Value(),
		RSI:      rsi.Value(),
		Trend:    TrendFlat,
		Ready:    short.Ready() && long.Ready() && rsi.Ready(),
		cfg:      cfg,
	}
	switch {
	case s.EMAShort > s.EMALong:
		s.Trend = TrendUp
	case s.EMAShort < s.EMALong:
		s.Trend = TrendDown
	}

	// канал из предыдущих DonPeriod свечей, последняя проверяется на пробой
	if n := len(bars); cfg.DonPeriod > 0 && n > cfg.DonPeriod {
		window := bars[n-1-cfg.DonPeriod : n-1]
		s.DonHigh, s.DonLow = window[0].High, window[0].Low
		for _, b := range window[1:] {
			s.DonHigh = max(s.DonHigh, b.High)
			s.DonLow = min(s.DonLow, b.Low)
		}
		last := bars[n-1].Close
		switch {
		case last > s.DonHigh:
			s.Breakout = TrendUp
		case last < s.DonLow:
			s.Breakout = TrendDown
		}
	}
	return s
}

func (s Snapshot) Overbought() bool { return s.RSI > s.cfg.RSIOverbought }
func (s Snapshot) Oversold() bool   { return s.RSI < s.cfg.RSIOversold }

// String — строка для промпта модели.
func (s Snapshot) String() string {
	if !s.Ready {
		return "indicators: not enough history"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "EMA%d %.6g, EMA%d %.6g (trend %s), RSI%d %.1f",
		s.cfg.EMAShort, s.EMAShort, s.cfg.EMALong, s.EMALong, s.Trend, s.cfg.RSIPeriod, s.RSI)
	switch {
	case s.Overbought():
		b.WriteString(" overbought")
	case s.Oversold():
		b.WriteString(" oversold")
	}
	if s.DonHigh > 0 {
		fmt.Fprintf(&b, ", Donchian%d [%.6g, %.6g]", s.cfg.DonPeriod, s.DonLow, s.DonHigh)
		if s.Breakout != "" {
			fmt.Fprintf(&b, " breakout %s", s.Breakout)
		}
	}
	return b.String()
}
