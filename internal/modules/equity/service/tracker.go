package service

import (
	"math"
	"sync"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/num"
)

const (
	minWarmupTrades = 15

	// deadband вокруг SMA, внутри которого дистанция считается нулевой
	confidenceDeadband = 0.02
	sigmoidSteepness   = 4.0

	hyperLengthFactor = 0.8
	hyperAmplifier    = 1.2
	hyperCeiling      = 1.6
)

type Config struct {
	Lookback             int
	WarmupTrades         int
	EfficiencyLength     int
	SMAMin               int
	SMAMax               int
	MaxConsecutiveLosses int
	MaxDrawdownPct       float64 // 20 => стоп при -20% от initial
}

func DefaultConfig() Config {
	return Config{
		Lookback:             21,
		WarmupTrades:         15,
		EfficiencyLength:     14,
		SMAMin:               8,
		SMAMax:               30,
		MaxConsecutiveLosses: 5,
		MaxDrawdownPct:       20,
	}
}

// MultiplierResult — выход EquityMultiplier.
type MultiplierResult struct {
	Multiplier      float64
	EfficiencyRatio float64
	SMALength       int
	AdaptiveSMA     float64
	Confidence      float64
	InWarmup        bool
}

type Metrics struct {
	CurrentEquity     float64
	AverageEquity     float64
	PeakEquity        float64
	InitialEquity     *float64
	DrawdownPct       float64
	TotalTrades       int
	InWarmup          bool
	CurveLength       int
	ConsecutiveLosses int
	ShouldStop        bool
	EfficiencyRatio   float64
	SMALength         int
	AdaptiveSMA       float64
}

// Tracker — скользящее окно реализованной эквити после закрытия сделок.
type Tracker struct {
	cfg   Config
	store Store
	now   func() time.Time

	mu                sync.Mutex
	curve             []float64
	peak              float64
	totalTrades       int
	initialEquity     *float64
	consecutiveLosses int
}

func NewTracker(cfg Config, store Store) *Tracker {
	def := DefaultConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.EfficiencyLength <= 0 {
		cfg.EfficiencyLength = def.EfficiencyLength
	}
	if cfg.SMAMin <= 0 || cfg.SMAMax < cfg.SMAMin {
		cfg.SMAMin, cfg.SMAMax = def.SMAMin, def.SMAMax
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = def.MaxConsecutiveLosses
	}
	if cfg.MaxDrawdownPct <= 0 {
		cfg.MaxDrawdownPct = def.MaxDrawdownPct
	}
	cfg.WarmupTrades = max(cfg.WarmupTrades, minWarmupTrades, cfg.EfficiencyLength+1)

	t := &Tracker{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
	t.load()
	return t
}

func (t *Tracker) load() {
	if t.store == nil {
		return
	}
	snap, err := t.store.Load()
	if err != nil {
		logger.Error("[EQUITY] state corrupted, starting fresh: %v", err)
		t.resetLocked()
		return
	}
	if snap == nil {
		return
	}

	curve := snap.EquityCurve
	if len(curve) > t.cfg.Lookback {
		curve = curve[len(curve)-t.cfg.Lookback:]
	}
	t.curve = append([]float64(nil), curve...)
	t.peak = snap.EquityPeak
	t.totalTrades = snap.TotalTrades
	t.consecutiveLosses = snap.ConsecutiveLosses
	if snap.InitialEquity != nil {
		v := *snap.InitialEquity
		t.initialEquity = &v
	}
	logger.Info("[EQUITY] loaded %d samples, trades=%d, peak=%.2f", len(t.curve), t.totalTrades, t.peak)
}

// persistLocked пишет состояние; ошибка только логируется, память остаётся источником правды.
func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	snap := Snapshot{
		EquityCurve:       append([]float64(nil), t.curve...),
		EquityPeak:        t.peak,
		TotalTrades:       t.totalTrades,
		ConsecutiveLosses: t.consecutiveLosses,
		LastUpdate:        t.now().UTC().Format(time.RFC3339),
	}
	if t.initialEquity != nil {
		v := *t.initialEquity
		snap.InitialEquity = &v
	}
	if err := t.store.Save(snap); err != nil {
		logger.Error("[EQUITY] persist failed: %v", err)
	}
}

func (t *Tracker) resetLocked() {
	t.curve = nil
	t.peak = 0
	t.totalTrades = 0
	t.initialEquity = nil
	t.consecutiveLosses = 0
}

// Reset — явная очистка состояния.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.persistLocked()
}

func (t *Tracker) SetInitialEquity(equity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setInitialLocked(equity)
}

func (t *Tracker) setInitialLocked(equity float64) {
	if t.initialEquity != nil {
		return
	}
	v := equity
	t.initialEquity = &v
	t.peak = equity
	t.persistLocked()
}

// RecordTradeClose — единственная мутация окна.
func (t *Tracker) RecordTradeClose(closedEquity, profitUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialEquity == nil {
		t.setInitialLocked(closedEquity)
	}

	t.curve = append(t.curve, closedEquity)
	if over := len(t.curve) - t.cfg.Lookback; over > 0 {
		t.curve = append([]float64(nil), t.curve[over:]...)
	}
	t.totalTrades++
	if profitUSD < 0 {
		t.consecutiveLosses++
	} else {
		t.consecutiveLosses = 0
	}
	t.peak = math.Max(t.peak, closedEquity)

	t.persistLocked()
}

func (t *Tracker) IsInWarmup() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inWarmupLocked()
}

func (t *Tracker) inWarmupLocked() bool {
	return t.totalTrades < t.cfg.WarmupTrades
}

// ShouldStopTrading — circuit breaker.
func (t *Tracker) ShouldStopTrading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shouldStopLocked()
}

func (t *Tracker) shouldStopLocked() bool {
	if t.consecutiveLosses >= t.cfg.MaxConsecutiveLosses {
		return true
	}
	current := t.currentLocked()
	if t.initialEquity != nil && *t.initialEquity > 0 && current > 0 {
		if current / *t.initialEquity - 1 < -t.cfg.MaxDrawdownPct/100 {
			return true
		}
	}
	return false
}

func (t *Tracker) currentLocked() float64 {
	if len(t.curve) == 0 {
		return 0
	}
	return t.curve[len(t.curve)-1]
}

func (t *Tracker) CurrentEquity() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLocked()
}

func (t *Tracker) AverageEquity() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return mean(t.curve)
}

func (t *Tracker) Peak() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// InitialEquity — (0, false) пока не задано.
func (t *Tracker) InitialEquity() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialEquity == nil {
		return 0, false
	}
	return *t.initialEquity, true
}

func (t *Tracker) TotalTrades() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalTrades
}

func (t *Tracker) ConsecutiveLosses() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveLosses
}

// Curve — копия окна.
func (t *Tracker) Curve() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.curve...)
}

// EfficiencyRatio — Kaufman ER по последним EfficiencyLength приращениям эквити.
func (t *Tracker) EfficiencyRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.efficiencyLocked()
}

func (t *Tracker) efficiencyLocked() float64 {
	n := t.cfg.EfficiencyLength
	if len(t.curve) < n+1 {
		return 0
	}
	last := len(t.curve) - 1
	net := math.Abs(t.curve[last] - t.curve[last-n])

	var path float64
	for i := last - n + 1; i <= last; i++ {
		path += math.Abs(t.curve[i] - t.curve[i-1])
	}
	if path == 0 {
		return 0
	}
	return num.Clamp(net/path, 0, 1)
}

// AdaptiveSMALength: сильный тренд -> короткое окно, пила -> длинное.
func (t *Tracker) AdaptiveSMALength(er float64) int {
	minL, maxL := float64(t.cfg.SMAMin), float64(t.cfg.SMAMax)
	l := minL + (maxL-minL)*(1-er)
	return num.ClampInt(int(math.Floor(l)), t.cfg.SMAMin, t.cfg.SMAMax)
}

func (t *Tracker) AdaptiveSMA(length int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adaptiveSMALocked(length)
}

func (t *Tracker) adaptiveSMALocked(length int) float64 {
	if length <= 0 || len(t.curve) < length {
		return mean(t.curve)
	}
	return mean(t.curve[len(t.curve)-length:])
}

// ConfidenceMultiplier — сигмоида от нормированной дистанции до SMA, в [0.5, 1.5].
func (t *Tracker) ConfidenceMultiplier(current, sma float64) float64 {
	if sma == 0 {
		return 1.0
	}
	dist := (current - sma) / sma
	if math.Abs(dist) <= confidenceDeadband {
		dist = 0
	}
	sig := 1 / (1 + math.Exp(-sigmoidSteepness*dist))
	return num.Clamp(0.5+sig, 0.5, 1.5)
}

func (t *Tracker) EquityMultiplier(current float64, hyper bool) MultiplierResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inWarmupLocked() {
		return MultiplierResult{
			Multiplier:  1.0,
			SMALength:   t.cfg.Lookback,
			AdaptiveSMA: current,
			Confidence:  1.0,
			InWarmup:    true,
		}
	}

	er := t.efficiencyLocked()
	length := t.AdaptiveSMALength(er)
	if hyper {
		length = max(int(float64(length)*hyperLengthFactor), t.cfg.SMAMin)
	}
	sma := t.adaptiveSMALocked(length)
	conf := t.ConfidenceMultiplier(current, sma)

	mult := conf
	if hyper && conf > 1.0 {
		mult = math.Min(1+(conf-1)*hyperAmplifier, hyperCeiling)
	}

	return MultiplierResult{
		Multiplier:      num.Round(mult, 3),
		EfficiencyRatio: num.Round(er, 3),
		SMALength:       length,
		AdaptiveSMA:     num.Round(sma, 2),
		Confidence:      num.Round(conf, 3),
	}
}

// Drawdown — current/peak - 1 (<= 0). current <= 0 означает "последний сэмпл".
func (t *Tracker) Drawdown(current float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drawdownLocked(current)
}

func (t *Tracker) drawdownLocked(current float64) float64 {
	if current <= 0 {
		current = t.currentLocked()
	}
	if t.peak == 0 {
		return 0
	}
	return current/t.peak - 1
}

func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.currentLocked()
	m := Metrics{
		CurrentEquity:     current,
		AverageEquity:     num.Round(mean(t.curve), 2),
		PeakEquity:        t.peak,
		DrawdownPct:       num.Round(t.drawdownLocked(current)*100, 2),
		TotalTrades:       t.totalTrades,
		InWarmup:          t.inWarmupLocked(),
		CurveLength:       len(t.curve),
		ConsecutiveLosses: t.consecutiveLosses,
		ShouldStop:        t.shouldStopLocked(),
	}
	if t.initialEquity != nil {
		v := *t.initialEquity
		m.InitialEquity = &v
	}
	if !m.InWarmup {
		er := t.efficiencyLocked()
		m.EfficiencyRatio = num.Round(er, 3)
		m.SMALength = t.AdaptiveSMALength(er)
		m.AdaptiveSMA = num.Round(t.adaptiveSMALocked(m.SMALength), 2)
	}
	return m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
