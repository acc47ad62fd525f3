package service

import (
	"fmt"
	"sync"
	"time"

	equity "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/equity/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/num"
)

const (
	dateLayout = "2006-01-02"

	remainingTargetFloor  = 0.25
	minCombinedMultiplier = 0.5

	leverageUpBand   = 1.05
	leverageDownBand = 0.95
	leverageStepUp   = 2
	leverageStepDown = 3
	deepDrawdown     = -0.15
)

// EquityTracker — то, что сайзеру нужно от трекера эквити.
type EquityTracker interface {
	ShouldStopTrading() bool
	IsInWarmup() bool
	InitialEquity() (float64, bool)
	CurrentEquity() float64
	AverageEquity() float64
	Drawdown(current float64) float64
	EquityMultiplier(current float64, hyper bool) equity.MultiplierResult
	RecordTradeClose(closedEquity, profitUSD float64)
}

type Config struct {
	DailyTargetPct        float64
	MinExpectedMove       float64
	MinConfidence         float64
	BaseLeverage          int
	MaxLeverage           int
	MinLeverage           int
	PeakProtectMultiplier float64
	AggressiveMultiplier  float64
	DrawdownThreshold     float64
	MaxCombinedMultiplier float64
	GrowthTarget          float64
	MaxPositionPct        float64
	MinNotional           float64
	MaxDailyTrades        int
	Location              *time.Location
	Now                   func() time.Time
}

func DefaultConfig() Config {
	return Config{
		DailyTargetPct:        0.75,
		MinExpectedMove:       5.0,
		MinConfidence:         70,
		BaseLeverage:          20,
		MaxLeverage:           25,
		MinLeverage:           10,
		PeakProtectMultiplier: 0.60,
		AggressiveMultiplier:  1.15,
		DrawdownThreshold:     0.10,
		MaxCombinedMultiplier: 1.5,
		GrowthTarget:          10,
		MaxPositionPct:        90,
		MinNotional:           12.0,
		MaxDailyTrades:        6,
		Location:              time.UTC,
	}
}

// Result — рекомендация по размеру позиции, со всеми промежуточными множителями.
type Result struct {
	Margin               float64
	Notional             float64
	Leverage             int
	ExpectedProfit       float64
	DailyTarget          float64
	RemainingTarget      float64
	ProgressPct          float64
	BaseNotional         float64
	MarginNeeded         float64
	MinMargin            float64
	MaxMargin            float64
	ConfidenceMultiplier float64
	EquityMultiplier     float64
	Equity               equity.MultiplierResult
	RiskMultiplier       float64
	ProgressMultiplier   float64
	CombinedMultiplier   float64
	CircuitBreaker       bool
	IsHyperPhase         bool
	Reason               string
}

// Sizer — адаптивный расчёт маржи/плеча + дневной прогресс.
type Sizer struct {
	cfg     Config
	tracker EquityTracker
	store   StateStore
	now     func() time.Time

	mu          sync.Mutex
	date        string
	dailyProfit float64
	dailyTrades int
}

func NewSizer(cfg Config, tracker EquityTracker, store StateStore) *Sizer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Sizer{
		cfg:     cfg,
		tracker: tracker,
		store:   store,
		now:     cfg.Now,
	}
	s.date = s.today()
	s.load()
	return s
}

func (s *Sizer) today() string {
	return s.now().In(s.cfg.Location).Format(dateLayout)
}

func (s *Sizer) load() {
	if s.store == nil {
		return
	}
	st, err := s.store.Load()
	if err != nil {
		logger.Error("[SIZING] strategy state unreadable, starting fresh day: %v", err)
		return
	}
	if st == nil || st.Date != s.date {
		return
	}
	s.dailyProfit = st.DailyProfit
	s.dailyTrades = st.DailyTrades
}

func (s *Sizer) persistLocked() {
	if s.store == nil {
		return
	}
	err := s.store.Save(DailyState{
		Date:        s.date,
		DailyProfit: s.dailyProfit,
		DailyTrades: s.dailyTrades,
		LastUpdate:  s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("[SIZING] persist strategy state: %v", err)
	}
}

// resetDailyLocked обнуляет дневные счётчики при смене даты.
func (s *Sizer) resetDailyLocked() {
	today := s.today()
	if today == s.date {
		return
	}
	s.date = today
	s.dailyProfit = 0
	s.dailyTrades = 0
	s.persistLocked()
}

// Daily — (profit, trades) за текущий день.
func (s *Sizer) Daily() (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetDailyLocked()
	return s.dailyProfit, s.dailyTrades
}

// RecordTradeResult — закрытая сделка: дневной прогресс + окно эквити.
func (s *Sizer) RecordTradeResult(profitUSD, closingEquity float64) {
	s.mu.Lock()
	s.resetDailyLocked()
	s.dailyProfit += profitUSD
	s.dailyTrades++
	s.persistLocked()
	s.mu.Unlock()

	s.tracker.RecordTradeClose(closingEquity, profitUSD)

	if s.tracker.ShouldStopTrading() {
		logger.Warn("[SIZING] circuit breaker active after trade pnl=%.2f equity=%.2f", profitUSD, closingEquity)
	}
}

// IsHyperPhase: баланс ниже initial*growth_target, либо initial ещё не известен.
func (s *Sizer) IsHyperPhase(accountBalance float64) bool {
	initial, ok := s.tracker.InitialEquity()
	if !ok || initial <= 0 {
		return true
	}
	return accountBalance < initial*s.cfg.GrowthTarget
}

// AdaptiveLeverage — плечо от положения эквити относительно среднего и просадки.
func (s *Sizer) AdaptiveLeverage(hyper bool) int {
	leverage := s.cfg.BaseLeverage
	if s.tracker.IsInWarmup() {
		return leverage
	}

	current := s.tracker.CurrentEquity()
	average := s.tracker.AverageEquity()
	drawdown := s.tracker.Drawdown(0)

	if current > average*leverageUpBand {
		leverage = min(leverage+leverageStepUp, s.cfg.MaxLeverage)
	} else if current < average*leverageDownBand {
		leverage = max(leverage-leverageStepDown, s.cfg.MinLeverage)
	}
	if drawdown < deepDrawdown {
		leverage = max(leverage-leverageStepDown, s.cfg.MinLeverage)
	}
	if hyper && leverage < s.cfg.BaseLeverage {
		leverage = s.cfg.BaseLeverage
	}
	return leverage
}

// RiskMultiplier — агрессия в просадке, защита на новых пиках (вне hyper-фазы).
func (s *Sizer) RiskMultiplier(accountBalance float64, hyper bool) float64 {
	drawdown := s.tracker.Drawdown(accountBalance)

	if drawdown < -s.cfg.DrawdownThreshold {
		return s.cfg.AggressiveMultiplier
	}
	if hyper {
		return 1.0
	}
	if drawdown >= 0 {
		return s.cfg.PeakProtectMultiplier
	}
	return 1.0
}

// ProgressMultiplier — насколько выполнена дневная цель.
func ProgressMultiplier(progressPct float64) float64 {
	switch {
	case progressPct >= 100:
		return 0.0
	case progressPct >= 80:
		return 0.5
	case progressPct < 30:
		return 1.1
	default:
		return 1.0
	}
}

// CalculatePositionSize. hyper == nil -> определяется по балансу.
func (s *Sizer) CalculatePositionSize(accountBalance, expectedMovePct, confidencePct float64, hyper *bool) Result {
	var isHyper bool
	if hyper != nil {
		isHyper = *hyper
	} else {
		isHyper = s.IsHyperPhase(accountBalance)
	}

	if s.tracker.ShouldStopTrading() {
		return Result{
			CircuitBreaker: true,
			IsHyperPhase:   isHyper,
			Reason:         "circuit breaker triggered",
		}
	}

	s.mu.Lock()
	s.resetDailyLocked()
	dailyProfit := s.dailyProfit
	s.mu.Unlock()

	dailyTarget := accountBalance * s.cfg.DailyTargetPct / 100
	remaining := max(dailyTarget-dailyProfit, dailyTarget*remainingTargetFloor)

	if expectedMovePct <= 0 {
		expectedMovePct = s.cfg.MinExpectedMove
	}
	baseNotional := remaining / (expectedMovePct / 100)

	leverage := s.AdaptiveLeverage(isHyper)
	marginNeeded := baseNotional / float64(leverage)

	confidenceMult := confidencePct / 100
	eq := s.tracker.EquityMultiplier(accountBalance, isHyper)
	riskMult := s.RiskMultiplier(accountBalance, isHyper)

	var progressPct float64
	if dailyTarget > 0 {
		progressPct = dailyProfit / dailyTarget * 100
	}
	progressMult := ProgressMultiplier(progressPct)

	combined := num.Clamp(eq.Multiplier*riskMult*progressMult, minCombinedMultiplier, s.cfg.MaxCombinedMultiplier)

	finalMargin := marginNeeded * confidenceMult * combined

	// MaxPositionPct ограничивает маржу, а не номинал: номинал = маржа * плечо
	// и при полном потолке превышает баланс в leverage раз.
	maxMargin := accountBalance * s.cfg.MaxPositionPct / 100
	minMargin := s.cfg.MinNotional / float64(leverage)
	safeMargin := max(minMargin, min(finalMargin, maxMargin))
	notional := safeMargin * float64(leverage)

	return Result{
		Margin:               num.Round(safeMargin, 2),
		Notional:             num.Round(notional, 2),
		Leverage:             leverage,
		ExpectedProfit:       num.Round(notional*expectedMovePct/100, 2),
		DailyTarget:          num.Round(dailyTarget, 2),
		RemainingTarget:      num.Round(remaining, 2),
		ProgressPct:          num.Round(progressPct, 1),
		BaseNotional:         num.Round(baseNotional, 2),
		MarginNeeded:         marginNeeded,
		MinMargin:            minMargin,
		MaxMargin:            maxMargin,
		ConfidenceMultiplier: num.Round(confidenceMult, 2),
		EquityMultiplier:     eq.Multiplier,
		Equity:               eq,
		RiskMultiplier:       riskMult,
		ProgressMultiplier:   progressMult,
		CombinedMultiplier:   num.Round(combined, 3),
		IsHyperPhase:         isHyper,
	}
}

// PositionSizeForSignal — гейт для сигнала модели. nil + причина, если торговать нельзя.
func (s *Sizer) PositionSizeForSignal(accountBalance, aiConfidence float64) (*Result, string) {
	s.mu.Lock()
	s.resetDailyLocked()
	dailyProfit, dailyTrades := s.dailyProfit, s.dailyTrades
	s.mu.Unlock()

	if s.tracker.ShouldStopTrading() {
		return nil, "circuit breaker active"
	}

	dailyTarget := accountBalance * s.cfg.DailyTargetPct / 100
	if dailyTarget > 0 && dailyProfit/dailyTarget*100 >= 100 {
		return nil, "daily target met"
	}
	if dailyTrades >= s.cfg.MaxDailyTrades {
		return nil, fmt.Sprintf("daily trade limit reached (%d)", dailyTrades)
	}
	if aiConfidence < s.cfg.MinConfidence {
		return nil, fmt.Sprintf("confidence %.0f%% below minimum %.0f%%", aiConfidence, s.cfg.MinConfidence)
	}

	res := s.CalculatePositionSize(accountBalance, s.cfg.MinExpectedMove, aiConfidence, nil)
	if res.CircuitBreaker {
		return nil, res.Reason
	}
	return &res, ""
}
