package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	ai "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/ai/service"
	validator "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/closevalidator/service"
	hl "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_client/service"
	sizing "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/sizing/service"
	strategy "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/strategy/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/metrics"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/tracing"

	"golang.org/x/sync/errgroup"
)

const source = "trader"

type Market interface {
	AllMids(ctx context.Context) (map[string]float64, error)
	Candles(ctx context.Context, symbol, interval string, bars int) ([]hl.Candle, error)
}

// State — снапшот позиций и баланса (reconciler).
type State interface {
	AllPositions(ctx context.Context) ([]models.Position, error)
	AccountState(ctx context.Context) (models.AccountState, error)
}

type Executor interface {
	OpenPosition(ctx context.Context, req hl.OpenRequest) (models.TradeRecord, error)
	ClosePosition(ctx context.Context, symbol, reason, source string) (models.TradeRecord, error)
}

type Decider interface {
	Decide(ctx context.Context, snap ai.Snapshot) (models.Decision, error)
}

type CloseValidator interface {
	Decide(pos validator.PositionView, opinion *models.Decision) validator.Result
}

type Sizer interface {
	PositionSizeForSignal(accountBalance, aiConfidence float64) (*sizing.Result, string)
	RecordTradeResult(profitUSD, closingEquity float64)
}

type EntryBook interface {
	RecordEntry(symbol string, price, size float64, isLong bool) error
	Remove(symbol string) error
	AgeHours(symbol string) float64
	SyncWithExchange(positions []models.Position) (added, removed int)
}

type Equity interface {
	SetInitialEquity(equity float64)
	ShouldStopTrading() bool
}

type Notifier interface {
	Send(msg string)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

type Config struct {
	Symbols        []string
	Excluded       []string
	Interval       time.Duration
	CandleInterval string
	CandleBars     int
	Concurrency    int
	ConfirmEntries bool
	ConfirmTimeout time.Duration
	Indicators     strategy.Config
}

// Report — итог одного цикла.
type Report struct {
	Opened  []string
	Closed  []string
	Skipped map[string]string
}

func (r *Report) skip(symbol, reason string) {
	if r.Skipped == nil {
		r.Skipped = make(map[string]string)
	}
	r.Skipped[symbol] = reason
}

// Trader — цикл решений: закрытия через CloseValidator, входы через Sizer.
type Trader struct {
	cfg       Config
	market    Market
	state     State
	exec      Executor
	decider   Decider
	validator CloseValidator
	sizer     Sizer
	entries   EntryBook
	equity    Equity
	notifier  Notifier

	lastCycle atomic.Int64
}

func NewTrader(
	cfg Config,
	market Market,
	state State,
	exec Executor,
	decider Decider,
	cv CloseValidator,
	sizer Sizer,
	entries EntryBook,
	equity Equity,
	notifier Notifier,
) *Trader {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "15m"
	}
	if cfg.CandleBars <= 0 {
		cfg.CandleBars = 48
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Indicators.EMALong <= 0 {
		cfg.Indicators = strategy.DefaultConfig()
	}
	return &Trader{
		cfg:       cfg,
		market:    market,
		state:     state,
		exec:      exec,
		decider:   decider,
		validator: cv,
		sizer:     sizer,
		entries:   entries,
		equity:    equity,
		notifier:  notifier,
	}
}

func (t *Trader) LastCycle() time.Time {
	u := t.lastCycle.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (t *Trader) symbols() []string {
	excluded := make(map[string]struct{}, len(t.cfg.Excluded))
	for _, s := range t.cfg.Excluded {
		excluded[strings.ToUpper(s)] = struct{}{}
	}
	out := make([]string, 0, len(t.cfg.Symbols))
	for _, s := range t.cfg.Symbols {
		if _, skip := excluded[strings.ToUpper(s)]; !skip {
			out = append(out, s)
		}
	}
	return out
}

func (t *Trader) Run(ctx context.Context) {
	logger.Info("[TRADER] started: every %s, symbols %s", t.cfg.Interval, strings.Join(t.symbols(), ","))

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		t.safeCycle(ctx)
		select {
		case <-ctx.Done():
			logger.Info("[TRADER] stopped")
			return
		case <-ticker.C:
		}
	}
}

func (t *Trader) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[TRADER] cycle panic: %v", r)
		}
	}()
	if _, err := t.RunCycle(ctx); err != nil {
		logger.Error("[TRADER] cycle: %v", err)
	}
}

type analysis struct {
	symbol   string
	position *models.Position
	decision *models.Decision
	err      error
}

// RunCycle — один проход. Ошибка аккаунта/позиций — ни входов, ни закрытий.
func (t *Trader) RunCycle(ctx context.Context) (rep Report, err error) {
	span, ctx := tracing.StartSpan(ctx, "trader.cycle")
	defer func() {
		tracing.MarkError(span, err)
		span.Finish()
		t.lastCycle.Store(time.Now().Unix())
		if err != nil {
			err = fmt.Errorf("Trader.RunCycle: %w", err)
		}
	}()

	acct, err := t.state.AccountState(ctx)
	if err != nil {
		return rep, fmt.Errorf("account state: %w", err)
	}
	metrics.Equity.Set(acct.AccountValue)
	if t.equity != nil {
		t.equity.SetInitialEquity(acct.AccountValue)
		metrics.BoolGauge(metrics.CircuitBreaker, t.equity.ShouldStopTrading())
	}

	positions, err := t.state.AllPositions(ctx)
	if err != nil {
		return rep, fmt.Errorf("positions: %w", err)
	}
	if added, removed := t.entries.SyncWithExchange(positions); added+removed > 0 {
		logger.Info("[TRADER] tracker synced: +%d -%d", added, removed)
	}

	results := t.analyze(ctx, positions)
	for _, a := range results {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if a.err != nil {
			logger.Warn("[TRADER] %s analysis: %v", a.symbol, a.err)
		}
		if a.position != nil {
			t.manage(ctx, a, &rep)
			continue
		}
		if a.decision == nil {
			rep.skip(a.symbol, "no decision")
			continue
		}
		if t.open(ctx, a.symbol, *a.decision, acct.AccountValue, &rep) {
			if acct2, err := t.state.AccountState(ctx); err == nil {
				acct = acct2
			}
		}
	}
	span.SetTag("opened", len(rep.Opened))
	span.SetTag("closed", len(rep.Closed))
	return rep, nil
}

// analyze опрашивает модель по символам параллельно, порядок символов сохраняется.
func (t *Trader) analyze(ctx context.Context, positions []models.Position) []analysis {
	bySymbol := make(map[string]models.Position, len(positions))
	for _, p := range positions {
		bySymbol[strings.ToUpper(p.Coin)] = p
	}

	mids, err := t.market.AllMids(ctx)
	if err != nil {
		logger.Warn("[TRADER] mids: %v", err)
	}

	symbols := t.symbols()
	out := make([]analysis, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i, symbol := range symbols {
		out[i].symbol = symbol
		if p, ok := bySymbol[strings.ToUpper(symbol)]; ok {
			pos := p
			out[i].position = &pos
		}
		g.Go(func() error {
			a := &out[i]
			snap := ai.Snapshot{
				Symbol:   symbol,
				Mid:      mids[symbol],
				Interval: t.cfg.CandleInterval,
				Position: a.position,
			}
			if a.position != nil {
				snap.AgeHours = t.entries.AgeHours(symbol)
			}
			candles, err := t.market.Candles(gctx, symbol, t.cfg.CandleInterval, t.cfg.CandleBars)
			if err != nil {
				a.err = fmt.Errorf("candles: %w", err)
				return nil
			}
			bars := make([]strategy.Bar, 0, len(candles))
			for _, c := range candles {
				snap.Closes = append(snap.Closes, c.Close)
				bars = append(bars, strategy.Bar{High: c.High, Low: c.Low, Close: c.Close})
			}
			snap.Indicators = strategy.Compute(t.cfg.Indicators, bars).String()
			dec, err := t.decider.Decide(gctx, snap)
			if err != nil {
				a.err = err
				return nil
			}
			a.decision = &dec
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// manage — открытая позиция: CloseValidator решает, закрывать ли.
func (t *Trader) manage(ctx context.Context, a analysis, rep *Report) {
	pos := *a.position
	view := validator.PositionView{
		Coin:       pos.Coin,
		PnlPercent: pos.PnlPercent(),
		AgeHours:   t.entries.AgeHours(a.symbol),
	}
	res := t.validator.Decide(view, a.decision)
	metrics.CloseDecisions.WithLabelValues(res.Decision.String()).Inc()

	if res.Decision != validator.Close {
		logger.Info("[TRADER] %s %s: %s", a.symbol, res.Decision, res.Reason)
		rep.skip(a.symbol, res.Decision.String()+": "+res.Trigger)
		return
	}

	rec, err := t.exec.ClosePosition(ctx, a.symbol, res.Trigger, source)
	if err != nil {
		logger.Error("[TRADER] close %s: %v", a.symbol, err)
		rep.skip(a.symbol, "close failed")
		return
	}
	metrics.Closes.WithLabelValues(source, res.Trigger).Inc()
	rep.Closed = append(rep.Closed, a.symbol)
	logger.Info("[TRADER] closed %s (tier %d, %s): %s", a.symbol, res.Tier, res.Trigger, res.Reason)

	if err := t.entries.Remove(a.symbol); err != nil {
		logger.Error("[TRADER] tracker remove %s: %v", a.symbol, err)
	}
	acct, err := t.state.AccountState(ctx)
	if err != nil {
		logger.Error("[TRADER] equity after close %s: %v", a.symbol, err)
	} else {
		t.sizer.RecordTradeResult(rec.PnlUSD, acct.AccountValue)
	}
	if t.notifier != nil {
		t.notifier.Send(fmt.Sprintf("🔒 %s closed: %s (pnl %.2f USD, %.2f%%)", a.symbol, res.Reason, rec.PnlUSD, rec.PnlPercent))
	}
}

// open — вход по BUY/SELL после гейтов Sizer. true, если позиция открыта.
func (t *Trader) open(ctx context.Context, symbol string, dec models.Decision, balance float64, rep *Report) bool {
	if dec.Action != models.ActionBuy && dec.Action != models.ActionSell {
		rep.skip(symbol, "no signal")
		return false
	}
	size, reason := t.sizer.PositionSizeForSignal(balance, dec.Confidence)
	if size == nil {
		logger.Info("[TRADER] %s %s skipped: %s", dec.Action, symbol, reason)
		rep.skip(symbol, reason)
		return false
	}
	isLong := dec.Action == models.ActionBuy

	if t.cfg.ConfirmEntries && t.notifier != nil {
		prompt := fmt.Sprintf("%s %s: margin %.2f, notional %.2f, %dx (confidence %.0f%%)\n%s",
			dec.Action, symbol, size.Margin, size.Notional, size.Leverage, dec.Confidence, dec.Reasoning)
		if !t.notifier.Confirm(ctx, prompt, t.cfg.ConfirmTimeout) {
			rep.skip(symbol, "not confirmed")
			return false
		}
	}

	rec, err := t.exec.OpenPosition(ctx, hl.OpenRequest{
		Symbol:   symbol,
		IsLong:   isLong,
		Notional: size.Notional,
		Leverage: size.Leverage,
		Reason:   dec.Reasoning,
		Source:   source,
	})
	if err != nil {
		logger.Error("[TRADER] open %s: %v", symbol, err)
		rep.skip(symbol, "open failed")
		return false
	}
	if err := t.entries.RecordEntry(symbol, rec.Price, rec.Size, isLong); err != nil {
		logger.Error("[TRADER] tracker record %s: %v", symbol, err)
	}

	metrics.Opens.WithLabelValues(rec.Side).Inc()
	metrics.Leverage.Set(float64(size.Leverage))
	metrics.CombinedMultiplier.Set(size.CombinedMultiplier)
	rep.Opened = append(rep.Opened, symbol)

	if t.notifier != nil {
		t.notifier.Send(fmt.Sprintf("🚀 %s %s: %.6g @ %.6g, %dx, margin %.2f (confidence %.0f%%)",
			rec.Side, symbol, rec.Size, rec.Price, size.Leverage, size.Margin, dec.Confidence))
	}
	return true
}
