package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/metrics"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/tracing"
)

const source = "tpsl"

const (
	TriggerTakeProfit = "take_profit"
	TriggerStopLoss   = "stop_loss"
)

// PositionSource — позиция и баланс аккаунта.
type PositionSource interface {
	Position(ctx context.Context, symbol string) (models.Position, bool, error)
	AccountState(ctx context.Context) (models.AccountState, error)
}

type Closer interface {
	ClosePosition(ctx context.Context, symbol, reason, source string) (models.TradeRecord, error)
}

// TradeRecorder — сюда уходит результат закрытой сделки (дневной PnL + кривая эквити).
type TradeRecorder interface {
	RecordTradeResult(profitUSD, closingEquity float64)
}

type EntryRemover interface {
	Remove(symbol string) error
}

type Notifier interface {
	Send(msg string)
}

type Config struct {
	Symbols        []string
	Excluded       []string
	Interval       time.Duration
	TakeProfitPct  float64
	StopLossPct    float64 // отрицательный
	CashReservePct float64
}

func DefaultConfig() Config {
	return Config{
		Symbols:        []string{"BTC", "ETH", "SOL", "LTC", "AAVE", "HYPE"},
		Interval:       30 * time.Second,
		TakeProfitPct:  4.5,
		StopLossPct:    -1.5,
		CashReservePct: 20,
	}
}

// Watchdog — периодическая проверка TP/SL по живым позициям.
type Watchdog struct {
	cfg      Config
	src      PositionSource
	closer   Closer
	recorder TradeRecorder
	entries  EntryRemover
	notifier Notifier

	lastPass atomic.Int64
}

func NewWatchdog(cfg Config, src PositionSource, closer Closer, recorder TradeRecorder, entries EntryRemover, notifier Notifier) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StopLossPct > 0 {
		cfg.StopLossPct = -cfg.StopLossPct
	}
	return &Watchdog{
		cfg:      cfg,
		src:      src,
		closer:   closer,
		recorder: recorder,
		entries:  entries,
		notifier: notifier,
	}
}

// LastPass — время завершения последнего прохода.
func (w *Watchdog) LastPass() time.Time {
	u := w.lastPass.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (w *Watchdog) symbols() []string {
	excluded := make(map[string]struct{}, len(w.cfg.Excluded))
	for _, s := range w.cfg.Excluded {
		excluded[strings.ToUpper(s)] = struct{}{}
	}
	out := make([]string, 0, len(w.cfg.Symbols))
	for _, s := range w.cfg.Symbols {
		if _, skip := excluded[strings.ToUpper(s)]; !skip {
			out = append(out, s)
		}
	}
	return out
}

// Trigger — take_profit / stop_loss / "" по PnL%.
func (w *Watchdog) Trigger(pnlPct float64) string {
	switch {
	case pnlPct >= w.cfg.TakeProfitPct:
		return TriggerTakeProfit
	case pnlPct <= w.cfg.StopLossPct:
		return TriggerStopLoss
	default:
		return ""
	}
}

// CashReserveOK: withdrawable >= accountValue*reserve%. Ошибка запроса — false.
func (w *Watchdog) CashReserveOK(ctx context.Context) bool {
	acct, err := w.src.AccountState(ctx)
	if err != nil {
		logger.Error("[TPSL] cash reserve check: %v", err)
		return false
	}
	required := acct.AccountValue * w.cfg.CashReservePct / 100
	if acct.Withdrawable < required {
		logger.Warn("[TPSL] cash reserve insufficient: %.2f < %.2f required", acct.Withdrawable, required)
		return false
	}
	return true
}

// Run крутит проверки до отмены ctx.
func (w *Watchdog) Run(ctx context.Context) {
	logger.Info("[TPSL] started: every %s, TP +%.2f%%, SL %.2f%%, reserve %.0f%%",
		w.cfg.Interval, w.cfg.TakeProfitPct, w.cfg.StopLossPct, w.cfg.CashReservePct)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.safePass(ctx)
		select {
		case <-ctx.Done():
			logger.Info("[TPSL] stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Watchdog) safePass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[TPSL] pass panic: %v", r)
		}
	}()
	w.CheckOnce(ctx)
}

// CheckOnce — один проход по символам. Возвращает закрытые символы.
func (w *Watchdog) CheckOnce(ctx context.Context) []string {
	span, ctx := tracing.StartSpan(ctx, "tpsl.check")
	defer span.Finish()
	started := time.Now()
	defer func() {
		metrics.WatchdogPass.Observe(time.Since(started).Seconds())
		w.lastPass.Store(time.Now().Unix())
	}()

	var closed []string
	for _, symbol := range w.symbols() {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.checkSymbol(ctx, symbol)
		if err != nil {
			tracing.MarkError(span, err)
			logger.Error("[TPSL] %s: %v", symbol, err)
			continue
		}
		if ok {
			closed = append(closed, symbol)
		}
	}
	if len(closed) > 0 {
		logger.Info("[TPSL] pass complete: closed %d (%s)", len(closed), strings.Join(closed, ","))
	}
	span.SetTag("closed", len(closed))
	return closed
}

func (w *Watchdog) checkSymbol(ctx context.Context, symbol string) (closed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	pos, in, err := w.src.Position(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("position query: %w", err)
	}
	if !in || pos.Size == 0 {
		return false, nil
	}

	pnl := pos.PnlPercent()
	trigger := w.Trigger(pnl)
	if trigger == "" {
		return false, nil
	}
	logger.Info("[TPSL] %s %s at %.2f%%", strings.ToUpper(trigger), symbol, pnl)

	if !w.CashReserveOK(ctx) {
		logger.Warn("[TPSL] skip close %s: cash reserve would be violated", symbol)
		return false, nil
	}

	rec, err := w.closer.ClosePosition(ctx, symbol, trigger, source)
	if err != nil {
		return false, fmt.Errorf("close: %w", err)
	}
	metrics.Closes.WithLabelValues(source, trigger).Inc()

	w.afterClose(ctx, symbol, trigger, pnl, rec)
	return true, nil
}

func (w *Watchdog) afterClose(ctx context.Context, symbol, trigger string, pnl float64, rec models.TradeRecord) {
	if w.entries != nil {
		if err := w.entries.Remove(symbol); err != nil {
			logger.Error("[TPSL] tracker remove %s: %v", symbol, err)
		}
	}
	if w.recorder != nil {
		acct, err := w.src.AccountState(ctx)
		if err != nil {
			logger.Error("[TPSL] equity after close %s: %v", symbol, err)
		} else {
			w.recorder.RecordTradeResult(rec.PnlUSD, acct.AccountValue)
		}
	}
	if w.notifier != nil {
		w.notifier.Send(fmt.Sprintf("%s %s closed at %.2f%% (pnl %.2f USD)", trigger, symbol, pnl, rec.PnlUSD))
	}
}
