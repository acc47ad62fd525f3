package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/jsonfile"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/num"

	"github.com/google/uuid"
)

var (
	ErrNoPosition         = errors.New("no open position")
	ErrPositionExists     = errors.New("position already open")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrSizeTooSmall       = errors.New("size rounds to zero")
)

// MarketData — цены и точность размера.
type MarketData interface {
	AllMids(ctx context.Context) (map[string]float64, error)
	SzDecimals(ctx context.Context) (map[string]int32, error)
}

// Journal — куда пишутся исполненные сделки. nil — не пишем.
type Journal interface {
	RecordTrade(ctx context.Context, rec models.TradeRecord) error
}

type OpenRequest struct {
	Symbol   string
	IsLong   bool
	Notional float64
	Leverage int
	Reason   string
	Source   string
}

type PaperConfig struct {
	StartingBalance float64
	FeeRate         float64
	StatePath       string
	Now             func() time.Time
}

type paperPosition struct {
	Coin       string    `json:"coin"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	Leverage   int       `json:"leverage"`
	OpenedAt   time.Time `json:"opened_at"`
}

func (p paperPosition) margin() float64 {
	return math.Abs(p.Size) * p.EntryPrice / float64(max(p.Leverage, 1))
}

type paperBook struct {
	Cash      float64                  `json:"cash"`
	Positions map[string]paperPosition `json:"positions"`
}

// PaperExecutor — симулятор исполнения по mid-ценам биржи. Подписи ордеров нет,
// поэтому живое исполнение сюда не входит.
type PaperExecutor struct {
	cfg     PaperConfig
	md      MarketData
	journal Journal

	mu   sync.Mutex
	book paperBook

	hmu   sync.Mutex
	hooks []func()
}

// OnChange — вызывается после каждого успешного open/close, вне локов книги.
func (e *PaperExecutor) OnChange(fn func()) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.hooks = append(e.hooks, fn)
}

func (e *PaperExecutor) changed() {
	e.hmu.Lock()
	hooks := e.hooks
	e.hmu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func NewPaperExecutor(cfg PaperConfig, md MarketData, journal Journal) *PaperExecutor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = 1000
	}
	e := &PaperExecutor{
		cfg:     cfg,
		md:      md,
		journal: journal,
		book:    paperBook{Cash: cfg.StartingBalance, Positions: map[string]paperPosition{}},
	}
	if cfg.StatePath != "" {
		e.load()
	}
	return e
}

func (e *PaperExecutor) load() {
	var b paperBook
	err := jsonfile.Read(e.cfg.StatePath, &b)
	if errors.Is(err, jsonfile.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn("[PAPER] state load failed, starting fresh: %v", err)
		return
	}
	if b.Positions == nil {
		b.Positions = map[string]paperPosition{}
	}
	e.book = b
	logger.Info("[PAPER] restored book: cash %.2f, %d positions", b.Cash, len(b.Positions))
}

// persist — под e.mu.
func (e *PaperExecutor) persist() {
	if e.cfg.StatePath == "" {
		return
	}
	if err := jsonfile.Write(e.cfg.StatePath, e.book); err != nil {
		logger.Error("[PAPER] state save failed: %v", err)
	}
}

func (e *PaperExecutor) mid(ctx context.Context, symbol string) (float64, error) {
	mids, err := e.md.AllMids(ctx)
	if err != nil {
		return 0, err
	}
	px := mids[symbol]
	if px <= 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return px, nil
}

func (e *PaperExecutor) OpenPosition(ctx context.Context, req OpenRequest) (rec models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PaperExecutor.OpenPosition %s: %w", req.Symbol, err)
			return
		}
		e.changed()
	}()

	mids, err := e.md.AllMids(ctx)
	if err != nil {
		return rec, err
	}
	px := mids[req.Symbol]
	if px <= 0 {
		return rec, fmt.Errorf("no price for %s", req.Symbol)
	}
	decimals, err := e.md.SzDecimals(ctx)
	if err != nil {
		return rec, err
	}
	dec, ok := decimals[req.Symbol]
	if !ok {
		dec = 4
	}
	size := num.Floor(req.Notional/px, dec)
	if size <= 0 {
		return rec, ErrSizeTooSmall
	}
	lev := max(req.Leverage, 1)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.book.Positions[req.Symbol]; exists {
		return rec, ErrPositionExists
	}
	pos := paperPosition{Coin: req.Symbol, Size: size, EntryPrice: px, Leverage: lev, OpenedAt: e.cfg.Now()}
	if !req.IsLong {
		pos.Size = -size
	}
	notional := size * px
	fee := notional * e.cfg.FeeRate
	if pos.margin()+fee > e.withdrawableLocked(mids) {
		return rec, ErrInsufficientMargin
	}

	e.book.Cash -= fee
	e.book.Positions[req.Symbol] = pos
	e.persist()

	rec = models.TradeRecord{
		ID:            uuid.New().String(),
		ClientOrderID: uuid.New().String(),
		Coin:          req.Symbol,
		Event:         models.TradeOpen,
		Side:          sideOf(pos.Size),
		Size:          size,
		Price:         px,
		Notional:      notional,
		Leverage:      lev,
		Reason:        req.Reason,
		Source:        req.Source,
		CreatedAt:     e.cfg.Now(),
	}
	logger.Info("[PAPER] open %s %s size=%.6f @ %.4f lev=%dx", rec.Side, rec.Coin, size, px, lev)
	e.record(ctx, rec)
	return rec, nil
}

// ClosePosition закрывает позицию целиком по рынку.
func (e *PaperExecutor) ClosePosition(ctx context.Context, symbol, reason, source string) (rec models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PaperExecutor.ClosePosition %s: %w", symbol, err)
			return
		}
		e.changed()
	}()

	px, err := e.mid(ctx, symbol)
	if err != nil {
		return rec, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.book.Positions[symbol]
	if !ok {
		return rec, ErrNoPosition
	}
	pnl := (px - pos.EntryPrice) * pos.Size
	fee := math.Abs(pos.Size) * px * e.cfg.FeeRate
	margin := pos.margin()

	e.book.Cash += pnl - fee
	delete(e.book.Positions, symbol)
	e.persist()

	rec = models.TradeRecord{
		ID:            uuid.New().String(),
		ClientOrderID: uuid.New().String(),
		Coin:          symbol,
		Event:         models.TradeClose,
		Side:          sideOf(pos.Size),
		Size:          math.Abs(pos.Size),
		Price:         px,
		Notional:      math.Abs(pos.Size) * px,
		Leverage:      pos.Leverage,
		PnlUSD:        num.Round(pnl-fee, 4),
		Reason:        reason,
		Source:        source,
		CreatedAt:     e.cfg.Now(),
	}
	if margin > 0 {
		rec.PnlPercent = num.Round(pnl/margin*100, 4)
	}
	logger.Info("[PAPER] close %s %s @ %.4f pnl=%.4f (%.2f%%)", rec.Side, symbol, px, rec.PnlUSD, rec.PnlPercent)
	e.record(ctx, rec)
	return rec, nil
}

func (e *PaperExecutor) record(ctx context.Context, rec models.TradeRecord) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordTrade(ctx, rec); err != nil {
		logger.Error("[PAPER] journal %s %s: %v", rec.Event, rec.Coin, err)
	}
}

func (e *PaperExecutor) AllPositions(ctx context.Context) ([]models.Position, error) {
	mids, err := e.md.AllMids(ctx)
	if err != nil {
		return nil, fmt.Errorf("PaperExecutor.AllPositions: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	out := make([]models.Position, 0, len(e.book.Positions))
	for _, p := range e.book.Positions {
		out = append(out, toPosition(p, mids[p.Coin], now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })
	return out, nil
}

func (e *PaperExecutor) Position(ctx context.Context, symbol string) (models.Position, bool, error) {
	all, err := e.AllPositions(ctx)
	if err != nil {
		return models.Position{}, false, err
	}
	for _, p := range all {
		if strings.EqualFold(p.Coin, symbol) {
			return p, true, nil
		}
	}
	return models.Position{}, false, nil
}

func (e *PaperExecutor) AccountState(ctx context.Context) (models.AccountState, error) {
	mids, err := e.md.AllMids(ctx)
	if err != nil {
		return models.AccountState{}, fmt.Errorf("PaperExecutor.AccountState: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var upnl, used float64
	for _, p := range e.book.Positions {
		upnl += unrealized(p, mids[p.Coin])
		used += p.margin()
	}
	value := e.book.Cash + upnl
	return models.AccountState{
		AccountValue:       value,
		Withdrawable:       math.Max(0, value-used),
		TotalMarginUsed:    used,
		TotalUnrealizedPnl: upnl,
		LastUpdate:         e.cfg.Now(),
	}, nil
}

// withdrawableLocked — под e.mu. Монеты без цены считаются без нереализованного PnL.
func (e *PaperExecutor) withdrawableLocked(mids map[string]float64) float64 {
	value := e.book.Cash
	var used float64
	for _, p := range e.book.Positions {
		value += unrealized(p, mids[p.Coin])
		used += p.margin()
	}
	return value - used
}

func unrealized(p paperPosition, mid float64) float64 {
	if mid <= 0 {
		return 0
	}
	return (mid - p.EntryPrice) * p.Size
}

func toPosition(p paperPosition, mid float64, now time.Time) models.Position {
	upnl := unrealized(p, mid)
	margin := p.margin()
	roe := 0.0
	if margin > 0 {
		roe = upnl / margin
	}
	return models.Position{
		Coin:           p.Coin,
		Size:           p.Size,
		EntryPrice:     p.EntryPrice,
		UnrealizedPnl:  upnl,
		ReturnOnEquity: roe,
		Leverage:       float64(p.Leverage),
		MarginUsed:     margin,
		LastUpdate:     now,
	}
}

func sideOf(size float64) string {
	if size < 0 {
		return models.SideShort
	}
	return models.SideLong
}
