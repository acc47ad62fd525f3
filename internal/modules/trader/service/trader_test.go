package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	ai "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/ai/service"
	validator "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/closevalidator/service"
	hl "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_client/service"
	positions "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/position_tracker/service"
	sizing "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/sizing/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

type fakeMarket struct{ candleErr error }

func (f *fakeMarket) AllMids(context.Context) (map[string]float64, error) {
	return map[string]float64{"BTC": 60000, "ETH": 3000}, nil
}

func (f *fakeMarket) Candles(_ context.Context, _, _ string, _ int) ([]hl.Candle, error) {
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	return []hl.Candle{{Close: 59000}, {Close: 60000}}, nil
}

type fakeExec struct {
	mu        sync.Mutex
	acct      models.AccountState
	acctErr   error
	positions []models.Position
	opened    []hl.OpenRequest
	closed    []string
	closeRec  models.TradeRecord
}

func (f *fakeExec) AllPositions(context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Position(nil), f.positions...), nil
}

func (f *fakeExec) AccountState(context.Context) (models.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acct, f.acctErr
}

func (f *fakeExec) OpenPosition(_ context.Context, req hl.OpenRequest) (models.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, req)
	side := models.SideLong
	if !req.IsLong {
		side = models.SideShort
	}
	return models.TradeRecord{Coin: req.Symbol, Event: models.TradeOpen, Side: side, Size: 0.0044, Price: 60000}, nil
}

func (f *fakeExec) ClosePosition(_ context.Context, symbol, _, _ string) (models.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, symbol)
	rec := f.closeRec
	rec.Coin = symbol
	return rec, nil
}

type fakeDecider struct {
	mu        sync.Mutex
	decisions map[string]models.Decision
	err       error
	asked     []string
	snaps     map[string]ai.Snapshot
}

func (f *fakeDecider) Decide(_ context.Context, snap ai.Snapshot) (models.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, snap.Symbol)
	if f.snaps == nil {
		f.snaps = make(map[string]ai.Snapshot)
	}
	f.snaps[snap.Symbol] = snap
	if f.err != nil {
		return models.Decision{}, f.err
	}
	d, ok := f.decisions[snap.Symbol]
	if !ok {
		return models.Decision{Symbol: snap.Symbol, Action: models.ActionKeep, Confidence: 50}, nil
	}
	if snap.Position != nil {
		d = d.ForPosition(snap.Position.IsLong())
	}
	return d, nil
}

type MockSizer struct{ mock.Mock }

func (m *MockSizer) PositionSizeForSignal(balance, confidence float64) (*sizing.Result, string) {
	args := m.Called(balance, confidence)
	res, _ := args.Get(0).(*sizing.Result)
	return res, args.String(1)
}

func (m *MockSizer) RecordTradeResult(profitUSD, closingEquity float64) {
	m.Called(profitUSD, closingEquity)
}

type fakeEquity struct {
	mu      sync.Mutex
	initial []float64
	stop    bool
}

func (f *fakeEquity) SetInitialEquity(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initial = append(f.initial, v)
}

func (f *fakeEquity) ShouldStopTrading() bool { return f.stop }

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	confirm bool
	prompts []string
}

func (f *fakeNotifier) Send(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeNotifier) Confirm(_ context.Context, prompt string, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.confirm
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	exec     *fakeExec
	decider  *fakeDecider
	sizer    *MockSizer
	entries  *positions.Tracker
	equity   *fakeEquity
	notifier *fakeNotifier
	clock    *clock
	market   *fakeMarket
}

func newFixture() *fixture {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		exec:     &fakeExec{acct: models.AccountState{AccountValue: 1000, Withdrawable: 900}},
		decider:  &fakeDecider{decisions: map[string]models.Decision{}},
		sizer:    &MockSizer{},
		entries:  positions.NewTracker("", c.now),
		equity:   &fakeEquity{},
		notifier: &fakeNotifier{confirm: true},
		clock:    c,
		market:   &fakeMarket{},
	}
}

func (f *fixture) trader(cfg Config) *Trader {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTC", "ETH"}
	}
	return NewTrader(cfg, f.market, f.exec, f.exec, f.decider,
		validator.NewValidator(validator.DefaultConfig()),
		f.sizer, f.entries, f.equity, f.notifier)
}

func TestRunCycle_OpensOnSignal(t *testing.T) {
	f := newFixture()
	f.decider.decisions["BTC"] = models.Decision{Symbol: "BTC", Action: models.ActionBuy, Confidence: 85, Reasoning: "breakout"}
	f.sizer.On("PositionSizeForSignal", 1000.0, 85.0).
		Return(&sizing.Result{Margin: 13.2, Notional: 264, Leverage: 20, CombinedMultiplier: 1.2}, "")

	rep, err := f.trader(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC"}, rep.Opened)
	assert.Equal(t, "no signal", rep.Skipped["ETH"])
	require.Len(t, f.exec.opened, 1)
	req := f.exec.opened[0]
	assert.True(t, req.IsLong)
	assert.InDelta(t, 264, req.Notional, 1e-9)
	assert.Equal(t, 20, req.Leverage)
	assert.Equal(t, "trader", req.Source)

	e, ok := f.entries.Info("BTC")
	require.True(t, ok)
	assert.True(t, e.IsLong)
	assert.InDelta(t, 60000, e.EntryPrice, 1e-9)

	assert.Equal(t, []float64{1000}, f.equity.initial)
	assert.Len(t, f.notifier.sent, 1)
	assert.Empty(t, f.notifier.prompts, "confirmation off by default")
	f.sizer.AssertExpectations(t)
}

func TestRunCycle_SizerGateBlocks(t *testing.T) {
	f := newFixture()
	f.decider.decisions["ETH"] = models.Decision{Symbol: "ETH", Action: models.ActionSell, Confidence: 60}
	f.sizer.On("PositionSizeForSignal", 1000.0, 60.0).Return(nil, "confidence 60% below minimum 70%")

	rep, err := f.trader(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rep.Opened)
	assert.Empty(t, f.exec.opened)
	assert.Contains(t, rep.Skipped["ETH"], "below minimum")
}

func TestRunCycle_ConfirmationRejected(t *testing.T) {
	f := newFixture()
	f.notifier.confirm = false
	f.decider.decisions["BTC"] = models.Decision{Symbol: "BTC", Action: models.ActionBuy, Confidence: 90}
	f.sizer.On("PositionSizeForSignal", 1000.0, 90.0).Return(&sizing.Result{Margin: 10, Notional: 200, Leverage: 20}, "")

	rep, err := f.trader(Config{ConfirmEntries: true, ConfirmTimeout: time.Second}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.exec.opened)
	assert.Equal(t, "not confirmed", rep.Skipped["BTC"])
	require.Len(t, f.notifier.prompts, 1)
	assert.Contains(t, f.notifier.prompts[0], "BUY BTC")
}

func TestRunCycle_EmergencyStopClosesWithoutModel(t *testing.T) {
	f := newFixture()
	f.decider.err = errors.New("provider down")
	f.exec.positions = []models.Position{{Coin: "BTC", Size: 0.01, EntryPrice: 60000, ReturnOnEquity: -0.025}}
	f.exec.closeRec = models.TradeRecord{PnlUSD: -0.75, PnlPercent: -2.5}
	f.sizer.On("RecordTradeResult", -0.75, 1000.0).Return()

	rep, err := f.trader(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC"}, rep.Closed)
	assert.Equal(t, []string{"BTC"}, f.exec.closed)
	_, tracked := f.entries.Info("BTC")
	assert.False(t, tracked, "entry removed after close")
	assert.Equal(t, "no decision", rep.Skipped["ETH"])
	f.sizer.AssertExpectations(t)
}

func TestRunCycle_YoungPositionProtected(t *testing.T) {
	f := newFixture()
	f.exec.positions = []models.Position{{Coin: "BTC", Size: 0.01, EntryPrice: 60000, ReturnOnEquity: 0.001}}
	f.decider.decisions["BTC"] = models.Decision{Symbol: "BTC", Action: models.ActionClose, Confidence: 99}

	rep, err := f.trader(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.exec.closed)
	assert.Contains(t, rep.Skipped["BTC"], "DEFER")
	f.sizer.AssertNotCalled(t, "RecordTradeResult", mock.Anything, mock.Anything)
}

func TestRunCycle_MatureLossClosesOnBoostedConfidence(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.entries.RecordEntry("BTC", 60000, 0.01, true))
	f.clock.t = f.clock.t.Add(3 * time.Hour)

	// -1.5% -> severe, 60 + 25 = 85 >= 80
	f.exec.positions = []models.Position{{Coin: "BTC", Size: 0.01, EntryPrice: 60000, ReturnOnEquity: -0.015}}
	f.decider.decisions["BTC"] = models.Decision{Symbol: "BTC", Action: models.ActionSell, Confidence: 60}
	f.exec.closeRec = models.TradeRecord{PnlUSD: -0.45}
	f.sizer.On("RecordTradeResult", -0.45, 1000.0).Return()

	rep, err := f.trader(Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, rep.Closed)
	f.sizer.AssertExpectations(t)
}

func TestRunCycle_AccountErrorMeansNoTrades(t *testing.T) {
	f := newFixture()
	f.exec.acctErr = errors.New("timeout")

	_, err := f.trader(Config{}).RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.decider.asked)
	assert.Empty(t, f.exec.opened)
	assert.Empty(t, f.exec.closed)
}

func TestRunCycle_ExcludedAndCandleErrors(t *testing.T) {
	f := newFixture()
	f.market.candleErr = errors.New("no candles")

	tr := f.trader(Config{Symbols: []string{"BTC", "ETH"}, Excluded: []string{"eth"}})
	rep, err := tr.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.decider.asked, "no decision without candles")
	assert.Equal(t, "no decision", rep.Skipped["BTC"])
	_, seen := rep.Skipped["ETH"]
	assert.False(t, seen)
	assert.False(t, tr.LastCycle().IsZero())
}

func TestRunCycle_SyncsTrackerWithExchange(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.entries.RecordEntry("SOL", 150, 1, true))
	f.exec.positions = []models.Position{{Coin: "ETH", Size: -0.1, EntryPrice: 3000}}

	_, err := f.trader(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	all := f.entries.All()
	assert.NotContains(t, all, "SOL")
	assert.Contains(t, all, "ETH")
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture()
	tr := f.trader(Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestTrader_SnapshotCarriesIndicators(t *testing.T) {
	f := newFixture()
	_, err := f.trader(Config{CandleInterval: "1h"}).RunCycle(context.Background())
	require.NoError(t, err)

	f.decider.mu.Lock()
	defer f.decider.mu.Unlock()
	snap, ok := f.decider.snaps["BTC"]
	require.True(t, ok)
	assert.Equal(t, "1h", snap.Interval)
	assert.Equal(t, []float64{59000, 60000}, snap.Closes)
	// двух свечей мало для прогрева
	assert.Equal(t, "indicators: not enough history", snap.Indicators)
}
