package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	ws "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_ws/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

const addr = "0x1234567890abcdef1234567890abcdef12345678"

func msg(t *testing.T, raw string) ws.Message {
	t.Helper()
	m, ok := ws.ParseMessage([]byte(raw))
	require.True(t, ok, raw)
	return m
}

func assetPosition(coin, szi, roe string) string {
	return fmt.Sprintf(`{"position":{"coin":%q,"szi":%q,"entryPx":"100.5","unrealizedPnl":"1.2","returnOnEquity":%q,"leverage":{"type":"cross","value":20},"liquidationPx":"80.0","marginUsed":"12.5"},"type":"oneWay"}`, coin, szi, roe)
}

func userMsg(entries ...string) string {
	return fmt.Sprintf(`{"channel":"user","data":{"assetPositions":[%s]}}`, strings.Join(entries, ","))
}

type fakeStream struct {
	mock.Mock
	handlers []ws.MessageHandler
	connect  []ws.ConnectHandler
}

func (f *fakeStream) Subscribe(sub ws.Subscription) bool   { return f.Called(sub).Bool(0) }
func (f *fakeStream) Unsubscribe(sub ws.Subscription) bool { return f.Called(sub).Bool(0) }
func (f *fakeStream) OnMessage(h ws.MessageHandler)        { f.handlers = append(f.handlers, h) }
func (f *fakeStream) OnConnect(h ws.ConnectHandler)        { f.connect = append(f.connect, h) }

type MockSource struct {
	mock.Mock
}

func (m *MockSource) AllPositions(ctx context.Context) ([]models.Position, error) {
	args := m.Called(ctx)
	ps, _ := args.Get(0).([]models.Position)
	return ps, args.Error(1)
}

func (m *MockSource) AccountState(ctx context.Context) (models.AccountState, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.AccountState), args.Error(1)
}

func TestPositionUpdateAndRemoval(t *testing.T) {
	r := NewReconciler(addr, nil)
	var events []models.Position
	r.AddPositionListener(func(p models.Position) { events = append(events, p) })

	r.HandleMessage(msg(t, userMsg(assetPosition("BTC", "0.01", "0.015"), assetPosition("ETH", "-2", "-0.004"))))

	btc, ok := r.Position("BTC")
	require.True(t, ok)
	assert.Equal(t, 0.01, btc.Size)
	assert.Equal(t, 100.5, btc.EntryPrice)
	assert.Equal(t, 20.0, btc.Leverage)
	assert.InDelta(t, 1.5, btc.PnlPercent(), 1e-9)
	require.NotNil(t, btc.LiquidationPrice)
	assert.Equal(t, 80.0, *btc.LiquidationPrice)
	eth, _ := r.Position("ETH")
	assert.Equal(t, models.SideShort, eth.Side())
	assert.Len(t, events, 2)

	// size 0 удаляет, ETH не упомянут и остаётся
	r.HandleMessage(msg(t, userMsg(assetPosition("BTC", "0.0", "0"))))
	_, ok = r.Position("BTC")
	assert.False(t, ok)
	_, ok = r.Position("ETH")
	assert.True(t, ok)
	require.Len(t, events, 3)
	assert.Equal(t, "BTC", events[2].Coin)
	assert.Zero(t, events[2].Size)

	// size 0 для неизвестной монеты: ничего
	r.HandleMessage(msg(t, userMsg(assetPosition("DOGE", "0", "0"))))
	assert.Len(t, events, 3)
	assert.Len(t, r.Positions(), 1)
}

func TestPartialUpdateNeverDropsUntouchedCoins(t *testing.T) {
	r := NewReconciler(addr, nil)
	coins := []string{"BTC", "ETH", "SOL", "LTC", "AAVE", "HYPE"}
	for _, c := range coins {
		r.HandleMessage(msg(t, userMsg(assetPosition(c, "1", "0.01"))))
	}
	for i, c := range coins {
		r.HandleMessage(msg(t, userMsg(assetPosition(c, fmt.Sprint(i+2), "0.02"))))
		assert.Len(t, r.Positions(), len(coins), "after update of %s", c)
	}
}

func TestNotifyOncePerChangedCoin(t *testing.T) {
	r := NewReconciler(addr, nil)
	counts := map[string]int{}
	r.AddPositionListener(func(p models.Position) { counts[p.Coin]++ })

	raw := userMsg(assetPosition("BTC", "1", "0.01"), assetPosition("BTC", "2", "0.01"), assetPosition("SOL", "3", "0.01"))
	r.HandleMessage(msg(t, raw))
	assert.Equal(t, map[string]int{"BTC": 1, "SOL": 1}, counts)

	btc, _ := r.Position("BTC")
	assert.Equal(t, 2.0, btc.Size, "last entry wins")

	// повтор без изменений
	r.HandleMessage(msg(t, userMsg(assetPosition("SOL", "3", "0.01"))))
	assert.Equal(t, 1, counts["SOL"])
}

func TestWebData2IsFullSnapshot(t *testing.T) {
	r := NewReconciler(addr, nil)
	r.HandleMessage(msg(t, userMsg(assetPosition("BTC", "1", "0.01"), assetPosition("ETH", "1", "0.01"))))

	var removed []string
	var account []models.AccountState
	r.AddPositionListener(func(p models.Position) {
		if p.Size == 0 {
			removed = append(removed, p.Coin)
		}
	})
	r.AddAccountListener(func(a models.AccountState) { account = append(account, a) })

	raw := fmt.Sprintf(`{"channel":"webData2","data":{"clearinghouseState":{"assetPositions":[%s],"marginSummary":{"accountValue":"1500.5","totalMarginUsed":"40","totalUnrealizedPnl":"3.5"},"withdrawable":"1200.25"}}}`,
		assetPosition("ETH", "1", "0.01"))
	r.HandleMessage(msg(t, raw))

	assert.Equal(t, []string{"BTC"}, removed)
	assert.Len(t, r.Positions(), 1)
	require.Len(t, account, 1)
	assert.Equal(t, 1500.5, r.AccountValue())
	assert.Equal(t, 1200.25, r.Withdrawable())
	assert.Equal(t, 40.0, r.AccountState().TotalMarginUsed)
}

func TestLegacyFlatPayload(t *testing.T) {
	r := NewReconciler(addr, nil)
	raw := fmt.Sprintf(`{"assetPositions":[%s],"marginSummary":{"accountValue":900,"withdrawable":700,"totalMarginUsed":10,"totalUnrealizedPnl":-1}}`,
		assetPosition("SOL", "5", "-0.02"))
	r.HandleMessage(msg(t, raw))

	sol, ok := r.Position("SOL")
	require.True(t, ok)
	assert.InDelta(t, -2.0, sol.PnlPercent(), 1e-9)
	assert.Equal(t, 900.0, r.AccountValue())
	assert.Equal(t, 700.0, r.Withdrawable())
}

func TestTypedUserEvents(t *testing.T) {
	r := NewReconciler(addr, nil)
	r.HandleMessage(msg(t, userMsg(assetPosition("BTC", "1", "0.01"))))

	raw := `{"channel":"userEvents","data":{"userEvents":[
		{"type":"position","data":[{"coin":"ETH","szi":"3","entryPx":"2000","returnOnEquity":"0.05","leverage":{"value":10}},{"coin":"BTC","szi":"0"}]},
		{"type":"margin","data":{"accountValue":"2500","withdrawable":"1800","totalMarginUsed":"100","totalUnrealizedPnl":"12"}}
	]}}`
	r.HandleMessage(msg(t, raw))

	_, ok := r.Position("BTC")
	assert.False(t, ok)
	eth, ok := r.Position("ETH")
	require.True(t, ok)
	assert.Equal(t, 10.0, eth.Leverage)
	assert.Nil(t, eth.LiquidationPrice)
	assert.Equal(t, 2500.0, r.AccountValue())
	assert.Equal(t, 1800.0, r.Withdrawable())
}

func TestFillsNewestFirstAndCapped(t *testing.T) {
	r := NewReconciler(addr, nil)
	var seen int
	r.AddFillListener(func(models.Fill) { seen++ })

	for i := 0; i < 120; i++ {
		raw := fmt.Sprintf(`{"channel":"userFills","data":{"user":"%s","fills":[{"coin":"BTC","side":"B","sz":"0.1","px":"%d","fee":"0.01","oid":%d,"closedPnl":"0","time":1700000000000}]}}`, addr, 1000+i, i)
		r.HandleMessage(msg(t, raw))
	}

	fills := r.RecentFills()
	require.Len(t, fills, 100)
	assert.Equal(t, 120, seen)
	assert.Equal(t, int64(119), fills[0].OrderID)
	assert.Equal(t, int64(20), fills[99].OrderID)
	assert.Equal(t, models.FillBuy, fills[0].Side)
	assert.Equal(t, 1119.0, fills[0].Price)
	assert.Equal(t, time.UnixMilli(1700000000000), fills[0].Time)

	// массив без обёртки
	r.HandleMessage(msg(t, `{"channel":"userFills","data":[{"coin":"ETH","side":"A","sz":"1","px":"2000","oid":500}]}`))
	fills = r.RecentFills()
	assert.Equal(t, "ETH", fills[0].Coin)
	assert.Equal(t, models.FillSell, fills[0].Side)
	assert.Len(t, fills, 100)
}

func TestFillCountedOnceAcrossChannels(t *testing.T) {
	r := NewReconciler(addr, nil)
	var seen []models.Fill
	r.AddFillListener(func(f models.Fill) { seen = append(seen, f) })

	fill := `{"coin":"BTC","side":"B","sz":"0.1","px":"60000","oid":7,"tid":9001,"hash":"0xabc","closedPnl":"0","time":1700000000000}`
	r.HandleMessage(msg(t, `{"channel":"userFills","data":{"user":"`+addr+`","fills":[`+fill+`]}}`))
	// тот же филл в userEvents
	r.HandleMessage(msg(t, `{"channel":"user","data":{"fills":[`+fill+`]}}`))

	require.Len(t, r.RecentFills(), 1)
	require.Len(t, seen, 1)
	assert.Equal(t, int64(9001), seen[0].TradeID)

	// переподписка: история с уже известным и одним старым филлом
	old := `{"coin":"ETH","side":"A","sz":"1","px":"2000","oid":3,"tid":8000,"time":1690000000000}`
	r.HandleMessage(msg(t, `{"channel":"userFills","data":{"isSnapshot":true,"user":"`+addr+`","fills":[`+fill+`,`+old+`]}}`))

	fills := r.RecentFills()
	require.Len(t, fills, 2)
	assert.Equal(t, int64(8000), fills[0].TradeID)
	assert.Len(t, seen, 1, "history is not announced")

	// повтор того же пакета userFills
	r.HandleMessage(msg(t, `{"channel":"userFills","data":{"user":"`+addr+`","fills":[`+fill+`]}}`))
	assert.Len(t, r.RecentFills(), 2)
	assert.Len(t, seen, 1)
}

func TestOrderUpdatesFlattened(t *testing.T) {
	r := NewReconciler(addr, nil)
	var got []models.OrderUpdate
	r.AddOrderListener(func(o models.OrderUpdate) { got = append(got, o) })

	r.HandleMessage(msg(t, `{"channel":"orderUpdates","data":[{"order":{"coin":"SOL","side":"B","limitPx":"150.5","sz":"2","oid":77,"filled":"1"},"status":"open","statusTimestamp":1}]}`))

	require.Len(t, got, 1)
	assert.Equal(t, models.OrderUpdate{OrderID: 77, Coin: "SOL", Side: "B", Size: 2, Price: 150.5, Status: "open", Filled: 1}, got[0])
}

func TestListenerPanicIsolatedAndRemoval(t *testing.T) {
	r := NewReconciler(addr, nil)
	bad := r.AddPositionListener(func(models.Position) { panic("listener bug") })
	var good int
	r.AddPositionListener(func(models.Position) { good++ })

	r.HandleMessage(msg(t, userMsg(assetPosition("BTC", "1", "0.01"))))
	r.HandleMessage(msg(t, userMsg(assetPosition("ETH", "1", "0.01"))))
	assert.Equal(t, 2, good)
	assert.Len(t, r.Positions(), 2, "state intact after panicking listener")

	assert.True(t, r.RemoveListener(bad))
	assert.False(t, r.RemoveListener(bad))
	r.HandleMessage(msg(t, userMsg(assetPosition("SOL", "1", "0.01"))))
	assert.Equal(t, 3, good)
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := NewReconciler(addr, nil)
	r.HandleMessage(msg(t, userMsg(assetPosition("BTC", "1", "0.01"))))

	ps := r.Positions()
	p := ps["BTC"]
	*p.LiquidationPrice = 1
	p.Size = 99
	delete(ps, "BTC")

	again, ok := r.Position("BTC")
	require.True(t, ok)
	assert.Equal(t, 1.0, again.Size)
	assert.Equal(t, 80.0, *again.LiquidationPrice)
}

func TestUnknownChannelsIgnored(t *testing.T) {
	r := NewReconciler(addr, nil)
	r.HandleMessage(msg(t, `{"channel":"pong"}`))
	r.HandleMessage(msg(t, `{"channel":"subscriptionResponse","data":{"method":"subscribe"}}`))
	r.HandleMessage(msg(t, `{"foo":"bar"}`))
	assert.Empty(t, r.Positions())
	assert.Zero(t, r.AccountValue())
}

func TestLoadInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	src := &MockSource{}
	liq := 50.0
	src.On("AllPositions", ctx).Return([]models.Position{
		{Coin: "BTC", Size: 0.5, EntryPrice: 60000, ReturnOnEquity: 0.01, LiquidationPrice: &liq},
		{Coin: "ETH", Size: 0},
	}, nil)
	src.On("AccountState", ctx).Return(models.AccountState{AccountValue: 1000, Withdrawable: 800}, nil)

	r := NewReconciler(addr, nil)
	r.HandleMessage(msg(t, userMsg(assetPosition("SOL", "1", "0.01"))))
	require.NoError(t, r.LoadInitialSnapshot(ctx, src))

	assert.True(t, r.InitialStateLoaded())
	ps := r.Positions()
	assert.Len(t, ps, 1)
	assert.Contains(t, ps, "BTC")
	assert.Equal(t, 1000.0, r.AccountValue())
	liq = 1
	btc, _ := r.Position("BTC")
	assert.Equal(t, 50.0, *btc.LiquidationPrice)
	src.AssertExpectations(t)
}

func TestLoadInitialSnapshotError(t *testing.T) {
	ctx := context.Background()
	src := &MockSource{}
	src.On("AllPositions", ctx).Return(nil, errors.New("timeout"))

	r := NewReconciler(addr, nil)
	err := r.LoadInitialSnapshot(ctx, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Reconciler.LoadInitialSnapshot")
	assert.False(t, r.InitialStateLoaded())
	src.AssertNotCalled(t, "AccountState", mock.Anything)
}

func TestStartStopSubscriptions(t *testing.T) {
	stream := &fakeStream{}
	stream.On("Subscribe", mock.Anything).Return(false).Times(4)
	stream.On("Subscribe", mock.Anything).Return(true)
	stream.On("Unsubscribe", mock.Anything).Return(true)

	r := NewReconciler(addr, stream)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()), "second start is a no-op")
	assert.True(t, r.IsRunning())
	require.Len(t, stream.handlers, 1)
	require.Len(t, stream.connect, 1)

	// сокет поднялся: подписки повторяются
	stream.connect[0]()
	stream.AssertNumberOfCalls(t, "Subscribe", 8)
	stream.AssertCalled(t, "Subscribe", ws.UserFills(addr))
	stream.AssertCalled(t, "Subscribe", ws.WebData2(addr))
	stream.AssertCalled(t, "Subscribe", ws.OrderUpdates(addr))
	stream.AssertCalled(t, "Subscribe", ws.UserEvents(addr))

	// сообщения стрима доходят до reconciler
	stream.handlers[0](msg(t, userMsg(assetPosition("BTC", "1", "0.01"))))
	_, ok := r.Position("BTC")
	assert.True(t, ok)

	r.Stop()
	assert.False(t, r.IsRunning())
	stream.AssertNumberOfCalls(t, "Unsubscribe", 4)

	stream.connect[0]()
	stream.AssertNumberOfCalls(t, "Subscribe", 8)
}

func TestStartWithoutAddress(t *testing.T) {
	r := NewReconciler("", &fakeStream{})
	assert.Error(t, r.Start(context.Background()))
	assert.False(t, r.IsRunning())
}
