package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

// wsServer — in-process сервер: каждое соединение отдаётся в handle.
type wsServer struct {
	srv   *httptest.Server
	conns atomic.Int32
}

func newWSServer(t *testing.T, handle func(n int, conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(int(s.conns.Add(1)), conn)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Backoff = Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}
	cfg.JoinTimeout = 2 * time.Second
	return cfg
}

// drain читает кадры клиента до закрытия соединения.
func drain(conn *websocket.Conn, out chan<- string) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		out <- string(raw)
	}
}

func TestBackoffDelaySequence(t *testing.T) {
	b := DefaultConfig().Backoff
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 60*time.Second, b.Delay(500))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "closed", Closed.String())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := NewClient(testConfig("ws://127.0.0.1:1"), nil)
	assert.False(t, c.Subscribe(L2Book("BTC")))
	assert.Zero(t, c.SubscriptionCount())
}

func TestSubscribeDedupeAndUnsubscribe(t *testing.T) {
	frames := make(chan string, 16)
	srv := newWSServer(t, func(_ int, conn *websocket.Conn) { drain(conn, frames) })

	c := NewClient(testConfig(srv.url()), nil)
	require.True(t, c.Connect())
	defer c.Close()
	require.Eventually(t, c.IsConnected, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.Connect(), "second connect is a no-op")

	require.True(t, c.Subscribe(Candle("ETH", "1m")))
	require.True(t, c.Subscribe(Candle("ETH", "1m")))
	require.True(t, c.Subscribe(UserFills("0xabc")))
	assert.Equal(t, 2, c.SubscriptionCount())

	first := <-frames
	assert.Equal(t, "subscribe", gjson.Get(first, "method").String())
	assert.Equal(t, "candle", gjson.Get(first, "subscription.type").String())
	assert.Equal(t, "ETH", gjson.Get(first, "subscription.coin").String())
	assert.Equal(t, "1m", gjson.Get(first, "subscription.interval").String())
	assert.False(t, gjson.Get(first, "subscription.user").Exists())

	second := <-frames
	assert.Equal(t, "userFills", gjson.Get(second, "subscription.type").String())

	require.True(t, c.Unsubscribe(Candle("ETH", "1m")))
	third := <-frames
	assert.Equal(t, "unsubscribe", gjson.Get(third, "method").String())
	assert.Equal(t, []Subscription{UserFills("0xabc")}, c.Subscriptions())
	assert.False(t, c.Unsubscribe(Candle("ETH", "1m")))
}

func TestResubscribeAfterDrop(t *testing.T) {
	second := make(chan string, 16)
	srv := newWSServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			// первая сессия: дождаться подписки и оборвать соединение
			_, _, _ = conn.ReadMessage()
			return
		}
		drain(conn, second)
	})

	c := NewClient(testConfig(srv.url()), nil)
	var connects atomic.Int32
	c.OnConnect(func() { connects.Add(1) })
	var drops atomic.Int32
	c.OnDisconnect(func(bool) { drops.Add(1) })

	require.True(t, c.Connect())
	defer c.Close()
	require.Eventually(t, c.IsConnected, 2*time.Second, 5*time.Millisecond)
	require.True(t, c.Subscribe(Trades("SOL")))

	select {
	case frame := <-second:
		assert.Equal(t, "subscribe", gjson.Get(frame, "method").String())
		assert.Equal(t, "SOL", gjson.Get(frame, "subscription.coin").String())
	case <-time.After(3 * time.Second):
		t.Fatal("subscription was not replayed after reconnect")
	}
	assert.Equal(t, int32(2), connects.Load())
	assert.GreaterOrEqual(t, drops.Load(), int32(1))
	assert.Equal(t, 1, c.SubscriptionCount())
}

func TestStateChangesOnDrop(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			return
		}
		_, _, _ = conn.ReadMessage()
	})

	c := NewClient(testConfig(srv.url()), nil)
	var mu sync.Mutex
	var states []State
	var atDrop []State
	c.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	c.OnDisconnect(func(bool) {
		mu.Lock()
		atDrop = append(atDrop, c.State())
		mu.Unlock()
	})

	require.True(t, c.Connect())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 6
	}, 3*time.Second, 5*time.Millisecond)
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, atDrop)
	assert.NotEqual(t, Connected, atDrop[0], "drop handlers must not see a live session")
	assert.Equal(t, []State{Connecting, Connected, Disconnected, Reconnecting, Connecting, Connected, Closed}, states)
}

func TestSubscribeDoesNotHoldStateLockWhileWriting(t *testing.T) {
	frames := make(chan string, 16)
	srv := newWSServer(t, func(_ int, conn *websocket.Conn) { drain(conn, frames) })

	c := NewClient(testConfig(srv.url()), nil)
	require.True(t, c.Connect())
	defer c.Close()
	require.Eventually(t, c.IsConnected, 2*time.Second, 5*time.Millisecond)

	// медленная запись: writeMu занят
	c.writeMu.Lock()
	subscribed := make(chan bool, 1)
	go func() { subscribed <- c.Subscribe(Trades("BTC")) }()
	time.Sleep(20 * time.Millisecond)

	read := make(chan State, 1)
	go func() { read <- c.State() }()
	select {
	case st := <-read:
		assert.Equal(t, Connected, st)
	case <-time.After(time.Second):
		c.writeMu.Unlock()
		t.Fatal("State blocked behind a pending write")
	}
	assert.Equal(t, 1, c.SubscriptionCount())

	c.writeMu.Unlock()
	select {
	case ok := <-subscribed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not finish")
	}
	frame := <-frames
	assert.Equal(t, "BTC", gjson.Get(frame, "subscription.coin").String())
}

func TestMalformedFramesAndPanickingHandlers(t *testing.T) {
	srv := newWSServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json {"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"userFills","data":{"fills":[]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"assetPositions":[]}`))
		_, _, _ = conn.ReadMessage()
	})

	c := NewClient(testConfig(srv.url()), nil)
	c.OnMessage(func(Message) { panic("boom") })

	var mu sync.Mutex
	var got []Message
	c.OnMessage(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	require.True(t, c.Connect())
	defer c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "userFills", got[0].Channel)
	assert.True(t, got[0].Data.Get("fills").IsArray())
	assert.Empty(t, got[1].Channel)
	assert.True(t, got[1].Data.Get("assetPositions").Exists())
	assert.False(t, c.LastMessageTime().IsZero())
	assert.True(t, c.IsConnected())
}

type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return nil, nil, errors.New("connection refused")
}

func TestMaxReconnectAttemptsEndsClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReconnectAttempts = 4
	d := &failingDialer{}
	c := NewClient(cfg, d)

	var mu sync.Mutex
	var delays []time.Duration
	c.sleep = func(_ context.Context, dur time.Duration) bool {
		mu.Lock()
		delays = append(delays, dur)
		mu.Unlock()
		return true
	}
	var errs atomic.Int32
	c.OnError(func(error) { errs.Add(1) })
	var last atomic.Int32
	c.OnStateChange(func(st State) { last.Store(int32(st)) })

	require.True(t, c.Connect())
	require.Eventually(t, func() bool { return c.State() == Closed }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Closed, State(last.Load()), "giving up is reported to state handlers")

	assert.Equal(t, int32(5), d.calls.Load(), "initial dial plus four retries")
	assert.Equal(t, int32(5), errs.Load())
	mu.Lock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(5), d.calls.Load(), "no attempts after giving up")
	c.Close()
}

func TestCloseCancelsReconnectWait(t *testing.T) {
	cfg := DefaultConfig()
	d := &failingDialer{}
	c := NewClient(cfg, d)

	require.True(t, c.Connect())
	require.Eventually(t, func() bool { return c.State() == Reconnecting }, 2*time.Second, time.Millisecond)

	start := time.Now()
	c.Close()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Closed, c.State())

	calls := d.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, d.calls.Load())
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoReconnect = false
	d := &failingDialer{}
	c := NewClient(cfg, d)

	require.True(t, c.Connect())
	require.Eventually(t, func() bool { return c.State() == Closed }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestCloseWhileConnected(t *testing.T) {
	srv := newWSServer(t, func(_ int, conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	c := NewClient(testConfig(srv.url()), nil)
	var cleanDrop atomic.Bool
	c.OnDisconnect(func(clean bool) { cleanDrop.Store(clean) })

	require.True(t, c.Connect())
	require.Eventually(t, c.IsConnected, 2*time.Second, 5*time.Millisecond)

	c.Close()
	assert.Equal(t, Closed, c.State())
	assert.True(t, cleanDrop.Load())
	assert.Equal(t, int32(1), srv.conns.Load())
}
