package service

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var ErrNotConnected = errors.New("hyperliquid ws: not connected")

// Dialer — *websocket.Dialer; в тестах подменяется.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Config struct {
	URL                  string
	AutoReconnect        bool
	MaxReconnectAttempts int
	Backoff              Backoff
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	JoinTimeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:                  "wss://api.hyperliquid.xyz/ws",
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		Backoff: Backoff{
			Initial:    time.Second,
			Max:        60 * time.Second,
			Multiplier: 2.0,
		},
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		JoinTimeout:  5 * time.Second,
	}
}

// Message — входящий кадр. Data — поле "data" либо весь кадр для плоского формата.
type Message struct {
	Channel string
	Data    gjson.Result
	Raw     []byte
}

// ParseMessage разбирает кадр: {"channel","data"} или плоский payload. false для не-JSON.
func ParseMessage(raw []byte) (Message, bool) {
	if !gjson.ValidBytes(raw) {
		return Message{}, false
	}
	msg := Message{Raw: raw}
	if ch := gjson.GetBytes(raw, "channel"); ch.Exists() {
		msg.Channel = ch.String()
		msg.Data = gjson.GetBytes(raw, "data")
	} else {
		msg.Data = gjson.ParseBytes(raw)
	}
	return msg, true
}

type (
	MessageHandler    func(Message)
	ErrorHandler      func(error)
	ConnectHandler    func()
	DisconnectHandler func(clean bool)
	StateHandler      func(State)
)

// Client — одна WS-сессия с автопереподключением.
type Client struct {
	cfg    Config
	dialer Dialer
	sleep  func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	subs    []Subscription
	attempt int
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
	lastMsg atomic.Int64

	hmu          sync.RWMutex
	onMessage    []MessageHandler
	onError      []ErrorHandler
	onConnect    []ConnectHandler
	onDisconnect []DisconnectHandler
	onState      []StateHandler
}

func NewClient(cfg Config, dialer Dialer) *Client {
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		sleep:  sleepWithContext,
		state:  Disconnected,
	}
}

func (c *Client) OnMessage(h MessageHandler) {
	c.hmu.Lock()
	c.onMessage = append(c.onMessage, h)
	c.hmu.Unlock()
}

func (c *Client) OnError(h ErrorHandler) {
	c.hmu.Lock()
	c.onError = append(c.onError, h)
	c.hmu.Unlock()
}

func (c *Client) OnConnect(h ConnectHandler) {
	c.hmu.Lock()
	c.onConnect = append(c.onConnect, h)
	c.hmu.Unlock()
}

func (c *Client) OnDisconnect(h DisconnectHandler) {
	c.hmu.Lock()
	c.onDisconnect = append(c.onDisconnect, h)
	c.hmu.Unlock()
}

// OnStateChange вызывается после каждой смены состояния, вне c.mu.
func (c *Client) OnStateChange(h StateHandler) {
	c.hmu.Lock()
	c.onState = append(c.onState, h)
	c.hmu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) StateName() string { return c.State().String() }

func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// LastMessageTime — zero, если сообщений ещё не было.
func (c *Client) LastMessageTime() time.Time {
	ns := c.lastMsg.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Connect запускает фоновый цикл. false, если уже подключены или подключаемся.
func (c *Client) Connect() bool {
	c.mu.Lock()
	switch c.state {
	case Connected, Connecting, Reconnecting:
		state := c.state
		c.mu.Unlock()
		logger.Warn("[WS] connect ignored: state=%s", state)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.state = Connecting
	c.attempt = 0
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.emitState(Connecting)
	logger.Info("[WS] connecting to %s", c.cfg.URL)
	go c.run(ctx, done)
	return true
}

// Close останавливает переподключение, закрывает сокет и ждёт цикл не дольше JoinTimeout.
func (c *Client) Close() {
	c.mu.Lock()
	changed := c.swapStateLocked(Closed)
	cancel, done, conn := c.cancel, c.done, c.conn
	if cancel != nil {
		cancel()
	}
	c.mu.Unlock()
	if changed {
		c.emitState(Closed)
	}

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(c.cfg.JoinTimeout):
		logger.Warn("[WS] receive loop did not stop within %s", c.cfg.JoinTimeout)
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			logger.Error("[WS] dial %s: %v", c.cfg.URL, err)
			c.emitError(err)
		} else if c.open(ctx, conn) {
			clean := c.readLoop(ctx, conn)
			// состояние меняется до колбэков: обработчики обрыва не видят Connected
			c.mu.Lock()
			c.conn = nil
			changed := c.swapStateLocked(Disconnected)
			c.mu.Unlock()
			if changed {
				c.emitState(Disconnected)
			}
			c.emitDisconnect(clean)
		} else {
			_ = conn.Close()
		}

		if ctx.Err() != nil || !c.cfg.AutoReconnect {
			c.setState(Closed)
			return
		}

		c.mu.Lock()
		if c.attempt >= c.cfg.MaxReconnectAttempts {
			changed := c.swapStateLocked(Closed)
			c.mu.Unlock()
			if changed {
				c.emitState(Closed)
			}
			logger.Error("[WS] max reconnect attempts (%d) reached, giving up", c.cfg.MaxReconnectAttempts)
			return
		}
		c.attempt++
		attempt := c.attempt
		changed := c.swapStateLocked(Reconnecting)
		c.mu.Unlock()
		if changed {
			c.emitState(Reconnecting)
		}

		delay := c.cfg.Backoff.Delay(attempt)
		logger.Info("[WS] reconnect attempt %d/%d in %s", attempt, c.cfg.MaxReconnectAttempts, delay)
		if !c.sleep(ctx, delay) || ctx.Err() != nil {
			c.setState(Closed)
			return
		}
		c.setState(Connecting)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.swapStateLocked(s)
	c.mu.Unlock()
	if changed {
		c.emitState(s)
	}
}

// swapStateLocked не выводит из Closed: после Close цикл только завершается.
// false, если состояние не изменилось.
func (c *Client) swapStateLocked(s State) bool {
	if c.state == s || (c.state == Closed && s != Closed) {
		return false
	}
	c.state = s
	return true
}

func (c *Client) open(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	changed := c.swapStateLocked(Connected)
	c.attempt = 0
	c.lastMsg.Store(time.Now().UnixNano())
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	if len(subs) > 0 {
		logger.Info("[WS] resubscribing to %d channels", len(subs))
	}
	for i := range subs {
		if !c.send(conn, controlMessage{Method: "subscribe", Subscription: &subs[i]}) {
			logger.Error("[WS] resubscribe %s failed", subs[i].Type)
		}
	}

	if changed {
		c.emitState(Connected)
	}
	logger.Info("[WS] connected")
	c.hmu.RLock()
	handlers := slices.Clone(c.onConnect)
	c.hmu.RUnlock()
	for _, h := range handlers {
		safeCall("on_connect", h)
	}
	return true
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(ctx, conn, stopPing)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			clean := websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil
			if !clean {
				logger.Error("[WS] read: %v", err)
				c.emitError(err)
			}
			_ = conn.Close()
			return clean
		}
		c.dispatch(raw)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	payload, _ := sonic.Marshal(controlMessage{Method: "ping"})
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-t.C:
			if err := c.write(conn, payload); err != nil {
				logger.Warn("[WS] ping: %v", err)
			}
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	c.lastMsg.Store(time.Now().UnixNano())

	msg, ok := ParseMessage(raw)
	if !ok {
		logger.Warn("[WS] malformed frame dropped (%d bytes)", len(raw))
		return
	}

	c.hmu.RLock()
	handlers := slices.Clone(c.onMessage)
	c.hmu.RUnlock()
	for _, h := range handlers {
		safeCall("on_message", func() { h(msg) })
	}
}

func (c *Client) emitError(err error) {
	c.hmu.RLock()
	handlers := slices.Clone(c.onError)
	c.hmu.RUnlock()
	for _, h := range handlers {
		safeCall("on_error", func() { h(err) })
	}
}

func (c *Client) emitState(s State) {
	c.hmu.RLock()
	handlers := slices.Clone(c.onState)
	c.hmu.RUnlock()
	for _, h := range handlers {
		safeCall("on_state", func() { h(s) })
	}
}

func (c *Client) emitDisconnect(clean bool) {
	c.hmu.RLock()
	handlers := slices.Clone(c.onDisconnect)
	c.hmu.RUnlock()
	for _, h := range handlers {
		safeCall("on_disconnect", func() { h(clean) })
	}
}

func safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[WS] %s handler panic: %v", name, r)
		}
	}()
	fn()
}

func (c *Client) write(conn *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// liveConnLocked — сокет текущей сессии или nil, если она не в Connected.
func (c *Client) liveConnLocked() *websocket.Conn {
	if c.state != Connected {
		return nil
	}
	return c.conn
}

// send пишет в conn без c.mu: записи сериализует writeMu.
func (c *Client) send(conn *websocket.Conn, msg controlMessage) bool {
	if conn == nil {
		return false
	}
	payload, err := sonic.Marshal(msg)
	if err != nil {
		logger.Error("[WS] encode %s: %v", msg.Method, err)
		return false
	}
	if err := c.write(conn, payload); err != nil {
		logger.Error("[WS] send %s: %v", msg.Method, err)
		return false
	}
	return true
}

// Subscribe отправляет подписку и запоминает её для переподписки. Повтор — no-op.
// Подписка попадает в список до записи в сокет, чтобы параллельный реконнект её
// переотправил; при ошибке записи она убирается.
func (c *Client) Subscribe(sub Subscription) bool {
	c.mu.Lock()
	if slices.Contains(c.subs, sub) {
		c.mu.Unlock()
		return true
	}
	conn := c.liveConnLocked()
	if conn == nil {
		c.mu.Unlock()
		logger.Warn("[WS] subscribe %s %s: %v", sub.Type, sub.Coin, ErrNotConnected)
		return false
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	if c.send(conn, controlMessage{Method: "subscribe", Subscription: &sub}) {
		return true
	}
	c.mu.Lock()
	if idx := slices.Index(c.subs, sub); idx >= 0 {
		c.subs = slices.Delete(c.subs, idx, idx+1)
	}
	c.mu.Unlock()
	return false
}

// Unsubscribe убирает подписку из списка всегда; true, если отписка ушла на сервер.
func (c *Client) Unsubscribe(sub Subscription) bool {
	c.mu.Lock()
	idx := slices.Index(c.subs, sub)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.subs = slices.Delete(c.subs, idx, idx+1)
	conn := c.liveConnLocked()
	c.mu.Unlock()

	return c.send(conn, controlMessage{Method: "unsubscribe", Subscription: &sub})
}

func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subs)
}

func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
