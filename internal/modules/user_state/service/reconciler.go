package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/exchange"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	ws "github.com/karmaworks-dev/ai-agents-sub000/internal/modules/hyperliquid_ws/service"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/tidwall/gjson"
)

const maxFills = 100

// SnapshotSource — синхронный запрос состояния до чтения стрима.
type SnapshotSource interface {
	AllPositions(ctx context.Context) ([]models.Position, error)
	AccountState(ctx context.Context) (models.AccountState, error)
}

// Stream — то, что нужно от WS-клиента.
type Stream interface {
	Subscribe(sub ws.Subscription) bool
	Unsubscribe(sub ws.Subscription) bool
	OnMessage(h ws.MessageHandler)
	OnConnect(h ws.ConnectHandler)
}

type ListenerID uint64

type listener[T any] struct {
	id ListenerID
	fn func(T)
}

// Reconciler — единственный владелец позиций/филлов/аккаунта. Снаружи только копии.
type Reconciler struct {
	address string
	stream  Stream
	now     func() time.Time

	mu        sync.RWMutex
	positions map[string]models.Position
	fills     []models.Fill
	account   models.AccountState
	loaded    bool

	lmu        sync.Mutex
	nextID     ListenerID
	onPosition []listener[models.Position]
	onFill     []listener[models.Fill]
	onOrder    []listener[models.OrderUpdate]
	onAccount  []listener[models.AccountState]

	running  atomic.Bool
	attached sync.Once
}

func NewReconciler(address string, stream Stream) *Reconciler {
	return &Reconciler{
		address:   address,
		stream:    stream,
		now:       time.Now,
		positions: make(map[string]models.Position),
	}
}

func (r *Reconciler) subscriptions() []ws.Subscription {
	return []ws.Subscription{
		ws.UserFills(r.address),
		ws.OrderUpdates(r.address),
		ws.UserEvents(r.address),
		// полный clearinghouseState с текущим PnL
		ws.WebData2(r.address),
	}
}

// Start подписывает пользовательские каналы. Если сокет ещё не поднят —
// подписка уйдёт в OnConnect.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.address == "" {
		return fmt.Errorf("Reconciler.Start: empty account address")
	}
	if r.stream == nil {
		return fmt.Errorf("Reconciler.Start: no stream")
	}
	if r.running.Swap(true) {
		return nil
	}

	r.attached.Do(func() {
		r.stream.OnMessage(r.HandleMessage)
		r.stream.OnConnect(func() {
			if r.running.Load() {
				r.subscribe()
			}
		})
	})
	r.subscribe()
	logger.Info("[USER_STATE] started for %s", shortAddr(r.address))
	return nil
}

func (r *Reconciler) subscribe() {
	for _, sub := range r.subscriptions() {
		if !r.stream.Subscribe(sub) {
			logger.Warn("[USER_STATE] subscribe %s deferred until connected", sub.Type)
		}
	}
}

func (r *Reconciler) Stop() {
	if !r.running.Swap(false) {
		return
	}
	for _, sub := range r.subscriptions() {
		r.stream.Unsubscribe(sub)
	}
	logger.Info("[USER_STATE] stopped")
}

func (r *Reconciler) IsRunning() bool { return r.running.Load() }

// LoadInitialSnapshot заполняет состояние целиком до первых push-сообщений.
func (r *Reconciler) LoadInitialSnapshot(ctx context.Context, src SnapshotSource) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Reconciler.LoadInitialSnapshot: %w", err)
		}
	}()

	positions, err := src.AllPositions(ctx)
	if err != nil {
		return err
	}
	account, err := src.AccountState(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.positions = make(map[string]models.Position, len(positions))
	for _, p := range positions {
		if p.Coin == "" || p.Size == 0 {
			continue
		}
		r.positions[p.Coin] = p.Copy()
	}
	r.account = account
	r.loaded = true
	n := len(r.positions)
	r.mu.Unlock()

	logger.Info("[USER_STATE] initial snapshot: %d positions, account value %.2f", n, account.AccountValue)
	return nil
}

func (r *Reconciler) InitialStateLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// HandleMessage — вход для всех форм конверта.
func (r *Reconciler) HandleMessage(msg ws.Message) {
	switch msg.Channel {
	case ws.ChannelUserFills:
		// первый пакет после (пере)подписки — история, isSnapshot:true
		r.applyFills(fillEntries(msg.Data), msg.Data.Get("isSnapshot").Bool())
	case ws.ChannelOrderUpdates:
		r.applyOrderUpdates(msg.Data.Array())
	case "user", ws.ChannelUserEvents:
		r.applyUserEvents(msg.Data)
	case ws.ChannelWebData2:
		state := msg.Data.Get("clearinghouseState")
		if !state.Exists() {
			return
		}
		r.applyPositions(state.Get("assetPositions").Array(), true)
		if summary := state.Get("marginSummary"); summary.Exists() {
			r.applyAccount(exchange.ParseAccount(summary, state, r.now()))
		}
	case "":
		if msg.Data.Get("assetPositions").Exists() || msg.Data.Get("marginSummary").Exists() {
			r.applyUserEvents(msg.Data)
		}
	}
}

// fillEntries: {"fills":[...]} либо сразу массив.
func fillEntries(data gjson.Result) []gjson.Result {
	if data.IsArray() {
		return data.Array()
	}
	return data.Get("fills").Array()
}

// applyUserEvents: позиции и маржа. Филлы читаются только из userFills,
// биржа дублирует их в userEvents.
func (r *Reconciler) applyUserEvents(data gjson.Result) {
	if positions := data.Get("assetPositions"); positions.Exists() {
		r.applyPositions(positions.Array(), false)
	}
	if summary := data.Get("marginSummary"); summary.Exists() {
		r.applyAccount(exchange.ParseAccount(summary, data, r.now()))
	}
	for _, ev := range data.Get("userEvents").Array() {
		switch ev.Get("type").String() {
		case "position":
			r.applyPositions(ev.Get("data").Array(), false)
		case "margin":
			d := ev.Get("data")
			r.applyAccount(exchange.ParseAccount(d, d, r.now()))
		}
	}
}

// applyPositions: size != 0 — заменить/создать, size == 0 — удалить.
// full: монеты, которых нет в снапшоте, тоже удаляются.
func (r *Reconciler) applyPositions(entries []gjson.Result, full bool) {
	now := r.now()
	parsed := make([]models.Position, 0, len(entries))
	for _, e := range entries {
		if p, ok := exchange.ParsePosition(e, now); ok {
			parsed = append(parsed, p)
		}
	}
	r.mergePositions(parsed, full)
}

func (r *Reconciler) mergePositions(parsed []models.Position, full bool) {
	now := r.now()
	var changed []models.Position
	touched := make(map[string]int)

	mark := func(p models.Position) {
		if i, ok := touched[p.Coin]; ok {
			changed[i] = p
			return
		}
		touched[p.Coin] = len(changed)
		changed = append(changed, p)
	}

	r.mu.Lock()
	seen := make(map[string]struct{}, len(parsed))
	for _, p := range parsed {
		if p.Coin == "" {
			continue
		}
		seen[p.Coin] = struct{}{}
		prev, tracked := r.positions[p.Coin]

		if p.Size != 0 {
			r.positions[p.Coin] = p.Copy()
			if !tracked || !exchange.SamePosition(prev, p) {
				mark(p.Copy())
			}
			continue
		}
		if tracked {
			delete(r.positions, p.Coin)
			mark(models.Position{Coin: p.Coin, LastUpdate: now})
		}
	}
	if full {
		for coin := range r.positions {
			if _, ok := seen[coin]; ok {
				continue
			}
			delete(r.positions, coin)
			mark(models.Position{Coin: coin, LastUpdate: now})
		}
		r.loaded = true
	}
	r.mu.Unlock()

	for _, p := range changed {
		emit(r.positionListeners(), p, "position")
	}
}

// applyFills: уже известные филлы (по tid/hash) пропускаются. snapshot — история
// после подписки: пополняет RecentFills, но слушателям не уходит.
func (r *Reconciler) applyFills(entries []gjson.Result, snapshot bool) {
	if len(entries) == 0 {
		return
	}
	now := r.now()

	r.mu.Lock()
	known := make(map[string]struct{}, len(r.fills))
	for _, f := range r.fills {
		if k := f.Key(); k != "" {
			known[k] = struct{}{}
		}
	}
	fills := make([]models.Fill, 0, len(entries))
	for _, e := range entries {
		f := exchange.ParseFill(e, now)
		if k := f.Key(); k != "" {
			if _, dup := known[k]; dup {
				continue
			}
			known[k] = struct{}{}
		}
		fills = append(fills, f)
		r.fills = append([]models.Fill{f}, r.fills...)
	}
	if len(r.fills) > maxFills {
		r.fills = r.fills[:maxFills]
	}
	r.mu.Unlock()

	if snapshot {
		if len(fills) > 0 {
			logger.Info("[USER_STATE] %d fills from history", len(fills))
		}
		return
	}
	for _, f := range fills {
		logger.Info("[USER_STATE] fill %s %.6f %s @ %.4f", f.Side, f.Size, f.Coin, f.Price)
		emit(r.fillListeners(), f, "fill")
	}
}

func (r *Reconciler) applyOrderUpdates(entries []gjson.Result) {
	for _, e := range entries {
		emit(r.orderListeners(), exchange.ParseOrderUpdate(e), "order")
	}
}

func (r *Reconciler) applyAccount(a models.AccountState) {
	r.mu.Lock()
	r.account = a
	r.mu.Unlock()
	emit(r.accountListeners(), a, "account")
}

// emit вызывает слушателей вне локов; паника одного не мешает остальным.
func emit[T any](ls []listener[T], v T, kind string) {
	for _, l := range ls {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("[USER_STATE] %s listener %d panic: %v", kind, l.id, rec)
				}
			}()
			l.fn(v)
		}()
	}
}

func (r *Reconciler) Positions() map[string]models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.Position, len(r.positions))
	for k, p := range r.positions {
		out[k] = p.Copy()
	}
	return out
}

func (r *Reconciler) Position(coin string) (models.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[coin]
	if !ok {
		return models.Position{}, false
	}
	return p.Copy(), true
}

// RecentFills — от новых к старым.
func (r *Reconciler) RecentFills() []models.Fill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Fill, len(r.fills))
	copy(out, r.fills)
	return out
}

func (r *Reconciler) AccountState() models.AccountState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.account
}

func (r *Reconciler) AccountValue() float64 { return r.AccountState().AccountValue }
func (r *Reconciler) Withdrawable() float64 { return r.AccountState().Withdrawable }

func shortAddr(a string) string {
	if len(a) <= 10 {
		return a
	}
	return a[:6] + "..." + a[len(a)-4:]
}
