package service

import (
	"sync/atomic"
	"time"
)

// Ticker — воркер, отдающий время последнего прохода.
type Ticker interface {
	LastTick() time.Time
}

type TickerFunc func() time.Time

func (f TickerFunc) LastTick() time.Time { return f() }

// StreamProbe — состояние WS-сессии.
type StreamProbe interface {
	StateName() string
	LastMessageTime() time.Time
}

// AccountProbe — сводка reconciler'а.
type AccountProbe interface {
	Summary() (positions int, accountValue float64, loaded bool)
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time
	now       func() time.Time
}

func NewState() *State {
	s := &State{startedAt: time.Now(), now: time.Now}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) Uptime() time.Duration { return s.now().Sub(s.startedAt) }

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Report — тело /healthz.
func (s *State) Report(stream StreamProbe, account AccountProbe, workers map[string]Ticker) map[string]any {
	resp := map[string]any{
		"ready":     s.Ready(),
		"uptimeSec": int64(s.Uptime().Seconds()),
	}
	if stream != nil {
		resp["streamState"] = stream.StateName()
		resp["lastMessageUnix"] = unixOrZero(stream.LastMessageTime())
	}
	if account != nil {
		n, value, loaded := account.Summary()
		resp["accountLoaded"] = loaded
		resp["positions"] = n
		resp["accountValue"] = value
	}
	for name, w := range workers {
		resp[name+"LastTickUnix"] = unixOrZero(w.LastTick())
	}
	return resp
}
