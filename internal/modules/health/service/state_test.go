package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeStream struct {
	state string
	last  time.Time
}

func (f fakeStream) StateName() string          { return f.state }
func (f fakeStream) LastMessageTime() time.Time { return f.last }

type fakeAccount struct {
	n      int
	value  float64
	loaded bool
}

func (f fakeAccount) Summary() (int, float64, bool) { return f.n, f.value, f.loaded }

func TestReport(t *testing.T) {
	s := NewState()
	start := s.startedAt
	s.now = func() time.Time { return start.Add(90 * time.Second) }

	tick := time.Unix(1700000000, 0)
	resp := s.Report(fakeStream{state: "connected", last: tick}, fakeAccount{n: 2, value: 1250.5, loaded: true}, map[string]Ticker{
		"trader":   TickerFunc(func() time.Time { return tick }),
		"watchdog": TickerFunc(func() time.Time { return time.Time{} }),
	})

	assert.Equal(t, false, resp["ready"])
	assert.Equal(t, int64(90), resp["uptimeSec"])
	assert.Equal(t, "connected", resp["streamState"])
	assert.Equal(t, int64(1700000000), resp["lastMessageUnix"])
	assert.Equal(t, int64(1700000000), resp["traderLastTickUnix"])
	assert.Equal(t, int64(0), resp["watchdogLastTickUnix"])
	assert.Equal(t, true, resp["accountLoaded"])
	assert.Equal(t, 2, resp["positions"])
	assert.Equal(t, 1250.5, resp["accountValue"])

	s.SetReady(true)
	resp = s.Report(nil, nil, nil)
	assert.Equal(t, true, resp["ready"])
	_, hasStream := resp["streamState"]
	assert.False(t, hasStream)
	_, hasAccount := resp["accountLoaded"]
	assert.False(t, hasAccount)
}
