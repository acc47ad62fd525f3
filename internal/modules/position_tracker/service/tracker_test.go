package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(t *testing.T) (*Tracker, *clock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "position_tracker.json")
	c := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	return NewTracker(path, c.now), c, path
}

func TestTracker_AgeHours(t *testing.T) {
	tr, c, _ := newTracker(t)

	assert.Zero(t, tr.AgeHours("BTC"), "untracked is brand new")

	require.NoError(t, tr.RecordEntry("BTC", 60000, 0.01, true))
	c.advance(90 * time.Minute)
	assert.InDelta(t, 1.5, tr.AgeHours("BTC"), 1e-9)

	c.advance(-3 * time.Hour)
	assert.Zero(t, tr.AgeHours("BTC"), "never negative")
}

func TestTracker_InfoRemove(t *testing.T) {
	tr, _, _ := newTracker(t)
	require.NoError(t, tr.RecordEntry("ETH", 3000, 0.5, false))

	e, ok := tr.Info("ETH")
	require.True(t, ok)
	assert.Equal(t, models.SideShort, e.Direction)
	assert.False(t, e.IsLong)

	require.NoError(t, tr.Remove("ETH"))
	_, ok = tr.Info("ETH")
	assert.False(t, ok)

	assert.NoError(t, tr.Remove("ETH"), "removing untracked is fine")
}

func TestTracker_Persists(t *testing.T) {
	tr, c, path := newTracker(t)
	require.NoError(t, tr.RecordEntry("SOL", 150, 2, true))

	restored := NewTracker(path, c.now)
	c.advance(2 * time.Hour)
	assert.InDelta(t, 2, restored.AgeHours("SOL"), 1e-9)
	e, ok := restored.Info("SOL")
	require.True(t, ok)
	assert.InDelta(t, 150, e.EntryPrice, 1e-12)
}

func TestTracker_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position_tracker.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	tr := NewTracker(path, nil)
	assert.Empty(t, tr.All())
	assert.NoError(t, tr.RecordEntry("BTC", 1, 1, true))
}

func TestTracker_SyncWithExchange(t *testing.T) {
	tr, c, _ := newTracker(t)
	require.NoError(t, tr.RecordEntry("BTC", 60000, 0.01, true))
	require.NoError(t, tr.RecordEntry("LTC", 80, 1, true))
	c.advance(5 * time.Hour)

	added, removed := tr.SyncWithExchange([]models.Position{
		{Coin: "BTC", Size: 0.01, EntryPrice: 60000},
		{Coin: "ETH", Size: -0.5, EntryPrice: 3000},
		{Coin: "DOGE", Size: 0},
	})
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	all := tr.All()
	assert.Len(t, all, 2)
	assert.InDelta(t, 5, tr.AgeHours("BTC"), 1e-9, "existing entry keeps its age")
	assert.Zero(t, tr.AgeHours("ETH"))
	assert.True(t, all["ETH"].Synced)
	assert.InDelta(t, 0.5, all["ETH"].Size, 1e-12)
	assert.Equal(t, models.SideShort, all["ETH"].Direction)
}

func TestTracker_UpdateEntryPriceClear(t *testing.T) {
	tr, _, _ := newTracker(t)
	assert.False(t, tr.UpdateEntryPrice("BTC", 1))

	require.NoError(t, tr.RecordEntry("BTC", 60000, 0.01, true))
	assert.True(t, tr.UpdateEntryPrice("BTC", 59000))
	e, _ := tr.Info("BTC")
	assert.InDelta(t, 59000, e.EntryPrice, 1e-12)

	require.NoError(t, tr.Clear())
	assert.Empty(t, tr.All())
}

func TestTracker_AllIsCopy(t *testing.T) {
	tr, _, _ := newTracker(t)
	require.NoError(t, tr.RecordEntry("BTC", 60000, 0.01, true))

	all := tr.All()
	delete(all, "BTC")
	_, ok := tr.Info("BTC")
	assert.True(t, ok)
}
