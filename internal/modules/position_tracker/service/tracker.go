package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/jsonfile"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
)

// Entry — когда и по какой цене открыта позиция.
type Entry struct {
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	IsLong     bool      `json:"is_long"`
	Direction  string    `json:"direction"`
	// Synced: добавлена при сверке с биржей, настоящий возраст неизвестен.
	Synced bool `json:"synced,omitempty"`
}

type fileState struct {
	Positions   map[string]Entry `json:"positions"`
	LastUpdated *time.Time       `json:"last_updated"`
}

// Tracker — возраст позиций для CloseValidator. Переживает рестарт через JSON-файл.
type Tracker struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

func NewTracker(path string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{path: path, now: now, entries: make(map[string]Entry)}
	t.load()
	return t
}

func (t *Tracker) load() {
	if t.path == "" {
		return
	}
	var st fileState
	err := jsonfile.Read(t.path, &st)
	if errors.Is(err, jsonfile.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn("[POSITIONS] tracker file corrupted, starting fresh: %v", err)
		return
	}
	for sym, e := range st.Positions {
		t.entries[sym] = e
	}
}

// save — под t.mu.
func (t *Tracker) save() error {
	if t.path == "" {
		return nil
	}
	now := t.now().UTC()
	st := fileState{Positions: t.entries, LastUpdated: &now}
	if err := jsonfile.Write(t.path, st); err != nil {
		logger.Error("[POSITIONS] save: %v", err)
		return fmt.Errorf("Tracker.save: %w", err)
	}
	return nil
}

func direction(isLong bool) string {
	if isLong {
		return models.SideLong
	}
	return models.SideShort
}

// RecordEntry перезаписывает запись по символу текущим временем.
func (t *Tracker) RecordEntry(symbol string, price, size float64, isLong bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[symbol] = Entry{
		EntryTime:  t.now().UTC(),
		EntryPrice: price,
		Size:       size,
		IsLong:     isLong,
		Direction:  direction(isLong),
	}
	return t.save()
}

// Remove — отсутствие записи не ошибка.
func (t *Tracker) Remove(symbol string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[symbol]; !ok {
		return nil
	}
	delete(t.entries, symbol)
	return t.save()
}

// AgeHours — 0 для неизвестной позиции: считаем её новой.
func (t *Tracker) AgeHours(symbol string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	if !ok || e.EntryTime.IsZero() {
		return 0
	}
	h := t.now().Sub(e.EntryTime).Hours()
	if h < 0 {
		return 0
	}
	return h
}

func (t *Tracker) Info(symbol string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	return e, ok
}

func (t *Tracker) All() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// SyncWithExchange: неизвестные позиции добавляются с текущим временем,
// исчезнувшие с биржи удаляются. Возвращает (добавлено, удалено).
func (t *Tracker) SyncWithExchange(positions []models.Position) (added, removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := make(map[string]struct{}, len(positions))
	now := t.now().UTC()
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		live[p.Coin] = struct{}{}
		if _, ok := t.entries[p.Coin]; ok {
			continue
		}
		size := p.Size
		if size < 0 {
			size = -size
		}
		t.entries[p.Coin] = Entry{
			EntryTime:  now,
			EntryPrice: p.EntryPrice,
			Size:       size,
			IsLong:     p.IsLong(),
			Direction:  p.Side(),
			Synced:     true,
		}
		added++
	}
	for sym := range t.entries {
		if _, ok := live[sym]; !ok {
			delete(t.entries, sym)
			removed++
		}
	}
	if added > 0 || removed > 0 {
		_ = t.save()
		logger.Info("[POSITIONS] synced with exchange: +%d -%d", added, removed)
	}
	return added, removed
}

// UpdateEntryPrice — false, если символ не отслеживается.
func (t *Tracker) UpdateEntryPrice(symbol string, price float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	if !ok {
		return false
	}
	e.EntryPrice = price
	t.entries[symbol] = e
	return t.save() == nil
}

func (t *Tracker) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]Entry)
	return t.save()
}
