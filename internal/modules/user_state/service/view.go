package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
)

// ErrNotLoaded — ни снапшота, ни полного push-а ещё не было.
var ErrNotLoaded = errors.New("account state not loaded yet")

// Sync сверяет состояние с полным снапшотом src: как webData2, со слушателями.
// Источник бумажного режима, где стрима аккаунта нет.
func (r *Reconciler) Sync(ctx context.Context, src SnapshotSource) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Reconciler.Sync: %w", err)
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
	r.applyAccount(account)
	r.mergePositions(positions, true)
	return nil
}

// SyncLoop обновляет снапшот из src каждые interval до отмены ctx.
func (r *Reconciler) SyncLoop(ctx context.Context, src SnapshotSource, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := r.Sync(ctx, src); err != nil && ctx.Err() == nil {
			logger.Warn("[USER_STATE] %v", err)
		}
	}
}

// View — чтение снапшота для воркеров (трейдер, watchdog, /positions).
type View struct {
	r *Reconciler
}

func (r *Reconciler) View() View { return View{r: r} }

func (v View) AllPositions(context.Context) ([]models.Position, error) {
	if !v.r.InitialStateLoaded() {
		return nil, ErrNotLoaded
	}
	ps := v.r.Positions()
	out := make([]models.Position, 0, len(ps))
	for _, p := range ps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })
	return out, nil
}

// Position: сначала точное совпадение монеты, потом без учёта регистра.
func (v View) Position(_ context.Context, symbol string) (models.Position, bool, error) {
	if !v.r.InitialStateLoaded() {
		return models.Position{}, false, ErrNotLoaded
	}
	if p, ok := v.r.Position(symbol); ok {
		return p, true, nil
	}
	for coin, p := range v.r.Positions() {
		if strings.EqualFold(coin, symbol) {
			return p, true, nil
		}
	}
	return models.Position{}, false, nil
}

func (v View) AccountState(context.Context) (models.AccountState, error) {
	if !v.r.InitialStateLoaded() {
		return models.AccountState{}, ErrNotLoaded
	}
	return v.r.AccountState(), nil
}

// Summary — для /healthz.
func (v View) Summary() (positions int, accountValue float64, loaded bool) {
	v.r.mu.RLock()
	defer v.r.mu.RUnlock()
	return len(v.r.positions), v.r.account.AccountValue, v.r.loaded
}
