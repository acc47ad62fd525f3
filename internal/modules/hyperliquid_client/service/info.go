package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/exchange"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/helper"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"

	"github.com/tidwall/gjson"
)

type Candle struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func (c *Client) ClearinghouseState(ctx context.Context) (gjson.Result, error) {
	if c.address == "" {
		return gjson.Result{}, fmt.Errorf("Client.ClearinghouseState: empty account address")
	}
	return c.info(ctx, map[string]string{"type": "clearinghouseState", "user": c.address})
}

// AllPositions — только ненулевые позиции.
func (c *Client) AllPositions(ctx context.Context) ([]models.Position, error) {
	state, err := c.ClearinghouseState(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []models.Position
	for _, e := range state.Get("assetPositions").Array() {
		p, ok := exchange.ParsePosition(e, now)
		if !ok || p.Size == 0 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) AccountState(ctx context.Context) (models.AccountState, error) {
	state, err := c.ClearinghouseState(ctx)
	if err != nil {
		return models.AccountState{}, err
	}
	return exchange.ParseAccount(state.Get("marginSummary"), state, time.Now()), nil
}

func (c *Client) AccountValue(ctx context.Context) (float64, error) {
	a, err := c.AccountState(ctx)
	return a.AccountValue, err
}

func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	a, err := c.AccountState(ctx)
	return a.Withdrawable, err
}

// Position — (позиция, есть ли она, ошибка).
func (c *Client) Position(ctx context.Context, symbol string) (models.Position, bool, error) {
	positions, err := c.AllPositions(ctx)
	if err != nil {
		return models.Position{}, false, err
	}
	for _, p := range positions {
		if strings.EqualFold(p.Coin, symbol) {
			return p, true, nil
		}
	}
	return models.Position{}, false, nil
}

// AllMids — mid-цены по всем монетам.
func (c *Client) AllMids(ctx context.Context) (map[string]float64, error) {
	res, err := c.info(ctx, map[string]string{"type": "allMids"})
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	res.ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = exchange.Num(v)
		return true
	})
	return out, nil
}

func (c *Client) Mid(ctx context.Context, symbol string) (float64, error) {
	mids, err := c.AllMids(ctx)
	if err != nil {
		return 0, err
	}
	px, ok := mids[symbol]
	if !ok || px <= 0 {
		return 0, fmt.Errorf("Client.Mid: no price for %s", symbol)
	}
	return px, nil
}

// Candles — последние bars свечей interval ("15m", "1h"...).
func (c *Client) Candles(ctx context.Context, symbol, interval string, bars int) ([]Candle, error) {
	if bars < 1 {
		bars = 1
	}
	interval = helper.NormTF(interval)
	step, err := helper.TFDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("Client.Candles: %w", err)
	}
	end := time.Now()
	start := helper.Slot(end, step).Add(-step * time.Duration(bars-1))

	res, err := c.info(ctx, map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      symbol,
			"interval":  interval,
			"startTime": start.UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Candle, 0, bars)
	for _, k := range res.Array() {
		out = append(out, Candle{
			Start:  time.UnixMilli(k.Get("t").Int()),
			Open:   exchange.Num(k.Get("o")),
			High:   exchange.Num(k.Get("h")),
			Low:    exchange.Num(k.Get("l")),
			Close:  exchange.Num(k.Get("c")),
			Volume: exchange.Num(k.Get("v")),
		})
	}
	return out, nil
}

// SzDecimals — точность размера по монетам из meta.universe. Кэшируется.
func (c *Client) SzDecimals(ctx context.Context) (map[string]int32, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	if c.szDecimals != nil {
		return c.szDecimals, nil
	}

	res, err := c.info(ctx, map[string]string{"type": "meta"})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int32)
	for _, a := range res.Get("universe").Array() {
		out[a.Get("name").String()] = int32(a.Get("szDecimals").Int())
	}
	c.szDecimals = out
	return out, nil
}
