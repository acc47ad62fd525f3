package exchange

import (
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/num"

	"github.com/tidwall/gjson"
)

// Числа у Hyperliquid приходят строками ("0.01"), иногда числами.
func Num(r gjson.Result) float64 {
	if r.Type == gjson.Number {
		return r.Float()
	}
	return num.ParseFloat(r.String())
}

// ParsePosition: запись clearinghouseState ({"position":{...}}) либо плоская из userEvents.
func ParsePosition(r gjson.Result, now time.Time) (models.Position, bool) {
	if inner := r.Get("position"); inner.IsObject() {
		r = inner
	}
	coin := r.Get("coin").String()
	if coin == "" {
		return models.Position{}, false
	}

	p := models.Position{
		Coin:           coin,
		Size:           Num(r.Get("szi")),
		EntryPrice:     Num(r.Get("entryPx")),
		UnrealizedPnl:  Num(r.Get("unrealizedPnl")),
		ReturnOnEquity: Num(r.Get("returnOnEquity")),
		Leverage:       1,
		MarginUsed:     Num(r.Get("marginUsed")),
		LastUpdate:     now,
	}
	if lev := r.Get("leverage.value"); lev.Exists() {
		p.Leverage = Num(lev)
	}
	if liq := r.Get("liquidationPx"); liq.Exists() && liq.Type != gjson.Null {
		v := Num(liq)
		p.LiquidationPrice = &v
	}
	return p, true
}

func ParseFill(r gjson.Result, now time.Time) models.Fill {
	f := models.Fill{
		Coin:      r.Get("coin").String(),
		Side:      models.FillSideFromWire(r.Get("side").String()),
		Size:      Num(r.Get("sz")),
		Price:     Num(r.Get("px")),
		Fee:       Num(r.Get("fee")),
		OrderID:   r.Get("oid").Int(),
		ClosedPnl: Num(r.Get("closedPnl")),
		TradeID:   r.Get("tid").Int(),
		Hash:      r.Get("hash").String(),
		Time:      now,
	}
	if ms := r.Get("time").Int(); ms > 0 {
		f.Time = time.UnixMilli(ms)
	}
	return f
}

func ParseOrderUpdate(r gjson.Result) models.OrderUpdate {
	o := r.Get("order")
	return models.OrderUpdate{
		OrderID: o.Get("oid").Int(),
		Coin:    o.Get("coin").String(),
		Side:    o.Get("side").String(),
		Size:    Num(o.Get("sz")),
		Price:   Num(o.Get("limitPx")),
		Status:  r.Get("status").String(),
		Filled:  Num(o.Get("filled")),
	}
}

// ParseAccount: marginSummary; withdrawable лежит либо внутри, либо рядом.
func ParseAccount(summary, parent gjson.Result, now time.Time) models.AccountState {
	withdrawable := summary.Get("withdrawable")
	if !withdrawable.Exists() {
		withdrawable = parent.Get("withdrawable")
	}
	return models.AccountState{
		AccountValue:       Num(summary.Get("accountValue")),
		Withdrawable:       Num(withdrawable),
		TotalMarginUsed:    Num(summary.Get("totalMarginUsed")),
		TotalUnrealizedPnl: Num(summary.Get("totalUnrealizedPnl")),
		LastUpdate:         now,
	}
}

// SamePosition — без учёта LastUpdate.
func SamePosition(a, b models.Position) bool {
	if (a.LiquidationPrice == nil) != (b.LiquidationPrice == nil) {
		return false
	}
	if a.LiquidationPrice != nil && *a.LiquidationPrice != *b.LiquidationPrice {
		return false
	}
	return a.Coin == b.Coin &&
		a.Size == b.Size &&
		a.EntryPrice == b.EntryPrice &&
		a.UnrealizedPnl == b.UnrealizedPnl &&
		a.ReturnOnEquity == b.ReturnOnEquity &&
		a.Leverage == b.Leverage &&
		a.MarginUsed == b.MarginUsed
}
