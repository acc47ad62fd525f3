package models

import (
	"strconv"
	"time"
)

const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Position — открытая позиция по монете. Size со знаком: >0 long, <0 short.
type Position struct {
	Coin             string
	Size             float64
	EntryPrice       float64
	UnrealizedPnl    float64
	ReturnOnEquity   float64
	Leverage         float64
	LiquidationPrice *float64
	MarginUsed       float64
	LastUpdate       time.Time
}

func (p Position) IsLong() bool { return p.Size > 0 }

func (p Position) Side() string {
	if p.Size < 0 {
		return SideShort
	}
	return SideLong
}

// PnlPercent — ROE в процентах.
func (p Position) PnlPercent() float64 { return p.ReturnOnEquity * 100 }

// Copy отдаёт независимую копию (liquidation price — указатель).
func (p Position) Copy() Position {
	if p.LiquidationPrice != nil {
		v := *p.LiquidationPrice
		p.LiquidationPrice = &v
	}
	return p
}

type FillSide string

const (
	FillBuy  FillSide = "buy"
	FillSell FillSide = "sell"
)

// FillSideFromWire: биржа шлёт "B" (bid) / "A" (ask).
func FillSideFromWire(s string) FillSide {
	if s == "B" || s == "b" || s == "buy" || s == "BUY" {
		return FillBuy
	}
	return FillSell
}

type Fill struct {
	Coin      string
	Side      FillSide
	Size      float64
	Price     float64
	Time      time.Time
	Fee       float64
	OrderID   int64
	ClosedPnl float64
	TradeID   int64
	Hash      string
}

// Key — идентификатор филла для дедупликации; "" если биржа его не прислала.
func (f Fill) Key() string {
	switch {
	case f.TradeID != 0:
		return "tid:" + strconv.FormatInt(f.TradeID, 10)
	case f.Hash != "":
		return f.Hash + ":" + strconv.FormatInt(f.OrderID, 10) + ":" + strconv.FormatInt(f.Time.UnixMilli(), 10)
	}
	return ""
}

type AccountState struct {
	AccountValue       float64
	Withdrawable       float64
	TotalMarginUsed    float64
	TotalUnrealizedPnl float64
	LastUpdate         time.Time
}

// OrderUpdate — плоская проекция статуса ордера.
type OrderUpdate struct {
	OrderID int64
	Coin    string
	Side    string
	Size    float64
	Price   float64
	Status  string
	Filled  float64
}
