package models

import "time"

type TradeEvent string

const (
	TradeOpen  TradeEvent = "open"
	TradeClose TradeEvent = "close"
)

// TradeRecord — строка журнала сделок.
type TradeRecord struct {
	ID            string
	ClientOrderID string
	Coin          string
	Event         TradeEvent
	Side          string
	Size          float64
	Price         float64
	Notional      float64
	Leverage      int
	PnlPercent    float64
	PnlUSD        float64
	Reason        string
	Source        string // trader | tpsl
	Meta          map[string]any
	CreatedAt     time.Time
}
