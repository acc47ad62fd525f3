package exchange

import (
	"testing"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func TestNum(t *testing.T) {
	assert.InDelta(t, 0.01, Num(gjson.Parse(`"0.01"`)), 1e-12)
	assert.InDelta(t, 20, Num(gjson.Parse(`20`)), 1e-12)
	assert.Zero(t, Num(gjson.Parse(`"abc"`)))
	assert.Zero(t, Num(gjson.Parse(`null`)))
}

func TestParsePosition(t *testing.T) {
	wrapped := gjson.Parse(`{"position":{"coin":"BTC","szi":"-0.5","entryPx":"60000",
		"returnOnEquity":"0.1","leverage":{"type":"cross","value":20},"liquidationPx":"65000"}}`)
	p, ok := ParsePosition(wrapped, now)
	require.True(t, ok)
	assert.Equal(t, "BTC", p.Coin)
	assert.InDelta(t, -0.5, p.Size, 1e-12)
	assert.InDelta(t, 20, p.Leverage, 1e-12)
	require.NotNil(t, p.LiquidationPrice)
	assert.InDelta(t, 65000, *p.LiquidationPrice, 1e-9)
	assert.Equal(t, now, p.LastUpdate)

	flat, ok := ParsePosition(gjson.Parse(`{"coin":"ETH","szi":"1","liquidationPx":null}`), now)
	require.True(t, ok)
	assert.InDelta(t, 1, flat.Leverage, 1e-12)
	assert.Nil(t, flat.LiquidationPrice)

	_, ok = ParsePosition(gjson.Parse(`{"szi":"1"}`), now)
	assert.False(t, ok)
}

func TestParseFill(t *testing.T) {
	f := ParseFill(gjson.Parse(`{"coin":"SOL","side":"A","sz":"2","px":"150.5","fee":"0.1",
		"oid":42,"tid":77,"hash":"0xff","closedPnl":"3.2","time":1700000000000}`), now)
	assert.Equal(t, models.FillSell, f.Side)
	assert.Equal(t, int64(77), f.TradeID)
	assert.Equal(t, "tid:77", f.Key())
	assert.Equal(t, int64(42), f.OrderID)
	assert.InDelta(t, 3.2, f.ClosedPnl, 1e-12)
	assert.Equal(t, int64(1700000000000), f.Time.UnixMilli())

	noTime := ParseFill(gjson.Parse(`{"coin":"SOL","side":"B"}`), now)
	assert.Equal(t, models.FillBuy, noTime.Side)
	assert.Equal(t, now, noTime.Time)
	assert.Empty(t, noTime.Key())
}

func TestParseAccount(t *testing.T) {
	root := gjson.Parse(`{"marginSummary":{"accountValue":"1000","totalMarginUsed":"50"},"withdrawable":"800"}`)
	a := ParseAccount(root.Get("marginSummary"), root, now)
	assert.InDelta(t, 1000, a.AccountValue, 1e-12)
	assert.InDelta(t, 800, a.Withdrawable, 1e-12)

	inner := gjson.Parse(`{"accountValue":"10","withdrawable":"7"}`)
	assert.InDelta(t, 7, ParseAccount(inner, root, now).Withdrawable, 1e-12)
}

func TestSamePosition(t *testing.T) {
	liq := 100.0
	a := models.Position{Coin: "BTC", Size: 1, LastUpdate: now}
	b := a
	b.LastUpdate = now.Add(time.Minute)
	assert.True(t, SamePosition(a, b))

	b.LiquidationPrice = &liq
	assert.False(t, SamePosition(a, b))

	c := a
	c.Size = 2
	assert.False(t, SamePosition(a, c))
}
