package service

// Каналы Hyperliquid WS.
const (
	ChannelL2Book       = "l2Book"
	ChannelTrades       = "trades"
	ChannelCandle       = "candle"
	ChannelAllMids      = "allMids"
	ChannelUserEvents   = "userEvents"
	ChannelUserFills    = "userFills"
	ChannelOrderUpdates = "orderUpdates"
	ChannelWebData2     = "webData2"
)

// Subscription сравнивается по значению: одна и та же подписка хранится один раз.
type Subscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
	User     string `json:"user,omitempty"`
}

func L2Book(coin string) Subscription { return Subscription{Type: ChannelL2Book, Coin: coin} }
func Trades(coin string) Subscription { return Subscription{Type: ChannelTrades, Coin: coin} }
func AllMids() Subscription           { return Subscription{Type: ChannelAllMids} }

func Candle(coin, interval string) Subscription {
	return Subscription{Type: ChannelCandle, Coin: coin, Interval: interval}
}

func UserEvents(user string) Subscription   { return Subscription{Type: ChannelUserEvents, User: user} }
func UserFills(user string) Subscription    { return Subscription{Type: ChannelUserFills, User: user} }
func OrderUpdates(user string) Subscription { return Subscription{Type: ChannelOrderUpdates, User: user} }
func WebData2(user string) Subscription     { return Subscription{Type: ChannelWebData2, User: user} }

type controlMessage struct {
	Method       string        `json:"method"`
	Subscription *Subscription `json:"subscription,omitempty"`
}
