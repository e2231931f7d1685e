package models

import (
	"fmt"
	"strings"
)

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// VISIBILITY /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Visibility tells which logical connection carries a channel.
type Visibility int

const (
	Public Visibility = iota
	Private
)

// Visibilities lists both connections in a stable order.
var Visibilities = []Visibility{Public, Private}

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Private:
		return "private"
	default:
		return fmt.Sprintf("visibility(%d)", int(v))
	}
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// CHANNELS //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Channel is an OKX websocket channel name. The set is closed: only the
// constants below are valid and ParseChannel rejects anything else.
type Channel string

const (
	ChannelTickers Channel = "tickers"

	ChannelCandle1m  Channel = "candle1m"
	ChannelCandle5m  Channel = "candle5m"
	ChannelCandle15m Channel = "candle15m"
	ChannelCandle1H  Channel = "candle1H"
	ChannelCandle4H  Channel = "candle4H"
	ChannelCandle1D  Channel = "candle1D"

	ChannelBooks5  Channel = "books5"
	ChannelBooks50 Channel = "books50-l2-tbt"
	ChannelBooks   Channel = "books"

	ChannelTrades Channel = "trades"

	ChannelAccount            Channel = "account"
	ChannelPositions          Channel = "positions"
	ChannelOrders             Channel = "orders"
	ChannelBalanceAndPosition Channel = "balance_and_position"
)

// AllChannels enumerates every supported channel, public first.
var AllChannels = []Channel{
	ChannelTickers,
	ChannelCandle1m, ChannelCandle5m, ChannelCandle15m, ChannelCandle1H, ChannelCandle4H, ChannelCandle1D,
	ChannelBooks5, ChannelBooks50, ChannelBooks,
	ChannelTrades,
	ChannelAccount, ChannelPositions, ChannelOrders, ChannelBalanceAndPosition,
}

// ChannelKind groups channels that share a payload layout.
type ChannelKind int

const (
	KindUnknown ChannelKind = iota
	KindTicker
	KindCandle
	KindOrderBook
	KindTrade
	KindAccount
	KindPosition
	KindOrder
	KindBalanceAndPosition
)

func (k ChannelKind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindCandle:
		return "candle"
	case KindOrderBook:
		return "order_book"
	case KindTrade:
		return "trade"
	case KindAccount:
		return "account"
	case KindPosition:
		return "position"
	case KindOrder:
		return "order"
	case KindBalanceAndPosition:
		return "balance_and_position"
	default:
		return "unknown"
	}
}

// CandleInterval is the bar size of a candle channel.
type CandleInterval string

const (
	Interval1m  CandleInterval = "1m"
	Interval5m  CandleInterval = "5m"
	Interval15m CandleInterval = "15m"
	Interval1H  CandleInterval = "1H"
	Interval4H  CandleInterval = "4H"
	Interval1D  CandleInterval = "1D"
)

// BookDepth distinguishes the order book channel variants.
type BookDepth int

const (
	DepthNone  BookDepth = 0
	DepthTop5  BookDepth = 5
	DepthTop50 BookDepth = 50
	DepthFull  BookDepth = -1
)

// ParseChannel maps a wire channel name onto the closed Channel set.
func ParseChannel(name string) (Channel, error) {
	ch := Channel(name)
	if ch.Kind() == KindUnknown {
		return "", fmt.Errorf("unknown channel %q", name)
	}
	return ch, nil
}

// CandleChannel returns the candle channel for an interval.
func CandleChannel(interval CandleInterval) (Channel, error) {
	return ParseChannel("candle" + string(interval))
}

// Kind reports the payload family of the channel.
func (c Channel) Kind() ChannelKind {
	switch c {
	case ChannelTickers:
		return KindTicker
	case ChannelCandle1m, ChannelCandle5m, ChannelCandle15m, ChannelCandle1H, ChannelCandle4H, ChannelCandle1D:
		return KindCandle
	case ChannelBooks5, ChannelBooks50, ChannelBooks:
		return KindOrderBook
	case ChannelTrades:
		return KindTrade
	case ChannelAccount:
		return KindAccount
	case ChannelPositions:
		return KindPosition
	case ChannelOrders:
		return KindOrder
	case ChannelBalanceAndPosition:
		return KindBalanceAndPosition
	default:
		return KindUnknown
	}
}

// Visibility decides which connection carries the channel.
func (c Channel) Visibility() Visibility {
	switch c.Kind() {
	case KindAccount, KindPosition, KindOrder, KindBalanceAndPosition:
		return Private
	default:
		return Public
	}
}

// Interval returns the candle interval, or "" for non-candle channels.
func (c Channel) Interval() CandleInterval {
	if c.Kind() != KindCandle {
		return ""
	}
	return CandleInterval(strings.TrimPrefix(string(c), "candle"))
}

// Depth returns the order book depth variant, or DepthNone.
func (c Channel) Depth() BookDepth {
	switch c {
	case ChannelBooks5:
		return DepthTop5
	case ChannelBooks50:
		return DepthTop50
	case ChannelBooks:
		return DepthFull
	default:
		return DepthNone
	}
}

func (c Channel) String() string { return string(c) }

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// SUBSCRIPTIONS ////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// SubscriptionKey identifies one desired topic. InstID may be empty for
// account level private channels.
type SubscriptionKey struct {
	Channel Channel `yaml:"channel" json:"channel"`
	InstID  string  `yaml:"inst_id" json:"instId,omitempty"`
}

// Key is shorthand for building a SubscriptionKey.
func Key(ch Channel, instID string) SubscriptionKey {
	return SubscriptionKey{Channel: ch, InstID: instID}
}

// Validate checks that the key names a known channel and, for public
// channels, an instrument.
func (k SubscriptionKey) Validate() error {
	if k.Channel.Kind() == KindUnknown {
		return fmt.Errorf("subscription %s: unknown channel", k)
	}
	if k.Channel.Visibility() == Public && k.InstID == "" {
		return fmt.Errorf("subscription %s: instId is required for public channels", k)
	}
	return nil
}

func (k SubscriptionKey) String() string {
	if k.InstID == "" {
		return string(k.Channel)
	}
	return string(k.Channel) + "/" + k.InstID
}
