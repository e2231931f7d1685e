package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the closed set of values delivered to the consumer. Only types in
// this package implement it; consumers switch on the concrete type.
type Event interface {
	Meta() Header
	isEvent()
}

// Header carries the origin of every event.
type Header struct {
	Source     Visibility
	ReceivedAt time.Time
}

// Meta returns the header of the event.
func (h Header) Meta() Header { return h }

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// CONTROL //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// SubscribeAck confirms one subscribed topic.
type SubscribeAck struct {
	Header
	Key    SubscriptionKey
	ConnID string
}

// UnsubscribeAck confirms one removed topic.
type UnsubscribeAck struct {
	Header
	Key    SubscriptionKey
	ConnID string
}

// LoginAck is the server response to a login frame.
type LoginAck struct {
	Header
	Code   string
	Msg    string
	ConnID string
}

// Success reports whether the login was accepted.
func (a LoginAck) Success() bool { return a.Code == "" || a.Code == "0" }

// ProtocolError is an `error` event pushed by the server.
type ProtocolError struct {
	Header
	Code   string
	Msg    string
	ConnID string
}

var rateLimitCodes = map[string]struct{}{
	"50011": {},
	"50061": {},
	"60014": {},
}

var loginErrorCodes = map[string]struct{}{
	"60004": {},
	"60005": {},
	"60006": {},
	"60007": {},
	"60008": {},
	"60009": {},
	"60024": {},
}

// Err classifies the server error as a RateLimitError or an APIError.
func (e ProtocolError) Err() error {
	if _, ok := rateLimitCodes[e.Code]; ok {
		return &RateLimitError{Code: e.Code, Msg: e.Msg}
	}
	return &APIError{Code: e.Code, Msg: e.Msg}
}

// IsLoginFailure reports whether the error code belongs to the login family.
func (e ProtocolError) IsLoginFailure() bool {
	_, ok := loginErrorCodes[e.Code]
	return ok
}

// Notice is a server notice, typically announcing a service upgrade that
// will close the connection.
type Notice struct {
	Header
	Code string
	Msg  string
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////////// DATA ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// PriceLevel is one order book level.
type PriceLevel struct {
	Price  decimal.Decimal
	Size   decimal.Decimal
	Orders int
}

// Ticker is a last-trade and best bid/ask snapshot.
type Ticker struct {
	Header
	InstID       string
	InstType     string
	Last         decimal.Decimal
	LastSize     decimal.Decimal
	AskPrice     decimal.Decimal
	AskSize      decimal.Decimal
	BidPrice     decimal.Decimal
	BidSize      decimal.Decimal
	Open24h      decimal.Decimal
	High24h      decimal.Decimal
	Low24h       decimal.Decimal
	Volume24h    decimal.Decimal
	VolumeCcy24h decimal.Decimal
	Time         time.Time
}

// Candle is one OHLCV bar. Confirmed is false while the bar is still open.
type Candle struct {
	Header
	InstID      string
	Interval    CandleInterval
	Time        time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	VolumeCcy   decimal.Decimal
	VolumeQuote decimal.Decimal
	Confirmed   bool
}

// BookAction distinguishes full snapshots from incremental updates.
type BookAction string

const (
	BookSnapshot BookAction = "snapshot"
	BookUpdate   BookAction = "update"
)

// OrderBook is a snapshot or incremental update of one book.
type OrderBook struct {
	Header
	InstID    string
	Channel   Channel
	Depth     BookDepth
	Action    BookAction
	Asks      []PriceLevel
	Bids      []PriceLevel
	Checksum  int64
	SeqID     int64
	PrevSeqID int64
	Time      time.Time
}

// Trade is one public fill.
type Trade struct {
	Header
	InstID  string
	TradeID string
	Side    string
	Price   decimal.Decimal
	Size    decimal.Decimal
	Count   int
	Time    time.Time
}

// AccountBalance is the per currency part of an account push.
type AccountBalance struct {
	Ccy              string
	Equity           decimal.Decimal
	CashBalance      decimal.Decimal
	AvailableBalance decimal.Decimal
	FrozenBalance    decimal.Decimal
	UPL              decimal.Decimal
	UpdateTime       time.Time
}

// Account is an account equity push.
type Account struct {
	Header
	TotalEquity    decimal.Decimal
	IsolatedEquity decimal.Decimal
	AdjustedEquity decimal.Decimal
	NotionalUSD    decimal.Decimal
	MarginRatio    decimal.Decimal
	Details        []AccountBalance
	UpdateTime     time.Time
}

// Position is one position push.
type Position struct {
	Header
	InstID     string
	InstType   string
	PosID      string
	PosSide    string
	MarginMode string
	Position   decimal.Decimal
	AvgPrice   decimal.Decimal
	UPL        decimal.Decimal
	Leverage   decimal.Decimal
	LiqPrice   decimal.Decimal
	MarkPrice  decimal.Decimal
	Margin     decimal.Decimal
	CreateTime time.Time
	UpdateTime time.Time
}

// Order is one order state push.
type Order struct {
	Header
	InstID        string
	InstType      string
	OrderID       string
	ClientOrderID string
	Side          string
	PosSide       string
	OrderType     string
	State         string
	Price         decimal.Decimal
	Size          decimal.Decimal
	FillPrice     decimal.Decimal
	FillSize      decimal.Decimal
	AccFillSize   decimal.Decimal
	AvgPrice      decimal.Decimal
	Fee           decimal.Decimal
	FeeCcy        string
	CreateTime    time.Time
	UpdateTime    time.Time
}

// BalanceUpdate is the balance part of a balance_and_position push.
type BalanceUpdate struct {
	Ccy         string
	CashBalance decimal.Decimal
	UpdateTime  time.Time
}

// PositionUpdate is the position part of a balance_and_position push.
type PositionUpdate struct {
	PosID      string
	InstID     string
	InstType   string
	MarginMode string
	PosSide    string
	Position   decimal.Decimal
	AvgPrice   decimal.Decimal
	UpdateTime time.Time
}

// BalanceAndPosition combines balance and position changes caused by one
// account event.
type BalanceAndPosition struct {
	Header
	EventType string
	PushTime  time.Time
	Balances  []BalanceUpdate
	Positions []PositionUpdate
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// LIFECYCLE /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// StateChange is emitted on every connection state transition.
type StateChange struct {
	Header
	From    ConnectionState
	To      ConnectionState
	Attempt int
	Err     error
}

// ConnectionLost is emitted when reconnect attempts are exhausted. The
// connection stays Failed until the next Connect.
type ConnectionLost struct {
	Header
	Err *ConnectionLostError
}

// AuthFailure is emitted when the private connection cannot log in.
type AuthFailure struct {
	Header
	Err *AuthError
}

func (SubscribeAck) isEvent() {}
func (UnsubscribeAck) isEvent() {}
func (LoginAck) isEvent() {}
func (ProtocolError) isEvent() {}
func (Notice) isEvent() {}
func (Ticker) isEvent() {}
func (Candle) isEvent() {}
func (OrderBook) isEvent() {}
func (Trade) isEvent() {}
func (Account) isEvent() {}
func (Position) isEvent() {}
func (Order) isEvent() {}
func (BalanceAndPosition) isEvent() {}
func (StateChange) isEvent() {}
func (ConnectionLost) isEvent() {}
func (AuthFailure) isEvent() {}

// EventName returns a stable label for metrics and logs.
func EventName(ev Event) string {
	switch ev.(type) {
	case SubscribeAck:
		return "subscribe_ack"
	case UnsubscribeAck:
		return "unsubscribe_ack"
	case LoginAck:
		return "login_ack"
	case ProtocolError:
		return "protocol_error"
	case Notice:
		return "notice"
	case Ticker:
		return "ticker"
	case Candle:
		return "candle"
	case OrderBook:
		return "order_book"
	case Trade:
		return "trade"
	case Account:
		return "account"
	case Position:
		return "position"
	case Order:
		return "order"
	case BalanceAndPosition:
		return "balance_and_position"
	case StateChange:
		return "state_change"
	case ConnectionLost:
		return "connection_lost"
	case AuthFailure:
		return "auth_failure"
	default:
		return "unknown"
	}
}
