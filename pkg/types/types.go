// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — symbol rules, order
// book levels, trades, signals, and positions. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// OrderSide is the exchange-facing buy/sell direction of a submitted order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionSide is the direction of a held futures position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Direction is the signal analyser's decision for a symbol.
type Direction string

const (
	DirLong  Direction = "LONG"
	DirShort Direction = "SHORT"
	DirWait  Direction = "WAIT"
)

// OrderType enumerates the order lifecycles the gateway submits.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP"
)

// TimeInForce for limit-style orders. The bot only ever uses GTC.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
)

// MarginType for isolated-margin futures positions.
type MarginType string

const (
	Isolated MarginType = "ISOLATED"
)

// ————————————————————————————————————————————————————————————————————————
// Symbol rules
// ————————————————————————————————————————————————————————————————————————

// SymbolRules are the immutable exchange filters for one futures symbol,
// fetched once at startup from exchangeInfo. All submitted prices must be
// integer multiples of TickSize; all quantities integer multiples of
// StepSize; price*qty must be >= MinNotional.
type SymbolRules struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MaxQty      float64
	MinNotional float64
	// PricePrecision/QtyPrecision are the decimal places implied by
	// TickSize/StepSize, cached to avoid re-deriving them on every round.
	PricePrecision int
	QtyPrecision   int
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// DepthSnapshot is the REST response from the depth endpoint.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DepthEvent is one diff-depth WebSocket frame.
// FirstUpdateID/FinalUpdateID/PrevFinalUpdateID are the U/u/pu fields of the
// synchronisation protocol described in §4.2 of the specification.
type DepthEvent struct {
	Symbol            string
	FirstUpdateID     int64
	FinalUpdateID     int64
	PrevFinalUpdateID int64
	Bids              []PriceLevel
	Asks              []PriceLevel
	EventTimeMs       int64
}

// Top20 is the cached top-of-book projection maintained after every applied
// depth event: up to 20 bid levels descending, up to 20 ask levels ascending.
type Top20 struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// ————————————————————————————————————————————————————————————————————————
// Trades and quotes
// ————————————————————————————————————————————————————————————————————————

// AggTrade is one exchange-consolidated trade event for a symbol.
type AggTrade struct {
	Symbol        string
	Price         float64
	Qty           float64
	TimestampMs   int64
	BuyerIsMaker  bool // true => the trade was seller-initiated (aggressive sell)
}

// BestQuote is the best bid/ask pair from the book-ticker stream.
type BestQuote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Ts     time.Time
}

// PriceView is the derived, freshness-aware current price for a symbol.
type PriceView struct {
	Symbol         string
	LastTradePrice float64
	LastTradeTs    time.Time
	MidPrice       float64
}

// ————————————————————————————————————————————————————————————————————————
// Signal
// ————————————————————————————————————————————————————————————————————————

// FactorScores are the six normalised [0,100] factor scores the signal
// analyser computes per call.
type FactorScores struct {
	Wall      float64
	Spread    float64
	Imbalance float64
	Aggression float64
	Momentum  float64
	Fib       float64
}

// Signal is the short-lived output of the signal analyser for one symbol.
type Signal struct {
	Symbol       string
	Direction    Direction
	Confidence   float64 // [0, 100]
	EntryPrice   float64
	StopLoss     float64
	TakeProfit1  float64
	TakeProfit2  float64
	RiskReward   float64
	Reasons      []string
	FactorScores FactorScores
	Timestamp    time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Positions and trades
// ————————————————————————————————————————————————————————————————————————

// Position is the live state of an open futures position on one symbol.
// Owned by the Position Controller; exists iff the exchange reports a
// nonzero position.
type Position struct {
	ID     string
	Symbol string
	Side   PositionSide

	EntryPrice float64
	Size       float64
	Leverage   int

	// Captured once at first open; never mutated by averaging fills.
	InitialEntryPrice float64
	InitialSize       float64
	InitialMargin     float64

	Margin           float64
	PositionValue    float64
	LiquidationPrice float64

	AveragingCount   int
	AveragingOrderID string // empty = none

	SteppedStopOrderID    string // empty = none
	SteppedStopLevelPnL   float64
	SteppedStopActive     bool

	IsProtected bool

	// Dynamic, recomputed every tick.
	CurrentPrice          float64
	UnrealizedPnL         float64
	UnrealizedPnLPercent  float64

	OpenedAt time.Time
}

// ClosedTrade is the immutable record produced when a position's exchange
// size returns to zero.
type ClosedTrade struct {
	ID             string
	PositionID     string
	Symbol         string
	Side           PositionSide
	EntryPrice     float64
	ExitPrice      float64
	Size           float64
	EntryTime      time.Time
	ExitTime       time.Time
	RealizedPnL    float64
	Commission     float64
	CloseReason    string
}

// ————————————————————————————————————————————————————————————————————————
// Account / order acks
// ————————————————————————————————————————————————————————————————————————

// Balance is a snapshot of account wallet/available balance in USDT.
type Balance struct {
	Wallet    float64
	Available float64
}

// PositionInfo is the exchange's authoritative view of one symbol's position.
type PositionInfo struct {
	Symbol           string
	Side             PositionSide
	EntryPrice       float64
	Size             float64 // signed magnitude is normalised to always-positive; Side carries direction
	Leverage         int
	LiquidationPrice float64
	UnrealizedPnL    float64
}

// OrderInfo is the exchange's view of one open order.
type OrderInfo struct {
	OrderID     int64
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Price       float64
	StopPrice   float64
	Qty         float64
	ReduceOnly  bool
	Status      string
}

// Fill is one execution reported by the account-trades endpoint.
type Fill struct {
	Symbol      string
	OrderID     int64
	Price       float64
	Qty         float64
	Commission  float64
	CommissionAsset string
	TimestampMs int64
}

// OrderAck is returned by order-submission calls.
type OrderAck struct {
	OrderID       int64
	AvgFillPrice  float64
	Fills         []Fill
	Status        string
}

// Ack is a bare success acknowledgement (cancel, set-margin-type, set-leverage).
type Ack struct {
	Success bool
	Message string
}

// UserEvent is one event off the account user-data stream: an order update
// (new/filled/canceled) or an account update (balance/position change).
// EventType carries Binance's own event-type string (ORDER_TRADE_UPDATE,
// ACCOUNT_UPDATE) so callers can branch without this package knowing
// Binance's wire schema beyond the fields it actually uses.
type UserEvent struct {
	EventType   string
	Symbol      string
	OrderStatus string
	TimestampMs int64
}
