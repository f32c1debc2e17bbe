// Package events defines the GUI-facing snapshot/event types and an
// in-process Hub that fans them out to subscriber channels (§6 GUI
// surface). It is the teacher's internal/api package trimmed to the
// channel-based emission its own api.Hub does internally, minus the
// gorilla/websocket-backed HTTP server: the GUI here is an in-process
// consumer, not a remote one, so there is no wire protocol to serve.
package events

import (
	"time"

	"scalper/pkg/types"
)

// DashboardEvent is the wrapper for every event the Hub emits.
type DashboardEvent struct {
	Type      string      // "signal", "position", "closed_trade", "status"
	Timestamp time.Time
	Symbol    string // empty for account-wide events
	Data      interface{}
}

// Signal is the GUI-facing projection of a Signal Analyser result.
type Signal struct {
	Symbol      string
	Direction   types.Direction
	Confidence  float64
	EntryPrice  float64
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
	Reasons     []string
}

// PositionSnapshot is the GUI-facing projection of a tracked Position.
type PositionSnapshot struct {
	Symbol               string
	Side                 types.PositionSide
	EntryPrice           float64
	Size                 float64
	Leverage             int
	LiquidationPrice     float64
	CurrentPrice         float64
	UnrealizedPnL        float64
	UnrealizedPnLPercent float64
	IsProtected          bool
	AveragingCount       int
}

// ClosedTradeEvent is the GUI-facing projection of a ClosedTrade.
type ClosedTradeEvent struct {
	Symbol      string
	Side        types.PositionSide
	EntryPrice  float64
	ExitPrice   float64
	Size        float64
	RealizedPnL float64
	CloseReason string
}

// NewSignalEvent wraps a Signal Analyser result for broadcast.
func NewSignalEvent(sig types.Signal) DashboardEvent {
	return DashboardEvent{
		Type:      "signal",
		Timestamp: time.Now(),
		Symbol:    sig.Symbol,
		Data: Signal{
			Symbol:      sig.Symbol,
			Direction:   sig.Direction,
			Confidence:  sig.Confidence,
			EntryPrice:  sig.EntryPrice,
			StopLoss:    sig.StopLoss,
			TakeProfit1: sig.TakeProfit1,
			TakeProfit2: sig.TakeProfit2,
			Reasons:     sig.Reasons,
		},
	}
}

// NewPositionEvent wraps a tracked Position for broadcast.
func NewPositionEvent(pos types.Position) DashboardEvent {
	return DashboardEvent{
		Type:      "position",
		Timestamp: time.Now(),
		Symbol:    pos.Symbol,
		Data: PositionSnapshot{
			Symbol:               pos.Symbol,
			Side:                 pos.Side,
			EntryPrice:           pos.EntryPrice,
			Size:                 pos.Size,
			Leverage:             pos.Leverage,
			LiquidationPrice:     pos.LiquidationPrice,
			CurrentPrice:         pos.CurrentPrice,
			UnrealizedPnL:        pos.UnrealizedPnL,
			UnrealizedPnLPercent: pos.UnrealizedPnLPercent,
			IsProtected:          pos.IsProtected,
			AveragingCount:       pos.AveragingCount,
		},
	}
}

// NewClosedTradeEvent wraps a ClosedTrade for broadcast.
func NewClosedTradeEvent(ct types.ClosedTrade) DashboardEvent {
	return DashboardEvent{
		Type:      "closed_trade",
		Timestamp: time.Now(),
		Symbol:    ct.Symbol,
		Data: ClosedTradeEvent{
			Symbol:      ct.Symbol,
			Side:        ct.Side,
			EntryPrice:  ct.EntryPrice,
			ExitPrice:   ct.ExitPrice,
			Size:        ct.Size,
			RealizedPnL: ct.RealizedPnL,
			CloseReason: ct.CloseReason,
		},
	}
}

// NewStatusEvent wraps a free-text status line (e.g. "Sequence gap,
// resync", "Averaging order placed") for the GUI's connection/status dot.
func NewStatusEvent(symbol, message string) DashboardEvent {
	return DashboardEvent{
		Type:      "status",
		Timestamp: time.Now(),
		Symbol:    symbol,
		Data:      message,
	}
}
