package market

import (
	"sync"
	"time"

	"scalper/pkg/types"
)

// tapeCapacity is the bounded FIFO size for the trade tape (§4.2).
const tapeCapacity = 100

// Tape is a bounded FIFO of recent aggregate trades for one symbol, plus the
// derived PriceView (last trade price/time).
type Tape struct {
	mu      sync.RWMutex
	trades  []types.AggTrade
	view    types.PriceView
}

// NewTape creates an empty trade tape for a symbol.
func NewTape(symbol string) *Tape {
	return &Tape{view: types.PriceView{Symbol: symbol}}
}

// Push validates and appends a trade, evicting the oldest entry once the
// tape exceeds capacity. Invalid trades (non-positive price or qty) are
// dropped silently (a protocol-level error per §7, not worth propagating).
func (t *Tape) Push(trade types.AggTrade) bool {
	if trade.Price <= 0 || trade.Qty <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.trades = append(t.trades, trade)
	if len(t.trades) > tapeCapacity {
		t.trades = t.trades[len(t.trades)-tapeCapacity:]
	}

	t.view.LastTradePrice = trade.Price
	t.view.LastTradeTs = time.UnixMilli(trade.TimestampMs)
	return true
}

// Len returns the number of trades currently held.
func (t *Tape) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.trades)
}

// Recent returns a copy of the most recent n trades, oldest first. If fewer
// than n are available, all are returned.
func (t *Tape) Recent(n int) []types.AggTrade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 || n > len(t.trades) {
		n = len(t.trades)
	}
	start := len(t.trades) - n
	out := make([]types.AggTrade, n)
	copy(out, t.trades[start:])
	return out
}

// LastTradeAge returns how long ago the freshest trade arrived, or a very
// large duration if no trade has ever arrived.
func (t *Tape) LastTradeAge() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.view.LastTradeTs.IsZero() {
		return time.Hour * 24 * 365
	}
	return time.Since(t.view.LastTradeTs)
}

// PriceView returns the current derived price view, with MidPrice filled in
// from the supplied best bid/ask (the tape itself doesn't own book state).
func (t *Tape) PriceView(bid, ask float64) types.PriceView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := t.view
	if bid > 0 && ask > 0 {
		v.MidPrice = (bid + ask) / 2
	}
	return v
}
