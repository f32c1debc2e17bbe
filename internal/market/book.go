// Package market implements the local order-book synchroniser, trade tape,
// and best-quote tracker for one symbol (C2 Market-Data Engine).
//
// Book mirrors the exchange's order book for a single symbol using the
// canonical snapshot+delta protocol: a WebSocket diff-depth stream is
// buffered while a REST snapshot is fetched, then buffered and subsequent
// events are applied in order, each validated against the previous
// final-update-id. A Book is concurrency-safe (RWMutex protected).
package market

import (
	"sort"
	"sync"
	"time"

	"scalper/pkg/types"
)

// maxResyncAttempts bounds resync attempts per symbol before pausing (§4.2).
const maxResyncAttempts = 5

// minResyncInterval throttles resync attempts to at most once per window.
const minResyncInterval = 2 * time.Second

// Book maintains a local mirror of one symbol's order book.
type Book struct {
	mu     sync.RWMutex
	symbol string

	synced       bool
	lastUpdateID int64
	firstApplied bool // true once the first post-snapshot event has been applied

	bids map[float64]float64 // price -> qty, qty==0 entries removed
	asks map[float64]float64

	top20   types.Top20
	updated time.Time

	resyncAttempts  int
	lastResyncAt    time.Time
}

// NewBook creates an unsynced order book for a symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// ApplySnapshot installs a REST depth snapshot as the synchronisation
// baseline (U0 := last_update_id). Resets accumulated book state.
func (b *Book) ApplySnapshot(snap types.DepthSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[float64]float64, len(snap.Bids))
	b.asks = make(map[float64]float64, len(snap.Asks))
	for _, lvl := range snap.Bids {
		if lvl.Qty > 0 {
			b.bids[lvl.Price] = lvl.Qty
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Qty > 0 {
			b.asks[lvl.Price] = lvl.Qty
		}
	}

	b.lastUpdateID = snap.LastUpdateID
	b.firstApplied = false
	b.synced = true
	b.resyncAttempts = 0
	b.updated = time.Now()
	b.rebuildTop20Locked()
}

// ApplyDeltaResult reports the outcome of applying one delta event.
type ApplyDeltaResult int

const (
	// DeltaDropped means the event was stale (u < U0) and ignored, no state change.
	DeltaDropped ApplyDeltaResult = iota
	// DeltaApplied means the event updated book state.
	DeltaApplied
	// DeltaGap means a sequence invariant failed; the book is now unsynced.
	DeltaGap
)

// ApplyDelta validates and applies one diff-depth event per the §4.2
// sequencing rules. If the book is not currently synced, the event is
// buffered by the caller instead (ApplyDelta assumes it is only called once
// a snapshot has been installed).
func (b *Book) ApplyDelta(evt types.DepthEvent) ApplyDeltaResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.synced {
		return DeltaDropped
	}

	if evt.FinalUpdateID < b.lastUpdateID {
		return DeltaDropped
	}

	if !b.firstApplied {
		if !(evt.FirstUpdateID <= b.lastUpdateID+1 && b.lastUpdateID+1 <= evt.FinalUpdateID) {
			b.markUnsyncedLocked()
			return DeltaGap
		}
		b.firstApplied = true
	} else {
		if evt.PrevFinalUpdateID != b.lastUpdateID {
			b.markUnsyncedLocked()
			return DeltaGap
		}
	}

	for _, lvl := range evt.Bids {
		b.applyLevel(b.bids, lvl)
	}
	for _, lvl := range evt.Asks {
		b.applyLevel(b.asks, lvl)
	}

	b.lastUpdateID = evt.FinalUpdateID
	b.updated = time.Now()
	b.rebuildTop20Locked()
	return DeltaApplied
}

func (b *Book) applyLevel(side map[float64]float64, lvl types.PriceLevel) {
	if lvl.Qty == 0 {
		delete(side, lvl.Price)
		return
	}
	side[lvl.Price] = lvl.Qty
}

func (b *Book) markUnsyncedLocked() {
	b.synced = false
}

// NeedsResync reports whether the book is unsynced and eligible for another
// resync attempt under the throttle (at most once per 2s, 5 attempts before
// pausing). Calling it records the attempt if eligible.
func (b *Book) NeedsResync() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.synced {
		return false
	}
	if b.resyncAttempts >= maxResyncAttempts {
		return false
	}
	if time.Since(b.lastResyncAt) < minResyncInterval {
		return false
	}
	b.resyncAttempts++
	b.lastResyncAt = time.Now()
	return true
}

// ResyncPaused reports whether the book is unsynced and has exhausted its
// resync attempt budget (§4.2: at most 5 attempts per symbol before
// pausing).
func (b *Book) ResyncPaused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.synced && b.resyncAttempts >= maxResyncAttempts
}

// IsSynced reports current sync state.
func (b *Book) IsSynced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// LastUpdateID returns the book's current sequence watermark.
func (b *Book) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

func (b *Book) rebuildTop20Locked() {
	bids := make([]types.PriceLevel, 0, len(b.bids))
	for p, q := range b.bids {
		bids = append(bids, types.PriceLevel{Price: p, Qty: q})
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	if len(bids) > 20 {
		bids = bids[:20]
	}

	asks := make([]types.PriceLevel, 0, len(b.asks))
	for p, q := range b.asks {
		asks = append(asks, types.PriceLevel{Price: p, Qty: q})
	}
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	if len(asks) > 20 {
		asks = asks[:20]
	}

	b.top20 = types.Top20{Bids: bids, Asks: asks}
}

// Top20 returns the cached top-of-book projection.
func (b *Book) Top20() types.Top20 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.top20
}

// BestBidAsk returns the best bid and ask prices, if present.
func (b *Book) BestBidAsk() (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.top20.Bids) == 0 || len(b.top20.Asks) == 0 {
		return 0, 0, false
	}
	return b.top20.Bids[0].Price, b.top20.Asks[0].Price, true
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}
