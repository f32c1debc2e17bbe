package market

import (
	"sync"
	"time"

	"scalper/pkg/types"
)

// QuoteTracker independently maintains the best bid/ask for one symbol from
// the book-ticker stream (§4.2), separate from the depth-derived top20 so a
// stalled depth stream doesn't also stall quote freshness checks.
type QuoteTracker struct {
	mu    sync.RWMutex
	quote types.BestQuote
}

// NewQuoteTracker creates an empty tracker for a symbol.
func NewQuoteTracker(symbol string) *QuoteTracker {
	return &QuoteTracker{quote: types.BestQuote{Symbol: symbol}}
}

// Update records a new best-quote observation.
func (q *QuoteTracker) Update(quote types.BestQuote) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quote = quote
}

// Get returns the current best quote.
func (q *QuoteTracker) Get() types.BestQuote {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.quote
}

// Valid reports whether both sides are strictly positive and the quote was
// observed within maxAge.
func (q *QuoteTracker) Valid(maxAge time.Duration) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.quote.Bid <= 0 || q.quote.Ask <= 0 {
		return false
	}
	if q.quote.Ts.IsZero() {
		return false
	}
	return time.Since(q.quote.Ts) <= maxAge
}
