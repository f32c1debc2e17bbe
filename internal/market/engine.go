// engine.go drives the per-symbol snapshot+delta synchronisation loop: it
// buffers the WebSocket diff stream while fetching the REST snapshot, then
// replays the buffer and applies subsequent events as they arrive,
// resyncing on gap detection per §4.2. This is the Go-side analogue of the
// teacher's engine.go dispatch loop, narrowed from the teacher's
// per-market strategy-slot orchestration down to pure market-data
// synchronisation (the Trading Supervisor owns orchestration here).
package market

import (
	"context"
	"log/slog"
	"time"

	"scalper/pkg/types"
)

const (
	defaultMinTrades   = 5
	defaultMaxTradeAge = 3 * time.Second
	snapshotDepth      = 1000
)

// Gateway is the minimal capability the engine needs from the Exchange
// Gateway: a depth snapshot fetch and the three public streams.
type Gateway interface {
	FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (*types.DepthSnapshot, error)
	DepthStream(ctx context.Context, symbol string) <-chan types.DepthEvent
	AggTradeStream(ctx context.Context, symbol string) <-chan types.AggTrade
	BookTickerStream(ctx context.Context, symbol string) <-chan types.BestQuote
}

// Symbol bundles one symbol's synchronised book, trade tape, and quote
// tracker, plus the goroutines keeping them current.
type Symbol struct {
	Name  string
	Book  *Book
	Tape  *Tape
	Quote *QuoteTracker

	gw     Gateway
	logger *slog.Logger

	pausedLogged bool
}

// NewSymbol constructs (but does not start) the market-data state for one
// symbol.
func NewSymbol(name string, gw Gateway, logger *slog.Logger) *Symbol {
	return &Symbol{
		Name:   name,
		Book:   NewBook(name),
		Tape:   NewTape(name),
		Quote:  NewQuoteTracker(name),
		gw:     gw,
		logger: logger.With("symbol", name),
	}
}

// Run starts the synchronisation loop and stream consumers. Blocks until
// ctx is cancelled.
func (s *Symbol) Run(ctx context.Context) {
	depthEvents := s.gw.DepthStream(ctx, s.Name)
	trades := s.gw.AggTradeStream(ctx, s.Name)
	quotes := s.gw.BookTickerStream(ctx, s.Name)

	var buffer []types.DepthEvent
	resyncing := make(chan struct{}, 1)
	resyncing <- struct{}{} // trigger initial sync

	for {
		select {
		case <-ctx.Done():
			return

		case <-resyncing:
			snap, err := s.gw.FetchDepthSnapshot(ctx, s.Name, snapshotDepth)
			if err != nil {
				s.logger.Warn("snapshot fetch failed, will retry subject to the resync attempt budget", "error", err)
				break
			}
			s.Book.ApplySnapshot(*snap)
			for _, evt := range buffer {
				if evt.FinalUpdateID < snap.LastUpdateID {
					continue
				}
				s.Book.ApplyDelta(evt)
			}
			buffer = nil
			s.logger.Info("order book synced", "last_update_id", snap.LastUpdateID)

		case evt, ok := <-depthEvents:
			if !ok {
				return
			}
			if !s.Book.IsSynced() {
				buffer = append(buffer, evt)
				if len(buffer) > 2000 {
					buffer = buffer[len(buffer)-2000:]
				}
				continue
			}
			result := s.Book.ApplyDelta(evt)
			if result == DeltaGap {
				s.logger.Warn("sequence gap detected, will resync subject to the resync attempt budget")
			}

		case trade, ok := <-trades:
			if !ok {
				return
			}
			s.Tape.Push(trade)

		case quote, ok := <-quotes:
			if !ok {
				return
			}
			s.Quote.Update(quote)
		}

		switch {
		case s.Book.NeedsResync():
			s.pausedLogged = false
			go s.scheduleResync(ctx, resyncing)
		case s.Book.ResyncPaused():
			if !s.pausedLogged {
				s.logger.Warn("resync attempts exhausted, pausing symbol until manually recovered")
				s.pausedLogged = true
			}
		default:
			s.pausedLogged = false
		}
	}
}

func (s *Symbol) scheduleResync(ctx context.Context, trigger chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(minResyncInterval):
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// IsReady implements the readiness predicate from §4.2:
// synced, tape length >= min_trades, freshest trade within max_trade_age,
// and best-quote bid/ask strictly positive.
func (s *Symbol) IsReady() bool {
	if !s.Book.IsSynced() {
		return false
	}
	if s.Tape.Len() < defaultMinTrades {
		return false
	}
	if s.Tape.LastTradeAge() > defaultMaxTradeAge {
		return false
	}
	return s.Quote.Valid(defaultMaxTradeAge)
}

// CurrentPrice implements get_current_price: trade-price if fresh, else mid
// of best-quote, else the caller should fall back to a REST ticker through
// the gateway (the fallback itself lives in the caller since it needs a
// wider Gateway capability than this package depends on).
func (s *Symbol) CurrentPrice() (float64, bool) {
	if s.Tape.LastTradeAge() <= defaultMaxTradeAge {
		v := s.Tape.PriceView(0, 0)
		if v.LastTradePrice > 0 {
			return v.LastTradePrice, true
		}
	}
	bid, ask, ok := s.Quote.Get().Bid, s.Quote.Get().Ask, s.Quote.Valid(time.Hour)
	if ok && bid > 0 && ask > 0 {
		return (bid + ask) / 2, true
	}
	return 0, false
}
