// streams.go implements the three public WebSocket streams the gateway
// exposes to the Market-Data Engine: diff-depth, aggregate-trade, and
// book-ticker. Each stream auto-reconnects with exponential backoff
// (0.5s -> 10s cap per §4.1) and resets to the floor on every successful
// connection.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"scalper/pkg/types"
)

const (
	reconnectFloor = 500 * time.Millisecond
	reconnectCap   = 10 * time.Second
)

// DepthStream streams diff-depth events for a symbol onto the returned
// channel, which closes when ctx is cancelled. Reconnects are transparent
// to the consumer; the Market-Data Engine observes only a continuous
// sequence of events (with possible gaps across a reconnect, which it
// detects and resyncs per §4.2).
func (c *Client) DepthStream(ctx context.Context, symbol string) <-chan types.DepthEvent {
	out := make(chan types.DepthEvent, 256)
	go c.runReconnectingStream(ctx, "depth", symbol, func(innerCtx context.Context) (chan struct{}, chan struct{}, error) {
		handler := func(event *futures.WsDepthEvent) {
			evt := types.DepthEvent{
				Symbol:            event.Symbol,
				FirstUpdateID:     event.FirstUpdateID,
				FinalUpdateID:     event.LastUpdateID,
				PrevFinalUpdateID: event.PrevLastUpdateID,
				EventTimeMs:       event.Time,
			}
			for _, b := range event.Bids {
				evt.Bids = append(evt.Bids, toLevel(b.Price, b.Quantity))
			}
			for _, a := range event.Asks {
				evt.Asks = append(evt.Asks, toLevel(a.Price, a.Quantity))
			}
			select {
			case out <- evt:
			default:
				c.logger.Warn("depth channel full, dropping event", "symbol", symbol)
			}
		}
		errHandler := func(err error) { c.logger.Warn("depth stream error", "symbol", symbol, "error", err) }
		return futures.WsDepthServe100Ms(symbol, handler, errHandler)
	})
	return out
}

// AggTradeStream streams aggregate-trade events for a symbol.
func (c *Client) AggTradeStream(ctx context.Context, symbol string) <-chan types.AggTrade {
	out := make(chan types.AggTrade, 256)
	go c.runReconnectingStream(ctx, "agg_trade", symbol, func(innerCtx context.Context) (chan struct{}, chan struct{}, error) {
		handler := func(event *futures.WsAggTradeEvent) {
			price, _ := strconv.ParseFloat(event.Price, 64)
			qty, _ := strconv.ParseFloat(event.Quantity, 64)
			trade := types.AggTrade{
				Symbol:       event.Symbol,
				Price:        price,
				Qty:          qty,
				TimestampMs:  event.Time,
				BuyerIsMaker: event.Maker,
			}
			select {
			case out <- trade:
			default:
				c.logger.Warn("agg trade channel full, dropping event", "symbol", symbol)
			}
		}
		errHandler := func(err error) { c.logger.Warn("agg trade stream error", "symbol", symbol, "error", err) }
		return futures.WsAggTradeServe(symbol, handler, errHandler)
	})
	return out
}

// BookTickerStream streams best-bid/ask updates for a symbol.
func (c *Client) BookTickerStream(ctx context.Context, symbol string) <-chan types.BestQuote {
	out := make(chan types.BestQuote, 64)
	go c.runReconnectingStream(ctx, "book_ticker", symbol, func(innerCtx context.Context) (chan struct{}, chan struct{}, error) {
		handler := func(event *futures.WsBookTickerEvent) {
			bid, _ := strconv.ParseFloat(event.BestBidPrice, 64)
			ask, _ := strconv.ParseFloat(event.BestAskPrice, 64)
			quote := types.BestQuote{
				Symbol: event.Symbol,
				Bid:    bid,
				Ask:    ask,
				Ts:     time.Now(),
			}
			select {
			case out <- quote:
			default:
				c.logger.Warn("book ticker channel full, dropping event", "symbol", symbol)
			}
		}
		errHandler := func(err error) { c.logger.Warn("book ticker stream error", "symbol", symbol, "error", err) }
		return futures.WsBookTickerServe(symbol, handler, errHandler)
	})
	return out
}

// streamDialer starts one underlying go-binance WS connection and returns
// its done/stop channels, as every Ws*Serve function does.
type streamDialer func(ctx context.Context) (doneC, stopC chan struct{}, err error)

// runReconnectingStream drives dial, reconnecting with exponential backoff
// on failure and resetting to the floor on every successful connection.
// Blocks until ctx is cancelled.
func (c *Client) runReconnectingStream(ctx context.Context, kind, symbol string, dial streamDialer) {
	backoff := reconnectFloor

	for {
		if ctx.Err() != nil {
			return
		}

		doneC, stopC, err := dial(ctx)
		if err != nil {
			c.logger.Warn("stream dial failed, retrying", "kind", kind, "symbol", symbol, "backoff", backoff, "error", fmt.Errorf("dial: %w", err))
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = reconnectFloor

		select {
		case <-ctx.Done():
			close(stopC)
			return
		case <-doneC:
			c.logger.Warn("stream disconnected, reconnecting", "kind", kind, "symbol", symbol)
			if !sleepOrDone(ctx, reconnectFloor) {
				return
			}
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectCap {
		return reconnectCap
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// UserDataStream starts the account user-data stream (order/fill/account
// events), translated into the package's own UserEvent so the Trading
// Supervisor depends on pkg/types rather than go-binance's wire schema, the
// same boundary DepthStream/AggTradeStream/BookTickerStream already draw.
// Binance requires a listen key, kept alive with a periodic keepalive ping.
func (c *Client) UserDataStream(ctx context.Context) (<-chan types.UserEvent, error) {
	listenKey, err := c.api.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("start user stream: %w", err)
	}

	out := make(chan types.UserEvent, 64)
	go c.keepAliveUserStream(ctx, listenKey)
	go c.runReconnectingStream(ctx, "user_data", "", func(innerCtx context.Context) (chan struct{}, chan struct{}, error) {
		handler := func(event *futures.WsUserDataEvent) {
			evt := types.UserEvent{
				EventType:   string(event.Event),
				TimestampMs: event.Time,
			}
			if event.Event == futures.UserDataEventTypeOrderTradeUpdate {
				evt.Symbol = event.OrderTradeUpdate.Symbol
				evt.OrderStatus = string(event.OrderTradeUpdate.Status)
			}
			select {
			case out <- evt:
			default:
				c.logger.Warn("user data channel full, dropping event")
			}
		}
		errHandler := func(err error) { c.logger.Warn("user data stream error", "error", err) }
		return futures.WsUserDataServe(listenKey, handler, errHandler)
	})
	return out, nil
}

func (c *Client) keepAliveUserStream(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.api.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				c.logger.Warn("user stream keepalive failed", "error", err)
			}
		}
	}
}
