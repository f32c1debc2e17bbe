// Package exchange implements the Binance USDT-margined futures REST and
// WebSocket adapter (C1 Exchange Gateway). Consumers never see the
// underlying go-binance client directly — only Client's typed methods.
//
// The REST surface wraps github.com/adshao/go-binance/v2/futures:
//   - FetchExchangeInfo:         GET  /fapi/v1/exchangeInfo
//   - FetchDepthSnapshot:        GET  /fapi/v1/depth
//   - FetchAccountBalances:      GET  /fapi/v2/balance
//   - FetchPositionInformation:  GET  /fapi/v2/positionRisk
//   - FetchOpenOrders:           GET  /fapi/v1/openOrders
//   - SubmitMarketOrder/SubmitLimitOrder/SubmitStopLimitOrder: POST /fapi/v1/order
//   - CancelOrder:               DELETE /fapi/v1/order
//   - SetMarginType/SetLeverage: POST /fapi/v1/marginType, /fapi/v1/leverage
//
// Every mutating call is rate-limited via per-category TokenBuckets and
// authenticated by the underlying client's HMAC signing. Clock skew is
// tolerated via a large recvWindow.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"scalper/internal/config"
	"scalper/internal/xerrors"
	"scalper/pkg/types"
)

const recvWindow int64 = 10000

// Client is the Binance USDT-M futures REST client.
type Client struct {
	api    *futures.Client
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting, pointed at testnet or
// mainnet per configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	if cfg.API.Testnet {
		futures.UseTestnet = true
	}
	api := futures.NewClient(cfg.API.Key, cfg.API.Secret)

	return &Client{
		api:    api,
		rl:     NewRateLimiter(),
		dryRun: cfg.Mode == "paper_trading",
		logger: logger,
	}
}

// FetchExchangeInfo fetches tick/step/notional filters for every symbol.
func (c *Client) FetchExchangeInfo(ctx context.Context) ([]types.SymbolRules, error) {
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return nil, err
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, xerrors.Transport("", fmt.Errorf("fetch exchange info: %w", err))
	}

	rules := make([]types.SymbolRules, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		r := types.SymbolRules{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				r.TickSize, _ = strconv.ParseFloat(f["tickSize"].(string), 64)
			case "LOT_SIZE":
				r.StepSize, _ = strconv.ParseFloat(f["stepSize"].(string), 64)
				r.MinQty, _ = strconv.ParseFloat(f["minQty"].(string), 64)
				r.MaxQty, _ = strconv.ParseFloat(f["maxQty"].(string), 64)
			case "MIN_NOTIONAL":
				r.MinNotional, _ = strconv.ParseFloat(f["notional"].(string), 64)
			}
		}
		r.PricePrecision = decimalsOf(r.TickSize)
		r.QtyPrecision = decimalsOf(r.StepSize)
		rules = append(rules, r)
	}
	return rules, nil
}

func decimalsOf(step float64) int {
	if step <= 0 {
		return 0
	}
	n := 0
	for step < 1 {
		step *= 10
		n++
		if n > 12 {
			break
		}
	}
	return n
}

// FetchDepthSnapshot fetches a REST depth snapshot at the given limit.
func (c *Client) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (*types.DepthSnapshot, error) {
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.api.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, xerrors.Transport(symbol, fmt.Errorf("fetch depth snapshot: %w", err))
	}

	snap := &types.DepthSnapshot{LastUpdateID: res.LastUpdateID}
	for _, b := range res.Bids {
		snap.Bids = append(snap.Bids, toLevel(b.Price, b.Quantity))
	}
	for _, a := range res.Asks {
		snap.Asks = append(snap.Asks, toLevel(a.Price, a.Quantity))
	}
	return snap, nil
}

func toLevel(price, qty string) types.PriceLevel {
	p, _ := strconv.ParseFloat(price, 64)
	q, _ := strconv.ParseFloat(qty, 64)
	return types.PriceLevel{Price: p, Qty: q}
}

// FetchAccountBalances returns the USDT wallet/available balance.
func (c *Client) FetchAccountBalances(ctx context.Context) (types.Balance, error) {
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return types.Balance{}, err
	}
	balances, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return types.Balance{}, xerrors.Transport("", fmt.Errorf("fetch account balances: %w", err))
	}
	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		wallet, _ := strconv.ParseFloat(b.Balance, 64)
		avail, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		return types.Balance{Wallet: wallet, Available: avail}, nil
	}
	return types.Balance{}, xerrors.ExchangeBusiness("", fmt.Errorf("no USDT balance entry"))
}

// FetchPositionInformation returns the exchange's authoritative positions.
// If symbol is empty, returns all nonzero positions across the account.
func (c *Client) FetchPositionInformation(ctx context.Context, symbol string) ([]types.PositionInfo, error) {
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, xerrors.Transport(symbol, fmt.Errorf("fetch position information: %w", err))
	}

	out := make([]types.PositionInfo, 0, len(risks))
	for _, p := range risks {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		liq, _ := strconv.ParseFloat(p.LiquidationPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		side := types.Long
		if amt < 0 {
			side = types.Short
			amt = -amt
		}
		out = append(out, types.PositionInfo{
			Symbol:           p.Symbol,
			Side:             side,
			EntryPrice:       entry,
			Size:             amt,
			Leverage:         lev,
			LiquidationPrice: liq,
			UnrealizedPnL:    upnl,
		})
	}
	return out, nil
}

// FetchOpenOrders returns open orders, optionally filtered to one symbol.
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]types.OrderInfo, error) {
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, xerrors.Transport(symbol, fmt.Errorf("fetch open orders: %w", err))
	}

	out := make([]types.OrderInfo, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		out = append(out, types.OrderInfo{
			OrderID:    o.OrderID,
			Symbol:     o.Symbol,
			Side:       types.OrderSide(o.Side),
			Type:       types.OrderType(o.Type),
			Price:      price,
			StopPrice:  stopPrice,
			Qty:        qty,
			ReduceOnly: o.ReduceOnly,
			Status:     string(o.Status),
		})
	}
	return out, nil
}

// FetchRecentTradesForSymbolAfter fetches account trades (fills) after a
// given time, used to build a ClosedTrade when a position is reconciled shut.
func (c *Client) FetchRecentTradesForSymbolAfter(ctx context.Context, symbol string, after time.Time) ([]types.Fill, error) {
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return nil, err
	}
	trades, err := c.api.NewListAccountTradeService().
		Symbol(symbol).
		StartTime(after.UnixMilli()).
		Do(ctx)
	if err != nil {
		return nil, xerrors.Transport(symbol, fmt.Errorf("fetch account trades: %w", err))
	}

	out := make([]types.Fill, 0, len(trades))
	for _, t := range trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		commission, _ := strconv.ParseFloat(t.Commission, 64)
		out = append(out, types.Fill{
			Symbol:          symbol,
			OrderID:         t.OrderID,
			Price:           price,
			Qty:             qty,
			Commission:      commission,
			CommissionAsset: t.CommissionAsset,
			TimestampMs:     t.Time,
		})
	}
	return out, nil
}

// SubmitMarketOrder submits a MARKET order.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side types.OrderSide, qty float64, reduceOnly bool) (types.OrderAck, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit market order", "symbol", symbol, "side", side, "qty", qty)
		return types.OrderAck{OrderID: dryRunID(), Status: "FILLED"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(qty)).
		ReduceOnly(reduceOnly).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return types.OrderAck{}, classifyOrderError(symbol, err)
	}

	avgPrice, _ := strconv.ParseFloat(res.AvgPrice, 64)
	return types.OrderAck{OrderID: res.OrderID, AvgFillPrice: avgPrice, Status: string(res.Status)}, nil
}

// SubmitLimitOrder submits a GTC LIMIT order.
func (c *Client) SubmitLimitOrder(ctx context.Context, symbol string, side types.OrderSide, price, qty float64, reduceOnly bool) (types.OrderAck, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit limit order", "symbol", symbol, "side", side, "price", price, "qty", qty)
		return types.OrderAck{OrderID: dryRunID(), Status: "NEW"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(formatFloat(price)).
		Quantity(formatFloat(qty)).
		ReduceOnly(reduceOnly).
		Do(ctx)
	if err != nil {
		return types.OrderAck{}, classifyOrderError(symbol, err)
	}
	return types.OrderAck{OrderID: res.OrderID, Status: string(res.Status)}, nil
}

// SubmitStopLimitOrder submits a STOP order (stopPrice trigger + limit price).
func (c *Client) SubmitStopLimitOrder(ctx context.Context, symbol string, side types.OrderSide, stopPrice, limitPrice, qty float64, reduceOnly bool) (types.OrderAck, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit stop-limit order", "symbol", symbol, "side", side, "stop", stopPrice, "limit", limitPrice, "qty", qty)
		return types.OrderAck{OrderID: dryRunID(), Status: "NEW"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeStop).
		TimeInForce(futures.TimeInForceTypeGTC).
		StopPrice(formatFloat(stopPrice)).
		Price(formatFloat(limitPrice)).
		Quantity(formatFloat(qty)).
		ReduceOnly(reduceOnly).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return types.OrderAck{}, classifyOrderError(symbol, err)
	}
	return types.OrderAck{OrderID: res.OrderID, Status: string(res.Status)}, nil
}

// CancelOrder cancels a single order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (types.Ack, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "order_id", orderID)
		return types.Ack{Success: true}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.Ack{}, err
	}

	_, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		if isUnknownOrder(err) {
			return types.Ack{Success: true, Message: "already gone"}, nil
		}
		return types.Ack{}, classifyOrderError(symbol, err)
	}
	return types.Ack{Success: true}, nil
}

// SetMarginType sets isolated margin for a symbol. Idempotent: "already
// isolated" is treated as success, not an error, per §7.
func (c *Client) SetMarginType(ctx context.Context, symbol string) (types.Ack, error) {
	if c.dryRun {
		return types.Ack{Success: true}, nil
	}
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return types.Ack{}, err
	}

	err := c.api.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginTypeIsolated).Do(ctx)
	if err != nil {
		if isAlreadySet(err) {
			return types.Ack{Success: true, Message: "already isolated"}, nil
		}
		return types.Ack{}, classifyOrderError(symbol, err)
	}
	return types.Ack{Success: true}, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (types.Ack, error) {
	if c.dryRun {
		return types.Ack{Success: true}, nil
	}
	if err := c.rl.Weight.Wait(ctx); err != nil {
		return types.Ack{}, err
	}

	_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return types.Ack{}, classifyOrderError(symbol, err)
	}
	return types.Ack{Success: true}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func dryRunID() int64 {
	return time.Now().UnixNano()
}

func isUnknownOrder(err error) bool {
	apiErr, ok := err.(*futures.APIError)
	return ok && apiErr.Code == -2011
}

func isAlreadySet(err error) bool {
	apiErr, ok := err.(*futures.APIError)
	return ok && apiErr.Code == -4046
}

// classifyOrderError distinguishes exchange business errors (never retried)
// from transport failures, per the §7 taxonomy.
func classifyOrderError(symbol string, err error) error {
	if _, ok := err.(*futures.APIError); ok {
		return xerrors.ExchangeBusiness(symbol, err)
	}
	return xerrors.Transport(symbol, err)
}
