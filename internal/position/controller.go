// Package position implements the Position Controller (C5): it owns the
// set of live Position records, drives each through the loss/profit/
// trailing regime state machine of §4.5, and reconciles local state against
// the exchange's authoritative view on a timer. It is the Go-side
// descendant of the teacher's internal/strategy Inventory+Maker
// reconcileOrders loop, generalised from a single market-making quote pair
// into three risk regimes and an order-hygiene pass.
package position

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"scalper/internal/config"
	"scalper/internal/risk"
	"scalper/pkg/types"

	"log/slog"
)

// Exchange is the slice of the Exchange Gateway the controller needs.
type Exchange interface {
	FetchPositionInformation(ctx context.Context, symbol string) ([]types.PositionInfo, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]types.OrderInfo, error)
	FetchRecentTradesForSymbolAfter(ctx context.Context, symbol string, after time.Time) ([]types.Fill, error)
	FetchAccountBalances(ctx context.Context) (types.Balance, error)
	SubmitMarketOrder(ctx context.Context, symbol string, side types.OrderSide, qty float64, reduceOnly bool) (types.OrderAck, error)
	SubmitLimitOrder(ctx context.Context, symbol string, side types.OrderSide, price, qty float64, reduceOnly bool) (types.OrderAck, error)
	SubmitStopLimitOrder(ctx context.Context, symbol string, side types.OrderSide, stopPrice, limitPrice, qty float64, reduceOnly bool) (types.OrderAck, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (types.Ack, error)
}

// Statistics summarises trading activity for the GUI and the session
// shutdown dump.
type Statistics struct {
	OpenPositions int
	ClosedTrades  []types.ClosedTrade
	RealizedPnL   float64
}

type managed struct {
	mu        sync.Mutex
	pos       types.Position
	averaging OrderSlot
	stop      OrderSlot
}

// Controller owns every tracked Position and drives regimes, reconciliation,
// and order hygiene. Safe for concurrent use: a controller-wide RWMutex
// guards the symbol map, and each managed position has its own mutex so a
// reconciliation tick on one symbol never blocks a protection tick on
// another.
type Controller struct {
	mu      sync.RWMutex
	symbols map[string]*managed
	rules   map[string]types.SymbolRules
	closed  []types.ClosedTrade

	gw     Exchange
	cfg    *config.Config
	logger *slog.Logger
}

// NewController builds a Position Controller. rules must already contain an
// entry for every symbol the bot trades (fetched once at startup via C1).
func NewController(gw Exchange, rules map[string]types.SymbolRules, cfg *config.Config, logger *slog.Logger) *Controller {
	return &Controller{
		symbols: make(map[string]*managed),
		rules:   rules,
		gw:      gw,
		cfg:     cfg,
		logger:  logger.With("component", "position"),
	}
}

// Rules returns the cached symbol filters.
func (c *Controller) Rules(symbol string) (types.SymbolRules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[symbol]
	return r, ok
}

// Position returns a snapshot of the tracked position for symbol, if any.
func (c *Controller) Position(symbol string) (types.Position, bool) {
	c.mu.RLock()
	m, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return types.Position{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, true
}

// Positions returns a snapshot of every tracked position.
func (c *Controller) Positions() []types.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Position, 0, len(c.symbols))
	for _, m := range c.symbols {
		m.mu.Lock()
		out = append(out, m.pos)
		m.mu.Unlock()
	}
	return out
}

// ClosedTrades returns every ClosedTrade recorded so far.
func (c *Controller) ClosedTrades() []types.ClosedTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.ClosedTrade(nil), c.closed...)
}

// Statistics summarises current state for the GUI/session dump.
func (c *Controller) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var realized float64
	for _, ct := range c.closed {
		realized += ct.RealizedPnL
	}
	return Statistics{
		OpenPositions: len(c.symbols),
		ClosedTrades:  append([]types.ClosedTrade(nil), c.closed...),
		RealizedPnL:   realized,
	}
}

// AdoptPosition starts tracking a newly opened position (called by the
// open_position operation once the opening order has filled).
func (c *Controller) AdoptPosition(pos types.Position) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols[pos.Symbol] = &managed{pos: pos}
}

// UpdatePositions refreshes CurrentPrice/UnrealizedPnL for every tracked
// position from prices, then drives each through its regime for this
// protection tick (§4.5). A symbol missing from prices is skipped this tick
// rather than evaluated against a stale price.
func (c *Controller) UpdatePositions(ctx context.Context, prices map[string]float64) {
	c.mu.RLock()
	snapshot := make([]*managed, 0, len(c.symbols))
	for _, m := range c.symbols {
		snapshot = append(snapshot, m)
	}
	c.mu.RUnlock()

	for _, m := range snapshot {
		m.mu.Lock()
		symbol := m.pos.Symbol
		m.mu.Unlock()

		price, ok := prices[symbol]
		if !ok || price <= 0 {
			continue
		}
		c.driveRegime(ctx, symbol, m, price)
	}
}

func (c *Controller) driveRegime(ctx context.Context, symbol string, m *managed, price float64) {
	m.mu.Lock()
	m.pos.CurrentPrice = price
	if m.pos.Side == types.Long {
		m.pos.UnrealizedPnL = (price - m.pos.EntryPrice) * m.pos.Size
	} else {
		m.pos.UnrealizedPnL = (m.pos.EntryPrice - price) * m.pos.Size
	}
	pnlPercent := risk.UnrealizedPnLPercent(m.pos.Side, m.pos.InitialEntryPrice, price, m.pos.Leverage)
	m.pos.UnrealizedPnLPercent = pnlPercent
	m.mu.Unlock()

	activation := c.cfg.Risk.SteppedStopActivationPnL
	switch {
	case pnlPercent < 0:
		c.regimeLoss(ctx, symbol, m, pnlPercent)
	case pnlPercent < activation:
		c.regimeSmallProfit(ctx, symbol, m, pnlPercent)
	default:
		c.regimeTrailing(ctx, symbol, m, pnlPercent)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Regime 1 — loss
// ————————————————————————————————————————————————————————————————————————

func (c *Controller) regimeLoss(ctx context.Context, symbol string, m *managed, pnlPercent float64) {
	c.cancelStopIfActive(ctx, symbol, m)

	if !c.cfg.Risk.AveragingDownEnabled {
		return
	}

	m.mu.Lock()
	averagingCount := m.pos.AveragingCount
	m.mu.Unlock()
	if averagingCount >= c.cfg.Risk.AveragingMaxCount {
		return
	}
	if c.cfg.Risk.AveragingRequireNegativeROI && pnlPercent >= 0 {
		return
	}

	m.mu.Lock()
	liq := m.pos.LiquidationPrice
	side := m.pos.Side
	m.mu.Unlock()

	rules, ok := c.Rules(symbol)
	if !ok {
		return
	}

	target, _ := risk.AveragingPrice(side, liq, c.cfg.AveragingDistancePct())

	m.mu.Lock()
	existingID := m.averaging.ID()
	existingLive := m.averaging.State() == SlotLive
	m.mu.Unlock()

	if existingLive && existingID != 0 {
		if c.averagingOrderStillValid(ctx, symbol, existingID, target, side, liq, rules) {
			return
		}
		c.cancelAveraging(ctx, symbol, m)
	}

	if c.adoptMatchingAveragingOrder(ctx, symbol, m, target, side, rules) {
		return
	}

	c.placeAveragingOrder(ctx, symbol, m, target, side, rules)
}

func (c *Controller) averagingOrderStillValid(ctx context.Context, symbol string, orderID int64, target float64, side types.PositionSide, liq float64, rules types.SymbolRules) bool {
	orders, err := c.gw.FetchOpenOrders(ctx, symbol)
	if err != nil {
		c.logger.Warn("averaging order validity check failed, keeping existing", "symbol", symbol, "error", err)
		return true
	}
	for _, o := range orders {
		if o.OrderID != orderID {
			continue
		}
		withinTick := math.Abs(o.Price-target) <= rules.TickSize+1e-9
		var onCorrectSide bool
		if side == types.Long {
			onCorrectSide = o.Price > liq
		} else {
			onCorrectSide = o.Price < liq
		}
		return withinTick && onCorrectSide
	}
	return false
}

func (c *Controller) adoptMatchingAveragingOrder(ctx context.Context, symbol string, m *managed, target float64, side types.PositionSide, rules types.SymbolRules) bool {
	orders, err := c.gw.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return false
	}
	orderSide := types.Buy
	if side == types.Short {
		orderSide = types.Sell
	}
	for _, o := range orders {
		if o.Type != types.OrderTypeLimit || o.Side != orderSide || o.ReduceOnly {
			continue
		}
		if math.Abs(o.Price-target) > rules.TickSize+1e-9 {
			continue
		}
		m.mu.Lock()
		m.averaging.Adopt(o.OrderID)
		m.pos.AveragingOrderID = strconv.FormatInt(o.OrderID, 10)
		m.mu.Unlock()
		return true
	}
	return false
}

func (c *Controller) placeAveragingOrder(ctx context.Context, symbol string, m *managed, target float64, side types.PositionSide, rules types.SymbolRules) {
	m.mu.Lock()
	if !m.averaging.BeginSubmit() {
		m.mu.Unlock()
		return
	}
	currentSize := m.pos.Size
	initialSize := m.pos.InitialSize
	averagingCount := m.pos.AveragingCount
	m.mu.Unlock()

	qty := risk.AveragingQuantity(c.cfg.Risk.AveragingMartingaleEnabled, currentSize, initialSize, averagingCount, target, rules)
	orderSide := types.Buy
	if side == types.Short {
		orderSide = types.Sell
	}

	m.mu.Lock()
	leverage := m.pos.Leverage
	m.mu.Unlock()

	requiredMargin := risk.AveragingMargin(target, qty, leverage)
	balance, err := c.gw.FetchAccountBalances(ctx)
	if err != nil {
		c.logger.Warn("averaging order balance check failed, skipping", "symbol", symbol, "error", err)
		m.mu.Lock()
		m.averaging.SubmitFailed()
		m.mu.Unlock()
		return
	}
	if requiredMargin > balance.Available {
		c.logger.Info("averaging order skipped, insufficient available balance", "symbol", symbol, "required_margin", requiredMargin, "available", balance.Available)
		m.mu.Lock()
		m.averaging.SubmitFailed()
		m.mu.Unlock()
		return
	}

	ack, err := c.gw.SubmitLimitOrder(ctx, symbol, orderSide, risk.RoundToTick(target, rules.TickSize), qty, false)
	if err != nil {
		c.logger.Warn("place averaging order failed", "symbol", symbol, "error", err)
		m.mu.Lock()
		m.averaging.SubmitFailed()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.averaging.Submitted(ack.OrderID)
	m.pos.AveragingOrderID = strconv.FormatInt(ack.OrderID, 10)
	m.mu.Unlock()
}

func (c *Controller) cancelAveraging(ctx context.Context, symbol string, m *managed) {
	m.mu.Lock()
	if !m.averaging.BeginCancel() {
		m.mu.Unlock()
		return
	}
	id := m.averaging.ID()
	m.mu.Unlock()

	if _, err := c.gw.CancelOrder(ctx, symbol, id); err != nil {
		c.logger.Warn("cancel averaging order failed", "symbol", symbol, "error", err)
	}

	m.mu.Lock()
	m.averaging.Cancelled()
	m.pos.AveragingOrderID = ""
	m.mu.Unlock()
}

// ————————————————————————————————————————————————————————————————————————
// Regime 2 — small profit
// ————————————————————————————————————————————————————————————————————————

func (c *Controller) regimeSmallProfit(ctx context.Context, symbol string, m *managed, pnlPercent float64) {
	m.mu.Lock()
	averagingActive := m.averaging.State() == SlotLive
	m.mu.Unlock()
	if averagingActive {
		c.cancelAveraging(ctx, symbol, m)
	}

	resetCfg := c.cfg.Risk.ResetMarginAfterAveraging
	resetROI := resetCfg.TriggerROIPct
	if resetROI <= 0 {
		resetROI = 1.5
	}

	m.mu.Lock()
	averagingCount := m.pos.AveragingCount
	m.mu.Unlock()

	if resetCfg.Enabled && c.cfg.Account.EcoMode && averagingCount > 0 && pnlPercent >= resetROI {
		if err := c.ReduceToInitialSize(ctx, symbol); err != nil {
			c.logger.Warn("eco-mode reduce to initial size failed", "symbol", symbol, "error", err)
		}
	}
	// Trailing stop, if already active, is left untouched here: stops only
	// move up, never down (regime 3 owns all stop movement).
}

// ReduceToInitialSize submits a reduce-only market order bringing size back
// down to InitialSize. Used by the eco-mode reset in regime 2 and by the
// manual reduce_position_to_initial_size operation.
func (c *Controller) ReduceToInitialSize(ctx context.Context, symbol string) error {
	c.mu.RLock()
	m, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("position: no tracked position for %s", symbol)
	}

	m.mu.Lock()
	currentSize := m.pos.Size
	initialSize := m.pos.InitialSize
	side := m.pos.Side
	m.mu.Unlock()

	if currentSize <= initialSize {
		return nil
	}
	rules, ok := c.Rules(symbol)
	if !ok {
		return fmt.Errorf("position: no symbol rules for %s", symbol)
	}
	reduceQty := risk.RoundToStep(currentSize-initialSize, rules.StepSize)
	if reduceQty <= 0 {
		return nil
	}

	orderSide := types.Sell
	if side == types.Short {
		orderSide = types.Buy
	}
	if _, err := c.gw.SubmitMarketOrder(ctx, symbol, orderSide, reduceQty, true); err != nil {
		return err
	}

	m.mu.Lock()
	m.pos.Size = initialSize
	m.mu.Unlock()
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Regime 3 — trailing profit
// ————————————————————————————————————————————————————————————————————————

func (c *Controller) regimeTrailing(ctx context.Context, symbol string, m *managed, pnlPercent float64) {
	m.mu.Lock()
	averagingActive := m.averaging.State() == SlotLive
	m.mu.Unlock()
	if averagingActive {
		c.cancelAveraging(ctx, symbol, m)
	}

	m.mu.Lock()
	m.pos.IsProtected = true
	side := m.pos.Side
	entry := m.pos.InitialEntryPrice
	leverage := m.pos.Leverage
	qty := m.pos.Size
	currentLevel := m.pos.SteppedStopLevelPnL
	stopLive := m.stop.State() == SlotLive
	m.mu.Unlock()

	targetLevel, active := risk.SteppedStopLevel(pnlPercent, c.cfg.Risk.SteppedStopActivationPnL)
	if !active {
		return
	}

	if !stopLive {
		c.placeStop(ctx, symbol, m, side, entry, targetLevel, leverage, qty)
		return
	}

	if targetLevel <= currentLevel {
		return // trailing invariant: stops only move up, never down
	}

	c.replaceStop(ctx, symbol, m, side, entry, targetLevel, leverage, qty)
}

func (c *Controller) placeStop(ctx context.Context, symbol string, m *managed, side types.PositionSide, entry, level float64, leverage int, qty float64) {
	m.mu.Lock()
	if !m.stop.BeginSubmit() {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	rules, ok := c.Rules(symbol)
	if !ok {
		m.mu.Lock()
		m.stop.SubmitFailed()
		m.mu.Unlock()
		return
	}
	stopPrice, limitPrice := risk.StopPriceFromPnL(side, entry, level, leverage)
	stopPrice = risk.RoundToTick(stopPrice, rules.TickSize)
	limitPrice = risk.RoundToTick(limitPrice, rules.TickSize)

	orderSide := types.Sell
	if side == types.Short {
		orderSide = types.Buy
	}

	ack, err := c.gw.SubmitStopLimitOrder(ctx, symbol, orderSide, stopPrice, limitPrice, qty, true)
	if err != nil {
		c.logger.Warn("place stepped-stop order failed", "symbol", symbol, "error", err)
		m.mu.Lock()
		m.stop.SubmitFailed()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.stop.Submitted(ack.OrderID)
	m.pos.SteppedStopOrderID = strconv.FormatInt(ack.OrderID, 10)
	m.pos.SteppedStopLevelPnL = level
	m.pos.SteppedStopActive = true
	m.mu.Unlock()
}

func (c *Controller) replaceStop(ctx context.Context, symbol string, m *managed, side types.PositionSide, entry, level float64, leverage int, qty float64) {
	m.mu.Lock()
	if !m.stop.BeginReplace() {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	rules, ok := c.Rules(symbol)
	if !ok {
		m.mu.Lock()
		m.stop.state = SlotLive
		m.mu.Unlock()
		return
	}
	stopPrice, limitPrice := risk.StopPriceFromPnL(side, entry, level, leverage)
	stopPrice = risk.RoundToTick(stopPrice, rules.TickSize)
	limitPrice = risk.RoundToTick(limitPrice, rules.TickSize)

	orderSide := types.Sell
	if side == types.Short {
		orderSide = types.Buy
	}

	// Place the new stop first; only cancel the superseded one once the
	// replacement is confirmed live (§8 property 8).
	ack, err := c.gw.SubmitStopLimitOrder(ctx, symbol, orderSide, stopPrice, limitPrice, qty, true)
	if err != nil {
		c.logger.Warn("replace stepped-stop order failed", "symbol", symbol, "error", err)
		m.mu.Lock()
		m.stop.state = SlotLive // revert; the previous order is still live
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	oldID := m.stop.OldID()
	m.stop.ReplacedWith(ack.OrderID)
	m.pos.SteppedStopOrderID = strconv.FormatInt(ack.OrderID, 10)
	m.pos.SteppedStopLevelPnL = level
	m.mu.Unlock()

	if _, err := c.gw.CancelOrder(ctx, symbol, oldID); err != nil {
		c.logger.Warn("cancel superseded stepped-stop order failed", "symbol", symbol, "error", err)
	}

	m.mu.Lock()
	m.stop.ReplaceComplete()
	m.mu.Unlock()
}

func (c *Controller) cancelStopIfActive(ctx context.Context, symbol string, m *managed) {
	m.mu.Lock()
	active := m.stop.State() == SlotLive
	m.mu.Unlock()
	if !active {
		return
	}

	m.mu.Lock()
	m.stop.BeginCancel()
	id := m.stop.ID()
	m.mu.Unlock()

	if _, err := c.gw.CancelOrder(ctx, symbol, id); err != nil {
		c.logger.Warn("cancel trailing stop failed", "symbol", symbol, "error", err)
	}

	m.mu.Lock()
	m.stop.Cancelled()
	m.pos.SteppedStopOrderID = ""
	m.pos.SteppedStopActive = false
	m.pos.IsProtected = false
	m.mu.Unlock()
}

// ————————————————————————————————————————————————————————————————————————
// Reconciliation tick
// ————————————————————————————————————————————————————————————————————————

// ReconciliationTick pulls authoritative position state from the gateway
// for every traded symbol (§4.5 reconciliation tick): adopts newly-detected
// positions, detects averaging fills heuristically, and closes out any
// position the exchange now reports as flat.
func (c *Controller) ReconciliationTick(ctx context.Context, symbols []string) ([]types.ClosedTrade, error) {
	var closedNow []types.ClosedTrade
	for _, symbol := range symbols {
		infos, err := c.gw.FetchPositionInformation(ctx, symbol)
		if err != nil {
			return closedNow, fmt.Errorf("reconcile %s: %w", symbol, err)
		}
		if len(infos) == 0 {
			if ct, ok := c.closeIfTracked(ctx, symbol); ok {
				closedNow = append(closedNow, ct)
			}
			continue
		}
		c.reconcileOne(symbol, infos[0])
	}
	return closedNow, nil
}

func (c *Controller) reconcileOne(symbol string, info types.PositionInfo) {
	c.mu.Lock()
	m, tracked := c.symbols[symbol]
	if !tracked {
		leverage := info.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		margin := info.EntryPrice * info.Size / float64(leverage)
		c.symbols[symbol] = &managed{pos: types.Position{
			ID:                uuid.NewString(),
			Symbol:            symbol,
			Side:              info.Side,
			EntryPrice:        info.EntryPrice,
			Size:              info.Size,
			Leverage:          leverage,
			InitialEntryPrice: info.EntryPrice,
			InitialSize:       info.Size,
			InitialMargin:     margin,
			Margin:            margin,
			PositionValue:     info.EntryPrice * info.Size,
			LiquidationPrice:  info.LiquidationPrice,
			CurrentPrice:      info.EntryPrice,
			OpenedAt:          time.Now(),
		}}
		c.mu.Unlock()
		c.logger.Info("adopted untracked exchange position", "symbol", symbol, "side", info.Side, "size", info.Size)
		return
	}
	c.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if info.Size > m.pos.Size*1.5 {
		m.pos.EntryPrice = info.EntryPrice
		m.pos.Size = info.Size
		m.pos.AveragingCount++
		m.pos.AveragingOrderID = ""
		m.averaging.Cancelled()
		m.pos.LiquidationPrice = risk.LiquidationPrice(m.pos.Side, m.pos.EntryPrice, m.pos.Leverage, c.cfg.Risk.MaintenanceMarginRate)
		c.logger.Info("averaging fill detected", "symbol", symbol, "averaging_count", m.pos.AveragingCount, "new_entry", m.pos.EntryPrice)
	}
	// Leverage can change out-of-band (idempotent set_leverage calls);
	// every other risk-management field is preserved across reconciliation.
	if info.Leverage > 0 {
		m.pos.Leverage = info.Leverage
	}
}

func (c *Controller) closeIfTracked(ctx context.Context, symbol string) (types.ClosedTrade, bool) {
	c.mu.Lock()
	m, ok := c.symbols[symbol]
	if ok {
		delete(c.symbols, symbol)
	}
	c.mu.Unlock()
	if !ok {
		return types.ClosedTrade{}, false
	}

	m.mu.Lock()
	pos := m.pos
	m.mu.Unlock()

	fills, err := c.gw.FetchRecentTradesForSymbolAfter(ctx, symbol, pos.OpenedAt)
	if err != nil {
		c.logger.Warn("fetch fills for closed position failed", "symbol", symbol, "error", err)
	}

	var commission, exitNotional, exitQty float64
	for _, f := range fills {
		commission += f.Commission
		exitNotional += f.Price * f.Qty
		exitQty += f.Qty
	}
	exitPrice := pos.CurrentPrice
	if exitQty > 0 {
		exitPrice = exitNotional / exitQty
	}

	realized := (exitPrice - pos.InitialEntryPrice) * pos.Size
	if pos.Side == types.Short {
		realized = (pos.InitialEntryPrice - exitPrice) * pos.Size
	}

	ct := types.ClosedTrade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Symbol:      symbol,
		Side:        pos.Side,
		EntryPrice:  pos.InitialEntryPrice,
		ExitPrice:   exitPrice,
		Size:        pos.Size,
		EntryTime:   pos.OpenedAt,
		ExitTime:    time.Now(),
		RealizedPnL: realized - commission,
		Commission:  commission,
		CloseReason: "position_flat",
	}

	c.mu.Lock()
	c.closed = append(c.closed, ct)
	c.mu.Unlock()

	return ct, true
}

// ————————————————————————————————————————————————————————————————————————
// Order hygiene tick
// ————————————————————————————————————————————————————————————————————————

// OrderHygieneTick fetches every open order and cancels anything that
// doesn't belong (§4.5 order hygiene): legacy take-profit orders (the
// system exits via trailing stop only), duplicate same-direction orders
// beyond the one tracked slot per kind, and orders with no backing
// position at all.
func (c *Controller) OrderHygieneTick(ctx context.Context) {
	c.mu.RLock()
	tracked := make(map[string]*managed, len(c.symbols))
	for sym, m := range c.symbols {
		tracked[sym] = m
	}
	c.mu.RUnlock()

	orders, err := c.gw.FetchOpenOrders(ctx, "")
	if err != nil {
		c.logger.Warn("order hygiene: fetch open orders failed", "error", err)
		return
	}

	bySymbol := make(map[string][]types.OrderInfo)
	for _, o := range orders {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	for symbol, symOrders := range bySymbol {
		m, ok := tracked[symbol]
		if !ok {
			for _, o := range symOrders {
				c.cancelOrphan(ctx, symbol, o.OrderID)
			}
			continue
		}
		c.hygieneForSymbol(ctx, symbol, m, symOrders)
	}
}

func (c *Controller) hygieneForSymbol(ctx context.Context, symbol string, m *managed, orders []types.OrderInfo) {
	m.mu.Lock()
	keepAveraging := m.averaging.ID()
	keepStop := m.stop.ID()
	m.mu.Unlock()

	var sawAveraging, sawStop bool
	for _, o := range orders {
		switch o.Type {
		case types.OrderTypeStopLimit:
			if o.OrderID == keepStop {
				sawStop = true
				continue
			}
			if keepStop == 0 && !sawStop {
				sawStop = true
				continue
			}
			c.cancelOrphan(ctx, symbol, o.OrderID)

		case types.OrderTypeLimit:
			if o.ReduceOnly {
				// A reduce-only resting limit is a legacy take-profit order;
				// the system exits only via the trailing stop.
				c.cancelOrphan(ctx, symbol, o.OrderID)
				continue
			}
			if o.OrderID == keepAveraging {
				sawAveraging = true
				continue
			}
			if keepAveraging == 0 && !sawAveraging {
				sawAveraging = true
				continue
			}
			c.cancelOrphan(ctx, symbol, o.OrderID)
		}
	}
}

func (c *Controller) cancelOrphan(ctx context.Context, symbol string, orderID int64) {
	if _, err := c.gw.CancelOrder(ctx, symbol, orderID); err != nil {
		c.logger.Warn("order hygiene: cancel failed", "symbol", symbol, "order_id", orderID, "error", err)
	}
}
