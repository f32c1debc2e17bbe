package position

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scalper/internal/config"
	"scalper/pkg/types"
)

// fakeExchange is a minimal, fully in-memory double for ExecutorExchange.
// It records every call so tests can assert on submit/cancel ordering.
type fakeExchange struct {
	mu sync.Mutex

	nextOrderID int64

	positions  map[string][]types.PositionInfo
	openOrders map[string][]types.OrderInfo
	fills      map[string][]types.Fill
	balance    types.Balance

	submittedLimits    []types.OrderInfo
	submittedStops     []types.OrderInfo
	submittedMarkets   []types.OrderInfo
	cancelledOrderIDs  []int64
	marketOrderErr     error
	limitOrderErr      error
	stopOrderErr       error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		positions:  make(map[string][]types.PositionInfo),
		openOrders: make(map[string][]types.OrderInfo),
		fills:      make(map[string][]types.Fill),
		balance:    types.Balance{Wallet: 1000, Available: 1000},
	}
}

func (f *fakeExchange) FetchPositionInformation(ctx context.Context, symbol string) ([]types.PositionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PositionInfo(nil), f.positions[symbol]...), nil
}

func (f *fakeExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]types.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if symbol == "" {
		var all []types.OrderInfo
		for _, os := range f.openOrders {
			all = append(all, os...)
		}
		return all, nil
	}
	return append([]types.OrderInfo(nil), f.openOrders[symbol]...), nil
}

func (f *fakeExchange) FetchRecentTradesForSymbolAfter(ctx context.Context, symbol string, after time.Time) ([]types.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Fill(nil), f.fills[symbol]...), nil
}

func (f *fakeExchange) SubmitMarketOrder(ctx context.Context, symbol string, side types.OrderSide, qty float64, reduceOnly bool) (types.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketOrderErr != nil {
		return types.OrderAck{}, f.marketOrderErr
	}
	f.nextOrderID++
	id := f.nextOrderID
	f.submittedMarkets = append(f.submittedMarkets, types.OrderInfo{OrderID: id, Symbol: symbol, Side: side, Qty: qty, ReduceOnly: reduceOnly})
	return types.OrderAck{OrderID: id, AvgFillPrice: 100, Status: "FILLED"}, nil
}

func (f *fakeExchange) SubmitLimitOrder(ctx context.Context, symbol string, side types.OrderSide, price, qty float64, reduceOnly bool) (types.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limitOrderErr != nil {
		return types.OrderAck{}, f.limitOrderErr
	}
	f.nextOrderID++
	id := f.nextOrderID
	info := types.OrderInfo{OrderID: id, Symbol: symbol, Side: side, Type: types.OrderTypeLimit, Price: price, Qty: qty, ReduceOnly: reduceOnly}
	f.submittedLimits = append(f.submittedLimits, info)
	f.openOrders[symbol] = append(f.openOrders[symbol], info)
	return types.OrderAck{OrderID: id, Status: "NEW"}, nil
}

func (f *fakeExchange) SubmitStopLimitOrder(ctx context.Context, symbol string, side types.OrderSide, stopPrice, limitPrice, qty float64, reduceOnly bool) (types.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopOrderErr != nil {
		return types.OrderAck{}, f.stopOrderErr
	}
	f.nextOrderID++
	id := f.nextOrderID
	info := types.OrderInfo{OrderID: id, Symbol: symbol, Side: side, Type: types.OrderTypeStopLimit, StopPrice: stopPrice, Price: limitPrice, Qty: qty, ReduceOnly: reduceOnly}
	f.submittedStops = append(f.submittedStops, info)
	f.openOrders[symbol] = append(f.openOrders[symbol], info)
	return types.OrderAck{OrderID: id, Status: "NEW"}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (types.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledOrderIDs = append(f.cancelledOrderIDs, orderID)
	remaining := f.openOrders[symbol][:0]
	for _, o := range f.openOrders[symbol] {
		if o.OrderID != orderID {
			remaining = append(remaining, o)
		}
	}
	f.openOrders[symbol] = remaining
	return types.Ack{Success: true}, nil
}

func (f *fakeExchange) FetchAccountBalances(ctx context.Context) (types.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) SetMarginType(ctx context.Context, symbol string) (types.Ack, error) {
	return types.Ack{Success: true}, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) (types.Ack, error) {
	return types.Ack{Success: true}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		Mode: "live_trading",
		Account: config.AccountConfig{
			LeverageMin:         5,
			LeverageMax:         50,
			MaxPositions:        3,
			PositionSizePercent: 10,
			EcoMode:             true,
		},
		Risk: config.RiskConfig{
			StopLossPercent:             0.01,
			TakeProfitMultiplier:        2,
			AveragingDownEnabled:        true,
			AveragingDistanceFromLiqPct: 0.5,
			AveragingMaxCount:           3,
			AveragingMartingaleEnabled:  false,
			SteppedStopEnabled:          true,
			SteppedStopActivationPnL:    20,
			MaintenanceMarginRate:       0.004,
			ResetMarginAfterAveraging: config.ResetMarginConfig{
				Enabled:       true,
				TriggerROIPct: 1.5,
			},
		},
	}
}

func testRules(symbol string) map[string]types.SymbolRules {
	return map[string]types.SymbolRules{
		symbol: {Symbol: symbol, TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 5},
	}
}

func TestRegimeLossPlacesAveragingOrder(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: 100, Size: 1, Leverage: 50,
		InitialEntryPrice: 100, InitialSize: 1, InitialMargin: 2,
		LiquidationPrice: 98.4,
	})

	ctrl.UpdatePositions(context.Background(), map[string]float64{"BTCUSDT": 95})

	if len(fx.submittedLimits) != 1 {
		t.Fatalf("expected one averaging limit order placed, got %d", len(fx.submittedLimits))
	}
	pos, _ := ctrl.Position("BTCUSDT")
	if pos.AveragingOrderID == "" {
		t.Fatal("expected AveragingOrderID to be recorded")
	}
}

func TestRegimeLossSkipsAveragingWhenBalanceInsufficient(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	fx.balance = types.Balance{Wallet: 0.01, Available: 0.01}
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: 100, Size: 1, Leverage: 50,
		InitialEntryPrice: 100, InitialSize: 1, InitialMargin: 2,
		LiquidationPrice: 98.4,
	})

	ctrl.UpdatePositions(context.Background(), map[string]float64{"BTCUSDT": 95})

	if len(fx.submittedLimits) != 0 {
		t.Fatalf("expected no averaging order placed when available balance can't cover the required margin, got %d", len(fx.submittedLimits))
	}
	pos, _ := ctrl.Position("BTCUSDT")
	if pos.AveragingOrderID != "" {
		t.Fatal("AveragingOrderID should remain empty when the order was never placed")
	}
}

func TestRegimeLossRespectsMaxAveragingCount(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	cfg.Risk.AveragingMaxCount = 1
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: 100, Size: 1, Leverage: 50,
		InitialEntryPrice: 100, InitialSize: 1,
		LiquidationPrice: 98.4, AveragingCount: 1,
	})

	ctrl.UpdatePositions(context.Background(), map[string]float64{"BTCUSDT": 95})

	if len(fx.submittedLimits) != 0 {
		t.Fatalf("expected no averaging order once max count reached, got %d", len(fx.submittedLimits))
	}
}

func TestRegimeTrailingStopNeverDemotes(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: 100, Size: 1, Leverage: 10,
		InitialEntryPrice: 100, InitialSize: 1,
		LiquidationPrice: 90,
	})

	// pnl trajectory 45% -> stop at level 30, then 30% -> must NOT demote to 20.
	ctrl.UpdatePositions(context.Background(), map[string]float64{"BTCUSDT": 104.5})
	pos, _ := ctrl.Position("BTCUSDT")
	if pos.SteppedStopLevelPnL != 30 {
		t.Fatalf("level after 45%% pnl = %v, want 30", pos.SteppedStopLevelPnL)
	}
	firstStopOrders := len(fx.submittedStops)

	ctrl.UpdatePositions(context.Background(), map[string]float64{"BTCUSDT": 103})
	pos, _ = ctrl.Position("BTCUSDT")
	if pos.SteppedStopLevelPnL != 30 {
		t.Fatalf("level must not demote: got %v, want still 30", pos.SteppedStopLevelPnL)
	}
	if len(fx.submittedStops) != firstStopOrders {
		t.Fatal("no new stop order should be placed when pnl dips but level would demote")
	}
}

func TestRegimeTrailingPlacesNewStopBeforeCancellingOld(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: 100, Size: 1, Leverage: 10,
		InitialEntryPrice: 100, InitialSize: 1,
		LiquidationPrice: 90,
	})

	ctrl.UpdatePositions(context.Background(), map[string]float64{"BTCUSDT": 103}) // 30% pnl -> level 20
	if len(fx.submittedStops) != 1 {
		t.Fatalf("expected 1 stop order after first activation, got %d", len(fx.submittedStops))
	}
	firstStopID := fx.submittedStops[0].OrderID

	ctrl.UpdatePositions(context.Background(), map[string]float64{"BTCUSDT": 104.5}) // 45% pnl -> level 30
	if len(fx.submittedStops) != 2 {
		t.Fatalf("expected a replacement stop order, got %d total", len(fx.submittedStops))
	}
	if len(fx.cancelledOrderIDs) != 1 || fx.cancelledOrderIDs[0] != firstStopID {
		t.Fatalf("expected exactly the first stop to be cancelled after replacement, got %v", fx.cancelledOrderIDs)
	}

	pos, _ := ctrl.Position("BTCUSDT")
	if pos.SteppedStopLevelPnL != 30 {
		t.Fatalf("level = %v, want 30", pos.SteppedStopLevelPnL)
	}
}

func TestReconciliationDetectsAveragingFill(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{
		Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: 100, Size: 1, Leverage: 10,
		InitialEntryPrice: 100, InitialSize: 1, AveragingCount: 0,
	})

	fx.positions["BTCUSDT"] = []types.PositionInfo{{
		Symbol: "BTCUSDT", Side: types.Long, EntryPrice: 99, Size: 2, Leverage: 10,
	}}

	if _, err := ctrl.ReconciliationTick(context.Background(), []string{"BTCUSDT"}); err != nil {
		t.Fatalf("reconciliation tick: %v", err)
	}

	pos, _ := ctrl.Position("BTCUSDT")
	if pos.AveragingCount != 1 {
		t.Fatalf("AveragingCount = %d, want 1", pos.AveragingCount)
	}
	if pos.EntryPrice != 99 || pos.Size != 2 {
		t.Fatalf("entry/size = %v/%v, want 99/2", pos.EntryPrice, pos.Size)
	}
}

func TestReconciliationClosesFlatPosition(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{
		ID: "pos-1", Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: 100, Size: 1, Leverage: 10,
		InitialEntryPrice: 100, InitialSize: 1, CurrentPrice: 105,
		OpenedAt: time.Now().Add(-time.Hour),
	})
	fx.fills["BTCUSDT"] = []types.Fill{{Symbol: "BTCUSDT", Price: 106, Qty: 1, Commission: 0.01}}

	closed, err := ctrl.ReconciliationTick(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("reconciliation tick: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	if closed[0].ExitPrice != 106 {
		t.Fatalf("exit price = %v, want 106 (fill-weighted)", closed[0].ExitPrice)
	}
	if _, ok := ctrl.Position("BTCUSDT"); ok {
		t.Fatal("position should no longer be tracked after close")
	}
}

func TestOrderHygieneCancelsOrphanOrders(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	fx.openOrders["BTCUSDT"] = []types.OrderInfo{
		{OrderID: 501, Symbol: "BTCUSDT", Type: types.OrderTypeLimit, ReduceOnly: true},
	}

	ctrl.OrderHygieneTick(context.Background())

	if len(fx.cancelledOrderIDs) != 1 || fx.cancelledOrderIDs[0] != 501 {
		t.Fatalf("expected orphan order 501 cancelled, got %v", fx.cancelledOrderIDs)
	}
}

func TestOrderHygieneCancelsLegacyTakeProfitOrder(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())

	ctrl.AdoptPosition(types.Position{Symbol: "BTCUSDT", Side: types.Long, Size: 1, InitialSize: 1})
	fx.openOrders["BTCUSDT"] = []types.OrderInfo{
		{OrderID: 10, Symbol: "BTCUSDT", Type: types.OrderTypeLimit, ReduceOnly: true},
	}

	ctrl.OrderHygieneTick(context.Background())

	if len(fx.cancelledOrderIDs) != 1 || fx.cancelledOrderIDs[0] != 10 {
		t.Fatalf("expected legacy take-profit order 10 cancelled, got %v", fx.cancelledOrderIDs)
	}
}
