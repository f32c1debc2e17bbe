package position

import (
	"context"
	"testing"

	"scalper/pkg/types"
)

func TestOpenPositionRecordsLiquidationAndInitialFields(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())
	exec := NewLiveExecutor(fx, ctrl, cfg)

	sig := types.Signal{Symbol: "BTCUSDT", Direction: types.DirLong, EntryPrice: 100, Confidence: 80}

	pos, err := exec.OpenPosition(context.Background(), sig, 20)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if pos.Side != types.Long {
		t.Fatalf("side = %v, want LONG", pos.Side)
	}
	if pos.InitialEntryPrice != pos.EntryPrice {
		t.Fatal("InitialEntryPrice must equal EntryPrice at first open")
	}
	if pos.LiquidationPrice >= pos.EntryPrice {
		t.Fatalf("LONG liquidation price %v should be below entry %v", pos.LiquidationPrice, pos.EntryPrice)
	}
	if len(fx.submittedMarkets) != 1 {
		t.Fatalf("expected one market order submitted, got %d", len(fx.submittedMarkets))
	}

	tracked, ok := ctrl.Position("BTCUSDT")
	if !ok || tracked.ID != pos.ID {
		t.Fatal("expected the opened position to be tracked by the controller")
	}
}

func TestOpenPositionClampsLeverageToConfiguredRange(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())
	exec := NewLiveExecutor(fx, ctrl, cfg)

	sig := types.Signal{Symbol: "BTCUSDT", Direction: types.DirShort, EntryPrice: 100, Confidence: 95}
	pos, err := exec.OpenPosition(context.Background(), sig, 9999)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if pos.Leverage != cfg.Account.LeverageMax {
		t.Fatalf("leverage = %d, want clamped to %d", pos.Leverage, cfg.Account.LeverageMax)
	}
}

func TestClosePositionManuallySubmitsReduceOnlyOrder(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())
	exec := NewLiveExecutor(fx, ctrl, cfg)

	ctrl.AdoptPosition(types.Position{Symbol: "BTCUSDT", Side: types.Long, Size: 2, InitialSize: 2})

	if err := exec.ClosePositionManually(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ClosePositionManually: %v", err)
	}
	if len(fx.submittedMarkets) != 1 {
		t.Fatalf("expected one closing order, got %d", len(fx.submittedMarkets))
	}
	order := fx.submittedMarkets[0]
	if order.Side != types.Sell || !order.ReduceOnly || order.Qty != 2 {
		t.Fatalf("close order = %+v, want SELL reduce-only qty 2", order)
	}
}

func TestClosePositionManuallyRejectsUnknownSymbol(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())
	exec := NewLiveExecutor(fx, ctrl, cfg)

	if err := exec.ClosePositionManually(context.Background(), "ETHUSDT"); err == nil {
		t.Fatal("expected an error closing a symbol with no tracked position")
	}
}

func TestGetStatisticsAggregatesRealizedPnL(t *testing.T) {
	t.Parallel()
	fx := newFakeExchange()
	cfg := testConfig()
	ctrl := NewController(fx, testRules("BTCUSDT"), cfg, testLogger())
	exec := NewLiveExecutor(fx, ctrl, cfg)

	ctrl.AdoptPosition(types.Position{ID: "p1", Symbol: "BTCUSDT", Side: types.Long, Size: 1, InitialEntryPrice: 100, InitialSize: 1, CurrentPrice: 100})
	fx.fills["BTCUSDT"] = []types.Fill{{Symbol: "BTCUSDT", Price: 110, Qty: 1}}

	if _, err := exec.RefreshAllPositions(context.Background(), []string{"BTCUSDT"}); err != nil {
		t.Fatalf("RefreshAllPositions: %v", err)
	}

	stats := exec.GetStatistics()
	if stats.OpenPositions != 0 {
		t.Fatalf("expected 0 open positions after flattening, got %d", stats.OpenPositions)
	}
	if len(stats.ClosedTrades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(stats.ClosedTrades))
	}
	if stats.RealizedPnL != 10 {
		t.Fatalf("realized pnl = %v, want 10", stats.RealizedPnL)
	}
}
