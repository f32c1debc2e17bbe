package position

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scalper/internal/config"
	"scalper/internal/risk"
	"scalper/pkg/types"
)

// ExecutorExchange extends Exchange with the account/margin operations
// OpenPosition needs that the regime machinery in controller.go does not.
type ExecutorExchange interface {
	Exchange
	SetMarginType(ctx context.Context, symbol string) (types.Ack, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (types.Ack, error)
}

// TradingExecutor is the capability set the Trading Supervisor is
// polymorphic over (§9): the source's dynamic dispatch across "PaperTrader"
// and "LiveTrader" implementations, expressed as a Go interface.
type TradingExecutor interface {
	OpenPosition(ctx context.Context, sig types.Signal, leverage int) (types.Position, error)
	UpdatePositions(ctx context.Context, prices map[string]float64)
	ClosePositionManually(ctx context.Context, symbol string) error
	RefreshAllPositions(ctx context.Context, symbols []string) ([]types.ClosedTrade, error)
	GetAvailableBalance(ctx context.Context) (float64, error)
	ReducePositionToInitialSize(ctx context.Context, symbol string) error
	GetStatistics() Statistics
}

// LiveExecutor is the only TradingExecutor this bot builds: paper trading
// is an explicit Non-goal, but the interface leaves room for a simulator to
// be added later without the Supervisor knowing the difference.
type LiveExecutor struct {
	gw         ExecutorExchange
	controller *Controller
	cfg        *config.Config
}

// NewLiveExecutor wires the exchange gateway and position controller into
// the Supervisor-facing capability set.
func NewLiveExecutor(gw ExecutorExchange, controller *Controller, cfg *config.Config) *LiveExecutor {
	return &LiveExecutor{gw: gw, controller: controller, cfg: cfg}
}

// OpenPosition implements §4.6 step 6: set isolated margin, set leverage,
// size the order off available balance, submit a market order, and record
// the resulting Position from its average fill price.
func (e *LiveExecutor) OpenPosition(ctx context.Context, sig types.Signal, leverage int) (types.Position, error) {
	rules, ok := e.controller.Rules(sig.Symbol)
	if !ok {
		return types.Position{}, fmt.Errorf("position: no symbol rules cached for %s", sig.Symbol)
	}
	if leverage < e.cfg.Account.LeverageMin {
		leverage = e.cfg.Account.LeverageMin
	}
	if leverage > e.cfg.Account.LeverageMax {
		leverage = e.cfg.Account.LeverageMax
	}

	if _, err := e.gw.SetMarginType(ctx, sig.Symbol); err != nil {
		return types.Position{}, fmt.Errorf("set margin type: %w", err)
	}
	if _, err := e.gw.SetLeverage(ctx, sig.Symbol, leverage); err != nil {
		return types.Position{}, fmt.Errorf("set leverage: %w", err)
	}

	balance, err := e.gw.FetchAccountBalances(ctx)
	if err != nil {
		return types.Position{}, fmt.Errorf("fetch balance: %w", err)
	}

	qty := balance.Available * float64(leverage) * e.cfg.Account.PositionSizePercent / 100 / sig.EntryPrice
	qty = risk.EnforceNotional(sig.EntryPrice, qty, rules)
	if qty <= 0 {
		return types.Position{}, fmt.Errorf("position: computed zero quantity for %s", sig.Symbol)
	}

	orderSide := types.Buy
	posSide := types.Long
	if sig.Direction == types.DirShort {
		orderSide = types.Sell
		posSide = types.Short
	}

	ack, err := e.gw.SubmitMarketOrder(ctx, sig.Symbol, orderSide, qty, false)
	if err != nil {
		return types.Position{}, fmt.Errorf("submit opening order: %w", err)
	}

	avgPrice := ack.AvgFillPrice
	if avgPrice <= 0 {
		avgPrice = sig.EntryPrice
	}

	liq := risk.LiquidationPrice(posSide, avgPrice, leverage, e.cfg.Risk.MaintenanceMarginRate)
	margin := avgPrice * qty / float64(leverage)

	pos := types.Position{
		ID:                uuid.NewString(),
		Symbol:            sig.Symbol,
		Side:              posSide,
		EntryPrice:        avgPrice,
		Size:              qty,
		Leverage:          leverage,
		InitialEntryPrice: avgPrice,
		InitialSize:       qty,
		InitialMargin:     margin,
		Margin:            margin,
		PositionValue:     avgPrice * qty,
		LiquidationPrice:  liq,
		CurrentPrice:      avgPrice,
		OpenedAt:          time.Now(),
	}

	e.controller.AdoptPosition(pos)
	return pos, nil
}

func (e *LiveExecutor) UpdatePositions(ctx context.Context, prices map[string]float64) {
	e.controller.UpdatePositions(ctx, prices)
}

// ClosePositionManually submits a reduce-only market order for the full
// tracked size. The resulting flat position is recognised and turned into
// a ClosedTrade by the next reconciliation tick, same as any other exit.
func (e *LiveExecutor) ClosePositionManually(ctx context.Context, symbol string) error {
	pos, ok := e.controller.Position(symbol)
	if !ok {
		return fmt.Errorf("position: no tracked position for %s", symbol)
	}
	orderSide := types.Sell
	if pos.Side == types.Short {
		orderSide = types.Buy
	}
	_, err := e.gw.SubmitMarketOrder(ctx, symbol, orderSide, pos.Size, true)
	return err
}

func (e *LiveExecutor) RefreshAllPositions(ctx context.Context, symbols []string) ([]types.ClosedTrade, error) {
	return e.controller.ReconciliationTick(ctx, symbols)
}

func (e *LiveExecutor) GetAvailableBalance(ctx context.Context) (float64, error) {
	balance, err := e.gw.FetchAccountBalances(ctx)
	if err != nil {
		return 0, err
	}
	return balance.Available, nil
}

func (e *LiveExecutor) ReducePositionToInitialSize(ctx context.Context, symbol string) error {
	return e.controller.ReduceToInitialSize(ctx, symbol)
}

func (e *LiveExecutor) GetStatistics() Statistics {
	return e.controller.Statistics()
}
