package risk

import "scalper/pkg/types"

// DefaultMaintenanceMarginRate is mmr used when config leaves it unset.
const DefaultMaintenanceMarginRate = 0.004

// LiquidationPrice computes the isolated-margin liquidation price (§4.4):
//
//	LONG:  entry * (1 - 1/leverage + mmr)
//	SHORT: entry * (1 + 1/leverage - mmr)
func LiquidationPrice(side types.PositionSide, entry float64, leverage int, mmr float64) float64 {
	if leverage <= 0 {
		return 0
	}
	if mmr <= 0 {
		mmr = DefaultMaintenanceMarginRate
	}
	invLev := 1 / float64(leverage)
	if side == types.Long {
		return entry * (1 - invLev + mmr)
	}
	return entry * (1 + invLev - mmr)
}

// UnrealizedPnLPercent is the leverage-scaled definition fixed by Open
// Question 1 (§9): price_change_pct * leverage, computed off the initial
// entry price captured once at first open. This is the definition the
// trailing-stop thresholds and regime transitions read consistently.
func UnrealizedPnLPercent(side types.PositionSide, initialEntryPrice, currentPrice float64, leverage int) float64 {
	if initialEntryPrice <= 0 {
		return 0
	}
	changePct := (currentPrice - initialEntryPrice) / initialEntryPrice * 100
	if side == types.Short {
		changePct = -changePct
	}
	return changePct * float64(leverage)
}

// RealizedPnLPercent is reported separately for bookkeeping per Open
// Question 1: pnl / initial_margin * 100. It is never used for regime or
// trailing-stop decisions.
func RealizedPnLPercent(pnl, initialMargin float64) float64 {
	if initialMargin <= 0 {
		return 0
	}
	return pnl / initialMargin * 100
}
