package risk

import (
	"math"

	"scalper/pkg/types"
)

// SteppedStopLevel implements the stepped trailing-stop function of
// current pnl_percent (§4.4):
//
//	pnl < activationPnL (default 20): no stop.
//	otherwise: trigger = floor(pnl/10)*10; level = trigger - 10, floored at 10.
//
// Returns (level, active).
func SteppedStopLevel(pnlPercent, activationPnL float64) (level float64, active bool) {
	if activationPnL <= 0 {
		activationPnL = 20
	}
	if pnlPercent < activationPnL {
		return 0, false
	}
	trigger := math.Floor(pnlPercent/10) * 10
	level = trigger - 10
	if level < 10 {
		level = 10
	}
	return level, true
}

// StopPriceFromPnL computes the stop-trigger price and worsened limit price
// for a given stop pnl_percent at leverage L (§4.4):
//
//	price_change% = stop_pnl% / L
//	LONG:  stop = entry * (1 + price_change%/100)
//	SHORT: stop = entry * (1 - price_change%/100)
//
// The limit price is worsened by 0.2% slippage to improve fill likelihood.
func StopPriceFromPnL(side types.PositionSide, entry, stopPnLPercent float64, leverage int) (stopPrice, limitPrice float64) {
	if leverage <= 0 {
		leverage = 1
	}
	priceChangePct := stopPnLPercent / float64(leverage)

	if side == types.Long {
		stopPrice = entry * (1 + priceChangePct/100)
		limitPrice = stopPrice * (1 - 0.002)
		return
	}
	stopPrice = entry * (1 - priceChangePct/100)
	limitPrice = stopPrice * (1 + 0.002)
	return
}
