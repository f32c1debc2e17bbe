package risk

import "scalper/pkg/types"

// AveragingPrice computes the averaging-order limit price (§4.4): given the
// configured distance-from-liquidation percentage d, offset o = liq * d/100.
//
//	LONG:  price = liq + o, must satisfy price > liq
//	SHORT: price = liq - o, must satisfy price < liq
//
// If the offset would not clear liquidation (d too small relative to
// floating-point rounding), the price is forced to liq*(1 + d/100) (mirrored
// for SHORT) and emergencyAdjusted is reported true so the caller can log it.
func AveragingPrice(side types.PositionSide, liq, distancePct float64) (price float64, emergencyAdjusted bool) {
	offset := liq * distancePct / 100

	if side == types.Long {
		price = liq + offset
		if price <= liq {
			price = liq * (1 + distancePct/100)
			emergencyAdjusted = true
		}
		return price, emergencyAdjusted
	}

	price = liq - offset
	if price >= liq {
		price = liq * (1 - distancePct/100)
		emergencyAdjusted = true
	}
	return price, emergencyAdjusted
}

// AveragingQuantity implements Open Question 2 (§9): the two modes
// (current-size replication vs martingale doubling) are mutually exclusive,
// gated by a single flag. The result is clamped to symbol rules including
// the upward min-notional adjustment; callers must separately verify the
// implied margin against available balance before placing the order.
func AveragingQuantity(martingaleEnabled bool, currentSize, initialSize float64, averagingCount int, price float64, rules types.SymbolRules) float64 {
	var raw float64
	if martingaleEnabled {
		raw = initialSize * pow2(averagingCount)
	} else {
		raw = currentSize
	}
	return EnforceNotional(price, raw, rules)
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// AveragingMargin returns the margin an averaging order at price/qty with
// the position's leverage would require.
func AveragingMargin(price, qty float64, leverage int) float64 {
	if leverage <= 0 {
		return 0
	}
	return price * qty / float64(leverage)
}
