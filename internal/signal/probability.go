package signal

import (
	"math"

	"scalper/pkg/types"
)

// normalCDF is the standard normal cumulative distribution function,
// computed via the error function identity Φ(x) = (1 + erf(x/√2)) / 2.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// priceDeltaStats returns the mean and standard deviation of successive
// price-to-price deltas in a trade sequence.
func priceDeltaStats(trades []types.AggTrade) (mean, stddev float64) {
	if len(trades) < 2 {
		return 0, 0
	}
	deltas := make([]float64, 0, len(trades)-1)
	for i := 1; i < len(trades); i++ {
		deltas = append(deltas, trades[i].Price-trades[i-1].Price)
	}
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	mean = sum / float64(len(deltas))

	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(deltas))
	return mean, math.Sqrt(variance)
}

// resistanceSupport picks the nearest Fibonacci-weighted volume cluster
// above and below mid as the resistance/support anchors.
func resistanceSupport(book types.Top20, mid float64) (resistance, support float64) {
	resistance = mid
	if len(book.Asks) > 0 {
		resistance = weightedAnchor(book.Asks, mid, true)
	}
	support = mid
	if len(book.Bids) > 0 {
		support = weightedAnchor(book.Bids, mid, false)
	}
	return resistance, support
}

func weightedAnchor(levels []types.PriceLevel, mid float64, above bool) float64 {
	bestPrice := mid
	bestQty := 0.0
	for _, lvl := range levels {
		if above && lvl.Price <= mid {
			continue
		}
		if !above && lvl.Price >= mid {
			continue
		}
		if lvl.Qty > bestQty {
			bestQty = lvl.Qty
			bestPrice = lvl.Price
		}
	}
	if bestQty == 0 && len(levels) > 0 {
		return levels[0].Price
	}
	return bestPrice
}

// probabilityUp estimates the probability of price reaching resistance (pUp)
// and support (pDown) within a horizon inferred from the trade tape's time
// span, each as the normal CDF of that level's distance from mid divided by
// sigma * sqrt(T). The two values are computed independently and need not
// sum to 1.
func probabilityUp(book types.Top20, trades []types.AggTrade, mid float64) (pUp, pDown float64) {
	resistance, support := resistanceSupport(book, mid)
	_, sigma := priceDeltaStats(trades)

	horizon := tradeTapeHorizon(trades)
	if sigma <= 0 || horizon <= 0 {
		return 0.5, 0.5
	}

	denom := sigma * math.Sqrt(horizon)
	if denom <= 0 {
		return 0.5, 0.5
	}

	upDelta := resistance - mid
	downDelta := mid - support

	pUp = normalCDF(upDelta / denom)
	pDown = normalCDF(downDelta / denom)
	return clampProb(pUp), clampProb(pDown)
}

func clampProb(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// tradeTapeHorizon returns the time span (in seconds, as a unitless count
// for the sqrt(T) scaling) covered by the trade tape.
func tradeTapeHorizon(trades []types.AggTrade) float64 {
	if len(trades) < 2 {
		return 0
	}
	spanMs := trades[len(trades)-1].TimestampMs - trades[0].TimestampMs
	if spanMs <= 0 {
		return 0
	}
	return float64(spanMs) / 1000
}
