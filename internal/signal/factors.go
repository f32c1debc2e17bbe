// Package signal implements the Signal Analyser (C3): a pure function of
// (order book top-N, recent trades, config) with no I/O. It computes six
// normalised [0,100] factor scores, a directional probability estimate, and
// the resulting trade decision and entry/exit levels.
package signal

import (
	"math"

	"scalper/internal/config"
	"scalper/pkg/types"
)

var fibLevels = [5]float64{0.236, 0.382, 0.5, 0.618, 0.786}

// clamp100 clamps a raw score into [0, 100].
func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// imbalanceScore compares aggregate bid volume vs ask volume across the top
// 10 levels and across the wider window of every level the Top20 snapshot
// holds (at most 20 per side). A strong deviation (>=70% or <=30%, mirrored)
// increases the directional score; depth confirmation across the wider
// window adds a bonus.
func imbalanceScore(book types.Top20) (score float64, bidShare float64) {
	bidVol10, askVol10 := sumQty(book.Bids, 10), sumQty(book.Asks, 10)
	total10 := bidVol10 + askVol10
	if total10 <= 0 {
		return 50, 0.5
	}
	bidShare = bidVol10 / total10

	base := 50 + (bidShare-0.5)*100 // 0.5 share -> 50, 1.0 share -> 100, 0 share -> 0
	base = clamp100(base)

	bidVol21, askVol21 := sumQty(book.Bids, 20), sumQty(book.Asks, 20)
	total21 := bidVol21 + askVol21
	if total21 > 0 {
		wideShare := bidVol21 / total21
		if (bidShare >= 0.70 && wideShare >= 0.60) || (bidShare <= 0.30 && wideShare <= 0.40) {
			base = clamp100(base + 10)
		}
	}
	return base, bidShare
}

func sumQty(levels []types.PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += levels[i].Qty
	}
	return sum
}

// wallScore detects orders whose quantity exceeds 3x the mean visible order
// size or a configured notional threshold. Large bids raise the long score,
// large asks lower it; asymmetry of wall count adds +-20.
func wallScore(book types.Top20, cfg config.SignalsConfig) float64 {
	bidWalls := countWalls(book.Bids, cfg.LargeOrderThreshold)
	askWalls := countWalls(book.Asks, cfg.LargeOrderThreshold)

	score := 50.0
	if bidWalls > 0 {
		score += 20
	}
	if askWalls > 0 {
		score -= 20
	}
	if bidWalls > askWalls {
		score += 20
	} else if askWalls > bidWalls {
		score -= 20
	}
	return clamp100(score)
}

func countWalls(levels []types.PriceLevel, notionalThreshold float64) int {
	if len(levels) == 0 {
		return 0
	}
	var sum float64
	for _, lvl := range levels {
		sum += lvl.Qty
	}
	mean := sum / float64(len(levels))

	count := 0
	for _, lvl := range levels {
		isVolumeWall := mean > 0 && lvl.Qty >= 3*mean
		isNotionalWall := notionalThreshold > 0 && lvl.Price*lvl.Qty >= notionalThreshold
		if isVolumeWall || isNotionalWall {
			count++
		}
	}
	return count
}

// aggressionScore is the ratio of buyer-initiated to seller-initiated
// aggregate volume in the recent trade window, normalised to [0,100].
func aggressionScore(trades []types.AggTrade) float64 {
	var buyVol, sellVol float64
	for _, t := range trades {
		if t.BuyerIsMaker {
			sellVol += t.Qty // seller-initiated: the aggressor sold into a resting bid
		} else {
			buyVol += t.Qty
		}
	}
	total := buyVol + sellVol
	if total <= 0 {
		return 50
	}
	return clamp100(buyVol / total * 100)
}

// fibScore checks whether book volumes or price distances align with the
// Fibonacci ratios relative to the largest-order anchor.
func fibScore(book types.Top20) float64 {
	anchor, anchorPrice := largestOrder(book)
	if anchor <= 0 {
		return 50
	}

	hits := 0
	checks := 0
	for _, levels := range [][]types.PriceLevel{book.Bids, book.Asks} {
		for _, lvl := range levels {
			if lvl.Qty <= 0 || anchorPrice <= 0 {
				continue
			}
			dist := math.Abs(lvl.Price-anchorPrice) / anchorPrice
			ratio := lvl.Qty / anchor
			checks++
			if closeToAny(ratio, fibLevels[:]) || closeToAny(dist, fibLevels[:]) {
				hits++
			}
		}
	}
	if checks == 0 {
		return 50
	}
	return clamp100(50 + float64(hits)/float64(checks)*100)
}

func closeToAny(v float64, targets []float64) bool {
	const tolerance = 0.03
	for _, t := range targets {
		if math.Abs(v-t) <= tolerance {
			return true
		}
	}
	return false
}

func largestOrder(book types.Top20) (qty, price float64) {
	for _, lvl := range book.Bids {
		if lvl.Qty > qty {
			qty, price = lvl.Qty, lvl.Price
		}
	}
	for _, lvl := range book.Asks {
		if lvl.Qty > qty {
			qty, price = lvl.Qty, lvl.Price
		}
	}
	return qty, price
}

// spreadScore rewards a relative spread <= 0.02% of mid price. Callers must
// separately reject (WAIT) any symbol whose spread exceeds 0.1%.
func spreadScore(bid, ask float64) (score float64, relSpread float64) {
	mid := (bid + ask) / 2
	if mid <= 0 {
		return 0, math.MaxFloat64
	}
	relSpread = (ask - bid) / mid

	if relSpread <= 0.0002 {
		return 100, relSpread
	}
	// Linear falloff from 100 at 0.02% to 0 at 0.1%.
	score = 100 * (1 - (relSpread-0.0002)/(0.001-0.0002))
	return clamp100(score), relSpread
}

// momentumScore is a Fibonacci-weighted buy/sell pressure measure over the
// most recent 21 trades, with recent trades weighted more heavily.
func momentumScore(trades []types.AggTrade) float64 {
	n := len(trades)
	if n > 21 {
		trades = trades[n-21:]
		n = 21
	}
	if n == 0 {
		return 50
	}

	var weighted, totalWeight float64
	for i, t := range trades {
		// Most recent trade gets the largest weight.
		weight := fibonacciWeight(n - 1 - i)
		totalWeight += weight
		if t.BuyerIsMaker {
			weighted -= weight * t.Qty
		} else {
			weighted += weight * t.Qty
		}
	}
	if totalWeight <= 0 {
		return 50
	}
	normalized := weighted / totalWeight
	return clamp100(50 + normalized*50)
}

// fibonacciWeight returns a weight that decays toward older trades: the
// reverse index (0 = most recent) selects a Fibonacci number whose
// reciprocal is the weight, so older trades count for exponentially less.
func fibonacciWeight(reverseIdx int) float64 {
	a, b := 1.0, 1.0
	for i := 0; i < reverseIdx; i++ {
		a, b = b, a+b
	}
	return 1.0 / a
}
