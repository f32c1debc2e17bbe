package signal

import (
	"math"
	"time"

	"scalper/internal/config"
	"scalper/pkg/types"
)

// keyConditionCount tallies how many "key conditions" hold, per §4.3:
// (wall>=65 and spread>=60), imbalance>=60, aggression>=60, momentum>=60.
func keyConditionCount(f types.FactorScores) int {
	count := 0
	if f.Wall >= 65 && f.Spread >= 60 {
		count++
	}
	if f.Imbalance >= 60 {
		count++
	}
	if f.Aggression >= 60 {
		count++
	}
	if f.Momentum >= 60 {
		count++
	}
	return count
}

// strengthTally accumulates bullish/bearish strength from the six factor
// scores using mirrored thresholds.
func strengthTally(f types.FactorScores, bidShare float64) (bullish, bearish int) {
	if bidShare >= 0.70 {
		bullish += 3
	}
	if bidShare <= 0.30 {
		bearish += 3
	}
	if f.Wall >= 65 {
		bullish++
	}
	if f.Wall <= 35 {
		bearish++
	}
	if f.Aggression >= 60 {
		bullish++
	}
	if f.Aggression <= 40 {
		bearish++
	}
	if f.Momentum >= 60 {
		bullish++
	}
	if f.Momentum <= 40 {
		bearish++
	}
	if f.Fib >= 60 {
		bullish++
	}
	if f.Fib <= 40 {
		bearish++
	}
	return bullish, bearish
}

// thresholds computes theta_long/theta_short from the strictness parameter.
func thresholds(strictnessPercent float64) (thetaLong, thetaShort float64) {
	thetaLong = 0.48 + (strictnessPercent/100)*0.18
	if thetaLong < 0.50 {
		thetaLong = 0.50
	}
	if thetaLong > 0.70 {
		thetaLong = 0.70
	}
	thetaShort = thetaLong - 0.01
	return thetaLong, thetaShort
}

// strengthAdjustment scales base probabilities by 0.8 + 0.05*strength,
// capped at 1.2.
func strengthAdjustment(strength int) float64 {
	adj := 0.8 + 0.05*float64(strength)
	if adj > 1.2 {
		adj = 1.2
	}
	return adj
}

// Analyse is the pure decision function of C3: given the order book top-N,
// recent trade tape, and signal configuration, it returns the resulting
// Signal. No I/O is performed.
func Analyse(symbol string, book types.Top20, trades []types.AggTrade, cfg config.SignalsConfig, riskCfg config.RiskConfig, now int64) types.Signal {
	bid, ask, ok := bestBidAsk(book)
	if !ok {
		return wait(symbol, "empty order book")
	}
	mid := (bid + ask) / 2

	spread, relSpread := spreadScore(bid, ask)
	if relSpread > 0.001 {
		return wait(symbol, "wide spread")
	}

	imbalance, bidShare := imbalanceScore(book)
	wall := wallScore(book, cfg)
	aggression := aggressionScore(trades)
	fib := fibScore(book)
	momentum := momentumScore(trades)

	factors := types.FactorScores{
		Wall:       wall,
		Spread:     spread,
		Imbalance:  imbalance,
		Aggression: aggression,
		Momentum:   momentum,
		Fib:        fib,
	}

	if wall < 40 || spread < 40 {
		return waitWithFactors(symbol, "insufficient liquidity", factors)
	}

	keyConditions := keyConditionCount(factors)
	if keyConditions < 2 {
		return waitWithFactors(symbol, "insufficient key conditions", factors)
	}

	bullish, bearish := strengthTally(factors, bidShare)
	strength := bullish
	if bearish > bullish {
		strength = bearish
	}

	pUpBase, pDownBase := probabilityUp(book, trades, mid)
	adj := strengthAdjustment(strength)
	pUp := clampProb(pUpBase * adj)
	pDown := clampProb(pDownBase * adj)

	thetaLong, thetaShort := thresholds(cfg.StrictnessPercent)

	var direction types.Direction
	var prob float64
	switch {
	case pUp >= thetaLong && pUp > pDown && bullish > bearish:
		direction = types.DirLong
		prob = pUp
	case pDown >= thetaShort && pDown > pUp && bearish > bullish:
		direction = types.DirShort
		prob = pDown
	default:
		return waitWithFactors(symbol, "no directional edge", factors)
	}

	confidence := 100 * prob
	if strength >= 5 {
		confidence += 3
	}
	if keyConditions >= 3 {
		confidence += 2
	}
	if confidence > 99 {
		confidence = 99
	}

	minConf := cfg.MinConfidence
	if direction == types.DirShort {
		minConf = cfg.MinConfidenceShort
	}
	if confidence < minConf {
		return waitWithFactors(symbol, "below minimum confidence", factors)
	}

	entry, sl, tp1, tp2 := entryExitLevels(direction, bid, ask, riskCfg)
	rr := math.Abs(tp1-entry) / math.Max(math.Abs(entry-sl), 1e-9)

	return types.Signal{
		Symbol:       symbol,
		Direction:    direction,
		Confidence:   confidence,
		EntryPrice:   entry,
		StopLoss:     sl,
		TakeProfit1:  tp1,
		TakeProfit2:  tp2,
		RiskReward:   rr,
		Reasons:      reasonsFor(direction, factors, keyConditions),
		FactorScores: factors,
		Timestamp:    time.UnixMilli(now),
	}
}

// entryExitLevels computes entry/SL/TP per §4.3: LONG uses best_ask as
// entry, SHORT uses best_bid.
func entryExitLevels(dir types.Direction, bid, ask float64, cfg config.RiskConfig) (entry, sl, tp1, tp2 float64) {
	sl100 := cfg.StopLossPercent / 100
	mult := cfg.TakeProfitMultiplier

	if dir == types.DirLong {
		entry = ask
		sl = entry * (1 - sl100)
		tp1 = entry * (1 + sl100*mult)
		tp2 = entry * (1 + sl100*mult*math.Pi)
		return
	}

	entry = bid
	sl = entry * (1 + sl100)
	tp1 = entry * (1 - sl100*mult)
	tp2 = entry * (1 - sl100*mult*math.Pi)
	return
}

func reasonsFor(dir types.Direction, f types.FactorScores, keyConditions int) []string {
	reasons := []string{}
	if f.Imbalance >= 60 || f.Imbalance <= 40 {
		reasons = append(reasons, "order book imbalance")
	}
	if f.Wall >= 65 || f.Wall <= 35 {
		reasons = append(reasons, "large order wall")
	}
	if f.Aggression >= 60 || f.Aggression <= 40 {
		reasons = append(reasons, "aggressive trade flow")
	}
	if f.Momentum >= 60 || f.Momentum <= 40 {
		reasons = append(reasons, "momentum confirmation")
	}
	if keyConditions >= 3 {
		reasons = append(reasons, "multiple key conditions")
	}
	_ = dir
	return reasons
}

func bestBidAsk(book types.Top20) (bid, ask float64, ok bool) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return 0, 0, false
	}
	return book.Bids[0].Price, book.Asks[0].Price, true
}

func wait(symbol, reason string) types.Signal {
	return types.Signal{Symbol: symbol, Direction: types.DirWait, Reasons: []string{reason}}
}

func waitWithFactors(symbol, reason string, f types.FactorScores) types.Signal {
	return types.Signal{Symbol: symbol, Direction: types.DirWait, Reasons: []string{reason}, FactorScores: f}
}
