package signal

import (
	"testing"
	"time"

	"scalper/internal/config"
	"scalper/pkg/types"
)

func repeatLevels(base float64, step float64, descending bool, n int) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, n)
	for i := 0; i < n; i++ {
		price := base
		if descending {
			price -= float64(i) * step
		} else {
			price += float64(i) * step
		}
		qty := 5.0
		if i%2 == 1 {
			qty = 2.0
		}
		levels = append(levels, types.PriceLevel{Price: price, Qty: qty})
	}
	return levels
}

// s1Book builds §8 scenario S1's book: a bid side stacked with alternating
// 5/2 quantity down to 99.91, and a thin ask side (1 each) except for a
// slightly deeper resting order at 100.04 that anchors the resistance level
// further from mid than the best-bid anchor sits from mid on the support
// side, giving the book a clear directional lean without tripping the
// large-order wall gate on either side.
func s1Book() types.Top20 {
	asks := make([]types.PriceLevel, 0, 10)
	for i := 0; i < 10; i++ {
		qty := 1.0
		if i == 2 {
			qty = 2.0
		}
		asks = append(asks, types.PriceLevel{Price: 100.02 + float64(i)*0.01, Qty: qty})
	}
	return types.Top20{
		Bids: repeatLevels(100.00, 0.01, true, 10),
		Asks: asks,
	}
}

func s1Trades(buyerAggressiveCount int, total int) []types.AggTrade {
	trades := make([]types.AggTrade, 0, total)
	now := time.Now().UnixMilli()
	for i := 0; i < total; i++ {
		trades = append(trades, types.AggTrade{
			Price:        100.00 + float64(i%3)*0.0075,
			Qty:          1,
			TimestampMs:  now - int64((total-i)*200),
			BuyerIsMaker: i >= buyerAggressiveCount, // first N are buyer-aggressive (taker buy)
		})
	}
	return trades
}

func defaultSignalsConfig() config.SignalsConfig {
	return config.SignalsConfig{
		MinConfidence:       50,
		MinConfidenceShort:  50,
		LargeOrderThreshold: 0,
		StrictnessPercent:   50,
	}
}

func defaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{StopLossPercent: 1, TakeProfitMultiplier: 2}
}

// TestScenarioS1LongSignal reproduces §8 scenario S1 literally: a tight
// book heavily weighted to the bid side plus 20 recent trades, 16 of them
// buyer-aggressive, should emit a high-confidence LONG priced off the best
// ask.
func TestScenarioS1LongSignal(t *testing.T) {
	t.Parallel()
	book := s1Book()
	trades := s1Trades(16, 20)
	riskCfg := defaultRiskConfig()

	sig := Analyse("BTCUSDT", book, trades, defaultSignalsConfig(), riskCfg, time.Now().UnixMilli())

	if sig.Direction != types.DirLong {
		t.Fatalf("expected LONG, got %v (reasons: %v)", sig.Direction, sig.Reasons)
	}
	if sig.Confidence < 70 {
		t.Fatalf("confidence = %v, want >= 70", sig.Confidence)
	}
	if sig.EntryPrice != 100.02 {
		t.Fatalf("entry_price = %v, want 100.02 (best ask)", sig.EntryPrice)
	}

	wantSL := 100.02 * (1 - riskCfg.StopLossPercent/100)
	if absDiff(sig.StopLoss, wantSL) > 1e-9 {
		t.Fatalf("stop_loss = %v, want %v", sig.StopLoss, wantSL)
	}
	wantTP1 := 100.02 * (1 + riskCfg.StopLossPercent*riskCfg.TakeProfitMultiplier/100)
	if absDiff(sig.TakeProfit1, wantTP1) > 1e-9 {
		t.Fatalf("take_profit_1 = %v, want %v", sig.TakeProfit1, wantTP1)
	}
}

func TestAnalyseGatesOnWideSpread(t *testing.T) {
	t.Parallel()
	book := types.Top20{
		Bids: []types.PriceLevel{{Price: 100.00, Qty: 5}},
		Asks: []types.PriceLevel{{Price: 100.20, Qty: 5}},
	}
	sig := Analyse("BTCUSDT", book, nil, defaultSignalsConfig(), defaultRiskConfig(), time.Now().UnixMilli())
	if sig.Direction != types.DirWait {
		t.Fatalf("expected WAIT on wide spread, got %v", sig.Direction)
	}
	if len(sig.Reasons) == 0 || sig.Reasons[0] != "wide spread" {
		t.Fatalf("expected 'wide spread' reason, got %v", sig.Reasons)
	}
}

func TestAnalyseReturnsWaitOnEmptyBook(t *testing.T) {
	t.Parallel()
	sig := Analyse("BTCUSDT", types.Top20{}, nil, defaultSignalsConfig(), defaultRiskConfig(), time.Now().UnixMilli())
	if sig.Direction != types.DirWait {
		t.Fatalf("expected WAIT on empty book, got %v", sig.Direction)
	}
}

func TestEntryExitLevelsLong(t *testing.T) {
	t.Parallel()
	riskCfg := config.RiskConfig{StopLossPercent: 1, TakeProfitMultiplier: 2}
	entry, sl, tp1, tp2 := entryExitLevels(types.DirLong, 100.00, 100.02, riskCfg)
	if entry != 100.02 {
		t.Fatalf("entry = %v, want best_ask 100.02", entry)
	}
	wantSL := 100.02 * 0.99
	if absDiff(sl, wantSL) > 1e-9 {
		t.Fatalf("sl = %v, want %v", sl, wantSL)
	}
	wantTP1 := 100.02 * 1.02
	if absDiff(tp1, wantTP1) > 1e-9 {
		t.Fatalf("tp1 = %v, want %v", tp1, wantTP1)
	}
	if tp2 <= tp1 {
		t.Fatalf("tp2 (%v) should exceed tp1 (%v) for a long", tp2, tp1)
	}
}

func TestEntryExitLevelsShortMirrorsLong(t *testing.T) {
	t.Parallel()
	riskCfg := config.RiskConfig{StopLossPercent: 1, TakeProfitMultiplier: 2}
	entry, sl, tp1, _ := entryExitLevels(types.DirShort, 99.98, 100.00, riskCfg)
	if entry != 99.98 {
		t.Fatalf("entry = %v, want best_bid 99.98", entry)
	}
	if sl <= entry {
		t.Fatalf("short stop-loss should be above entry, got sl=%v entry=%v", sl, entry)
	}
	if tp1 >= entry {
		t.Fatalf("short take-profit should be below entry, got tp1=%v entry=%v", tp1, entry)
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestCooldownSuppressesRepeatSignal(t *testing.T) {
	t.Parallel()
	c := NewCooldown()
	now := time.Now()
	sig := types.Signal{Symbol: "BTCUSDT", Direction: types.DirLong}

	first := c.Filter(sig, time.Minute, now)
	if first.Direction != types.DirLong {
		t.Fatalf("expected first signal to pass through, got %v", first.Direction)
	}

	second := c.Filter(sig, time.Minute, now.Add(time.Second))
	if second.Direction != types.DirWait {
		t.Fatalf("expected second signal within cooldown to be WAIT, got %v", second.Direction)
	}

	third := c.Filter(sig, time.Minute, now.Add(2*time.Minute))
	if third.Direction != types.DirLong {
		t.Fatalf("expected signal after cooldown window to pass through, got %v", third.Direction)
	}
}

func TestNormalCDFMidpointIsHalf(t *testing.T) {
	t.Parallel()
	if got := normalCDF(0); absDiff(got, 0.5) > 1e-9 {
		t.Fatalf("normalCDF(0) = %v, want 0.5", got)
	}
}

func TestNormalCDFMonotonic(t *testing.T) {
	t.Parallel()
	if normalCDF(-1) >= normalCDF(0) || normalCDF(0) >= normalCDF(1) {
		t.Fatal("expected normalCDF to be strictly increasing")
	}
}

func TestKeyConditionCountAndThresholds(t *testing.T) {
	t.Parallel()
	f := types.FactorScores{Wall: 70, Spread: 65, Imbalance: 65, Aggression: 65, Momentum: 65}
	if got := keyConditionCount(f); got != 4 {
		t.Fatalf("keyConditionCount = %d, want 4", got)
	}

	thetaLong, thetaShort := thresholds(100)
	if absDiff(thetaLong, 0.66) > 1e-9 {
		t.Fatalf("thetaLong(100) = %v, want 0.66", thetaLong)
	}
	if absDiff(thetaShort, thetaLong-0.01) > 1e-9 {
		t.Fatalf("thetaShort should equal thetaLong - 0.01")
	}

	thetaLongLow, _ := thresholds(1)
	if thetaLongLow != 0.50 {
		t.Fatalf("thetaLong(1) should clamp to floor 0.50, got %v", thetaLongLow)
	}
}
