package risk

import (
	"testing"

	"scalper/pkg/types"
)

func TestSteppedStopLevelScenarioS4(t *testing.T) {
	t.Parallel()
	// S4: pnl trajectory 5 -> 25 -> 35 -> 45 -> 30, expected levels:
	// none, +10, +20, +30, +30 (never demotes; the "never demotes" part is
	// the caller's responsibility, tested at the position-controller level).
	cases := []struct {
		pnl        float64
		wantLevel  float64
		wantActive bool
	}{
		{5, 0, false},
		{25, 10, true},
		{35, 20, true},
		{45, 30, true},
		{30, 20, true}, // raw function output before the non-decreasing clamp
	}
	for _, tc := range cases {
		level, active := SteppedStopLevel(tc.pnl, 20)
		if active != tc.wantActive {
			t.Errorf("pnl=%v: active = %v, want %v", tc.pnl, active, tc.wantActive)
		}
		if active && level != tc.wantLevel {
			t.Errorf("pnl=%v: level = %v, want %v", tc.pnl, level, tc.wantLevel)
		}
	}
}

func TestSteppedStopLevelFloorsAtTen(t *testing.T) {
	t.Parallel()
	level, active := SteppedStopLevel(20, 20)
	if !active {
		t.Fatal("expected active at exactly activation pnl")
	}
	if level != 10 {
		t.Fatalf("level = %v, want floor of 10", level)
	}
}

func TestStopPriceFromPnLLong(t *testing.T) {
	t.Parallel()
	stop, limit := StopPriceFromPnL(types.Long, 100, 20, 10)
	// price_change% = 20/10 = 2% -> stop = 102
	if absDiff(stop, 102) > 1e-9 {
		t.Fatalf("stop = %v, want 102", stop)
	}
	if limit >= stop {
		t.Fatalf("LONG limit price should be worsened below stop, got limit=%v stop=%v", limit, stop)
	}
}

func TestStopPriceFromPnLShort(t *testing.T) {
	t.Parallel()
	stop, limit := StopPriceFromPnL(types.Short, 100, 20, 10)
	if absDiff(stop, 98) > 1e-9 {
		t.Fatalf("stop = %v, want 98", stop)
	}
	if limit <= stop {
		t.Fatalf("SHORT limit price should be worsened above stop, got limit=%v stop=%v", limit, stop)
	}
}
