package market

import (
	"testing"
	"time"

	"scalper/pkg/types"
)

func TestQuoteTrackerValidRequiresPositiveSidesAndFreshness(t *testing.T) {
	t.Parallel()
	q := NewQuoteTracker("BTCUSDT")

	if q.Valid(time.Second) {
		t.Error("expected empty tracker to be invalid")
	}

	q.Update(types.BestQuote{Symbol: "BTCUSDT", Bid: 100, Ask: 101, Ts: time.Now()})
	if !q.Valid(time.Second) {
		t.Error("expected fresh quote with positive sides to be valid")
	}

	q.Update(types.BestQuote{Symbol: "BTCUSDT", Bid: 0, Ask: 101, Ts: time.Now()})
	if q.Valid(time.Second) {
		t.Error("expected zero bid to be invalid")
	}

	q.Update(types.BestQuote{Symbol: "BTCUSDT", Bid: 100, Ask: 101, Ts: time.Now().Add(-time.Hour)})
	if q.Valid(time.Second) {
		t.Error("expected stale quote to be invalid")
	}
}
