package events

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"scalper/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	t.Parallel()
	h := NewHub(testLogger())
	a := h.Subscribe()
	b := h.Subscribe()

	h.Broadcast(NewStatusEvent("", "connected"))

	for _, ch := range []chan DashboardEvent{a, b} {
		select {
		case evt := <-ch:
			if evt.Type != "status" {
				t.Fatalf("type = %q, want status", evt.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	h := NewHub(testLogger())
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	if h.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", h.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestHubDropsEventForFullSubscriberBuffer(t *testing.T) {
	t.Parallel()
	h := NewHub(testLogger())
	ch := h.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Broadcast(NewStatusEvent("", "tick"))
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("buffered events = %d, want exactly %d (excess dropped)", len(ch), subscriberBuffer)
	}
}

func TestNewSignalEventCarriesDirectionAndLevels(t *testing.T) {
	t.Parallel()
	sig := types.Signal{Symbol: "BTCUSDT", Direction: types.DirLong, Confidence: 80, EntryPrice: 100, StopLoss: 98, TakeProfit1: 104}
	evt := NewSignalEvent(sig)
	data, ok := evt.Data.(Signal)
	if !ok {
		t.Fatalf("evt.Data type = %T, want events.Signal", evt.Data)
	}
	if data.Direction != types.DirLong || data.EntryPrice != 100 {
		t.Fatalf("unexpected signal payload: %+v", data)
	}
}

func TestNewClosedTradeEventCarriesCloseReason(t *testing.T) {
	t.Parallel()
	ct := types.ClosedTrade{Symbol: "BTCUSDT", CloseReason: "position_flat", RealizedPnL: 12.5}
	evt := NewClosedTradeEvent(ct)
	data, ok := evt.Data.(ClosedTradeEvent)
	if !ok {
		t.Fatalf("evt.Data type = %T, want events.ClosedTradeEvent", evt.Data)
	}
	if data.CloseReason != "position_flat" || data.RealizedPnL != 12.5 {
		t.Fatalf("unexpected closed trade payload: %+v", data)
	}
}
