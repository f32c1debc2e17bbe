package signal

import (
	"sync"
	"time"

	"scalper/pkg/types"
)

// Cooldown suppresses repeated non-WAIT signals for the same symbol within
// a configured window after the last one was emitted (§4.3).
type Cooldown struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewCooldown creates an empty per-symbol cooldown tracker.
func NewCooldown() *Cooldown {
	return &Cooldown{lastSent: make(map[string]time.Time)}
}

// Filter returns sig unchanged if it should be emitted, or a WAIT signal if
// the symbol is still in its cooldown window. Call exactly once per
// evaluation; a non-WAIT result starts (or restarts) the cooldown window.
func (c *Cooldown) Filter(sig types.Signal, window time.Duration, now time.Time) types.Signal {
	if sig.Direction == types.DirWait {
		return sig
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.lastSent[sig.Symbol]; ok && now.Sub(last) < window {
		return types.Signal{Symbol: sig.Symbol, Direction: types.DirWait, Reasons: []string{"cooldown"}, Timestamp: now}
	}

	c.lastSent[sig.Symbol] = now
	return sig
}
