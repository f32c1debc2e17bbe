package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scalper/pkg/types"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); !os.IsNotExist(err) {
		t.Fatal("expected lock file to be removed after Release")
	}
}

func TestAcquireRefusesWhileHeldByLiveProcess(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	if _, err := Acquire(dir); err == nil {
		t.Fatal("expected second Acquire to fail while the first process's lock is live")
	}
}

func TestAcquireReclaimsLockFromDeadProcess(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// A PID astronomically unlikely to be alive on any real system.
	if err := os.WriteFile(filepath.Join(dir, lockFileName), []byte("999999"), 0o600); err != nil {
		t.Fatalf("seed stale lock file: %v", err)
	}

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("expected Acquire to reclaim a lock from a dead pid, got: %v", err)
	}
	lock.Release()
}

func TestWriteSummaryRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	summary := Summary{
		StartedAt:       time.Now().Add(-time.Hour),
		EndedAt:         time.Now(),
		StartingBalance: 1000,
		FinalBalance:    1050,
		OpenPositions:   1,
		RealizedPnL:     50,
		ClosedTrades: []types.ClosedTrade{
			{Symbol: "BTCUSDT", RealizedPnL: 50, CloseReason: "position_flat"},
		},
	}

	if err := WriteSummary(dir, summary); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		t.Fatalf("read session.json: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty session.json")
	}
	if _, err := os.Stat(filepath.Join(dir, "session.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("expected .tmp file to be renamed away, not left behind")
	}
}
