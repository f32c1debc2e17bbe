// Package session owns the two pieces of on-disk state a run needs outside
// the exchange itself (§6 Persisted state): a PID lock file preventing two
// instances from trading the same account, and a single JSON summary
// written once at shutdown. This is not a running trade database — that is
// an explicit Non-goal — so, unlike the teacher's store.go which persists
// one file per market throughout the run, session writes exactly once at
// the end, reusing the teacher's atomic tmp-then-rename technique for that
// single write.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"scalper/pkg/types"
)

const lockFileName = "bot.lock"

// Lock guards against a second instance trading the same account (§5
// duplicate-process prevention, §7 Fatal error kind).
type Lock struct {
	path string
}

// Acquire checks for and writes bot.lock in dir. If a lock file already
// exists and its PID is still alive, Acquire refuses to start; per §7 this
// is a Fatal condition the caller should surface and exit on, never retry.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create data dir: %w", err)
	}
	path := filepath.Join(dir, lockFileName)

	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(string(data)); perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("session: another instance is already running (pid %d)", pid)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("session: read lock file: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return nil, fmt.Errorf("session: write lock file: %w", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Call on clean shutdown.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// processAlive reports whether pid refers to a currently running process.
// On POSIX systems os.FindProcess always succeeds; signal 0 is the
// portable "does this pid exist" probe.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Summary is the single JSON document written at shutdown.
type Summary struct {
	StartedAt      time.Time            `json:"started_at"`
	EndedAt        time.Time            `json:"ended_at"`
	StartingBalance float64             `json:"starting_balance"`
	FinalBalance    float64             `json:"final_balance"`
	OpenPositions   int                 `json:"open_positions"`
	RealizedPnL     float64             `json:"realized_pnl"`
	ClosedTrades    []types.ClosedTrade `json:"closed_trades"`
}

// WriteSummary atomically persists the shutdown summary to dir/session.json
// (write to .tmp, then rename, per the teacher's crash-safe write pattern).
func WriteSummary(dir string, summary Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: create data dir: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal summary: %w", err)
	}
	path := filepath.Join(dir, "session.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write summary: %w", err)
	}
	return os.Rename(tmp, path)
}
