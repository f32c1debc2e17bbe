// Package supervisor implements the Trading Supervisor (C6): the top-level
// orchestration loop that polls the Signal Analyser per symbol, ranks the
// resulting signals, gates them against the eco-mode/normal-mode position
// caps, and opens positions through a TradingExecutor. A second, slower
// loop runs reconciliation and the position protection tick. The supervisor
// does not call the Position Controller's OrderHygieneTick.
//
// This is the Go-side descendant of the teacher's internal/engine.Engine:
// the same New/Start/Stop lifecycle and sync.WaitGroup-tracked goroutine
// fan-out, narrowed from the teacher's scanner-driven market start/stop
// reconciliation down to a fixed symbol set with a fixed per-symbol task
// set (depth/trade/quote streams owned by internal/market, analyse and
// protect loops owned here).
package supervisor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"log/slog"

	"scalper/internal/config"
	"scalper/internal/events"
	"scalper/internal/market"
	"scalper/internal/position"
	"scalper/internal/signal"
	"scalper/pkg/types"
)

const (
	defaultAnalyseInterval   = 500 * time.Millisecond
	defaultMaxPriceChangePct = 0.2
)

// Exchange is the slice of the Exchange Gateway the supervisor calls
// directly (balance reads go through the executor's cache instead).
type Exchange interface {
	FetchAccountBalances(ctx context.Context) (types.Balance, error)
	UserDataStream(ctx context.Context) (<-chan types.UserEvent, error)
}

// Supervisor wires the Market-Data Engine, Signal Analyser, Position
// Controller, and TradingExecutor into the two orchestration loops of §4.6.
type Supervisor struct {
	cfg     *config.Config
	logger  *slog.Logger
	symbols map[string]*market.Symbol
	rules   map[string]types.SymbolRules

	executor   position.TradingExecutor
	controller Controller
	balanceSF  singleflight.Group
	balanceMu  sync.Mutex
	balanceAt  time.Time
	balance    float64
	exchange   Exchange
	events     *events.Hub

	cooldown *signal.Cooldown

	latestMu sync.RWMutex
	latest   map[string]types.Signal

	pendingSingle *types.Signal
	pendingMu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Controller is the subset of *position.Controller the supervisor reads
// directly (positions, for the unprotected-count gate).
type Controller interface {
	Positions() []types.Position
}

// New wires the supervisor. symbols and rules must share the same key set
// as cfg.Pairs. paper_trading is an accepted Config.Validate mode (so a
// config file written for a future simulator still parses) but has no
// TradingExecutor built for it: New refuses to wire a supervisor for it
// rather than silently trading live against a dry-run gateway.
func New(cfg *config.Config, logger *slog.Logger, symbols map[string]*market.Symbol, rules map[string]types.SymbolRules, executor position.TradingExecutor, controller Controller, exchange Exchange) (*Supervisor, error) {
	if cfg.Mode == "paper_trading" {
		return nil, fmt.Errorf("supervisor: paper_trading mode has no executor implementation")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:        cfg,
		logger:     logger.With("component", "supervisor"),
		symbols:    symbols,
		rules:      rules,
		executor:   executor,
		controller: controller,
		exchange:   exchange,
		cooldown:   signal.NewCooldown(),
		latest:     make(map[string]types.Signal),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// SetEventHub wires a GUI event hub; broadcasts are skipped until one is
// set, so running without a GUI attached costs nothing.
func (s *Supervisor) SetEventHub(h *events.Hub) {
	s.events = h
}

// Start launches the per-symbol market-data loops plus the analyse and
// protection loops. Returns immediately; call Stop to shut down.
func (s *Supervisor) Start() {
	for _, sym := range s.symbols {
		sym := sym
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sym.Run(s.ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.analyseLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.protectionLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.userDataLoop()
	}()
}

// Stop cancels every supervisor goroutine and waits for them to exit. Open
// positions are left on the exchange unless bot_behavior.close_positions_on_stop.
func (s *Supervisor) Stop(ctx context.Context) {
	s.logger.Info("shutting down supervisor")
	s.cancel()
	s.wg.Wait()

	if s.cfg.Behavior.ClosePositionsOnStop {
		for symbol := range s.symbols {
			if err := s.executor.ClosePositionManually(ctx, symbol); err != nil {
				s.logger.Warn("failed to close position on stop", "symbol", symbol, "error", err)
			}
		}
	}
}

// LatestSignal returns the most recently computed signal for symbol, for
// GUI display.
func (s *Supervisor) LatestSignal(symbol string) (types.Signal, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	sig, ok := s.latest[symbol]
	return sig, ok
}

// ————————————————————————————————————————————————————————————————————————
// Analyse loop (§4.6 steps 1-6)
// ————————————————————————————————————————————————————————————————————————

func (s *Supervisor) analyseLoop() {
	ticker := time.NewTicker(defaultAnalyseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one iteration of the analyse-rank-open cycle. Per-symbol
// analysis is fanned out with errgroup since each call is a pure,
// independent CPU-bound computation over that symbol's market-data
// snapshot; the panic-safety net around the whole tick mirrors §7's
// requirement that one malformed symbol never halts the others.
func (s *Supervisor) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("analyse tick panicked, recovered", "panic", r)
		}
	}()

	candidates := s.collectSignals(s.ctx)
	rankByPriority(candidates)
	s.openEligible(s.ctx, candidates)
}

type candidate struct {
	signal   types.Signal
	priority float64
}

// collectSignals fans out Analyse across every ready symbol concurrently.
func (s *Supervisor) collectSignals(ctx context.Context) []candidate {
	var (
		mu   sync.Mutex
		out  []candidate
		g, _ = errgroup.WithContext(ctx)
	)

	for symbol, sym := range s.symbols {
		symbol, sym := symbol, sym
		g.Go(func() error {
			if !sym.IsReady() {
				return nil
			}
			top20 := sym.Book.Top20()
			trades := sym.Tape.Recent(21)

			sig := signal.Analyse(symbol, top20, trades, s.cfg.Signals, s.cfg.Risk, time.Now().UnixMilli())
			sig = s.cooldown.Filter(sig, time.Duration(s.cfg.Signals.CooldownSeconds)*time.Second, time.Now())

			s.latestMu.Lock()
			s.latest[symbol] = sig
			s.latestMu.Unlock()

			if sig.Direction == types.DirWait {
				return nil
			}

			if s.events != nil {
				s.events.Broadcast(events.NewSignalEvent(sig))
			}

			mu.Lock()
			out = append(out, candidate{signal: sig, priority: scorePriority(sig)})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// scorePriority implements §4.6 step 3: confidence weighted by the
// relative distance to the first take-profit target.
func scorePriority(sig types.Signal) float64 {
	if sig.EntryPrice == 0 {
		return 0
	}
	return sig.Confidence * math.Abs(sig.TakeProfit1-sig.EntryPrice) / sig.EntryPrice * 100
}

func rankByPriority(candidates []candidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].priority > candidates[j-1].priority; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

// openEligible implements §4.6 steps 4-6: eco-mode single-order gating or
// normal-mode max_positions gating (counting only unprotected positions),
// then per-candidate admission checks in priority order.
func (s *Supervisor) openEligible(ctx context.Context, candidates []candidate) {
	positions := s.controller.Positions()
	tracked := make(map[string]types.Position, len(positions))
	unprotectedCount := 0
	for _, p := range positions {
		tracked[p.Symbol] = p
		if !p.IsProtected {
			unprotectedCount++
		}
	}

	if s.cfg.Account.EcoMode {
		if unprotectedCount > 0 {
			s.setPending(firstOrNil(candidates))
			return
		}
		if len(candidates) == 0 {
			return
		}
		s.openOne(ctx, candidates[0], tracked)
		return
	}

	limit := s.cfg.Account.MaxPositions
	for _, c := range candidates {
		if unprotectedCount >= limit {
			break
		}
		if s.openOne(ctx, c, tracked) {
			unprotectedCount++
		}
	}
}

func firstOrNil(candidates []candidate) *types.Signal {
	if len(candidates) == 0 {
		return nil
	}
	sig := candidates[0].signal
	return &sig
}

func (s *Supervisor) setPending(sig *types.Signal) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pendingSingle = sig
}

// openOne runs the per-candidate admission gate and, if it passes, opens
// the position. Returns true iff a position was actually opened.
func (s *Supervisor) openOne(ctx context.Context, c candidate, tracked map[string]types.Position) bool {
	sig := c.signal

	if _, exists := tracked[sig.Symbol]; exists {
		return false
	}

	sym, ok := s.symbols[sig.Symbol]
	if !ok {
		return false
	}
	currentPrice, ok := sym.CurrentPrice()
	if !ok {
		return false
	}

	maxChange := s.cfg.Signals.MaxPriceChangePct
	if maxChange <= 0 {
		maxChange = defaultMaxPriceChangePct
	}
	if s.cfg.Signals.StrictnessPercent <= 75 && sig.Confidence < 90 {
		if sig.EntryPrice == 0 || math.Abs(currentPrice-sig.EntryPrice)/sig.EntryPrice*100 > maxChange {
			return false
		}
	}

	leverage := interpolateLeverage(sig.Confidence, s.cfg.Account.LeverageMin, s.cfg.Account.LeverageMax)

	if _, err := s.executor.OpenPosition(ctx, sig, leverage); err != nil {
		s.logger.Warn("open position failed", "symbol", sig.Symbol, "error", err)
		return false
	}
	s.logger.Info("opened position", "symbol", sig.Symbol, "direction", sig.Direction, "confidence", sig.Confidence, "leverage", leverage)
	return true
}

// interpolateLeverage implements §4.6 step 6's confidence->leverage map:
// linear interpolation of confidence in [65,100] into [min,max], clamped.
func interpolateLeverage(confidence float64, min, max int) int {
	if confidence <= 65 {
		return min
	}
	if confidence >= 100 {
		return max
	}
	frac := (confidence - 65) / (100 - 65)
	lev := float64(min) + frac*float64(max-min)
	return int(math.Round(lev))
}

// ————————————————————————————————————————————————————————————————————————
// Protection loop (§4.5 via C5, plus reconciliation)
// ————————————————————————————————————————————————————————————————————————

func (s *Supervisor) protectionLoop() {
	interval := s.cfg.Risk.ProtectiveRefreshInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.protectionTick()
		}
	}
}

func (s *Supervisor) protectionTick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("protection tick panicked, recovered", "panic", r)
		}
	}()

	symbols := make([]string, 0, len(s.symbols))
	prices := make(map[string]float64, len(s.symbols))
	for symbol, sym := range s.symbols {
		symbols = append(symbols, symbol)
		if p, ok := sym.CurrentPrice(); ok {
			prices[symbol] = p
		}
	}

	closedTrades, err := s.executor.RefreshAllPositions(s.ctx, symbols)
	if err != nil {
		s.logger.Warn("reconciliation tick failed", "error", err)
	}
	s.executor.UpdatePositions(s.ctx, prices)

	if s.events != nil {
		for _, ct := range closedTrades {
			s.events.Broadcast(events.NewClosedTradeEvent(ct))
		}
		for _, p := range s.controller.Positions() {
			s.events.Broadcast(events.NewPositionEvent(p))
		}
	}

	s.retryPending(s.ctx)
}

// retryPending re-evaluates the pending candidate eco-mode set aside in a
// prior tick, now that the protection tick may have freed the single slot.
func (s *Supervisor) retryPending(ctx context.Context) {
	s.pendingMu.Lock()
	pending := s.pendingSingle
	s.pendingMu.Unlock()
	if pending == nil {
		return
	}

	positions := s.controller.Positions()
	for _, p := range positions {
		if !p.IsProtected {
			return
		}
	}

	s.setPending(nil)
	s.openOne(ctx, candidate{signal: *pending, priority: scorePriority(*pending)}, indexBySymbol(positions))
}

func indexBySymbol(positions []types.Position) map[string]types.Position {
	out := make(map[string]types.Position, len(positions))
	for _, p := range positions {
		out[p.Symbol] = p
	}
	return out
}

const userDataReconnectDelay = 5 * time.Second

// userDataLoop consumes the account user-data stream and nudges the
// protection tick to run immediately on an order update, instead of waiting
// out the rest of the polling interval before reconciliation notices a fill.
// The polling protectionLoop stays in place as the source of truth; this is
// purely a latency shortcut, so a stream outage degrades to poll-only rather
// than stalling reconciliation.
func (s *Supervisor) userDataLoop() {
	for {
		if s.ctx.Err() != nil {
			return
		}

		events, err := s.exchange.UserDataStream(s.ctx)
		if err != nil {
			s.logger.Warn("user data stream unavailable, falling back to polling only", "error", err)
		} else {
			for evt := range events {
				if evt.EventType != "ORDER_TRADE_UPDATE" {
					continue
				}
				if _, tracked := s.symbols[evt.Symbol]; !tracked {
					continue
				}
				s.logger.Info("order update received, triggering early reconciliation", "symbol", evt.Symbol, "status", evt.OrderStatus)
				s.protectionTick()
			}
		}

		// The stream ended (error, or the channel closed); wait out the
		// delay before reconnecting rather than spinning.
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(userDataReconnectDelay):
		}
	}
}

// AvailableBalance reads the current account balance through a shared
// cache with a single writer (§5 balance cache: shared read, single writer,
// TTL balance_cache_ttl, default 10s). Concurrent callers within the TTL
// window are additionally collapsed by singleflight into one upstream
// fetch if the cache happens to be expired at the same moment.
func (s *Supervisor) AvailableBalance(ctx context.Context) (float64, error) {
	s.balanceMu.Lock()
	if fresh := time.Since(s.balanceAt) < s.cfg.Risk.BalanceCacheTTL; fresh && !s.balanceAt.IsZero() {
		v := s.balance
		s.balanceMu.Unlock()
		return v, nil
	}
	s.balanceMu.Unlock()

	v, err, _ := s.balanceSF.Do("balance", func() (interface{}, error) {
		s.balanceMu.Lock()
		if fresh := time.Since(s.balanceAt) < s.cfg.Risk.BalanceCacheTTL; fresh && !s.balanceAt.IsZero() {
			v := s.balance
			s.balanceMu.Unlock()
			return v, nil
		}
		s.balanceMu.Unlock()

		balance, err := s.exchange.FetchAccountBalances(ctx)
		if err != nil {
			return 0.0, err
		}
		s.balanceMu.Lock()
		s.balance = balance.Available
		s.balanceAt = time.Now()
		s.balanceMu.Unlock()
		return balance.Available, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
