// Binance USDT-margined futures scalping bot.
//
// Architecture:
//
//	main.go                  — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/exchange        — C1 Exchange Gateway: REST + WebSocket adapter over go-binance/v2/futures
//	internal/market          — C2 Market-Data Engine: local order-book mirror, trade tape, best quote
//	internal/signal          — C3 Signal Analyser: six-factor scoring, probability estimate, decision
//	internal/risk            — C4 Risk Manager: rounding, liquidation, averaging, stepped stop math
//	internal/position        — C5 Position Controller: regime state machine, reconciliation, hygiene
//	internal/supervisor      — C6 Trading Supervisor: analyse/rank/open loop, protection loop
//	internal/events          — GUI event/snapshot surface
//	internal/session         — PID lock file, shutdown summary
//
// How it makes money:
//
//	The bot scores order-book imbalance, resting-order walls, trade
//	aggression, Fibonacci clustering, spread tightness, and momentum into a
//	directional signal, sizes a leveraged market entry against available
//	balance, and manages the resulting position through three PnL regimes:
//	averaging down while in loss, standing pat through small profit, and a
//	stepped trailing stop once profit clears the activation threshold.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scalper/internal/config"
	"scalper/internal/events"
	"scalper/internal/exchange"
	"scalper/internal/market"
	"scalper/internal/position"
	"scalper/internal/session"
	"scalper/internal/supervisor"
	"scalper/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	dataDir := cfg.Store.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if cfg.Safety.AutoTerminateDuplicates {
		lock, err := session.Acquire(dataDir)
		if err != nil {
			logger.Error("duplicate instance detected, refusing to start", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	startedAt := time.Now()
	client := exchange.NewClient(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	allRules, err := client.FetchExchangeInfo(ctx)
	cancel()
	if err != nil {
		logger.Error("failed to fetch exchange info", "error", err)
		os.Exit(1)
	}

	rules := make(map[string]types.SymbolRules, len(cfg.Pairs))
	rulesByName := make(map[string]types.SymbolRules, len(allRules))
	for _, r := range allRules {
		rulesByName[r.Symbol] = r
	}
	for _, pair := range cfg.Pairs {
		r, ok := rulesByName[pair]
		if !ok {
			logger.Error("no symbol rules found for configured pair", "symbol", pair)
			os.Exit(1)
		}
		rules[pair] = r
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, pair := range cfg.Pairs {
		if _, err := client.SetMarginType(startCtx, pair); err != nil {
			logger.Warn("failed to set margin type at startup", "symbol", pair, "error", err)
		}
	}
	startCancel()

	symbols := make(map[string]*market.Symbol, len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		symbols[pair] = market.NewSymbol(pair, client, logger)
	}

	controller := position.NewController(client, rules, cfg, logger)
	executor := position.NewLiveExecutor(client, controller, cfg)
	hub := events.NewHub(logger)

	balanceCtx, balanceCancel := context.WithTimeout(context.Background(), 10*time.Second)
	startingBalance, err := executor.GetAvailableBalance(balanceCtx)
	balanceCancel()
	if err != nil {
		logger.Warn("failed to fetch starting balance for session summary", "error", err)
	}

	sv, err := supervisor.New(cfg, logger, symbols, rules, executor, controller, client)
	if err != nil {
		logger.Error("failed to build trading supervisor", "error", err)
		os.Exit(1)
	}
	sv.SetEventHub(hub)
	sv.Start()

	logger.Info("scalper started",
		"mode", cfg.Mode,
		"pairs", cfg.Pairs,
		"max_positions", cfg.Account.MaxPositions,
		"eco_mode", cfg.Account.EcoMode,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	sv.Stop(shutdownCtx)

	stats := executor.GetStatistics()
	balance, err := executor.GetAvailableBalance(shutdownCtx)
	if err != nil {
		logger.Warn("failed to fetch final balance for session summary", "error", err)
	}
	summary := session.Summary{
		StartedAt:       startedAt,
		EndedAt:         time.Now(),
		StartingBalance: startingBalance,
		FinalBalance:    balance,
		OpenPositions:   stats.OpenPositions,
		RealizedPnL:     stats.RealizedPnL,
		ClosedTrades:    stats.ClosedTrades,
	}
	if err := session.WriteSummary(dataDir, summary); err != nil {
		logger.Error("failed to write session summary", "error", err)
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
