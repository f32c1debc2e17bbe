// Package config defines all configuration for the scalping bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via BOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode      string          `mapstructure:"mode"` // "paper_trading" | "live_trading"
	API       APIConfig       `mapstructure:"api"`
	Pairs     []string        `mapstructure:"pairs"`
	Account   AccountConfig   `mapstructure:"account"`
	Signals   SignalsConfig   `mapstructure:"signals"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Behavior  BehaviorConfig  `mapstructure:"bot_behavior"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// averagingDistancePct is the one slider-controlled field that supports
	// hot update via atomic swap (§5 shared-resource policy). Zero value
	// means "use Risk.AveragingDistanceFromLiqPct".
	averagingDistancePct atomic.Value // float64
}

// APIConfig holds Binance USDT-M futures API credentials and endpoint selection.
type APIConfig struct {
	Key     string `mapstructure:"key"`
	Secret  string `mapstructure:"secret"`
	Testnet bool   `mapstructure:"testnet"`
}

// AccountConfig governs leverage mapping, position sizing, and concurrency caps.
type AccountConfig struct {
	StartingBalance     float64    `mapstructure:"starting_balance"` // simulator only
	LeverageMin         int        `mapstructure:"leverage_min"`
	LeverageMax         int        `mapstructure:"leverage_max"`
	MaxPositions        int        `mapstructure:"max_positions"`
	PositionSizePercent float64    `mapstructure:"position_size_percent"`
	MarginType          string     `mapstructure:"margin_type"` // "ISOLATED"
	EcoMode             bool       `mapstructure:"eco_mode"`
}

// SignalsConfig tunes the signal analyser (C3).
type SignalsConfig struct {
	MinConfidence        float64       `mapstructure:"min_confidence"`
	MinConfidenceShort   float64       `mapstructure:"min_confidence_short"`
	CooldownSeconds      int           `mapstructure:"cooldown_seconds"`
	TapeWindowSeconds     int          `mapstructure:"tape_window_seconds"`
	MinImbalance         float64       `mapstructure:"min_imbalance"`
	LargeOrderThreshold  float64       `mapstructure:"large_order_threshold"`
	MaxPriceChangePct    float64       `mapstructure:"max_price_change_pct"`
	StrictnessPercent    float64       `mapstructure:"strictness_percent"` // s in [1,100]
}

// RiskConfig governs SL/TP geometry, averaging, and the stepped trailing stop.
type RiskConfig struct {
	StopLossPercent    float64       `mapstructure:"stop_loss_percent"`
	TakeProfitMultiplier float64     `mapstructure:"take_profit_multiplier"`

	AveragingDownEnabled        bool    `mapstructure:"averaging_down_enabled"`
	AveragingDistanceFromLiqPct float64 `mapstructure:"averaging_distance_from_liq_pct"`
	AveragingMaxCount           int     `mapstructure:"averaging_max_count"`
	AveragingMartingaleEnabled  bool    `mapstructure:"averaging_martingale_enabled"`
	AveragingRequireNegativeROI bool    `mapstructure:"averaging_require_negative_roi"`

	SteppedStopEnabled       bool    `mapstructure:"stepped_stop_enabled"`
	SteppedStopActivationPnL float64 `mapstructure:"stepped_stop_activation_pnl"`

	ProtectiveRefreshInterval time.Duration `mapstructure:"protective_refresh_interval"`
	BalanceCacheTTL           time.Duration `mapstructure:"balance_cache_ttl"`

	ResetMarginAfterAveraging ResetMarginConfig `mapstructure:"reset_margin_after_averaging"`

	MaintenanceMarginRate float64 `mapstructure:"maintenance_margin_rate"` // default 0.004
}

// ResetMarginConfig gates the eco-mode "reduce back to initial size" behavior.
type ResetMarginConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	TriggerROIPct float64 `mapstructure:"trigger_roi_pct"` // default 1.5
}

// BehaviorConfig governs shutdown behavior.
type BehaviorConfig struct {
	ClosePositionsOnStop bool `mapstructure:"close_positions_on_stop"`
}

// SafetyConfig governs startup hygiene.
type SafetyConfig struct {
	AutoTerminateDuplicates bool `mapstructure:"auto_terminate_duplicates"`
}

// StoreConfig sets where the lock file and session-summary JSON dump live.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("BOT_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("BOT_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}

	cfg.averagingDistancePct.Store(cfg.Risk.AveragingDistanceFromLiqPct)

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case "paper_trading", "live_trading":
	default:
		return fmt.Errorf("mode must be paper_trading or live_trading, got %q", c.Mode)
	}
	if c.Mode == "live_trading" {
		if c.API.Key == "" || c.API.Secret == "" {
			return fmt.Errorf("api.key and api.secret are required in live_trading mode")
		}
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("pairs must list at least one symbol")
	}
	if c.Account.LeverageMin <= 0 || c.Account.LeverageMax < c.Account.LeverageMin {
		return fmt.Errorf("account.leverage_min/leverage_max must be positive and ordered")
	}
	if c.Account.MaxPositions <= 0 {
		return fmt.Errorf("account.max_positions must be > 0")
	}
	if c.Account.PositionSizePercent <= 0 || c.Account.PositionSizePercent > 100 {
		return fmt.Errorf("account.position_size_percent must be in (0, 100]")
	}
	if c.Risk.StopLossPercent <= 0 {
		return fmt.Errorf("risk.stop_loss_percent must be > 0")
	}
	if c.Risk.TakeProfitMultiplier <= 0 {
		return fmt.Errorf("risk.take_profit_multiplier must be > 0")
	}
	if c.Risk.AveragingDownEnabled && c.Risk.AveragingMaxCount <= 0 {
		return fmt.Errorf("risk.averaging_max_count must be > 0 when averaging is enabled")
	}
	if c.Risk.MaintenanceMarginRate <= 0 {
		c.Risk.MaintenanceMarginRate = 0.004
	}
	if c.Risk.ProtectiveRefreshInterval <= 0 {
		c.Risk.ProtectiveRefreshInterval = 10 * time.Second
	}
	if c.Risk.BalanceCacheTTL <= 0 {
		c.Risk.BalanceCacheTTL = 10 * time.Second
	}
	return nil
}

// AveragingDistancePct returns the current (possibly hot-reloaded) averaging
// distance-from-liquidation percentage.
func (c *Config) AveragingDistancePct() float64 {
	if v, ok := c.averagingDistancePct.Load().(float64); ok {
		return v
	}
	return c.Risk.AveragingDistanceFromLiqPct
}

// SetAveragingDistancePct hot-swaps the averaging distance slider. Safe to
// call concurrently with readers; consumers read a consistent snapshot per
// tick via AveragingDistancePct.
func (c *Config) SetAveragingDistancePct(pct float64) {
	c.averagingDistancePct.Store(pct)
}
