// Package config loads and validates the YAML configuration for the
// autostock trading system.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for autostock.
type Config struct {
	Symbols      []string       `yaml:"symbols"`
	Risk         RiskConfig     `yaml:"risk"`
	Strategy     StrategyConfig `yaml:"strategy"`
	Combo        ComboConfig    `yaml:"strategy_combo"`
	Backtest     BacktestConfig `yaml:"backtest"`
	Broker       BrokerConfig   `yaml:"broker"`
	Capital      CapitalConfig  `yaml:"capital"`
	Timezone     string         `yaml:"timezone"`
	DatabasePath string         `yaml:"database_path"`
	Logging      Logging        `yaml:"logging"`
}

// RiskConfig holds position sizing and circuit-breaker thresholds.
type RiskConfig struct {
	MaxPositionPct          float64 `yaml:"max_position_pct"`
	StopLossPct             float64 `yaml:"stop_loss_pct"`
	SymbolDailyLossPct      float64 `yaml:"symbol_daily_loss_pct"`
	AccountDailyDrawdownPct float64 `yaml:"account_daily_drawdown_pct"`
	MaxOpenPositions        int     `yaml:"max_open_positions"`
	MaxConsecutiveLosses    int     `yaml:"max_consecutive_losses"`
}

// StrategyConfig holds the moving-average windows and data-fetch parameters.
// Duration and BarSize are opaque strings interpreted only by the broker.
type StrategyConfig struct {
	ShortWindow         int    `yaml:"short_window"`
	LongWindow          int    `yaml:"long_window"`
	BarSize             string `yaml:"bar_size"`
	Duration            string `yaml:"duration"`
	LoopIntervalSeconds int    `yaml:"loop_interval_seconds"`
}

// RSIConfig holds the RSI sub-strategy parameters.
type RSIConfig struct {
	Window     int     `yaml:"window"`
	Oversold   float64 `yaml:"oversold"`
	Overbought float64 `yaml:"overbought"`
}

// ComboConfig selects which sub-strategies vote and how votes are combined.
type ComboConfig struct {
	EnabledStrategies []string           `yaml:"enabled_strategies"`
	CombinationMode   string             `yaml:"combination_mode"`
	DecisionThreshold float64            `yaml:"decision_threshold"`
	Weights           map[string]float64 `yaml:"weights"`
	RSI               RSIConfig          `yaml:"rsi"`
}

// BacktestConfig holds simulation execution parameters.
type BacktestConfig struct {
	Mode               string  `yaml:"mode"`
	SlippageBps        float64 `yaml:"slippage_bps"`
	CommissionPerOrder float64 `yaml:"commission_per_order"`
	MinOrderNotional   float64 `yaml:"min_order_notional"`
}

// BrokerConfig holds credentials and endpoints for the Alpaca broker API.
type BrokerConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	PaperMode bool   `yaml:"paper_mode"`
}

// CapitalConfig caps the capital the system may deploy; backtests use it as
// the default initial capital.
type CapitalConfig struct {
	MaxDeployUSD float64 `yaml:"max_deploy_usd"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest simulation modes.
const (
	ModePortfolio = "portfolio"
	ModePerSymbol = "per-symbol"
)

// Combination modes.
const (
	ComboPriority  = "priority"
	ComboUnanimous = "unanimous"
	ComboVote      = "vote"
	ComboWeighted  = "weighted"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides and defaults, and validates the result.
// Validation failures here are fatal: a bad configuration never reaches the
// simulator or the live engine.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOSTOCK_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Broker.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Broker.DataURL = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "data/autostock.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Combo.CombinationMode == "" {
		cfg.Combo.CombinationMode = ComboWeighted
	}
	if len(cfg.Combo.EnabledStrategies) == 0 {
		cfg.Combo.EnabledStrategies = []string{"ma"}
	}
	if cfg.Backtest.Mode == "" {
		cfg.Backtest.Mode = ModePerSymbol
	}
	if cfg.Risk.MaxOpenPositions == 0 {
		cfg.Risk.MaxOpenPositions = len(cfg.Symbols)
	}
	if cfg.Capital.MaxDeployUSD == 0 {
		cfg.Capital.MaxDeployUSD = 100_000
	}
}

// Validate reports configuration-shape errors. These are raised once at
// startup and are never per-bar recoverable conditions.
func (c *Config) Validate() error {
	if c.Strategy.ShortWindow < 1 {
		return fmt.Errorf("strategy: short_window must be at least 1, got %d", c.Strategy.ShortWindow)
	}
	if c.Strategy.ShortWindow >= c.Strategy.LongWindow {
		return fmt.Errorf("strategy: short_window (%d) must be smaller than long_window (%d)",
			c.Strategy.ShortWindow, c.Strategy.LongWindow)
	}
	for _, name := range c.Combo.EnabledStrategies {
		switch name {
		case "ma":
		case "rsi":
			if c.Combo.RSI.Window <= 0 {
				return fmt.Errorf("strategy_combo: rsi window must be positive, got %d", c.Combo.RSI.Window)
			}
		default:
			return fmt.Errorf("strategy_combo: unknown strategy %q", name)
		}
	}
	switch c.Combo.CombinationMode {
	case ComboPriority, ComboUnanimous, ComboVote, ComboWeighted:
	default:
		return fmt.Errorf("strategy_combo: unknown combination_mode %q", c.Combo.CombinationMode)
	}
	switch c.Backtest.Mode {
	case ModePortfolio, ModePerSymbol:
	default:
		return fmt.Errorf("backtest: unknown mode %q", c.Backtest.Mode)
	}
	return nil
}

// Weight returns the configured weight for a strategy, defaulting to 1.0.
func (c *ComboConfig) Weight(name string) float64 {
	if w, ok := c.Weights[name]; ok {
		return w
	}
	return 1.0
}
