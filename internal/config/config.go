package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	DeepSeek  DeepSeekConfig  `yaml:"deepseek"`
	Trading   TradingConfig   `yaml:"trading"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Web       WebConfig       `yaml:"web"`
	Storage   StorageConfig   `yaml:"storage"`
	Cron      CronConfig      `yaml:"cron"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ExchangeConfig struct {
	RESTBaseURL   string `yaml:"rest_base_url"`
	StreamURL     string `yaml:"stream_url"`
	StreamEnabled bool   `yaml:"stream_enabled"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
}

type DeepSeekConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TradingConfig struct {
	Interval             string   `yaml:"interval"`
	Symbols              []string `yaml:"symbols"`
	Timeframes           []string `yaml:"timeframes"`
	CandleLimit          int      `yaml:"candle_limit"`
	MinConfidence        int      `yaml:"min_confidence"`
	DisableSentiment     bool     `yaml:"disable_sentiment"`
	MaxPriceDeviationPct float64  `yaml:"max_price_deviation_pct"`
	DefaultStopLossPct   float64  `yaml:"default_stop_loss_pct"`
	DefaultTakeProfitPct float64  `yaml:"default_take_profit_pct"`
	RetryWaitSeconds     int      `yaml:"retry_wait_seconds"`
}

type PortfolioConfig struct {
	Name            string  `yaml:"name"`
	StartingCapital float64 `yaml:"starting_capital"`
	ExecutionMode   string  `yaml:"execution_mode"`
}

type RiskConfig struct {
	MaxPositionSizePct         float64 `yaml:"max_position_size_pct"`
	MaxTotalExposurePct        float64 `yaml:"max_total_exposure_pct"`
	MaxDailyLossPct            float64 `yaml:"max_daily_loss_pct"`
	MaxDrawdownPct             float64 `yaml:"max_drawdown_pct"`
	RiskPerTradePct            float64 `yaml:"risk_per_trade_pct"`
	CriticalViolationThreshold int     `yaml:"critical_violation_threshold"`
	WarningRatio               float64 `yaml:"warning_ratio"`
	SlippageTolerancePct       float64 `yaml:"slippage_tolerance_pct"`
}

type ExecutionConfig struct {
	CommissionPct     float64 `yaml:"commission_pct"`
	BaseSlippagePct   float64 `yaml:"base_slippage_pct"`
	MaxSlippagePct    float64 `yaml:"max_slippage_pct"`
	MinLatencyMs      int     `yaml:"min_latency_ms"`
	MaxLatencyMs      int     `yaml:"max_latency_ms"`
	PartialFillRatio  float64 `yaml:"partial_fill_ratio"`
	SimulateLatency   bool    `yaml:"simulate_latency"`
	MinFillPercentage float64 `yaml:"min_fill_percentage"`
}

// ScoringConfig overrides the confidence weight tables. Empty maps keep the defaults.
type ScoringConfig struct {
	TimeframeWeights map[string]float64 `yaml:"timeframe_weights"`
	SentimentPoints  map[string]int     `yaml:"sentiment_points"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type CronConfig struct {
	ReviewSpec   string `yaml:"review_spec"`
	SnapshotSpec string `yaml:"snapshot_spec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw yaml, applies env overrides and defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	setDefaults(cfg)
	off := disabledLimits(data)
	for key, field := range map[string]*float64{
		"max_position_size_pct":  &cfg.Risk.MaxPositionSizePct,
		"max_total_exposure_pct": &cfg.Risk.MaxTotalExposurePct,
		"max_daily_loss_pct":     &cfg.Risk.MaxDailyLossPct,
		"max_drawdown_pct":       &cfg.Risk.MaxDrawdownPct,
	} {
		if off[key] {
			*field = 0
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// disabledLimits returns the risk keys the file sets to an explicit 0. Those
// limits stay off instead of taking their defaults.
func disabledLimits(data []byte) map[string]bool {
	var raw struct {
		Risk map[string]any `yaml:"risk"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil
	}
	out := make(map[string]bool)
	for k, v := range raw.Risk {
		switch n := v.(type) {
		case int:
			out[k] = n == 0
		case float64:
			out[k] = n == 0
		}
	}
	return out
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		cfg.DeepSeek.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Exchange.RESTBaseURL == "" {
		cfg.Exchange.RESTBaseURL = "https://api.binance.com"
	}
	if cfg.Exchange.StreamURL == "" {
		cfg.Exchange.StreamURL = "wss://stream.binance.com:9443/stream"
	}
	if cfg.Exchange.TimeoutSecs == 0 {
		cfg.Exchange.TimeoutSecs = 15
	}
	if cfg.DeepSeek.BaseURL == "" {
		cfg.DeepSeek.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.DeepSeek.Model == "" {
		cfg.DeepSeek.Model = "deepseek-chat"
	}
	if cfg.DeepSeek.TimeoutSeconds == 0 {
		cfg.DeepSeek.TimeoutSeconds = 60
	}
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "15m"
	}
	if len(cfg.Trading.Symbols) == 0 {
		cfg.Trading.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}
	if len(cfg.Trading.Timeframes) == 0 {
		cfg.Trading.Timeframes = []string{"1m", "5m", "15m", "1h", "4h"}
	}
	if cfg.Trading.CandleLimit == 0 {
		cfg.Trading.CandleLimit = 100
	}
	if cfg.Trading.MinConfidence == 0 {
		cfg.Trading.MinConfidence = 60
	}
	if cfg.Trading.MaxPriceDeviationPct == 0 {
		cfg.Trading.MaxPriceDeviationPct = 1.0
	}
	if cfg.Trading.DefaultStopLossPct == 0 {
		cfg.Trading.DefaultStopLossPct = 3.0
	}
	if cfg.Trading.DefaultTakeProfitPct == 0 {
		cfg.Trading.DefaultTakeProfitPct = 6.0
	}
	if cfg.Trading.RetryWaitSeconds == 0 {
		cfg.Trading.RetryWaitSeconds = 30
	}
	if cfg.Portfolio.Name == "" {
		cfg.Portfolio.Name = "default"
	}
	if cfg.Portfolio.StartingCapital == 0 {
		cfg.Portfolio.StartingCapital = 100000
	}
	if cfg.Portfolio.ExecutionMode == "" {
		cfg.Portfolio.ExecutionMode = "REALISTIC"
	}
	cfg.Portfolio.ExecutionMode = strings.ToUpper(cfg.Portfolio.ExecutionMode)
	if cfg.Risk.MaxPositionSizePct == 0 {
		cfg.Risk.MaxPositionSizePct = 5
	}
	if cfg.Risk.MaxTotalExposurePct == 0 {
		cfg.Risk.MaxTotalExposurePct = 50
	}
	if cfg.Risk.MaxDailyLossPct == 0 {
		cfg.Risk.MaxDailyLossPct = 5
	}
	if cfg.Risk.MaxDrawdownPct == 0 {
		cfg.Risk.MaxDrawdownPct = 10
	}
	if cfg.Risk.RiskPerTradePct == 0 {
		cfg.Risk.RiskPerTradePct = 5
	}
	if cfg.Risk.CriticalViolationThreshold == 0 {
		cfg.Risk.CriticalViolationThreshold = 5
	}
	if cfg.Risk.WarningRatio == 0 {
		cfg.Risk.WarningRatio = 0.8
	}
	if cfg.Risk.SlippageTolerancePct == 0 {
		cfg.Risk.SlippageTolerancePct = 0.5
	}
	if cfg.Execution.CommissionPct == 0 {
		cfg.Execution.CommissionPct = 0.1
	}
	if cfg.Execution.BaseSlippagePct == 0 {
		cfg.Execution.BaseSlippagePct = 0.02
	}
	if cfg.Execution.MaxSlippagePct == 0 {
		cfg.Execution.MaxSlippagePct = 1.0
	}
	if cfg.Execution.MinLatencyMs == 0 {
		cfg.Execution.MinLatencyMs = 50
	}
	if cfg.Execution.MaxLatencyMs == 0 {
		cfg.Execution.MaxLatencyMs = 500
	}
	if cfg.Execution.PartialFillRatio == 0 {
		cfg.Execution.PartialFillRatio = 0.1
	}
	if cfg.Execution.MinFillPercentage == 0 {
		cfg.Execution.MinFillPercentage = 50
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/momentum-trader.db"
	}
	if cfg.Cron.ReviewSpec == "" {
		cfg.Cron.ReviewSpec = "0 */1 * * * *"
	}
	if cfg.Cron.SnapshotSpec == "" {
		cfg.Cron.SnapshotSpec = "0 0 * * * *"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.DeepSeek.APIKey == "" {
		return fmt.Errorf("deepseek.api_key is required")
	}
	if _, err := time.ParseDuration(c.Trading.Interval); err != nil {
		return fmt.Errorf("invalid trading.interval %q: %w", c.Trading.Interval, err)
	}
	switch strings.ToUpper(c.Portfolio.ExecutionMode) {
	case "INSTANT", "REALISTIC", "HISTORICAL":
	default:
		return fmt.Errorf("invalid portfolio.execution_mode %q", c.Portfolio.ExecutionMode)
	}
	if c.Portfolio.StartingCapital <= 0 {
		return fmt.Errorf("portfolio.starting_capital must be positive")
	}
	for name, v := range map[string]float64{
		"risk.max_position_size_pct":  c.Risk.MaxPositionSizePct,
		"risk.max_total_exposure_pct": c.Risk.MaxTotalExposurePct,
		"risk.max_daily_loss_pct":     c.Risk.MaxDailyLossPct,
		"risk.max_drawdown_pct":       c.Risk.MaxDrawdownPct,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 100 {
		return fmt.Errorf("trading.min_confidence must be within [0,100]")
	}
	if c.Execution.MinLatencyMs > c.Execution.MaxLatencyMs {
		return fmt.Errorf("execution.min_latency_ms exceeds execution.max_latency_ms")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) TradingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.Interval)
	return d
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.DeepSeek.TimeoutSeconds) * time.Second
}

func (c *Config) RetryWait() time.Duration {
	return time.Duration(c.Trading.RetryWaitSeconds) * time.Second
}

func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.Exchange.TimeoutSecs) * time.Second
}
