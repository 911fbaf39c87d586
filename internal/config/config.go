package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProductionBaseURL = "https://api.upstox.com/v2"
	SandboxBaseURL    = "https://api.sandbox.upstox.com/v2"
	AuthDialogURL     = "https://api.upstox.com/v2/login/authorization/dialog"
	TokenURL          = "https://api.upstox.com/v2/login/authorization/token"
)

type Config struct {
	Upstox    UpstoxConfig    `yaml:"upstox"`
	Transport TransportConfig `yaml:"transport"`
	Risk      RiskConfig      `yaml:"risk"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Loop      LoopConfig      `yaml:"loop"`
	Journal   JournalConfig   `yaml:"journal"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

type UpstoxConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	Environment  string `yaml:"environment"`
	Scope        string `yaml:"scope"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	TokenFile    string `yaml:"token_file"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	// BaseURL overrides the environment-derived API root.
	BaseURL string `yaml:"base_url"`
}

// APIBaseURL resolves the REST root for the configured environment.
func (u UpstoxConfig) APIBaseURL() string {
	if u.BaseURL != "" {
		return strings.TrimRight(u.BaseURL, "/")
	}
	if strings.EqualFold(u.Environment, "sandbox") {
		return SandboxBaseURL
	}
	return ProductionBaseURL
}

type TransportConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms"`
	MaxAttempts   int `yaml:"max_attempts"`
	BaseDelayMs   int `yaml:"base_delay_ms"`
	TimeoutMs     int `yaml:"timeout_ms"`
}

func (t TransportConfig) MinInterval() time.Duration {
	return time.Duration(t.MinIntervalMs) * time.Millisecond
}

func (t TransportConfig) BaseDelay() time.Duration {
	return time.Duration(t.BaseDelayMs) * time.Millisecond
}

func (t TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// RiskConfig holds the entry rules and sizing limits. Percentages are
// expressed as whole numbers (20 means 20%).
type RiskConfig struct {
	MaxPumpPercent       float64 `yaml:"max_pump_percent"`
	MinPullbackPercent   float64 `yaml:"min_pullback_percent"`
	MaxPullbackPercent   float64 `yaml:"max_pullback_percent"`
	MinLiquidity         float64 `yaml:"min_liquidity"`
	StopLossPercent      float64 `yaml:"stop_loss_percent"`
	MaxPositionPercent   float64 `yaml:"max_position_percent"`
	MaxPositionAbsolute  float64 `yaml:"max_position_absolute"`
	MaxPortfolioPerAsset float64 `yaml:"max_portfolio_per_asset"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	MaxLossesPerDay      int     `yaml:"max_losses_per_day"`
	MaxDailyLossPercent  float64 `yaml:"max_daily_loss_percent"`
	Capital              float64 `yaml:"capital"`
	// Per-trade sizing used by strategies.
	MaxRiskPercent    float64 `yaml:"max_risk_percent"`
	MaxCapitalPercent float64 `yaml:"max_capital_percent"`
}

type StrategyConfig struct {
	Enabled          []string `yaml:"enabled"`
	Consensus        int      `yaml:"consensus"`
	RSIPeriod        int      `yaml:"rsi_period"`
	RSIOversold      float64  `yaml:"rsi_oversold"`
	MAShort          int      `yaml:"ma_short"`
	MALong           int      `yaml:"ma_long"`
	HistoryInterval  string   `yaml:"history_interval"`
	HistoryLookback  int      `yaml:"history_lookback_days"`
	HistoryWindow    int      `yaml:"history_window"`
	Funds            float64  `yaml:"funds"`
	UseAccountFunds  bool     `yaml:"use_account_funds"`
	SingleVoteFactor float64  `yaml:"single_vote_factor"`
}

type WatchItem struct {
	Symbol        string `yaml:"symbol"`
	InstrumentKey string `yaml:"instrument_key"`
}

type LoopConfig struct {
	IntervalSec int         `yaml:"interval_sec"`
	Watchlist   []WatchItem `yaml:"watchlist"`
	Product     string      `yaml:"product"`
	OrderType   string      `yaml:"order_type"`
	Exchange    string      `yaml:"exchange"`
	DryRun      bool        `yaml:"dry_run"`
}

func (l LoopConfig) Interval() time.Duration {
	return time.Duration(l.IntervalSec) * time.Second
}

type JournalConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type StreamConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Upstox: UpstoxConfig{
			RedirectURI: "http://localhost:8000/callback",
			Environment: "sandbox",
			Scope:       "orders holdings user",
			TokenFile:   "data/upstox_token.json",
			AuthURL:     AuthDialogURL,
			TokenURL:    TokenURL,
		},
		Transport: TransportConfig{
			MinIntervalMs: 100,
			MaxAttempts:   3,
			BaseDelayMs:   1000,
			TimeoutMs:     10000,
		},
		Risk: RiskConfig{
			MaxPumpPercent:       200,
			MinPullbackPercent:   20,
			MaxPullbackPercent:   40,
			MinLiquidity:         50000,
			StopLossPercent:      20,
			MaxPositionPercent:   10,
			MaxPositionAbsolute:  5000,
			MaxPortfolioPerAsset: 10,
			MaxTradesPerDay:      3,
			MaxLossesPerDay:      1,
			MaxDailyLossPercent:  5,
			Capital:              10000,
			MaxRiskPercent:       2,
			MaxCapitalPercent:    25,
		},
		Strategy: StrategyConfig{
			Enabled:          []string{"trend_pullback", "breakout", "rsi_mean_reversion", "ma_crossover"},
			Consensus:        2,
			RSIPeriod:        14,
			RSIOversold:      30,
			MAShort:          10,
			MALong:           30,
			HistoryInterval:  "day",
			HistoryLookback:  90,
			HistoryWindow:    120,
			Funds:            3786.89,
			UseAccountFunds:  true,
			SingleVoteFactor: 0.7,
		},
		Loop: LoopConfig{
			IntervalSec: 300,
			Product:     "D",
			OrderType:   "MARKET",
			Exchange:    "NSE",
		},
		Journal: JournalConfig{
			Backend: "sqlite",
			Path:    "data/journal.db",
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Port: 8080},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("UPSTOX_API_KEY", &c.Upstox.APIKey)
	str("UPSTOX_API_SECRET", &c.Upstox.APISecret)
	str("UPSTOX_REDIRECT_URI", &c.Upstox.RedirectURI)
	str("UPSTOX_ENVIRONMENT", &c.Upstox.Environment)
	str("UPSTOX_ACCESS_TOKEN", &c.Upstox.AccessToken)
	str("UPSTOX_REFRESH_TOKEN", &c.Upstox.RefreshToken)
	str("UPSTOX_TOKEN_FILE", &c.Upstox.TokenFile)
	str("LOG_LEVEL", &c.Logging.Level)

	float("MAX_PUMP_PERCENTAGE", &c.Risk.MaxPumpPercent)
	float("MIN_PULLBACK_PERCENT", &c.Risk.MinPullbackPercent)
	float("MAX_PULLBACK_PERCENT", &c.Risk.MaxPullbackPercent)
	float("MIN_LIQUIDITY_USD", &c.Risk.MinLiquidity)
	float("STOP_LOSS_PERCENT", &c.Risk.StopLossPercent)
	float("MAX_POSITION_PERCENT", &c.Risk.MaxPositionPercent)
	float("MAX_POSITION_USD", &c.Risk.MaxPositionAbsolute)
	float("MAX_PORTFOLIO_PER_ASSET", &c.Risk.MaxPortfolioPerAsset)
	integer("MAX_TRADES_PER_DAY", &c.Risk.MaxTradesPerDay)
	integer("MAX_LOSSES_PER_DAY", &c.Risk.MaxLossesPerDay)
	float("MAX_DAILY_LOSS_PERCENT", &c.Risk.MaxDailyLossPercent)

	return errors.Join(errs...)
}

// Validate rejects settings the components cannot work with.
func (c *Config) Validate() error {
	var errs []error
	r := c.Risk
	if r.MinPullbackPercent < 0 || r.MaxPullbackPercent < r.MinPullbackPercent {
		errs = append(errs, fmt.Errorf("pullback band [%v, %v] is invalid", r.MinPullbackPercent, r.MaxPullbackPercent))
	}
	if r.StopLossPercent <= 0 || r.StopLossPercent >= 100 {
		errs = append(errs, fmt.Errorf("stop_loss_percent must be in (0, 100), got %v", r.StopLossPercent))
	}
	if r.MaxPositionPercent <= 0 || r.MaxPositionAbsolute <= 0 {
		errs = append(errs, errors.New("position caps must be positive"))
	}
	if r.MaxTradesPerDay < 0 || r.MaxLossesPerDay < 0 {
		errs = append(errs, errors.New("daily ceilings must not be negative"))
	}
	if r.MaxRiskPercent <= 0 || r.MaxCapitalPercent <= 0 {
		errs = append(errs, errors.New("per-trade risk limits must be positive"))
	}
	if c.Transport.MaxAttempts < 1 {
		errs = append(errs, errors.New("transport.max_attempts must be at least 1"))
	}
	if c.Strategy.Consensus < 1 {
		errs = append(errs, errors.New("strategy.consensus must be at least 1"))
	}
	if c.Strategy.MAShort >= c.Strategy.MALong {
		errs = append(errs, fmt.Errorf("ma_short (%d) must be below ma_long (%d)", c.Strategy.MAShort, c.Strategy.MALong))
	}
	if c.Loop.IntervalSec <= 0 {
		errs = append(errs, errors.New("loop.interval_sec must be positive"))
	}
	switch c.Journal.Backend {
	case "sqlite", "jsonl":
	default:
		errs = append(errs, fmt.Errorf("unknown journal backend %q", c.Journal.Backend))
	}
	return errors.Join(errs...)
}
