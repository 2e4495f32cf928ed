// Package config defines all configuration for the arbitrage scanner.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables. A .env file
// in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration marks a configuration problem. It is fatal at startup.
var ErrConfiguration = errors.New("configuration error")

// Drawdown bases accepted by risk.drawdown_basis.
const (
	DrawdownBasisHighWater = "high_water_mark"
	DrawdownBasisDayStart  = "day_start"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode        string             `mapstructure:"mode"`
	Scanner     ScannerConfig      `mapstructure:"scanner"`
	OddsAPI     OddsAPIConfig      `mapstructure:"odds_api"`
	Stream      StreamConfig       `mapstructure:"stream"`
	Commissions map[string]float64 `mapstructure:"commissions"`
	Risk        RiskConfig         `mapstructure:"risk"`
	Execution   ExecutionConfig    `mapstructure:"execution"`
	Notify      NotifyConfig       `mapstructure:"notify"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Store       StoreConfig        `mapstructure:"store"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Dashboard   DashboardConfig    `mapstructure:"dashboard"`
}

// ScannerConfig controls the scan cycle and which events are considered.
//
//   - Interval: time between cycle starts. Cycles may overlap.
//   - MaxConcurrentCycles: ticks arriving while this many cycles run are skipped.
//   - MaxQuoteAge: quotes older than this are ignored (0 disables).
//   - MinBookmakers: events quoted by fewer distinct bookmakers are skipped.
//   - Workers: detector parallelism across events.
//   - OpportunityTTL: an opportunity already acted on is not acted on again
//     within this window, even if the same prices are still quoted.
type ScannerConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MaxConcurrentCycles int           `mapstructure:"max_concurrent_cycles"`
	MaxQuoteAge         time.Duration `mapstructure:"max_quote_age"`
	MinBookmakers       int           `mapstructure:"min_bookmakers"`
	Workers             int           `mapstructure:"workers"`
	OpportunityTTL      time.Duration `mapstructure:"opportunity_ttl"`
	IncludeKeywords     []string      `mapstructure:"include_keywords"`
	ExcludeKeywords     []string      `mapstructure:"exclude_keywords"`
}

// OddsAPIConfig configures the The Odds API polling source.
type OddsAPIConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Sports     []string      `mapstructure:"sports"`
	Regions    []string      `mapstructure:"regions"`
	Bookmakers []string      `mapstructure:"bookmakers"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StreamConfig configures the exchange price stream (WebSocket push feed).
type StreamConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	URL         string   `mapstructure:"url"`
	BookmakerID string   `mapstructure:"bookmaker_id"`
	EventIDs    []string `mapstructure:"event_ids"`
}

// RiskConfig sets the bankroll policy applied to every opportunity.
//
// Units: MinEdgePercent is in percent (0.8 = 0.8%). MaxStakePercent,
// MaxDailyStakePercent and MaxDailyDrawdownPercent are fractions of the
// bankroll (0.02 = 2%). MaxStakeAbsolute and MinStake are currency amounts.
type RiskConfig struct {
	InitialBankroll           float64 `mapstructure:"initial_bankroll"`
	MaxStakePercent           float64 `mapstructure:"max_stake_percent"`
	MaxStakeAbsolute          float64 `mapstructure:"max_stake_absolute"`
	MinStake                  float64 `mapstructure:"min_stake"`
	MaxDailyStakePercent      float64 `mapstructure:"max_daily_stake_percent"` // 0 disables
	MaxDailyDrawdownPercent   float64 `mapstructure:"max_daily_drawdown_percent"`
	MinEdgePercent            float64 `mapstructure:"min_edge_percent"`
	DrawdownBasis             string  `mapstructure:"drawdown_basis"`
	// DrawdownIncludesCommitted counts outstanding reservations as lost
	// when projecting drawdown.
	DrawdownIncludesCommitted bool    `mapstructure:"drawdown_includes_committed"`
	StakeDecimals             int32   `mapstructure:"stake_decimals"` // minimum currency unit = 10^-StakeDecimals
	Timezone                  string  `mapstructure:"timezone"`       // day boundary for daily resets
}

// Location resolves Timezone, falling back to the process's local zone.
func (r RiskConfig) Location() *time.Location {
	if r.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ExecutionConfig controls how confirmed plans reach the betting backend.
//
//   - ConfirmationWindow: how long a semi_auto plan waits for the operator.
//   - Paper: route every leg to the simulated backend.
//   - Bookmakers: bookmaker ids routed to the HTTP backend.
type ExecutionConfig struct {
	ConfirmationWindow time.Duration `mapstructure:"confirmation_window"`
	Paper              bool          `mapstructure:"paper"`
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Secret             string        `mapstructure:"secret"`
	Passphrase         string        `mapstructure:"passphrase"`
	Bookmakers         []string      `mapstructure:"bookmakers"`
	BetsPerSecond      float64       `mapstructure:"bets_per_second"`
	BetBurst           float64       `mapstructure:"bet_burst"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// NotifyConfig selects which alerts go where.
type NotifyConfig struct {
	Events   []string          `mapstructure:"events"` // empty = all
	Telegram TelegramConfig    `mapstructure:"telegram"`
	Stream   RedisStreamConfig `mapstructure:"stream"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// RedisStreamConfig publishes alerts to a Redis stream and suppresses
// duplicates of the same opportunity within DedupTTL.
type RedisStreamConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Stream   string        `mapstructure:"stream"`
	MaxLen   int64         `mapstructure:"max_len"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig sets where risk state and the opportunity journal are persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the dashboard and operator control server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dry")
	v.SetDefault("scanner.interval", 60*time.Second)
	v.SetDefault("scanner.max_concurrent_cycles", 2)
	v.SetDefault("scanner.max_quote_age", 5*time.Minute)
	v.SetDefault("scanner.min_bookmakers", 2)
	v.SetDefault("scanner.workers", 8)
	v.SetDefault("scanner.opportunity_ttl", 10*time.Minute)
	v.SetDefault("odds_api.base_url", "https://api.the-odds-api.com/v4")
	v.SetDefault("odds_api.regions", []string{"eu", "uk"})
	v.SetDefault("odds_api.timeout", 10*time.Second)
	v.SetDefault("risk.initial_bankroll", 1000.0)
	v.SetDefault("risk.max_stake_percent", 0.02)
	v.SetDefault("risk.max_stake_absolute", 100.0)
	v.SetDefault("risk.min_stake", 2.0)
	v.SetDefault("risk.max_daily_stake_percent", 0.10)
	v.SetDefault("risk.max_daily_drawdown_percent", 0.05)
	v.SetDefault("risk.min_edge_percent", 0.8)
	v.SetDefault("risk.drawdown_basis", DrawdownBasisHighWater)
	v.SetDefault("risk.drawdown_includes_committed", false)
	v.SetDefault("risk.stake_decimals", 2)
	v.SetDefault("execution.confirmation_window", 60*time.Second)
	v.SetDefault("execution.paper", true)
	v.SetDefault("execution.bets_per_second", 2.0)
	v.SetDefault("execution.bet_burst", 4.0)
	v.SetDefault("execution.timeout", 10*time.Second)
	v.SetDefault("notify.telegram.base_url", "https://api.telegram.org")
	v.SetDefault("notify.stream.stream", "arbscan:alerts")
	v.SetDefault("notify.stream.max_len", 10000)
	v.SetDefault("notify.stream.dedup_ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8080)
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARB_ODDS_API_KEY, ARB_EXEC_API_KEY,
// ARB_EXEC_SECRET, ARB_EXEC_PASSPHRASE, ARB_TELEGRAM_TOKEN, ARB_REDIS_PASSWORD.
func Load(path string) (*Config, error) {
	// Missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	setStr(&cfg.OddsAPI.APIKey, "ARB_ODDS_API_KEY")
	setStr(&cfg.Execution.APIKey, "ARB_EXEC_API_KEY")
	setStr(&cfg.Execution.Secret, "ARB_EXEC_SECRET")
	setStr(&cfg.Execution.Passphrase, "ARB_EXEC_PASSPHRASE")
	setStr(&cfg.Notify.Telegram.BotToken, "ARB_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.Telegram.ChatID, "ARB_TELEGRAM_CHAT_ID")
	setStr(&cfg.Redis.Password, "ARB_REDIS_PASSWORD")
	setStr(&cfg.Mode, "ARB_MODE")

	return &cfg, nil
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks all required fields and value ranges. Every error wraps
// ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Mode {
	case "dry", "semi_auto", "auto":
	default:
		return invalid("mode must be one of: dry, semi_auto, auto (got %q)", c.Mode)
	}
	if c.Scanner.Interval <= 0 {
		return invalid("scanner.interval must be > 0")
	}
	if c.Scanner.MaxConcurrentCycles <= 0 {
		return invalid("scanner.max_concurrent_cycles must be > 0")
	}
	if c.Scanner.MaxQuoteAge < 0 {
		return invalid("scanner.max_quote_age must be >= 0")
	}
	if c.Scanner.OpportunityTTL < 0 {
		return invalid("scanner.opportunity_ttl must be >= 0")
	}
	if !c.OddsAPI.Enabled && !c.Stream.Enabled {
		return invalid("at least one odds source (odds_api or stream) must be enabled")
	}
	if c.OddsAPI.Enabled {
		if c.OddsAPI.APIKey == "" {
			return invalid("odds_api.api_key is required (set ARB_ODDS_API_KEY)")
		}
		if len(c.OddsAPI.Sports) == 0 {
			return invalid("odds_api.sports must list at least one sport key")
		}
	}
	if c.Stream.Enabled && (c.Stream.URL == "" || c.Stream.BookmakerID == "") {
		return invalid("stream.url and stream.bookmaker_id are required when stream is enabled")
	}
	for bookmaker, rate := range c.Commissions {
		if rate < 0 || rate >= 1 {
			return invalid("commissions.%s must be in [0, 1), got %v", bookmaker, rate)
		}
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Execution.ConfirmationWindow <= 0 {
		return invalid("execution.confirmation_window must be > 0")
	}
	if !c.Execution.Paper && c.Execution.BaseURL == "" {
		return invalid("execution.base_url is required unless execution.paper is set")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return invalid("notify.telegram requires bot_token and chat_id (set ARB_TELEGRAM_TOKEN)")
	}
	if c.Notify.Stream.Enabled && c.Redis.Addr == "" {
		return invalid("redis.addr is required when notify.stream is enabled")
	}
	return nil
}

// Validate checks the risk policy on its own; the risk engine accepts
// per-call configs and uses this too.
func (r RiskConfig) Validate() error {
	if r.InitialBankroll <= 0 {
		return invalid("risk.initial_bankroll must be > 0")
	}
	if r.MaxStakePercent <= 0 || r.MaxStakePercent > 1 {
		return invalid("risk.max_stake_percent must be in (0, 1]")
	}
	if r.MaxStakeAbsolute <= 0 {
		return invalid("risk.max_stake_absolute must be > 0")
	}
	if r.MinStake < 0 {
		return invalid("risk.min_stake must be >= 0")
	}
	if r.MaxDailyStakePercent < 0 {
		return invalid("risk.max_daily_stake_percent must be >= 0")
	}
	if r.MaxDailyDrawdownPercent <= 0 || r.MaxDailyDrawdownPercent >= 1 {
		return invalid("risk.max_daily_drawdown_percent must be in (0, 1)")
	}
	if r.MinEdgePercent < 0 {
		return invalid("risk.min_edge_percent must be >= 0")
	}
	switch r.DrawdownBasis {
	case DrawdownBasisHighWater, DrawdownBasisDayStart:
	default:
		return invalid("risk.drawdown_basis must be %q or %q", DrawdownBasisHighWater, DrawdownBasisDayStart)
	}
	if r.StakeDecimals < 0 || r.StakeDecimals > 8 {
		return invalid("risk.stake_decimals must be in [0, 8]")
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return invalid("risk.timezone: %v", err)
		}
	}
	return nil
}
