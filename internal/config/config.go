package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/rebalance"
	"stratbot/internal/strategy"
)

type Mode string

const (
	ModeLive   Mode = "live"
	ModePaper  Mode = "paper"
	ModeDryRun Mode = "dry_run"
)

const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
)

type Config struct {
	Mode          Mode
	Strategy      strategy.Spec
	Schedule      string
	Once          bool
	Quote         string
	Feed          string
	OrderType     string
	TimeInForce   string
	ExtendedHours bool
	TakeProfitPct float64
	StopLossPct   float64
	MaxNotional   decimal.Decimal
	MinNotional   decimal.Decimal
	SettleDelay   time.Duration
	Increments    rebalance.IncrementTable
	KillSwitch    bool
	// Skip cycles while the equity market is closed. Allocations that only
	// touch crypto are not gated.
	RequireOpen     bool
	LiquidateOnExit bool
	DecisionsPath   string
	CheckpointPath  string
	CongressDBPath  string
	FREDBaseURL     string
	QuiverBaseURL   string
	QuiverToken     string
	RedditAgent     string
	LogLevel        string
	LogPretty       bool
	BaseURL         string
	APIKey          string
	APISecret       string
}

// fileConfig mirrors the JSON config file. Pointers distinguish absent keys
// from zero values.
type fileConfig struct {
	Mode            *string         `json:"mode"`
	Strategy        *string         `json:"strategy"`
	StrategyParams  json.RawMessage `json:"strategy_params"`
	Schedule        *string         `json:"schedule"`
	Quote           *string         `json:"quote"`
	Feed            *string         `json:"feed"`
	OrderType       *string         `json:"order_type"`
	TimeInForce     *string         `json:"time_in_force"`
	ExtendedHours   *bool           `json:"extended_hours"`
	TakeProfitPct   *float64        `json:"take_profit_pct"`
	StopLossPct     *float64        `json:"stop_loss_pct"`
	MaxNotional     *string         `json:"max_notional"`
	MinNotional     *string         `json:"min_notional"`
	SettleDelay     *string         `json:"settle_delay"`
	Increments      *fileIncrements `json:"increments"`
	KillSwitch      *bool           `json:"kill_switch"`
	RequireOpen     *bool           `json:"require_market_open"`
	LiquidateOnExit *bool           `json:"liquidate_on_shutdown"`
	DecisionsPath   *string         `json:"decisions_path"`
	CheckpointPath  *string         `json:"checkpoint_path"`
	CongressDBPath  *string         `json:"congress_db_path"`
	FREDBaseURL     *string         `json:"fred_base_url"`
	QuiverBaseURL   *string         `json:"quiver_base_url"`
	RedditAgent     *string         `json:"reddit_user_agent"`
	LogLevel        *string         `json:"log_level"`
	LogPretty       *bool           `json:"log_pretty"`
}

type fileIncrements struct {
	Default  *decimal.Decimal           `json:"default"`
	ByClass  map[string]decimal.Decimal `json:"by_class"`
	BySymbol map[string]decimal.Decimal `json:"by_symbol"`
}

func defaults() Config {
	return Config{
		Mode:           ModeDryRun,
		Strategy:       strategy.Spec{Name: "custom_etf"},
		Schedule:       "0 50 15 * * MON-FRI",
		Quote:          "USD",
		Feed:           "iex",
		OrderType:      "market",
		TimeInForce:    "day",
		SettleDelay:    5 * time.Second,
		Increments:     rebalance.DefaultIncrements(),
		RequireOpen:    true,
		DecisionsPath:  "decisions.ndjson",
		CheckpointPath: "checkpoint.json",
		CongressDBPath: "data/congress.db",
		LogLevel:       "info",
	}
}

func Load() (Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs resolves configuration with precedence flags > environment >
// config file > defaults.
func LoadArgs(args []string) (Config, error) {
	cfg := defaults()

	flags := flag.NewFlagSet("bot", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to JSON config file")
	envFile := flags.String("env-file", ".env", "path to .env file")
	mode := flags.String("mode", string(cfg.Mode), "run mode: live, paper or dry_run")
	strategyName := flags.String("strategy", cfg.Strategy.Name, "strategy name: "+strings.Join(strategy.Names(), ", "))
	schedule := flags.String("schedule", cfg.Schedule, "cron schedule with seconds field")
	once := flags.Bool("once", false, "run a single cycle and exit")
	feed := flags.String("feed", cfg.Feed, "market data feed: iex or sip")
	orderType := flags.String("order-type", cfg.OrderType, "order type: market, limit, stop or stop_limit")
	tif := flags.String("time-in-force", cfg.TimeInForce, "time in force: day, gtc, ioc or fok")
	maxNotional := flags.String("max-notional", "0", "max notional per order, 0 disables")
	settleDelay := flags.Duration("settle-delay", cfg.SettleDelay, "wait between sells and buys")
	killSwitch := flags.Bool("kill-switch", false, "if true, never place orders")
	liquidate := flags.Bool("liquidate-on-shutdown", false, "close all positions on SIGINT/SIGTERM")
	decisionsPath := flags.String("decisions-path", cfg.DecisionsPath, "path to decisions log")
	checkpointPath := flags.String("checkpoint-path", cfg.CheckpointPath, "path to checkpoint file")
	logLevel := flags.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	logPretty := flags.Bool("log-pretty", false, "human readable console logs")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	if err := loadDotEnv(*envFile); err != nil {
		return cfg, err
	}

	if *configPath == "" {
		*configPath = os.Getenv("STRATBOT_CONFIG")
	}
	if *configPath != "" {
		if err := applyFile(&cfg, *configPath); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	var flagErr error
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = Mode(*mode)
		case "strategy":
			if *strategyName != cfg.Strategy.Name {
				cfg.Strategy = strategy.Spec{Name: *strategyName}
			}
		case "schedule":
			cfg.Schedule = *schedule
		case "once":
			cfg.Once = *once
		case "feed":
			cfg.Feed = *feed
		case "order-type":
			cfg.OrderType = *orderType
		case "time-in-force":
			cfg.TimeInForce = *tif
		case "max-notional":
			v, err := decimal.NewFromString(*maxNotional)
			if err != nil {
				flagErr = fmt.Errorf("max-notional: %w", err)
				return
			}
			cfg.MaxNotional = v
		case "settle-delay":
			cfg.SettleDelay = *settleDelay
		case "kill-switch":
			cfg.KillSwitch = *killSwitch
		case "liquidate-on-shutdown":
			cfg.LiquidateOnExit = *liquidate
		case "decisions-path":
			cfg.DecisionsPath = *decisionsPath
		case "checkpoint-path":
			cfg.CheckpointPath = *checkpointPath
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-pretty":
			cfg.LogPretty = *logPretty
		}
	})
	if flagErr != nil {
		return cfg, flagErr
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = PaperBaseURL
		if cfg.Mode == ModeLive {
			cfg.BaseURL = LiveBaseURL
		}
	}
	if cfg.Mode == ModeDryRun {
		cfg.SettleDelay = 0
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv loads path when it exists. Variables already in the environment
// win.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	setString(&cfg.Schedule, fc.Schedule)
	setString(&cfg.Quote, fc.Quote)
	setString(&cfg.Feed, fc.Feed)
	setString(&cfg.OrderType, fc.OrderType)
	setString(&cfg.TimeInForce, fc.TimeInForce)
	setString(&cfg.DecisionsPath, fc.DecisionsPath)
	setString(&cfg.CheckpointPath, fc.CheckpointPath)
	setString(&cfg.CongressDBPath, fc.CongressDBPath)
	setString(&cfg.FREDBaseURL, fc.FREDBaseURL)
	setString(&cfg.QuiverBaseURL, fc.QuiverBaseURL)
	setString(&cfg.RedditAgent, fc.RedditAgent)
	setString(&cfg.LogLevel, fc.LogLevel)
	setBool(&cfg.ExtendedHours, fc.ExtendedHours)
	setBool(&cfg.KillSwitch, fc.KillSwitch)
	setBool(&cfg.RequireOpen, fc.RequireOpen)
	setBool(&cfg.LiquidateOnExit, fc.LiquidateOnExit)
	setBool(&cfg.LogPretty, fc.LogPretty)
	if fc.Mode != nil {
		cfg.Mode = Mode(*fc.Mode)
	}
	if fc.Strategy != nil {
		cfg.Strategy.Name = *fc.Strategy
	}
	if len(fc.StrategyParams) > 0 {
		cfg.Strategy.Params = fc.StrategyParams
	}
	if fc.TakeProfitPct != nil {
		cfg.TakeProfitPct = *fc.TakeProfitPct
	}
	if fc.StopLossPct != nil {
		cfg.StopLossPct = *fc.StopLossPct
	}
	if err := setDecimal(&cfg.MaxNotional, fc.MaxNotional, "max_notional"); err != nil {
		return err
	}
	if err := setDecimal(&cfg.MinNotional, fc.MinNotional, "min_notional"); err != nil {
		return err
	}
	if fc.SettleDelay != nil {
		d, err := time.ParseDuration(*fc.SettleDelay)
		if err != nil {
			return fmt.Errorf("settle_delay: %w", err)
		}
		cfg.SettleDelay = d
	}
	if fc.Increments != nil {
		if err := mergeIncrements(&cfg.Increments, *fc.Increments); err != nil {
			return err
		}
	}
	return nil
}

func mergeIncrements(table *rebalance.IncrementTable, fi fileIncrements) error {
	if fi.Default != nil {
		table.Default = *fi.Default
	}
	for name, inc := range fi.ByClass {
		class, err := asset.ParseClass(name)
		if err != nil {
			return fmt.Errorf("increments: %w", err)
		}
		table.ByClass[class] = inc
	}
	for symbol, inc := range fi.BySymbol {
		table.BySymbol[strings.ToUpper(symbol)] = inc
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	cfg.QuiverToken = os.Getenv("QUIVER_API_TOKEN")
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("STRATBOT_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("STRATBOT_STRATEGY"); v != "" && v != cfg.Strategy.Name {
		cfg.Strategy = strategy.Spec{Name: v}
	}
	if v := os.Getenv("STRATBOT_SCHEDULE"); v != "" {
		cfg.Schedule = v
	}
	if v := os.Getenv("STRATBOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STRATBOT_KILL_SWITCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STRATBOT_KILL_SWITCH: %w", err)
		}
		cfg.KillSwitch = b
	}
	return nil
}

func validate(cfg Config) error {
	switch cfg.Mode {
	case ModeLive, ModePaper, ModeDryRun:
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if cfg.Strategy.Name == "" {
		return fmt.Errorf("strategy is required")
	}
	if !cfg.Once {
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(cfg.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
	}
	switch cfg.OrderType {
	case "market", "limit", "stop", "stop_limit":
	default:
		return fmt.Errorf("unsupported order type: %s", cfg.OrderType)
	}
	switch cfg.TimeInForce {
	case "day", "gtc", "ioc", "fok":
	default:
		return fmt.Errorf("unsupported time in force: %s", cfg.TimeInForce)
	}
	if cfg.MaxNotional.IsNegative() || cfg.MinNotional.IsNegative() {
		return fmt.Errorf("notional limits must be >= 0")
	}
	if cfg.MaxNotional.IsPositive() && cfg.MinNotional.GreaterThan(cfg.MaxNotional) {
		return fmt.Errorf("min-notional must be <= max-notional")
	}
	if cfg.TakeProfitPct < 0 || cfg.StopLossPct < 0 || cfg.StopLossPct >= 1 {
		return fmt.Errorf("take_profit_pct must be >= 0 and stop_loss_pct within [0,1)")
	}
	if cfg.SettleDelay < 0 {
		return fmt.Errorf("settle-delay must be >= 0")
	}
	if cfg.Quote == "" {
		return fmt.Errorf("quote is required")
	}
	if err := cfg.Increments.Validate(); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDecimal(dst *decimal.Decimal, v *string, name string) error {
	if v == nil {
		return nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
