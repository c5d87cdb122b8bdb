package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
)

func validConfig() Config {
	cfg := defaults()
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	return cfg
}

func TestValidateConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":        func(c *Config) { c.Mode = "stream" },
		"credentials": func(c *Config) { c.APISecret = "" },
		"schedule":    func(c *Config) { c.Schedule = "every day" },
		"order type":  func(c *Config) { c.OrderType = "trailing" },
		"tif":         func(c *Config) { c.TimeInForce = "opg" },
		"notional":    func(c *Config) { c.MaxNotional = decimal.NewFromInt(10); c.MinNotional = decimal.NewFromInt(20) },
		"stop loss":   func(c *Config) { c.StopLossPct = 1 },
		"increment":   func(c *Config) { c.Increments.Default = decimal.Zero },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateConfigAcceptsValidConfig(t *testing.T) {
	if err := validate(validConfig()); err != nil {
		t.Fatalf("expected config to be valid, got %v", err)
	}
}

func TestValidateSkipsScheduleForSingleRun(t *testing.T) {
	cfg := validConfig()
	cfg.Schedule = ""
	cfg.Once = true
	if err := validate(cfg); err != nil {
		t.Fatalf("expected config to be valid, got %v", err)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	configContents := `{
  "mode": "paper",
  "strategy": "congress",
  "strategy_params": {"days_to_hold": 14},
  "max_notional": "500",
  "log_level": "debug",
  "settle_delay": "10s",
  "increments": {"by_class": {"crypto": "0.0001"}, "by_symbol": {"btc/usd": "0.00001"}}
}`
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")
	t.Setenv("STRATBOT_LOG_LEVEL", "warn")

	cfg, err := LoadArgs([]string{
		"--env-file", "",
		"--config", configPath,
		"--order-type", "limit",
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Mode != ModePaper {
		t.Fatalf("expected mode from file, got %q", cfg.Mode)
	}
	if cfg.Strategy.Name != "congress" || string(cfg.Strategy.Params) != `{"days_to_hold": 14}` {
		t.Fatalf("expected strategy from file, got %+v", cfg.Strategy)
	}
	if !cfg.MaxNotional.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected max notional from file, got %s", cfg.MaxNotional)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected log level from env, got %q", cfg.LogLevel)
	}
	if cfg.OrderType != "limit" {
		t.Fatalf("expected order type from CLI, got %q", cfg.OrderType)
	}
	if cfg.SettleDelay != 10*time.Second {
		t.Fatalf("expected settle delay from file, got %s", cfg.SettleDelay)
	}
	if cfg.BaseURL != PaperBaseURL {
		t.Fatalf("expected paper base url, got %q", cfg.BaseURL)
	}
	if got := cfg.Increments.Increment(asset.NewCrypto("ETH", "USD")); got.String() != "0.0001" {
		t.Fatalf("expected crypto increment from file, got %s", got)
	}
	if got := cfg.Increments.Increment(asset.NewCrypto("BTC", "USD")); got.String() != "0.00001" {
		t.Fatalf("expected symbol increment from file, got %s", got)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("expected API key from env, got %q", cfg.APIKey)
	}
}

func TestLoadCLIStrategyDropsFileParams(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"strategy":"congress","strategy_params":{"days_to_hold":14}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APCA_API_KEY_ID", "k")
	t.Setenv("APCA_API_SECRET_KEY", "s")

	cfg, err := LoadArgs([]string{"--env-file", "", "--config", configPath, "--strategy", "momentum", "--once"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Strategy.Name != "momentum" || cfg.Strategy.Params != nil {
		t.Fatalf("expected CLI strategy without params, got %+v", cfg.Strategy)
	}
	if !cfg.Once {
		t.Fatalf("expected once from CLI")
	}
}

func TestLoadDryRunDisablesSettleDelay(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "k")
	t.Setenv("APCA_API_SECRET_KEY", "s")

	cfg, err := LoadArgs([]string{"--env-file", "", "--mode", "dry_run", "--settle-delay", "3s"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SettleDelay != 0 {
		t.Fatalf("expected no settle delay in dry run, got %s", cfg.SettleDelay)
	}
}

func TestLoadLiveUsesLiveEndpoint(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "k")
	t.Setenv("APCA_API_SECRET_KEY", "s")

	cfg, err := LoadArgs([]string{"--env-file", "", "--mode", "live"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BaseURL != LiveBaseURL {
		t.Fatalf("expected live base url, got %q", cfg.BaseURL)
	}
}
