package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

const validYAML = `
app:
  instance: btc-bitmex
exchange:
  name: bitmex
  api_key: key
  api_secret: secret
  test: true
  pair: BTC/USD
trading:
  short_in_percent: 50
  ma_minutes_short: 60
  ma_minutes_long: 1440
  stop_loss: true
  stop_loss_in_percent: 5
  trade_advantage_in_percent: 0.018
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(validYAML))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Trading.TradeTrials != 5 || cfg.Trading.OrderAdjustSeconds != 90 {
		t.Errorf("unexpected order defaults: %d trials, %ds", cfg.Trading.TradeTrials, cfg.Trading.OrderAdjustSeconds)
	}
	if cfg.Trading.LoopMinSeconds != 110 || cfg.Trading.LoopMaxSeconds != 130 {
		t.Errorf("unexpected loop defaults %d..%d", cfg.Trading.LoopMinSeconds, cfg.Trading.LoopMaxSeconds)
	}
	if !cfg.Trading.TradeAdvantageInPercent.Equal(decimal.RequireFromString("0.018")) {
		t.Errorf("Expected trade advantage 0.018, got %s", cfg.Trading.TradeAdvantageInPercent)
	}
	if cfg.Rates.IntervalMinutes != 10 || cfg.Rates.Database != "mamaster.db" {
		t.Errorf("unexpected rates defaults %+v", cfg.Rates)
	}
	if cfg.Pair().Quote != "USD" {
		t.Errorf("Expected quote USD, got %s", cfg.Pair().Quote)
	}
	if cfg.InstancePath(".act") != filepath.Join(".", "btc-bitmex.act") {
		t.Errorf("unexpected marker path %s", cfg.InstancePath(".act"))
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	t.Setenv("MAVERAGE_API_KEY", "env-key")
	t.Setenv("MAVERAGE_MAIL_PASSWORD", "env-pass")

	cfg, err := ParseConfig([]byte(validYAML))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Exchange.APIKey != "env-key" {
		t.Errorf("Expected env api key, got %s", cfg.Exchange.APIKey)
	}
	if cfg.Report.Password != "env-pass" {
		t.Errorf("Expected env mail password, got %s", cfg.Report.Password)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown exchange", func(c *Config) { c.Exchange.Name = "mtgox" }, "exchange.name"},
		{"missing key", func(c *Config) { c.Exchange.APIKey = "" }, "exchange.api_key"},
		{"bad pair", func(c *Config) { c.Exchange.Pair = "BTCUSD" }, "exchange.pair"},
		{"short above 100", func(c *Config) { c.Trading.ShortInPercent = decimal.NewFromInt(101) }, "trading.short_in_percent"},
		{"stop without percent", func(c *Config) { c.Trading.StopLossInPercent = decimal.Zero }, "trading.stop_loss_in_percent"},
		{"no trials", func(c *Config) { c.Trading.TradeTrials = 0 }, "trading.trade_trials"},
		{"report without mail", func(c *Config) { c.Report.Daily = true }, "report"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := ParseConfig([]byte(validYAML))
			tt.mutate(cfg)
			err := cfg.Validate()
			var cerr *domain.ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cerr.Field)
			}
			if cerr.IsRetriable() {
				t.Error("ConfigError should never be retriable")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
		if !errors.Is(err, domain.ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("instance from file name", func(t *testing.T) {
		path := filepath.Join(dir, "eth-kraken.yaml")
		content := "exchange:\n  name: paper\ntrading:\n  ma_minutes_short: 10\n  ma_minutes_long: 60\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.App.Instance != "eth-kraken" {
			t.Errorf("Expected instance eth-kraken, got %s", cfg.App.Instance)
		}
	})
}
