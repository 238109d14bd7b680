package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"maverage/internal/domain"
	"maverage/internal/infra"

	"github.com/shopspring/decimal"
)

func testConfig(t *testing.T, exchange string) *infra.Config {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
app:
  instance: test
  data_dir: %q
exchange:
  name: %s
  api_key: key
  api_secret: c2VjcmV0
  pair: BTC/USD
trading:
  ma_minutes_short: 60
  ma_minutes_long: 600
  stop_loss: true
  stop_loss_in_percent: 2
  apply_leverage: true
  leverage_default: 2
logging:
  dir: %q
`, dir, exchange, filepath.Join(dir, "logs"))
	cfg, err := infra.ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return cfg
}

func TestNewGateway(t *testing.T) {
	for _, name := range []string{"bitmex", "kraken", "liquid", "paper"} {
		t.Run(name, func(t *testing.T) {
			gw, err := NewGateway(testConfig(t, name))
			if err != nil {
				t.Fatalf("NewGateway failed: %v", err)
			}
			if gw.Name() != name {
				t.Errorf("Name() = %q, want %q", gw.Name(), name)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		cfg := testConfig(t, "paper")
		cfg.Exchange.Name = "ftx"
		_, err := NewGateway(cfg)
		var cerr *domain.ConfigError
		if !errors.As(err, &cerr) || cerr.Field != "exchange.name" {
			t.Errorf("expected a config error on exchange.name, got %v", err)
		}
	})
}

func TestEngineConfig(t *testing.T) {
	t.Run("bitmex resets leverage", func(t *testing.T) {
		b := &Bootstrap{Config: testConfig(t, "bitmex")}
		ec := b.EngineConfig(true)
		if !ec.ResetLeverage || !ec.Reset {
			t.Errorf("expected leverage and action reset, got %+v", ec)
		}
		if ec.OrderAdjust != 90*time.Second || ec.LoopMin != 110*time.Second || ec.LoopMax != 130*time.Second {
			t.Errorf("unexpected durations %s %s %s", ec.OrderAdjust, ec.LoopMin, ec.LoopMax)
		}
		if ec.PostTradePause != 300*time.Second {
			t.Errorf("PostTradePause = %s", ec.PostTradePause)
		}
		if !ec.StopLoss || !ec.StopLossPercent.Equal(decimal.NewFromInt(2)) {
			t.Errorf("stop loss not mapped: %+v", ec)
		}
		if !ec.Sizing.ApplyLeverage || !ec.Sizing.Leverage.Equal(decimal.NewFromInt(2)) {
			t.Errorf("sizing not mapped: %+v", ec.Sizing)
		}
		if ec.Pair.Base != "BTC" || ec.Pair.Quote != "USD" {
			t.Errorf("Pair = %+v", ec.Pair)
		}
		if !strings.HasSuffix(ec.DumpPath, "test.dump.json") {
			t.Errorf("DumpPath = %q", ec.DumpPath)
		}
	})

	t.Run("kraken keeps leverage", func(t *testing.T) {
		b := &Bootstrap{Config: testConfig(t, "kraken")}
		if b.EngineConfig(false).ResetLeverage {
			t.Error("only bitmex switches to cross margin at start")
		}
	})
}

func TestBootstrap_InitializePaper(t *testing.T) {
	cfg := testConfig(t, "paper")
	path := filepath.Join(cfg.App.DataDir, "test.yaml")
	content := fmt.Sprintf("app:\n  data_dir: %q\nexchange:\n  name: paper\ntrading:\n  ma_minutes_short: 20\n  ma_minutes_long: 60\nlogging:\n  dir: %q\n",
		cfg.App.DataDir, cfg.Logging.Dir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBootstrap(path)
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer b.Close()

	if b.Config.App.Instance != "test" {
		t.Errorf("instance from file name = %q", b.Config.App.Instance)
	}
	if b.Policy.Name() != "bitmex" {
		t.Errorf("paper trades with the bitmex policy, got %q", b.Policy.Name())
	}

	rep, err := b.Reporter(context.Background(), b.Strategy())
	if err != nil || rep != nil {
		t.Errorf("expected no reporter without reports, got %v %v", rep, err)
	}

	ctx := context.Background()
	at := time.Date(2024, 3, 2, 14, 20, 0, 0, time.UTC)
	if err := b.Storage.RecordRate(ctx, at, decimal.NewFromInt(40000)); err != nil {
		t.Fatal(err)
	}
	csvPath, n, err := b.DumpRates(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DumpRates = %d, %v", n, err)
	}
	data, _ := os.ReadFile(csvPath)
	if string(data) != "2024-03-02 14:20:00;40000\n" {
		t.Errorf("unexpected dump %q", data)
	}

	if err := b.RateRecorder().Record(ctx, at.Add(10*time.Minute)); err != nil {
		t.Errorf("recording against the paper exchange failed: %v", err)
	}
}
