package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"maverage/internal/domain"
	"maverage/internal/engine"
	"maverage/internal/event"
	"maverage/internal/execution"
	"maverage/internal/infra"
	"maverage/internal/infra/bitmex"
	"maverage/internal/infra/kraken"
	"maverage/internal/infra/liquid"
	"maverage/internal/infra/storage"
	"maverage/internal/report"
	"maverage/internal/service"
	"maverage/internal/sizing"
	"maverage/internal/strategy"

	"github.com/shopspring/decimal"
)

// Version is shown in the reports and the startup log.
var Version = "1.0.0"

// paperWallet and paperPrice seed the paper exchange.
var (
	paperWallet = decimal.NewFromInt(1)
	paperPrice  = decimal.NewFromInt(10000)
)

// liveTickMaxAge is how old a streamed bid may be before it is ignored.
const liveTickMaxAge = 2 * time.Minute

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config   *infra.Config
	Storage  *storage.Storage
	Metrics  *infra.Metrics
	Gateway  domain.Gateway
	Exchange *execution.Resilient
	Policy   sizing.Policy
	// Quotes is the optional realtime bid stream, nil unless enabled.
	Quotes *bitmex.QuoteWorker
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization (config, logger, DB, exchange)
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping MAverage...", slog.String("version", Version), slog.String("exchange", cfg.Exchange.Name))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.DatabasePath())
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.DatabasePath()))

	// 4. Exchange
	b.Metrics = infra.NewMetrics()
	gw, err := NewGateway(cfg)
	if err != nil {
		return err
	}
	b.Gateway = gw
	b.Exchange = execution.NewResilient(gw, execution.WithRecorder(b.Metrics))
	if b.Policy, err = sizing.New(cfg.Exchange.Name); err != nil {
		return err
	}
	slog.Info("✅ Exchange ready", slog.String("name", gw.Name()), slog.String("pair", cfg.Exchange.Pair))
	return nil
}

// NewGateway creates the gateway of the configured exchange.
func NewGateway(cfg *infra.Config) (domain.Gateway, error) {
	ex := cfg.Exchange
	rateLimit := time.Duration(ex.RateLimitMS) * time.Millisecond

	switch ex.Name {
	case "bitmex":
		return bitmex.New(bitmex.Options{
			APIKey:    ex.APIKey,
			APISecret: ex.APISecret,
			Symbol:    ex.Symbol,
			Pair:      cfg.Pair(),
			BaseURL:   ex.BaseURL,
			Testnet:   ex.Test,
			RateLimit: rateLimit,
			UserAgent: infra.DefaultUserAgent,
		}), nil
	case "kraken":
		return kraken.New(kraken.Options{
			APIKey:        ex.APIKey,
			APISecret:     ex.APISecret,
			Pair:          cfg.Pair(),
			Symbol:        ex.Symbol,
			BaseURL:       ex.BaseURL,
			RateLimit:     rateLimit,
			UserAgent:     infra.DefaultUserAgent,
			Leverage:      cfg.Trading.LeverageDefault,
			ApplyLeverage: cfg.Trading.ApplyLeverage,
		})
	case "liquid":
		return liquid.New(liquid.Options{
			APIKey:        ex.APIKey,
			APISecret:     ex.APISecret,
			Pair:          cfg.Pair(),
			BaseURL:       ex.BaseURL,
			RateLimit:     rateLimit,
			UserAgent:     infra.DefaultUserAgent,
			Leverage:      cfg.Trading.LeverageDefault,
			ApplyLeverage: cfg.Trading.ApplyLeverage,
		}), nil
	case "paper":
		return execution.NewPaperGateway(paperWallet, paperPrice), nil
	default:
		return nil, &domain.ConfigError{Field: "exchange.name", Err: fmt.Errorf("unsupported exchange %q", ex.Name)}
	}
}

// StartQuotes connects the realtime bid stream when live ticks are enabled.
func (b *Bootstrap) StartQuotes(ctx context.Context) {
	if !b.Config.Exchange.LiveTick || b.Config.Exchange.Name != "bitmex" {
		return
	}
	wsURL := b.Config.Exchange.WSURL
	if wsURL == "" && b.Config.Exchange.Test {
		wsURL = bitmex.WSURLTestnet
	}
	b.Quotes = bitmex.NewQuoteWorker(wsURL, b.Config.Exchange.Symbol)
	if err := b.Quotes.Connect(ctx); err != nil {
		slog.Error("Failed to connect quote stream", slog.Any("error", err))
		b.Quotes = nil
		return
	}
	slog.InfoContext(ctx, "✅ QuoteWorker started")
}

// livePrice returns the current bid mixed into the averages, nil when disabled.
func (b *Bootstrap) livePrice() strategy.PriceSource {
	if !b.Config.Trading.IncludeLiveTick {
		return nil
	}
	attempts := b.Config.Rates.PriceAttempts
	return func(ctx context.Context) decimal.Decimal {
		if b.Quotes != nil {
			if price, at, ok := b.Quotes.LastPrice(); ok && time.Since(at) < liveTickMaxAge {
				return price
			}
		}
		return b.Exchange.FetchPriceBounded(ctx, attempts)
	}
}

// Strategy creates the moving average strategy over the recorded rates.
func (b *Bootstrap) Strategy() *strategy.MACrossStrategy {
	t := b.Config.Trading
	return strategy.NewMACrossStrategy(b.Storage, b.livePrice(), t.MAMinutesShort, t.MAMinutesLong, b.Config.Rates.IntervalMinutes)
}

// Markers returns the action marker file of the instance.
func (b *Bootstrap) Markers() *infra.ActionFile {
	return infra.NewActionFile(b.Config.InstancePath(".act"))
}

// EngineConfig maps the configuration to the trading knobs.
func (b *Bootstrap) EngineConfig(reset bool) engine.Config {
	cfg := b.Config
	t := cfg.Trading
	return engine.Config{
		Pair: cfg.Pair(),
		Sizing: sizing.Params{
			ShortPercent:       t.ShortInPercent,
			Leverage:           t.LeverageDefault,
			ApplyLeverage:      t.ApplyLeverage,
			MinOrderSize:       t.MinOrderSize,
			FeeDivisor:         t.FeeDivisor,
			ExchangeFeeDivisor: t.ExchangeFeeDivisor,
		},
		StopLoss:              t.StopLoss,
		StopLossPercent:       t.StopLossInPercent,
		NoActionAtLoss:        t.NoActionAtLoss,
		NativeTrailingStop:    cfg.Exchange.NativeTrailingStop,
		TradeTrials:           t.TradeTrials,
		OrderAdjust:           time.Duration(t.OrderAdjustSeconds) * time.Second,
		PollInterval:          engine.DefaultPollInterval,
		TradeAdvantagePercent: t.TradeAdvantageInPercent,
		PriceAttempts:         cfg.Rates.PriceAttempts,
		LoopMin:               time.Duration(t.LoopMinSeconds) * time.Second,
		LoopMax:               time.Duration(t.LoopMaxSeconds) * time.Second,
		PostTradePause:        time.Duration(t.PostTradePauseSeconds) * time.Second,
		ResetLeverage:         t.ApplyLeverage && cfg.Exchange.Name == "bitmex",
		Reset:                 reset,
		DumpPath:              cfg.InstancePath(".dump.json"),
	}
}

// Reporter wires the report pipeline, nil when no report is enabled.
func (b *Bootstrap) Reporter(ctx context.Context, strat strategy.Strategy) (*report.Reporter, error) {
	cfg := b.Config
	if !cfg.Report.Daily && !cfg.Report.Trade {
		return nil, nil
	}
	mailer, err := report.NewSMTPMailer(report.SMTPConfig{
		Host:       cfg.Report.MailServer,
		Port:       cfg.Report.MailPort,
		From:       cfg.Report.Sender,
		Password:   cfg.Report.Password,
		Recipients: cfg.Report.Recipients,
	})
	if err != nil {
		return nil, &domain.ConfigError{Field: "report", Err: err}
	}
	stats, err := report.LoadDailyStatistics(ctx, b.Storage, cfg.App.Instance)
	if err != nil {
		return nil, err
	}

	host, _ := os.Hostname()
	t := cfg.Trading
	builder := &report.Builder{
		Instance: cfg.App.Instance,
		Host:     host,
		Version:  Version,
		Info:     cfg.Report.Info,
		URL:      cfg.Report.URL,
		Settings: report.Settings{
			DailyReport:             cfg.Report.Daily,
			TradeReport:             cfg.Report.Trade,
			ShortInPercent:          t.ShortInPercent,
			MAMinutesShort:          t.MAMinutesShort,
			MAMinutesLong:           t.MAMinutesLong,
			StopLoss:                t.StopLoss,
			StopLossInPercent:       t.StopLossInPercent,
			NoActionAtLoss:          t.NoActionAtLoss,
			TradeTrials:             t.TradeTrials,
			OrderAdjustSeconds:      t.OrderAdjustSeconds,
			TradeAdvantageInPercent: t.TradeAdvantageInPercent,
			LeverageDefault:         t.LeverageDefault,
			ApplyLeverage:           t.ApplyLeverage,
		},
		QuoteMargin:     cfg.Exchange.Name == "liquid",
		PercentLeverage: cfg.Exchange.Name == "kraken",
	}
	collector := &report.Collector{
		Exchange:    b.Exchange,
		Pair:        cfg.Pair(),
		Strategy:    strat,
		Markers:     b.Markers(),
		Mayer:       infra.NewMayerClient(cfg.Report.MayerURL),
		NetDeposits: t.NetDeposits,
	}
	rc := report.Config{
		Instance: cfg.App.Instance,
		Daily:    cfg.Report.Daily,
		Trade:    cfg.Report.Trade,
		CSVPath:  cfg.InstancePath(".csv"),
	}
	return report.NewReporter(rc, builder, collector, stats, mailer), nil
}

// Trader assembles the control loop. rep may be nil.
func (b *Bootstrap) Trader(strat strategy.Strategy, rep *report.Reporter, bus *event.Bus, reset bool) *engine.Trader {
	opts := []engine.Option{engine.WithRecorder(b.Metrics)}
	if bus != nil {
		opts = append(opts, engine.WithPublisher(bus))
	}
	if rep != nil {
		opts = append(opts, engine.WithDailyHook(rep.CheckDaily))
	}
	return engine.NewTrader(b.EngineConfig(reset), b.Exchange, b.Policy, strat, b.Markers(), opts...)
}

// RateRecorder creates the recorder filling the rate history.
func (b *Bootstrap) RateRecorder() *service.RateRecorder {
	r := b.Config.Rates
	return service.NewRateRecorder(service.RateRecorderConfig{
		IntervalMinutes: r.IntervalMinutes,
		MaxWeeks:        r.MaxWeeks,
		PriceAttempts:   r.PriceAttempts,
	}, b.Storage, b.Exchange, service.WithObserver(b.Metrics))
}

// ServeMetrics exposes the metrics endpoint when configured.
func (b *Bootstrap) ServeMetrics(ctx context.Context) {
	addr := b.Config.Metrics.Listen
	if addr == "" {
		return
	}
	go func() {
		if err := b.Metrics.Serve(ctx, addr); err != nil {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()
}

// DumpRates writes the rate history as CSV next to the database.
func (b *Bootstrap) DumpRates(ctx context.Context) (string, int, error) {
	path := b.Config.DatabasePath() + ".csv"
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	n, err := b.Storage.DumpCSV(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return path, n, err
}

// Close releases the quote stream and the database.
func (b *Bootstrap) Close() {
	if b.Quotes != nil {
		b.Quotes.Disconnect()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Closing database failed", slog.Any("error", err))
		}
	}
}
