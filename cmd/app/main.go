package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"maverage/internal/app"
	"maverage/internal/event"
	"maverage/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

// eventBuffer bounds the trade events waiting for the reporter.
const eventBuffer = 64

func main() {
	dumpCSV := flag.Bool("csv", false, "dump the rate history to CSV and exit")
	emailOnly := flag.Bool("eo", false, "send the daily report now and exit")
	reset := flag.Bool("reset", false, "ignore the persisted last action")
	pprofAddr := flag.String("pprof", "", "serve pprof on this address, e.g. localhost:6060")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-csv] [-eo] [-reset] [config.yaml]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	configPath := "config.yaml"
	if flag.NArg() > 0 {
		configPath = flag.Arg(0)
	}

	// 1. Pprof Server (for performance profiling)
	if *pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap(configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dumpCSV {
		path, n, err := bootstrap.DumpRates(ctx)
		if err != nil {
			slog.Error("❌ CSV dump failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("✅ Rates dumped", slog.String("file", path), slog.Int("rows", n))
		return
	}

	// 4. Strategy & Reports
	bootstrap.StartQuotes(ctx)
	strat := bootstrap.Strategy()
	reporter, err := bootstrap.Reporter(ctx, strat)
	if err != nil {
		slog.Error("❌ Report setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	if *emailOnly {
		if reporter == nil || !cfg.Report.Daily {
			slog.Warn("Daily report is disabled, nothing to send")
			return
		}
		if err := reporter.SendDaily(ctx); err != nil {
			slog.Error("❌ Daily report failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("✅ Daily report sent")
		return
	}

	if err := infra.WritePIDFile(cfg.InstancePath(".pid"), cfg.App.Instance); err != nil {
		slog.Warn("PID file not written", slog.Any("error", err))
	}

	// 5. Event bus feeding the trade reports
	var bus *event.Bus
	if reporter != nil {
		bus = event.NewBus(eventBuffer, reporter.HandleTrade)
		bus.Start(ctx)
	}

	bootstrap.ServeMetrics(ctx)

	// 6. Control Loop
	trader := bootstrap.Trader(strat, reporter, bus, *reset)
	slog.InfoContext(ctx, "✨ MAverage fully operational. Press Ctrl+C to exit.",
		slog.String("instance", cfg.App.Instance),
		slog.String("pair", cfg.Pair().String()),
	)
	runErr := trader.Run(ctx)

	slog.Info("👋 Shutting down gracefully...")
	stop()
	if bus != nil {
		bus.Wait()
	}
	if reporter != nil {
		reporter.Wait()
	}
	if runErr != nil {
		slog.Error("❌ Trader halted", slog.Any("error", runErr))
		bootstrap.Close()
		os.Exit(1)
	}
}
