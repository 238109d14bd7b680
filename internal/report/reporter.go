package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maverage/internal/domain"
	"maverage/internal/event"
)

// Daily report window, exclusive on both ends, in UTC.
const (
	windowStart = 12*time.Hour + 1*time.Minute
	windowEnd   = 12*time.Hour + 22*time.Minute
)

// InDailyWindow reports whether t falls into the daily report window.
func InDailyWindow(t time.Time) bool {
	d := sinceMidnight(t)
	return d > windowStart && d < windowEnd
}

// Config selects the reports of an instance.
type Config struct {
	Instance string
	Daily    bool
	Trade    bool
	// CSVPath is the daily history attached to the daily report.
	CSVPath string
}

// Reporter sends the trade report for every position change and the daily
// report once per day inside the window.
type Reporter struct {
	cfg       Config
	builder   *Builder
	collector *Collector
	stats     *DailyStatistics
	sender    Sender
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	sentDay int
	sending bool
	wg      sync.WaitGroup
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter wires the report pipeline.
func NewReporter(cfg Config, builder *Builder, collector *Collector, stats *DailyStatistics, sender Sender, opts ...Option) *Reporter {
	r := &Reporter{
		cfg:       cfg,
		builder:   builder,
		collector: collector,
		stats:     stats,
		sender:    sender,
		now:       time.Now,
		logger:    slog.Default().With("module", "report"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleTrade sends the trade report of ev. It runs as the event bus handler.
func (r *Reporter) HandleTrade(ctx context.Context, ev event.TradeEvent) {
	if !r.cfg.Trade {
		return
	}
	if err := r.SendTrade(ctx, ev); err != nil {
		r.logger.Error("Trade report failed", slog.String("prefix", ev.Prefix()), slog.Any("error", err))
	}
}

// SendTrade renders and sends the trade report of ev.
func (r *Reporter) SendTrade(ctx context.Context, ev event.TradeEvent) error {
	now := r.now()
	snap, err := r.snapshot(ctx, now, false)
	if err != nil {
		return err
	}
	content := r.builder.Trade(snap, ev.Executed(), now)
	msg := Message{Subject: fmt.Sprintf("%s Trade report %s", ev.Prefix(), r.cfg.Instance), Text: content.Text}
	if err := r.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send trade report: %w", err)
	}
	r.logger.Info("Sent trade report", slog.String("subject", msg.Subject))
	return nil
}

// CheckDaily starts the daily report when the window is open and today's
// report was not sent yet. It never blocks the caller.
func (r *Reporter) CheckDaily(ctx context.Context, _ *domain.Order) {
	if !r.cfg.Daily {
		return
	}
	now := r.now()
	day := domain.DayKey(now)
	if !InDailyWindow(now) {
		return
	}

	r.mu.Lock()
	if r.sending || r.sentDay == day {
		r.mu.Unlock()
		return
	}
	r.sending = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.SendDaily(ctx)

		r.mu.Lock()
		r.sending = false
		if err == nil {
			r.sentDay = day
		}
		r.mu.Unlock()
		if err != nil {
			r.logger.Error("Daily report failed", slog.Any("error", err))
		}
	}()
}

// SendDaily records today's statistics, appends the CSV line and sends the
// daily report right away.
func (r *Reporter) SendDaily(ctx context.Context) error {
	now := r.now()
	snap, err := r.snapshot(ctx, now, true)
	if err != nil {
		return err
	}
	content := r.builder.Daily(snap, now)

	msg := Message{Subject: "Daily MAverage report " + r.cfg.Instance, Text: content.Text}
	if r.cfg.CSVPath != "" {
		if _, err := AppendCSV(r.cfg.CSVPath, content.CSV, now); err != nil {
			r.logger.Warn("Could not write report history", slog.String("path", r.cfg.CSVPath), slog.Any("error", err))
		}
		msg.Attachment = r.cfg.CSVPath
	}
	if err := r.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send daily report: %w", err)
	}
	r.logger.Info("Sent daily report", slog.String("subject", msg.Subject))
	return nil
}

// Wait blocks until a running daily report has finished.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

func (r *Reporter) snapshot(ctx context.Context, now time.Time, record bool) (Snapshot, error) {
	snap, err := r.collector.Collect(ctx)
	if err != nil {
		return snap, err
	}
	mBal := snap.MarginBalance.Total
	if r.builder.QuoteMargin {
		mBal = domain.ToCrypto(mBal, snap.Price)
	}
	snap.Today = Today{MarginBalance: mBal, Price: snap.Price}
	if r.stats != nil {
		today, err := r.stats.Today(ctx, mBal, snap.Price, now, record)
		if err != nil {
			r.logger.Warn("Daily statistics not persisted", slog.Any("error", err))
		}
		snap.Today = today
	}
	return snap, nil
}
