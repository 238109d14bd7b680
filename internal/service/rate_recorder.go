package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maverage/internal/domain"
	"maverage/internal/execution"

	"github.com/shopspring/decimal"
)

const (
	// tickInterval is how often the clock is checked for a due recording.
	tickInterval = 10 * time.Second
	// settleInterval keeps a recording from repeating within the same minute.
	settleInterval = 60 * time.Second
)

// RateStore is the write side of the rate history.
type RateStore interface {
	RecordRate(ctx context.Context, at time.Time, price decimal.Decimal) error
	LastRate(ctx context.Context) (*domain.RateRecord, error)
	PurgeRatesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PriceFetcher reads the bid with a bounded number of attempts, zero on failure.
type PriceFetcher interface {
	FetchPriceBounded(ctx context.Context, attempts int) decimal.Decimal
}

// Observer is notified of every persisted rate. infra.Metrics implements it.
type Observer interface {
	ObserveRateRecorded()
}

// RateRecorderConfig holds the recording schedule.
type RateRecorderConfig struct {
	IntervalMinutes int
	MaxWeeks        int
	PriceAttempts   int
}

// RateRecorder persists the bid every IntervalMinutes minutes so the moving
// averages have an evenly spaced history. A failed fetch repeats the last
// stored rate to avoid gaps.
type RateRecorder struct {
	cfg      RateRecorderConfig
	store    RateStore
	prices   PriceFetcher
	observer Observer
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger

	mu   sync.RWMutex
	last decimal.Decimal
}

// RecorderOption configures a RateRecorder.
type RecorderOption func(*RateRecorder)

// WithObserver reports recorded rates.
func WithObserver(o Observer) RecorderOption {
	return func(r *RateRecorder) { r.observer = o }
}

// WithRecorderClock replaces the wall clock and the sleep between checks.
func WithRecorderClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) RecorderOption {
	return func(r *RateRecorder) {
		r.now = now
		r.sleep = sleep
	}
}

// NewRateRecorder creates a recorder writing into store.
func NewRateRecorder(cfg RateRecorderConfig, store RateStore, prices PriceFetcher, opts ...RecorderOption) *RateRecorder {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 10
	}
	r := &RateRecorder{
		cfg:    cfg,
		store:  store,
		prices: prices,
		now:    time.Now,
		sleep:  execution.SleepContext,
		logger: slog.Default().With("module", "rate_recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Last returns the most recently recorded rate, zero before the first one.
func (r *RateRecorder) Last() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run records on every due minute until ctx is done.
func (r *RateRecorder) Run(ctx context.Context) error {
	r.logger.Info("Rate recorder started",
		slog.Int("interval_minutes", r.cfg.IntervalMinutes),
		slog.Int("max_weeks", r.cfg.MaxWeeks),
	)
	for {
		now := r.now().UTC()
		if now.Minute()%r.cfg.IntervalMinutes == 0 {
			if err := r.Record(ctx, now); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("Rate not recorded", slog.Any("error", err))
			}
			if err := r.sleep(ctx, settleInterval); err != nil {
				return nil
			}
		}
		if err := r.sleep(ctx, tickInterval); err != nil {
			return nil
		}
	}
}

// Record fetches and persists one rate at now, then purges the history on
// the first day of the month.
func (r *RateRecorder) Record(ctx context.Context, now time.Time) error {
	price := r.prices.FetchPriceBounded(ctx, r.cfg.PriceAttempts)
	if !price.IsPositive() {
		if err := ctx.Err(); err != nil {
			return err
		}
		last, err := r.store.LastRate(ctx)
		if err != nil {
			return fmt.Errorf("load last rate: %w", err)
		}
		if last == nil {
			return fmt.Errorf("no price and no previous rate: %w", domain.ErrInsufficientRates)
		}
		r.logger.Warn("Price unavailable, repeating last rate", slog.String("price", last.Price.String()))
		price = last.Price
	}
	price = price.Truncate(0)

	if err := r.store.RecordRate(ctx, now, price); err != nil {
		return fmt.Errorf("record rate: %w", err)
	}
	r.mu.Lock()
	r.last = price
	r.mu.Unlock()
	if r.observer != nil {
		r.observer.ObserveRateRecorded()
	}
	r.logger.Info("Rate recorded",
		slog.String("date_time", now.UTC().Format(domain.RateTimeLayout)),
		slog.String("price", price.String()),
	)

	if purgeDue(now) && r.cfg.MaxWeeks > 0 {
		cutoff := now.AddDate(0, 0, -7*r.cfg.MaxWeeks)
		n, err := r.store.PurgeRatesBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge rates: %w", err)
		}
		r.logger.Info("Purged rates", slog.String("before", cutoff.UTC().Format(domain.RateTimeLayout)), slog.Int64("rows", n))
	}
	return nil
}

// purgeDue is true during the first minutes after 01:00 UTC on day 1 of the month.
func purgeDue(now time.Time) bool {
	now = now.UTC()
	return now.Day() == 1 && now.Hour() == 1 && now.Minute() < 3
}
