package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultRateIntervalMinutes is the sampling interval of the rate recorder.
const DefaultRateIntervalMinutes = 10

// FetchSize converts a window in minutes to a number of recorded samples.
// Halves round to even.
func FetchSize(minutes, intervalMinutes int) int {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultRateIntervalMinutes
	}
	if minutes < intervalMinutes {
		return 1
	}
	return int(math.RoundToEven(float64(minutes) / float64(intervalMinutes)))
}

// MovingAverage averages the most recent size samples. rates is most recent first.
// A positive current price takes the place of the newest sample.
func MovingAverage(rates []decimal.Decimal, size int, current decimal.Decimal) (decimal.Decimal, error) {
	if size <= 0 {
		return decimal.Zero, fmt.Errorf("window size must be positive, got %d", size)
	}
	total := decimal.Zero
	stop := size
	if current.IsPositive() {
		total = current
		stop = size - 1
	}
	if len(rates) < stop {
		return decimal.Zero, fmt.Errorf("%w: need %d, have %d", domain.ErrInsufficientRates, stop, len(rates))
	}
	for _, r := range rates[:stop] {
		total = total.Add(r)
	}
	return total.Div(decimal.NewFromInt(int64(size))), nil
}

// PriceSource returns the latest price, or zero when none is available.
type PriceSource func(ctx context.Context) decimal.Decimal

// MACrossStrategy compares a short and a long moving average over the recorded rates.
// It holds no state between cycles.
type MACrossStrategy struct {
	store     domain.RateStore
	live      PriceSource
	shortSize int
	longSize  int
	logger    *slog.Logger
}

// NewMACrossStrategy creates a new instance. live may be nil when the current
// tick should not be mixed into the averages.
func NewMACrossStrategy(store domain.RateStore, live PriceSource, shortMinutes, longMinutes, intervalMinutes int) *MACrossStrategy {
	return &MACrossStrategy{
		store:     store,
		live:      live,
		shortSize: FetchSize(shortMinutes, intervalMinutes),
		longSize:  FetchSize(longMinutes, intervalMinutes),
		logger:    slog.Default().With("module", "ma_cross"),
	}
}

// Windows returns the short and long window sizes in samples.
func (s *MACrossStrategy) Windows() (int, int) {
	return s.shortSize, s.longSize
}

// Evaluate returns BUY when the short average is above the long one and SELL otherwise.
// Missing history yields HOLD with the error.
func (s *MACrossStrategy) Evaluate(ctx context.Context) (Decision, error) {
	n := max(s.shortSize, s.longSize)
	rates, err := s.store.LastRates(ctx, n)
	if err != nil {
		return Decision{Signal: SignalHold}, fmt.Errorf("load rates: %w", err)
	}

	current := decimal.Zero
	if s.live != nil {
		current = s.live(ctx)
	}

	short, err := MovingAverage(rates, s.shortSize, current)
	if err != nil {
		return Decision{Signal: SignalHold}, err
	}
	long, err := MovingAverage(rates, s.longSize, current)
	if err != nil {
		return Decision{Signal: SignalHold}, err
	}

	d := Decision{Signal: SignalSell, Short: short, Long: long, Current: current}
	if short.GreaterThan(long) {
		d.Signal = SignalBuy
	}
	s.logger.Debug("moving averages",
		slog.String("short", short.StringFixed(1)),
		slog.String("long", long.StringFixed(1)),
		slog.String("signal", d.Signal.String()),
	)
	return d, nil
}
