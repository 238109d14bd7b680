package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// recordAfter is the UTC time of day from which the daily figures are recorded.
const recordAfter = 12*time.Hour + 1*time.Minute

// DailyStatistics keeps the last days of margin balance and price of an
// instance and derives the 24 hour changes from them.
type DailyStatistics struct {
	mu       sync.Mutex
	store    domain.StatsStore
	instance string
	stats    *domain.DailyStats
}

// LoadDailyStatistics reads the stored days of instance.
func LoadDailyStatistics(ctx context.Context, store domain.StatsStore, instance string) (*DailyStatistics, error) {
	stats, err := store.LoadDailyStats(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("load daily stats: %w", err)
	}
	if stats == nil {
		stats = domain.NewDailyStats()
	}
	return &DailyStatistics{store: store, instance: instance, stats: stats}, nil
}

func sinceMidnight(t time.Time) time.Duration {
	t = t.UTC()
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

// Today returns the figures of now. With record set and past 12:01 UTC the
// day is stored unless it already was.
func (s *DailyStatistics) Today(ctx context.Context, marginBalance, price decimal.Decimal, now time.Time, record bool) (Today, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := Today{MarginBalance: marginBalance, Price: price}
	if record && sinceMidnight(now) > recordAfter {
		added := s.stats.Add(domain.DailyStat{Day: domain.DayKey(now), MarginBalance: marginBalance, Price: price})
		if added {
			if err := s.store.SaveDailyStats(ctx, s.instance, s.stats); err != nil {
				return today, fmt.Errorf("save daily stats: %w", err)
			}
		}
	}

	before, ok := s.stats.Get(domain.DayKey(now.AddDate(0, 0, -1)))
	if !ok {
		return today, nil
	}
	today.MarginChange = change(marginBalance, before.MarginBalance)
	today.PriceChange = change(price, before.Price)
	return today, nil
}

// change is (now/before - 1) * 100 rounded to 2 places, zero when before is zero.
func change(now, before decimal.Decimal) *decimal.Decimal {
	c := decimal.Zero
	if !before.IsZero() {
		c = now.Div(before).Sub(decimal.NewFromInt(1)).Mul(hundred).RoundBank(2)
	}
	return &c
}
