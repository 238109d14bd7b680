package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"maverage/internal/domain"
)

type memStats struct {
	stats *domain.DailyStats
	saves int
	err   error
}

func (m *memStats) LoadDailyStats(_ context.Context, _ string) (*domain.DailyStats, error) {
	return m.stats, m.err
}

func (m *memStats) SaveDailyStats(_ context.Context, _ string, stats *domain.DailyStats) error {
	m.saves++
	m.stats = stats
	return nil
}

func TestDailyStatistics_Today(t *testing.T) {
	yesterday := time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC)
	store := &memStats{stats: domain.NewDailyStats(domain.DailyStat{
		Day:           domain.DayKey(yesterday),
		MarginBalance: d("1.0"),
		Price:         d("8000"),
	})}
	s, err := LoadDailyStatistics(context.Background(), store, "test")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	t.Run("before the record time", func(t *testing.T) {
		early := time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC)
		today, err := s.Today(context.Background(), d("1.1"), d("9000"), early, true)
		if err != nil {
			t.Fatalf("Today failed: %v", err)
		}
		if store.saves != 0 {
			t.Errorf("expected nothing recorded before 12:01, got %d saves", store.saves)
		}
		if today.MarginChange == nil || !today.MarginChange.Equal(d("10")) {
			t.Errorf("expected margin change 10%%, got %v", today.MarginChange)
		}
		if today.PriceChange == nil || !today.PriceChange.Equal(d("12.5")) {
			t.Errorf("expected price change 12.5%%, got %v", today.PriceChange)
		}
	})

	t.Run("records once per day", func(t *testing.T) {
		late := time.Date(2024, 3, 2, 12, 5, 0, 0, time.UTC)
		if _, err := s.Today(context.Background(), d("1.2"), d("9100"), late, true); err != nil {
			t.Fatalf("Today failed: %v", err)
		}
		if _, err := s.Today(context.Background(), d("1.3"), d("9200"), late.Add(time.Minute), true); err != nil {
			t.Fatalf("Today failed: %v", err)
		}
		if store.saves != 1 {
			t.Errorf("expected one save, got %d", store.saves)
		}
		got, ok := store.stats.Get(domain.DayKey(late))
		if !ok || !got.MarginBalance.Equal(d("1.2")) {
			t.Errorf("expected the first figures of the day, got %+v", got)
		}
	})

	t.Run("trade reports do not record", func(t *testing.T) {
		next := time.Date(2024, 3, 3, 13, 0, 0, 0, time.UTC)
		if _, err := s.Today(context.Background(), d("1.2"), d("9100"), next, false); err != nil {
			t.Fatalf("Today failed: %v", err)
		}
		if _, ok := store.stats.Get(domain.DayKey(next)); ok {
			t.Error("expected no entry for a trade report")
		}
	})
}

func TestDailyStatistics_NoHistory(t *testing.T) {
	s, err := LoadDailyStatistics(context.Background(), &memStats{}, "test")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	today, err := s.Today(context.Background(), d("1"), d("9000"), reportTime, false)
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if today.MarginChange != nil || today.PriceChange != nil {
		t.Errorf("expected no changes without history, got %+v", today)
	}
}

func TestDailyStatistics_ZeroBefore(t *testing.T) {
	store := &memStats{stats: domain.NewDailyStats(domain.DailyStat{Day: domain.DayKey(reportTime.AddDate(0, 0, -1))})}
	s, _ := LoadDailyStatistics(context.Background(), store, "test")
	today, _ := s.Today(context.Background(), d("1"), d("9000"), reportTime, false)
	if today.MarginChange == nil || !today.MarginChange.IsZero() {
		t.Errorf("expected zero change against an empty day, got %v", today.MarginChange)
	}
}

func TestLoadDailyStatistics_Error(t *testing.T) {
	boom := errors.New("boom")
	if _, err := LoadDailyStatistics(context.Background(), &memStats{err: boom}, "test"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped load error, got %v", err)
	}
}
