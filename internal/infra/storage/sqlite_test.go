package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"maverage/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	dbName := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	s := &Storage{db: db}
	t.Cleanup(func() {
		s.Close()
		os.Remove(dbName)
	})

	return s
}

func seedRates(t *testing.T, s *Storage, start time.Time, prices ...int64) {
	t.Helper()
	for i, p := range prices {
		at := start.Add(time.Duration(i) * 10 * time.Minute)
		if err := s.RecordRate(context.Background(), at, decimal.NewFromInt(p)); err != nil {
			t.Fatalf("RecordRate failed: %v", err)
		}
	}
}

func TestLastRates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRates(t, s, start, 100, 200, 300, 400)

	t.Run("most recent first", func(t *testing.T) {
		rates, err := s.LastRates(ctx, 3)
		if err != nil {
			t.Fatalf("LastRates failed: %v", err)
		}
		want := []int64{400, 300, 200}
		if len(rates) != len(want) {
			t.Fatalf("expected %d rates, got %d", len(want), len(rates))
		}
		for i, w := range want {
			if !rates[i].Equal(decimal.NewFromInt(w)) {
				t.Errorf("rates[%d] = %s, want %d", i, rates[i], w)
			}
		}
	})

	t.Run("more than available", func(t *testing.T) {
		rates, err := s.LastRates(ctx, 10)
		if err != nil {
			t.Fatalf("LastRates failed: %v", err)
		}
		if len(rates) != 4 {
			t.Errorf("expected 4 rates, got %d", len(rates))
		}
	})

	t.Run("zero size", func(t *testing.T) {
		rates, err := s.LastRates(ctx, 0)
		if err != nil || rates != nil {
			t.Errorf("expected nil, nil; got %v, %v", rates, err)
		}
	})
}

func TestRecordRateOverwritesSameSecond(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = s.RecordRate(ctx, at, decimal.NewFromInt(1))
	if err := s.RecordRate(ctx, at, decimal.NewFromInt(2)); err != nil {
		t.Fatalf("RecordRate failed: %v", err)
	}

	last, err := s.LastRate(ctx)
	if err != nil {
		t.Fatalf("LastRate failed: %v", err)
	}
	if last == nil || !last.Price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected last price 2, got %+v", last)
	}
	if last.DateTime != "2024-03-01 12:00:00" {
		t.Errorf("unexpected date_time %q", last.DateTime)
	}
}

func TestLastRateEmpty(t *testing.T) {
	s := setupTestDB(t)
	last, err := s.LastRate(context.Background())
	if err != nil {
		t.Fatalf("LastRate failed: %v", err)
	}
	if last != nil {
		t.Errorf("expected nil on empty history, got %+v", last)
	}
}

func TestPurgeRatesBefore(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRates(t, s, start, 1, 2, 3, 4, 5)

	n, err := s.PurgeRatesBefore(ctx, start.Add(25*time.Minute))
	if err != nil {
		t.Fatalf("PurgeRatesBefore failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 purged rows, got %d", n)
	}

	rest, _ := s.AllRates(ctx)
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(rest))
	}
	if rest[0].DateTime != "2024-03-01 12:40:00" {
		t.Errorf("newest remaining = %q", rest[0].DateTime)
	}
}

func TestDumpCSV(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedRates(t, s, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 100, 101)

	var buf bytes.Buffer
	n, err := s.DumpCSV(ctx, &buf)
	if err != nil {
		t.Fatalf("DumpCSV failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}

	want := "2024-03-01 12:10:00;101\n2024-03-01 12:00:00;100\n"
	if buf.String() != want {
		t.Errorf("csv = %q, want %q", buf.String(), want)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Error("expected one line per rate")
	}
}

func TestDailyStatsRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	t.Run("empty instance", func(t *testing.T) {
		stats, err := s.LoadDailyStats(ctx, "bot1")
		if err != nil {
			t.Fatalf("LoadDailyStats failed: %v", err)
		}
		if stats.Len() != 0 {
			t.Errorf("expected empty stats, got %d", stats.Len())
		}
	})

	t.Run("save replaces evicted days", func(t *testing.T) {
		stats := domain.NewDailyStats(
			domain.DailyStat{Day: 2024001, MarginBalance: decimal.NewFromInt(1), Price: decimal.NewFromInt(100)},
			domain.DailyStat{Day: 2024002, MarginBalance: decimal.NewFromInt(2), Price: decimal.NewFromInt(200)},
			domain.DailyStat{Day: 2024003, MarginBalance: decimal.NewFromInt(3), Price: decimal.NewFromInt(300)},
		)
		if err := s.SaveDailyStats(ctx, "bot1", stats); err != nil {
			t.Fatalf("SaveDailyStats failed: %v", err)
		}

		stats.Add(domain.DailyStat{Day: 2024004, MarginBalance: decimal.NewFromInt(4), Price: decimal.NewFromInt(400)})
		if err := s.SaveDailyStats(ctx, "bot1", stats); err != nil {
			t.Fatalf("SaveDailyStats failed: %v", err)
		}

		loaded, err := s.LoadDailyStats(ctx, "bot1")
		if err != nil {
			t.Fatalf("LoadDailyStats failed: %v", err)
		}
		if loaded.Len() != 3 {
			t.Fatalf("expected 3 days, got %d", loaded.Len())
		}
		if _, ok := loaded.Get(2024001); ok {
			t.Error("oldest day should have been evicted")
		}
		day, ok := loaded.Get(2024004)
		if !ok || !day.MarginBalance.Equal(decimal.NewFromInt(4)) {
			t.Errorf("unexpected newest day %+v", day)
		}
	})

	t.Run("instances are isolated", func(t *testing.T) {
		other, err := s.LoadDailyStats(ctx, "bot2")
		if err != nil {
			t.Fatalf("LoadDailyStats failed: %v", err)
		}
		if other.Len() != 0 {
			t.Errorf("expected no stats for bot2, got %d", other.Len())
		}
	})
}
