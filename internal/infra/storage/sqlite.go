package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"maverage/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists the rate history and the daily statistics.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (and creates if needed) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.RateRecord{}, &domain.DailyStatRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Rate Operations
// ======================================================================================

// RecordRate stores the price for the given instant. Recording the same second twice keeps the last value.
func (s *Storage) RecordRate(ctx context.Context, at time.Time, price decimal.Decimal) error {
	rec := domain.RateRecord{
		DateTime: at.UTC().Format(domain.RateTimeLayout),
		Price:    price,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// LastRates returns the n most recent prices, most recent first.
func (s *Storage) LastRates(ctx context.Context, n int) ([]decimal.Decimal, error) {
	if n <= 0 {
		return nil, nil
	}
	var recs []domain.RateRecord
	err := s.db.WithContext(ctx).
		Order("date_time DESC").
		Limit(n).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	rates := make([]decimal.Decimal, len(recs))
	for i, r := range recs {
		rates[i] = r.Price
	}
	return rates, nil
}

// LastRate returns the most recent record, or nil when the history is empty.
func (s *Storage) LastRate(ctx context.Context) (*domain.RateRecord, error) {
	var rec domain.RateRecord
	err := s.db.WithContext(ctx).Order("date_time DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PurgeRatesBefore deletes every rate older than cutoff and returns the number of rows removed.
func (s *Storage) PurgeRatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("date_time < ?", cutoff.UTC().Format(domain.RateTimeLayout)).
		Delete(&domain.RateRecord{})
	return res.RowsAffected, res.Error
}

// AllRates returns the full history, most recent first.
func (s *Storage) AllRates(ctx context.Context) ([]domain.RateRecord, error) {
	var recs []domain.RateRecord
	err := s.db.WithContext(ctx).Order("date_time DESC").Find(&recs).Error
	return recs, err
}

// DumpCSV writes the full history as "date_time;price" lines, most recent first.
func (s *Storage) DumpCSV(ctx context.Context, w io.Writer) (int, error) {
	recs, err := s.AllRates(ctx)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	for _, r := range recs {
		if err := cw.Write([]string{r.DateTime, r.Price.String()}); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(recs), cw.Error()
}

// ======================================================================================
// Daily Statistics Operations
// ======================================================================================

// LoadDailyStats returns the stored statistics of the instance; an empty collection when none exist.
func (s *Storage) LoadDailyStats(ctx context.Context, instance string) (*domain.DailyStats, error) {
	var recs []domain.DailyStatRecord
	err := s.db.WithContext(ctx).
		Where("instance = ?", instance).
		Order("day DESC").
		Limit(domain.DailyStatsCapacity).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	entries := make([]domain.DailyStat, len(recs))
	for i, r := range recs {
		entries[i] = domain.DailyStat{Day: r.Day, MarginBalance: r.MarginBalance, Price: r.Price}
	}
	return domain.NewDailyStats(entries...), nil
}

// SaveDailyStats replaces the stored statistics of the instance.
func (s *Storage) SaveDailyStats(ctx context.Context, instance string, stats *domain.DailyStats) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries := stats.Entries()
		days := make([]int, len(entries))
		recs := make([]domain.DailyStatRecord, len(entries))
		for i, e := range entries {
			days[i] = e.Day
			recs[i] = domain.DailyStatRecord{
				Instance:      instance,
				Day:           e.Day,
				MarginBalance: e.MarginBalance,
				Price:         e.Price,
			}
		}

		stale := tx.Where("instance = ?", instance)
		if len(days) > 0 {
			stale = stale.Where("day NOT IN ?", days)
		}
		if err := stale.Delete(&domain.DailyStatRecord{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&recs).Error
	})
}
