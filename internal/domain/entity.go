package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateTimeLayout is the layout of the rates.date_time column, always UTC.
const RateTimeLayout = "2006-01-02 15:04:05"

// RateRecord is one recorded bid in the shared price history.
type RateRecord struct {
	DateTime string          `gorm:"column:date_time;primaryKey;type:text"`
	Price    decimal.Decimal `gorm:"column:price;type:numeric;not null"`
}

// TableName keeps the table readable by other recorders of the same database.
func (RateRecord) TableName() string {
	return "rates"
}

// Time parses the stored timestamp.
func (r RateRecord) Time() (time.Time, error) {
	return time.ParseInLocation(RateTimeLayout, r.DateTime, time.UTC)
}

// DailyStatRecord is the persisted form of one DailyStat of an instance.
type DailyStatRecord struct {
	Instance      string          `gorm:"primaryKey;size:64"`
	Day           int             `gorm:"primaryKey"`
	MarginBalance decimal.Decimal `gorm:"type:numeric"`
	Price         decimal.Decimal `gorm:"type:numeric"`
	UpdatedAt     time.Time
}

func (DailyStatRecord) TableName() string {
	return "daily_stats"
}
