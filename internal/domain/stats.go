package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DailyStatsCapacity is the number of days kept for the 24h comparisons.
const DailyStatsCapacity = 3

// DayKey identifies a UTC calendar day as year*1000 + day of year.
func DayKey(t time.Time) int {
	t = t.UTC()
	return t.Year()*1000 + t.YearDay()
}

// DailyStat is one day of margin balance and price.
type DailyStat struct {
	Day           int             `json:"day"`
	MarginBalance decimal.Decimal `json:"margin_balance"`
	Price         decimal.Decimal `json:"price"`
}

// DailyStats is a fixed capacity collection, at most one entry per day,
// evicting the oldest day when full.
type DailyStats struct {
	days []DailyStat
}

// NewDailyStats builds the collection from stored entries.
func NewDailyStats(entries ...DailyStat) *DailyStats {
	s := &DailyStats{}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add stores the stat and reports whether it was new. A day already present is left untouched.
func (s *DailyStats) Add(stat DailyStat) bool {
	if _, ok := s.Get(stat.Day); ok {
		return false
	}
	if len(s.days) >= DailyStatsCapacity {
		s.sortDesc()
		s.days = s.days[:DailyStatsCapacity-1]
	}
	s.days = append(s.days, stat)
	s.sortDesc()
	return true
}

// Get returns the stat for the given day.
func (s *DailyStats) Get(day int) (DailyStat, bool) {
	for _, d := range s.days {
		if d.Day == day {
			return d, true
		}
	}
	return DailyStat{}, false
}

// Entries returns a copy, newest first.
func (s *DailyStats) Entries() []DailyStat {
	out := make([]DailyStat, len(s.days))
	copy(out, s.days)
	return out
}

// Len returns the number of stored days.
func (s *DailyStats) Len() int {
	return len(s.days)
}

func (s *DailyStats) sortDesc() {
	sort.Slice(s.days, func(i, j int) bool { return s.days[i].Day > s.days[j].Day })
}
