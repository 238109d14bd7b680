package domain

import "github.com/shopspring/decimal"

// MayerThreshold is the multiple above which the market is considered overheated.
var MayerThreshold = decimal.RequireFromString("2.4")

// MayerMultiple is the price divided by its 200 day moving average.
type MayerMultiple struct {
	Current decimal.Decimal `json:"current"`
	Average decimal.Decimal `json:"average"`
}

// Advice returns BUY below the historical average, SELL above the threshold and HOLD otherwise.
func (m MayerMultiple) Advice() string {
	switch {
	case m.Current.LessThan(m.Average):
		return "BUY"
	case m.Current.GreaterThan(MayerThreshold):
		return "SELL"
	default:
		return "HOLD"
	}
}
