package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionNone  PositionSide = "NONE"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// SideOf maps the side of the entry order to the resulting position side.
func SideOf(s Side) PositionSide {
	if s == SideSell {
		return PositionShort
	}
	return PositionLong
}

// Position is the open position for the configured pair, computed fresh every cycle.
//
// HomeNotional is signed and in base currency, QuoteNotional in quote currency.
// Size keeps the exchange's own unit (contracts, equity or base amount).
type Position struct {
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	HomeNotional  decimal.Decimal `json:"home_notional"`
	QuoteNotional decimal.Decimal `json:"quote_notional"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
}

// IsOpen reports whether a position exists.
func (p *Position) IsOpen() bool {
	return p != nil && p.Side != PositionNone
}
