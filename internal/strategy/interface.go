package strategy

import (
	"context"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// Signal is the direction suggested by a strategy.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

// String returns the string representation of Signal
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Action maps the signal to the trading action it asks for. HOLD maps to NONE.
func (s Signal) Action() domain.Action {
	switch s {
	case SignalBuy:
		return domain.ActionBuy
	case SignalSell:
		return domain.ActionSell
	default:
		return domain.ActionNone
	}
}

// Decision is a signal together with the averages it was derived from.
type Decision struct {
	Signal  Signal
	Short   decimal.Decimal
	Long    decimal.Decimal
	Current decimal.Decimal
}

// Strategy is the interface that all trading strategies must implement.
// It is called synchronously by the control loop once per cycle.
type Strategy interface {
	Evaluate(ctx context.Context) (Decision, error)
}
