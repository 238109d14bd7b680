package event

import (
	"fmt"
	"time"

	"maverage/internal/domain"
)

// Kind distinguishes the events the trading loop emits.
type Kind string

const (
	// KindTrade is a completed signal driven transition.
	KindTrade Kind = "TRADE"
	// KindStoppedOut is a position closed by the protective stop.
	KindStoppedOut Kind = "STOPPED_OUT"
)

// Report prefixes used in the trade report subject.
const (
	PrefixMovingAverage = "MA"
	PrefixStopLoss      = "SL"
)

// TradeEvent describes one position change.
type TradeEvent struct {
	Kind   Kind
	Action domain.Action
	// Order is the executed entry order, or the stop that was hit.
	Order *domain.Order
	At    time.Time
}

// NewTrade builds the event for a completed transition.
func NewTrade(action domain.Action, order *domain.Order, at time.Time) TradeEvent {
	return TradeEvent{Kind: KindTrade, Action: action, Order: order, At: at.UTC()}
}

// NewStoppedOut builds the event for a stop-loss exit.
func NewStoppedOut(stop *domain.Order, at time.Time) TradeEvent {
	return TradeEvent{Kind: KindStoppedOut, Action: domain.ActionNone, Order: stop, At: at.UTC()}
}

// Prefix returns the report subject prefix of the event.
func (e TradeEvent) Prefix() string {
	if e.Kind == KindStoppedOut {
		return PrefixStopLoss
	}
	return PrefixMovingAverage
}

// Executed renders the order line of the trade report.
func (e TradeEvent) Executed() string {
	if e.Order == nil {
		return "n/a"
	}
	o := e.Order
	price := "market"
	if o.HasPrice() {
		price = o.Price.StringFixed(1)
	}
	return fmt.Sprintf("%s %s %s @ %s (%s)", o.Kind, o.Side, o.Amount.String(), price, o.ID)
}
