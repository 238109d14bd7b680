package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind distinguishes entry orders from protective stops.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindMarket OrderKind = "MARKET"
	OrderKindStop   OrderKind = "STOP"
)

// OrderStatus is the normalized lifecycle status reported by a gateway.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusNotFound OrderStatus = "not found"
)

// IsFinal reports whether the exchange will not change the order anymore.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusClosed || s == OrderStatusCanceled
}

// Order is a snapshot of an order as placed on the exchange.
// Price is zero while unknown, which only happens for fresh market orders.
type Order struct {
	ID        string          `json:"id"`
	Side      Side            `json:"side"`
	Kind      OrderKind       `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsStop reports whether the order is a protective stop.
func (o *Order) IsStop() bool {
	return o.Kind == OrderKindStop
}

// HasPrice reports whether the order carries a known price.
func (o *Order) HasPrice() bool {
	return o.Price.IsPositive()
}
