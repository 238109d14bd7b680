package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway is the uniform capability set over one exchange's margin API.
// Implementations never retry; they return classified errors.
type Gateway interface {
	Name() string
	// FetchPrice returns the best bid of the configured pair.
	FetchPrice(ctx context.Context) (decimal.Decimal, error)
	FetchBalance(ctx context.Context, currency string) (Balance, error)
	// FetchPosition returns nil when there is no position.
	FetchPosition(ctx context.Context) (*Position, error)
	FetchMarginBalance(ctx context.Context) (Balance, error)
	FetchLeverage(ctx context.Context) (decimal.Decimal, error)
	FetchWalletBalance(ctx context.Context) (decimal.Decimal, error)
	CreateLimitOrder(ctx context.Context, side Side, amount, price decimal.Decimal, funding string) (*Order, error)
	CreateMarketOrder(ctx context.Context, side Side, amount decimal.Decimal, funding string) (*Order, error)
	CreateStopOrder(ctx context.Context, side Side, amount, stopPrice decimal.Decimal) (*Order, error)
	// CancelOrder returns ErrOrderNotFound for unknown ids.
	CancelOrder(ctx context.Context, id string) error
	// FetchOrderStatus returns ErrOrderNotFound for unknown ids.
	FetchOrderStatus(ctx context.Context, id string) (OrderStatus, error)
	// FetchOpenOrders and FetchClosedOrders list recent orders, oldest first.
	FetchOpenOrders(ctx context.Context) ([]Order, error)
	FetchClosedOrders(ctx context.Context) ([]Order, error)
	SetLeverage(ctx context.Context, value decimal.Decimal) error
}

// FundingBalanceFetcher is implemented by exchanges that fund margin positions
// from per-currency trading account rows.
type FundingBalanceFetcher interface {
	FetchFundingBalances(ctx context.Context) (FundingBalances, error)
}

// PositionCloser closes every open trade of the pair at market.
type PositionCloser interface {
	CloseAllPositions(ctx context.Context) error
}

// StopUpdater is implemented by exchanges where the stop is a property of the
// open trade rather than a standalone order.
type StopUpdater interface {
	UpdateStopOrder(ctx context.Context, side Side, stopPrice decimal.Decimal) (*Order, error)
	FetchStopStatus(ctx context.Context, stop Order) (OrderStatus, error)
}

// TrailingStopper places an exchange-native trailing stop that never needs re-issuing.
type TrailingStopper interface {
	CreateTrailingStop(ctx context.Context, side Side, amount, percent decimal.Decimal) (*Order, error)
}

// DepositFetcher returns deposits minus withdrawals in base currency.
type DepositFetcher interface {
	FetchNetDeposits(ctx context.Context) (decimal.Decimal, error)
}

// LiveTicker is a streaming source of the latest bid.
type LiveTicker interface {
	LastPrice() (decimal.Decimal, time.Time, bool)
}

// RateStore reads the recorded price history.
type RateStore interface {
	// LastRates returns the n most recent rates, most recent first.
	LastRates(ctx context.Context, n int) ([]decimal.Decimal, error)
}

// StatsStore persists the daily statistics of one instance.
type StatsStore interface {
	LoadDailyStats(ctx context.Context, instance string) (*DailyStats, error)
	SaveDailyStats(ctx context.Context, instance string, stats *DailyStats) error
}

// MarkerStore persists the last action marker.
type MarkerStore interface {
	ReadMarker() (Marker, error)
	WriteMarker(m Marker) error
}
