// Package execution wraps exchange gateways with the retry policy of the daemon
// and provides an in-memory paper exchange.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	// DefaultPriceAttempts bounds the price fetch used where a missing price is acceptable.
	DefaultPriceAttempts = 6
)

// Jitter is a closed range of sleep durations between attempts.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

var (
	// CallJitter separates retries of ordinary calls.
	CallJitter = Jitter{Min: 4 * time.Second, Max: 6 * time.Second}
	// PriceJitter separates retries of the price poll.
	PriceJitter = Jitter{Min: 1 * time.Second, Max: 2 * time.Second}
)

// Draw returns a random duration in the range.
func (j Jitter) Draw() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + rand.N(j.Max-j.Min+1)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder receives retry outcomes. infra.Metrics implements it.
type Recorder interface {
	ObserveRetry(op string)
	ObserveTerminal(op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRetry(string)    {}
func (nopRecorder) ObserveTerminal(string) {}

// Resilient classifies every gateway error and retries transient ones.
//
// Transient errors are retried without bound after a jittered sleep. Errors
// carrying a terminal marker abort with domain.ErrTerminal, unknown orders map
// to the "not found" status, anything else non-retriable is returned as is.
type Resilient struct {
	gw       domain.Gateway
	sleep    Sleeper
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Resilient wrapper.
type Option func(*Resilient)

// WithSleeper replaces the sleep between attempts.
func WithSleeper(s Sleeper) Option {
	return func(r *Resilient) { r.sleep = s }
}

// WithRecorder reports retries and terminal errors.
func WithRecorder(rec Recorder) Option {
	return func(r *Resilient) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewResilient wraps gw.
func NewResilient(gw domain.Gateway, opts ...Option) *Resilient {
	r := &Resilient{
		gw:       gw,
		sleep:    SleepContext,
		recorder: nopRecorder{},
		logger:   slog.Default().With("module", "resilient", "exchange", gw.Name()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Gateway returns the wrapped gateway.
func (r *Resilient) Gateway() domain.Gateway {
	return r.gw
}

// Sleep exposes the configured sleeper to callers that pace themselves.
func (r *Resilient) Sleep(ctx context.Context, d time.Duration) error {
	return r.sleep(ctx, d)
}

// retry runs fn until it succeeds, fails permanently or attempts are used up.
// attempts <= 0 means unbounded.
func retry[T any](ctx context.Context, r *Resilient, op string, attempts int, jitter Jitter, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		switch {
		case domain.IsTerminal(err):
			r.recorder.ObserveTerminal(op)
			r.logger.Warn("Terminal exchange error, giving up", slog.String("op", op), slog.Any("error", err))
			return zero, fmt.Errorf("%s: %w: %w", op, domain.ErrTerminal, err)
		case errors.Is(err, domain.ErrOrderNotFound):
			return zero, err
		case !domain.IsRetriable(err):
			r.logger.Error("Exchange call failed", slog.String("op", op), slog.Any("error", err))
			return zero, err
		}

		if attempts > 0 && attempt >= attempts {
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, domain.ErrAttemptsExhausted, attempt, err)
		}

		delay := jitter.Draw()
		r.recorder.ObserveRetry(op)
		r.logger.Warn("Retrying exchange call",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// FetchPrice polls the best bid until it is available.
func (r *Resilient) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	return retry(ctx, r, "fetch_price", 0, PriceJitter, r.gw.FetchPrice)
}

// FetchPriceBounded tries the given number of times and returns zero when no price could be read.
func (r *Resilient) FetchPriceBounded(ctx context.Context, attempts int) decimal.Decimal {
	if attempts <= 0 {
		attempts = DefaultPriceAttempts
	}
	price, err := retry(ctx, r, "fetch_price", attempts, PriceJitter, r.gw.FetchPrice)
	if err != nil {
		r.logger.Warn("Price unavailable", slog.Int("attempts", attempts), slog.Any("error", err))
		return decimal.Zero
	}
	return price
}

func (r *Resilient) FetchBalance(ctx context.Context, currency string) (domain.Balance, error) {
	return retry(ctx, r, "fetch_balance", 0, CallJitter, func(ctx context.Context) (domain.Balance, error) {
		return r.gw.FetchBalance(ctx, currency)
	})
}

func (r *Resilient) FetchPosition(ctx context.Context) (*domain.Position, error) {
	return retry(ctx, r, "fetch_position", 0, CallJitter, r.gw.FetchPosition)
}

func (r *Resilient) FetchMarginBalance(ctx context.Context) (domain.Balance, error) {
	return retry(ctx, r, "fetch_margin_balance", 0, CallJitter, r.gw.FetchMarginBalance)
}

func (r *Resilient) FetchLeverage(ctx context.Context) (decimal.Decimal, error) {
	return retry(ctx, r, "fetch_leverage", 0, CallJitter, r.gw.FetchLeverage)
}

func (r *Resilient) FetchWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	return retry(ctx, r, "fetch_wallet_balance", 0, CallJitter, r.gw.FetchWalletBalance)
}

// FetchFundingBalances returns zero balances for exchanges without funding rows.
func (r *Resilient) FetchFundingBalances(ctx context.Context) (domain.FundingBalances, error) {
	f, ok := r.gw.(domain.FundingBalanceFetcher)
	if !ok {
		return domain.FundingBalances{}, nil
	}
	return retry(ctx, r, "fetch_funding_balances", 0, CallJitter, f.FetchFundingBalances)
}

// FetchNetDeposits returns false when the exchange cannot report deposits.
func (r *Resilient) FetchNetDeposits(ctx context.Context) (decimal.Decimal, bool, error) {
	f, ok := r.gw.(domain.DepositFetcher)
	if !ok {
		return decimal.Zero, false, nil
	}
	v, err := retry(ctx, r, "fetch_net_deposits", 0, CallJitter, f.FetchNetDeposits)
	return v, err == nil, err
}

func (r *Resilient) CreateLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal, funding string) (*domain.Order, error) {
	return retry(ctx, r, "create_limit_order", 0, CallJitter, func(ctx context.Context) (*domain.Order, error) {
		return r.gw.CreateLimitOrder(ctx, side, amount, price, funding)
	})
}

func (r *Resilient) CreateMarketOrder(ctx context.Context, side domain.Side, amount decimal.Decimal, funding string) (*domain.Order, error) {
	return retry(ctx, r, "create_market_order", 0, CallJitter, func(ctx context.Context) (*domain.Order, error) {
		return r.gw.CreateMarketOrder(ctx, side, amount, funding)
	})
}

func (r *Resilient) CreateStopOrder(ctx context.Context, side domain.Side, amount, stopPrice decimal.Decimal) (*domain.Order, error) {
	return retry(ctx, r, "create_stop_order", 0, CallJitter, func(ctx context.Context) (*domain.Order, error) {
		return r.gw.CreateStopOrder(ctx, side, amount, stopPrice)
	})
}

// FetchOrderStatus maps unknown orders to the "not found" status.
func (r *Resilient) FetchOrderStatus(ctx context.Context, id string) (domain.OrderStatus, error) {
	status, err := retry(ctx, r, "fetch_order_status", 0, CallJitter, func(ctx context.Context) (domain.OrderStatus, error) {
		return r.gw.FetchOrderStatus(ctx, id)
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.OrderStatusNotFound, nil
	}
	return status, err
}

// CancelOrder cancels the order if it is still open and returns the status it
// had before the cancel attempt.
func (r *Resilient) CancelOrder(ctx context.Context, order domain.Order) (domain.OrderStatus, error) {
	status, err := r.FetchOrderStatus(ctx, order.ID)
	if err != nil {
		return status, err
	}
	if status != domain.OrderStatusOpen {
		if status != domain.OrderStatusNotFound {
			r.logger.Warn("Order not open, nothing to cancel", slog.String("id", order.ID), slog.String("status", string(status)))
		}
		return status, nil
	}

	_, err = retry(ctx, r, "cancel_order", 0, CallJitter, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.gw.CancelOrder(ctx, order.ID)
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.OrderStatusNotFound, nil
	}
	if err != nil {
		return status, err
	}
	r.logger.Info("Order canceled", slog.String("id", order.ID), slog.String("side", string(order.Side)))
	return status, nil
}

func (r *Resilient) FetchOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return retry(ctx, r, "fetch_open_orders", 0, CallJitter, r.gw.FetchOpenOrders)
}

func (r *Resilient) FetchClosedOrders(ctx context.Context) ([]domain.Order, error) {
	return retry(ctx, r, "fetch_closed_orders", 0, CallJitter, r.gw.FetchClosedOrders)
}

func (r *Resilient) SetLeverage(ctx context.Context, value decimal.Decimal) error {
	_, err := retry(ctx, r, "set_leverage", 0, CallJitter, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.gw.SetLeverage(ctx, value)
	})
	return err
}

// CloseAllPositions is a no-op on exchanges that cannot close trades in bulk.
func (r *Resilient) CloseAllPositions(ctx context.Context) error {
	c, ok := r.gw.(domain.PositionCloser)
	if !ok {
		return nil
	}
	_, err := retry(ctx, r, "close_all_positions", 0, CallJitter, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.CloseAllPositions(ctx)
	})
	return err
}

// CanUpdateStop reports whether the stop is updated in place.
func (r *Resilient) CanUpdateStop() bool {
	_, ok := r.gw.(domain.StopUpdater)
	return ok
}

// UpdateStopOrder moves the stop of the open trade.
func (r *Resilient) UpdateStopOrder(ctx context.Context, side domain.Side, stopPrice decimal.Decimal) (*domain.Order, error) {
	u, ok := r.gw.(domain.StopUpdater)
	if !ok {
		return nil, domain.ErrUnsupported
	}
	return retry(ctx, r, "update_stop_order", 0, CallJitter, func(ctx context.Context) (*domain.Order, error) {
		return u.UpdateStopOrder(ctx, side, stopPrice)
	})
}

// StopStatus reads the status of a protective stop wherever the exchange keeps it.
func (r *Resilient) StopStatus(ctx context.Context, stop domain.Order) (domain.OrderStatus, error) {
	u, ok := r.gw.(domain.StopUpdater)
	if !ok {
		return r.FetchOrderStatus(ctx, stop.ID)
	}
	status, err := retry(ctx, r, "fetch_stop_status", 0, CallJitter, func(ctx context.Context) (domain.OrderStatus, error) {
		return u.FetchStopStatus(ctx, stop)
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.OrderStatusNotFound, nil
	}
	return status, err
}

// CanTrail reports whether a native trailing stop is available.
func (r *Resilient) CanTrail() bool {
	_, ok := r.gw.(domain.TrailingStopper)
	return ok
}

// CreateTrailingStop places the exchange-native trailing stop.
func (r *Resilient) CreateTrailingStop(ctx context.Context, side domain.Side, amount, percent decimal.Decimal) (*domain.Order, error) {
	ts, ok := r.gw.(domain.TrailingStopper)
	if !ok {
		return nil, domain.ErrUnsupported
	}
	return retry(ctx, r, "create_trailing_stop", 0, CallJitter, func(ctx context.Context) (*domain.Order, error) {
		return ts.CreateTrailingStop(ctx, side, amount, percent)
	})
}
