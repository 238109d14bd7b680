package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"maverage/internal/domain"
	"maverage/internal/execution"
	"maverage/internal/sizing"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LimitPrice places the order the trade advantage inside the market: below it
// for buys, above it for sells. Prices are rounded to one decimal.
func LimitPrice(side domain.Side, market, advantagePercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(advantagePercent.Div(hundred))
	if side == domain.SideBuy {
		return market.Div(factor).RoundBank(1)
	}
	return market.Mul(factor).RoundBank(1)
}

// PollAttempts is the number of status polls that fit into the order adjust time.
func PollAttempts(adjust, interval time.Duration) int {
	if interval <= 0 || adjust <= interval {
		return 1
	}
	return int(math.RoundToEven(float64(adjust) / float64(interval)))
}

// enter runs the order protocol for a transition to action. It returns nil
// when no order was filled and the prior state should stay.
//
// Limit orders are tried TradeTrials times, each polled for the order adjust
// time and canceled when still open. A MARKET order follows when none filled.
func (t *Trader) enter(ctx context.Context, action domain.Action) (*domain.Order, error) {
	side := action.Side()
	params := t.cfg.Sizing

	if t.policy.ClosesBeforeEntry(side, params) {
		if err := t.ex.CloseAllPositions(ctx); err != nil {
			return nil, t.abandon("close_all_positions", err)
		}
		if err := t.ex.Sleep(ctx, execution.CallJitter.Draw()); err != nil {
			return nil, err
		}
	}

	price, err := t.ex.FetchPrice(ctx)
	if err != nil {
		return nil, t.abandon("fetch_price", err)
	}
	acct, err := t.policy.Gather(ctx, t.ex, t.cfg.Pair, price)
	if err != nil {
		return nil, t.abandon("gather_account", err)
	}
	funding := t.policy.FundingCurrency(side, acct, t.cfg.Pair)

	var size decimal.Decimal
	if side == domain.SideSell {
		var ok bool
		if size, ok = t.policy.SellSize(acct, params); !ok {
			t.logger.Info("Sell size below minimum, no order", slog.String("min", params.MinOrderSize.String()))
			return nil, nil
		}
	}

	for trial := 1; trial <= t.cfg.TradeTrials; trial++ {
		if price, err = t.ex.FetchPrice(ctx); err != nil {
			return nil, t.abandon("fetch_price", err)
		}
		limit := LimitPrice(side, price, t.cfg.TradeAdvantagePercent)
		if side == domain.SideBuy {
			var ok bool
			if size, ok, err = t.buySize(ctx, limit); err != nil || !ok {
				return nil, err
			}
		}

		order, err := t.ex.CreateLimitOrder(ctx, side, size, limit, funding)
		if err != nil {
			return nil, t.abandon("create_limit_order", err)
		}
		t.recorder.ObserveOrder(string(side), string(domain.OrderKindLimit))
		t.markPending(action)
		t.logger.Info("Limit order placed",
			slog.Int("trial", trial),
			slog.String("side", string(side)),
			slog.String("amount", size.String()),
			slog.String("price", limit.String()),
			slog.String("id", order.ID),
		)

		status, err := t.poll(ctx, order)
		if err != nil {
			return t.withdraw(ctx, order, err)
		}
		if status != domain.OrderStatusOpen {
			return order, nil
		}

		before, err := t.ex.CancelOrder(ctx, *order)
		if err != nil {
			return nil, t.abandon("cancel_order", err)
		}
		if before == domain.OrderStatusClosed {
			// filled between the last poll and the cancel
			return order, nil
		}

		if now, ok := t.signal(ctx); ok && now == t.state.LastAction {
			t.logger.Info("Signal flipped back, abandoning transition", slog.String("signal", string(now)))
			return nil, nil
		}
		t.tick(ctx)
	}

	if side == domain.SideBuy {
		if price, err = t.ex.FetchPrice(ctx); err != nil {
			return nil, t.abandon("fetch_price", err)
		}
		var ok bool
		if size, ok, err = t.buySize(ctx, price); err != nil || !ok {
			return nil, err
		}
	}
	t.markPending(action)
	order, err := t.ex.CreateMarketOrder(ctx, side, size, funding)
	if err != nil {
		return nil, t.abandon("create_market_order", err)
	}
	t.recorder.ObserveOrder(string(side), string(domain.OrderKindMarket))
	t.logger.Info("Market order placed",
		slog.String("side", string(side)),
		slog.String("amount", size.String()),
		slog.String("id", order.ID),
	)
	return order, nil
}

// withdraw cancels an entry whose status could not be read. An order that
// turns out to be filled is returned as the entry.
func (t *Trader) withdraw(ctx context.Context, order *domain.Order, pollErr error) (*domain.Order, error) {
	if ctx.Err() != nil {
		return nil, pollErr
	}
	before, err := t.ex.CancelOrder(ctx, *order)
	switch {
	case err != nil:
		t.logger.Warn("Could not cancel unpolled order", slog.String("id", order.ID), slog.Any("error", err))
	case before == domain.OrderStatusClosed:
		return order, nil
	}
	return nil, t.abandon("fetch_order_status", pollErr)
}

// buySize re-reads the account at price, since the balance moves between trials.
func (t *Trader) buySize(ctx context.Context, price decimal.Decimal) (decimal.Decimal, bool, error) {
	acct, err := t.policy.Gather(ctx, t.ex, t.cfg.Pair, price)
	if err != nil {
		return decimal.Zero, false, t.abandon("gather_account", err)
	}
	size, ok := t.policy.BuySize(acct, t.cfg.Sizing)
	if !ok {
		t.logger.Info("Buy size below minimum, no order", slog.String("min", t.cfg.Sizing.MinOrderSize.String()))
	}
	return size, ok, nil
}

// poll waits for the order to leave the open state, for at most the order adjust time.
func (t *Trader) poll(ctx context.Context, order *domain.Order) (domain.OrderStatus, error) {
	status := domain.OrderStatusOpen
	wait := t.cfg.PollInterval - time.Second
	for i := 0; i < PollAttempts(t.cfg.OrderAdjust, t.cfg.PollInterval) && status == domain.OrderStatusOpen; i++ {
		t.tick(ctx)
		if err := t.ex.Sleep(ctx, wait); err != nil {
			return status, err
		}
		var err error
		if status, err = t.ex.FetchOrderStatus(ctx, order.ID); err != nil {
			return status, err
		}
	}
	return status, nil
}

// accountAt gathers the account snapshot used for stop sizing.
func (t *Trader) accountAt(ctx context.Context, price decimal.Decimal) (sizing.Account, error) {
	return t.policy.Gather(ctx, t.ex, t.cfg.Pair, price)
}
