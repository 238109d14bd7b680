package engine

import (
	"context"
	"log/slog"
	"time"

	"maverage/internal/domain"
	"maverage/internal/event"
	"maverage/internal/execution"

	"github.com/shopspring/decimal"
)

// StopState is the protection state of the current position.
type StopState string

const (
	// StopNone means there is no position to protect.
	StopNone StopState = "NONE"
	// StopPending means a position is open but no stop has been placed yet.
	StopPending StopState = "PENDING"
	// StopActive means a stop order protects the position.
	StopActive StopState = "ACTIVE"
)

// stopCancelJitter lets the exchange settle a canceled stop before open orders are listed.
var stopCancelJitter = execution.Jitter{Min: 1 * time.Second, Max: 3 * time.Second}

// StopState derives the protection state from the trading state.
func (t *Trader) StopState() StopState {
	switch {
	case t.state.CurrentOrder == nil:
		return StopNone
	case t.state.StopLossOrder == nil:
		return StopPending
	default:
		return StopActive
	}
}

// CalculateStopLossPrice returns the stop for a position entered at entry.
//
// A zero existing stop means none was placed. For LONG the stop starts pct
// below the entry and follows the market up, for SHORT it starts pct above
// and follows the market down. With noActionAtLoss no stop is returned
// until it would lock in a gain.
func CalculateStopLossPrice(market, entry, existing decimal.Decimal, side domain.PositionSide, pct decimal.Decimal, noActionAtLoss bool) (decimal.Decimal, bool) {
	stop := existing
	if side == domain.PositionLong {
		if stop.IsZero() {
			stop = entry.Sub(entry.Div(hundred).Mul(pct))
		}
		if trail := market.Sub(market.Div(hundred).Mul(pct)); trail.GreaterThan(stop) {
			stop = trail
		}
		if !noActionAtLoss || stop.GreaterThan(entry) {
			return stop, true
		}
		return decimal.Zero, false
	}

	if stop.IsZero() {
		stop = entry.Add(entry.Div(hundred).Mul(pct))
	}
	if trail := market.Add(market.Div(hundred).Mul(pct)); trail.LessThan(stop) {
		stop = trail
	}
	if !noActionAtLoss || stop.LessThan(entry) {
		return stop, true
	}
	return decimal.Zero, false
}

// improves reports whether candidate tightens the stop in the position's favor.
func improves(side domain.PositionSide, candidate, current decimal.Decimal) bool {
	if side == domain.PositionLong {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

// exitSide is the order side that closes a position.
func exitSide(side domain.PositionSide) domain.Side {
	if side == domain.PositionLong {
		return domain.SideSell
	}
	return domain.SideBuy
}

func (t *Trader) stopPrice() decimal.Decimal {
	if t.state.StopLossPrice == nil {
		return decimal.Zero
	}
	return *t.state.StopLossPrice
}

// protect checks the stop of the current position and ratchets it.
func (t *Trader) protect(ctx context.Context) error {
	price := t.ex.FetchPriceBounded(ctx, t.cfg.PriceAttempts)
	if !price.IsPositive() {
		return ctx.Err()
	}
	t.recorder.SetPrice(price)

	if stop := t.state.StopLossOrder; stop != nil {
		status, err := t.ex.StopStatus(ctx, *stop)
		if err != nil {
			return t.abandon("fetch_stop_status", err)
		}
		switch status {
		case domain.OrderStatusOpen:
		case domain.OrderStatusClosed:
			t.stoppedOut(stop)
			return nil
		default:
			t.logger.Warn("Stop vanished, placing a new one",
				slog.String("id", stop.ID),
				slog.String("status", string(status)),
			)
			t.state.StopLossOrder = nil
			t.state.StopLossPrice = nil
		}
	}

	order := t.state.CurrentOrder
	if !order.HasPrice() {
		if err := t.fixOrderPrice(ctx); err != nil {
			return err
		}
		if !order.HasPrice() {
			t.logger.Warn("Entry price unknown, stop not computed", slog.String("id", order.ID))
			return nil
		}
	}

	side := domain.SideOf(order.Side)
	candidate, ok := CalculateStopLossPrice(price, order.Price, t.stopPrice(), side, t.cfg.StopLossPercent, t.cfg.NoActionAtLoss)
	if !ok {
		return nil
	}
	if t.state.StopLossOrder != nil && !improves(side, candidate, t.stopPrice()) {
		return nil
	}
	return t.updateStop(ctx, side, candidate)
}

// fixOrderPrice completes an entry without price from the closed order list.
func (t *Trader) fixOrderPrice(ctx context.Context) error {
	order := t.state.CurrentOrder
	t.logger.Warn("Price of order was missing", slog.String("id", order.ID))
	closed, err := t.ex.FetchClosedOrders(ctx)
	if err != nil {
		return t.abandon("fetch_closed_orders", err)
	}
	for i := len(closed) - 1; i >= 0; i-- {
		if closed[i].ID == order.ID && closed[i].HasPrice() {
			order.Price = closed[i].Price
			return nil
		}
	}
	return nil
}

// updateStop moves the protective stop to price, depending on what the exchange supports.
func (t *Trader) updateStop(ctx context.Context, side domain.PositionSide, price decimal.Decimal) error {
	dir := exitSide(side)

	switch {
	case t.cfg.NativeTrailingStop && t.ex.CanTrail():
		if t.state.StopLossOrder != nil {
			return nil
		}
		stop, err := t.ex.CreateTrailingStop(ctx, dir, t.state.CurrentOrder.Amount, t.cfg.StopLossPercent)
		if err != nil {
			return t.abandon("create_trailing_stop", err)
		}
		t.setStop(stop, price)
		return nil

	case t.ex.CanUpdateStop():
		stop, err := t.ex.UpdateStopOrder(ctx, dir, price)
		if err != nil {
			return t.abandon("update_stop_order", err)
		}
		if stop == nil {
			t.logger.Warn("No open trade to protect")
			return nil
		}
		t.setStop(stop, stop.Price)
		return nil
	}

	old := t.state.StopLossOrder
	before := domain.OrderStatusOpen
	if old != nil {
		var err error
		if before, err = t.ex.CancelOrder(ctx, *old); err != nil {
			return t.abandon("cancel_order", err)
		}
		if err := t.ex.Sleep(ctx, stopCancelJitter.Draw()); err != nil {
			return err
		}
	}
	if err := t.cancelStrayStops(ctx, old); err != nil {
		return err
	}

	switch before {
	case domain.OrderStatusOpen:
	case domain.OrderStatusClosed:
		t.stoppedOut(old)
		return nil
	default:
		t.logger.Warn("Previous stop vanished, placing a new one next cycle", slog.String("status", string(before)))
		t.state.StopLossOrder = nil
		t.state.StopLossPrice = nil
		return nil
	}

	acct, err := t.accountAt(ctx, price)
	if err != nil {
		return t.abandon("gather_account", err)
	}
	amount, ok := t.policy.StopSize(acct, old, t.cfg.Sizing)
	if !ok {
		t.state.StopLossOrder = nil
		t.state.StopLossPrice = nil
		return nil
	}
	stop, err := t.ex.CreateStopOrder(ctx, dir, amount, price)
	if err != nil {
		t.state.StopLossOrder = nil
		t.state.StopLossPrice = nil
		return t.abandon("create_stop_order", err)
	}
	t.recorder.ObserveOrder(string(dir), string(domain.OrderKindStop))
	t.setStop(stop, stop.Price)
	return nil
}

// cancelStrayStops cancels stop orders left open besides the known one.
func (t *Trader) cancelStrayStops(ctx context.Context, known *domain.Order) error {
	open, err := t.ex.FetchOpenOrders(ctx)
	if err != nil {
		return t.abandon("fetch_open_orders", err)
	}
	for _, o := range open {
		if !o.IsStop() || (known != nil && o.ID == known.ID) {
			continue
		}
		t.logger.Warn("Found pending stop", slog.String("id", o.ID))
		if _, err := t.ex.CancelOrder(ctx, o); err != nil {
			return t.abandon("cancel_order", err)
		}
	}
	return nil
}

func (t *Trader) setStop(stop *domain.Order, price decimal.Decimal) {
	t.state.StopLossOrder = stop
	t.state.StopLossPrice = &price
	t.recorder.ObserveStopUpdate()
	t.logger.Info("Stop loss placed",
		slog.String("side", string(stop.Side)),
		slog.String("price", price.StringFixed(2)),
		slog.String("id", stop.ID),
	)
}

// stoppedOut clears the position after the stop was hit. The next signal
// re-enters the market.
func (t *Trader) stoppedOut(stop *domain.Order) {
	t.logger.Info("Filled stop",
		slog.String("side", string(stop.Side)),
		slog.String("id", stop.ID),
		slog.String("price", t.stopPrice().StringFixed(2)),
	)
	hit := *stop
	if price := t.stopPrice(); price.IsPositive() {
		hit.Price = price
	}
	t.state.ClearPosition()
	t.state.LastAction = domain.ActionNone
	t.state.Pending = false
	t.writeMarker(t.state.Marker())
	t.recorder.ObserveStoppedOut()
	t.publish(event.NewStoppedOut(&hit, t.now()))
}
