package engine

import (
	"context"
	"fmt"
	"log/slog"

	"maverage/internal/domain"
)

// Recover rebuilds the trading state from the action marker and the
// exchange's open and closed orders. Running it again against a consistent
// state leaves the state unchanged.
func (t *Trader) Recover(ctx context.Context) error {
	st := domain.NewTradingState()

	open, err := t.ex.FetchOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	if n := len(open); n > 0 {
		last := open[n-1]
		if !last.IsStop() {
			return t.recoverPending(ctx, st, last)
		}
		price := last.Price
		st.StopLossOrder = &last
		st.StopLossPrice = &price
	}

	if t.cfg.Reset {
		t.logger.Info("Reset requested, ignoring last action")
		st.LastAction = domain.ActionNone
		st.StopLossOrder = nil
		st.StopLossPrice = nil
		t.state = st
		return nil
	}

	m, err := t.markers.ReadMarker()
	if err != nil {
		return err
	}
	if m.Action == "" {
		// first run
		st.LastAction = t.recoverSignal(ctx)
		t.writeMarker(st.Marker())
		t.state = st
		return nil
	}
	st.LastAction = m.Action
	if m.Pending {
		t.logger.Warn("Pending action was filled", slog.String("action", m.Code()))
		t.writeMarker(st.Marker())
	}

	if err := t.adoptLastFill(ctx, st); err != nil {
		return err
	}

	t.state = st
	t.logRecovered()
	return nil
}

// recoverPending handles an entry order left open by an interrupted transition.
func (t *Trader) recoverPending(ctx context.Context, st *domain.TradingState, order domain.Order) error {
	t.logger.Warn("Pending order", slog.String("id", order.ID), slog.String("side", string(order.Side)))
	before, err := t.ex.CancelOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("cancel pending order: %w", err)
	}
	m, err := t.markers.ReadMarker()
	if err != nil {
		return err
	}

	st.LastAction = m.Action
	if st.LastAction == "" {
		st.LastAction = domain.ActionNone
	}
	if m.Pending {
		t.logger.Warn("Pending action was", slog.String("action", m.Code()))
		if before == domain.OrderStatusOpen {
			st.LastAction = t.recoverSignal(ctx)
		} else {
			st.CurrentOrder = &order
		}
		t.writeMarker(st.Marker())
		t.logger.Info("Writing new last action", slog.String("action", string(st.LastAction)))
	}
	if st.CurrentOrder == nil {
		if err := t.adoptLastFill(ctx, st); err != nil {
			return err
		}
	}
	t.state = st
	t.logRecovered()
	return nil
}

// adoptLastFill takes the last closed entry order as the current order when
// it opened the position st.LastAction describes.
func (t *Trader) adoptLastFill(ctx context.Context, st *domain.TradingState) error {
	if !st.LastAction.IsTrade() {
		return nil
	}
	closed, err := t.ex.FetchClosedOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch closed orders: %w", err)
	}
	n := len(closed)
	if n == 0 {
		return nil
	}
	last := closed[n-1]
	if last.IsStop() || domain.ActionFor(last.Side) != st.LastAction {
		return nil
	}
	st.CurrentOrder = &last
	return nil
}

// recoverSignal returns the current signal, NONE when the strategy has none.
func (t *Trader) recoverSignal(ctx context.Context) domain.Action {
	action, ok := t.signal(ctx)
	if !ok {
		return domain.ActionNone
	}
	return action
}

func (t *Trader) logRecovered() {
	attrs := []any{slog.String("last_action", string(t.state.LastAction))}
	if o := t.state.CurrentOrder; o != nil {
		attrs = append(attrs, slog.String("order", o.ID))
	}
	if o := t.state.StopLossOrder; o != nil {
		attrs = append(attrs, slog.String("stop", o.ID), slog.String("stop_price", o.Price.StringFixed(2)))
	}
	t.logger.Info("State recovered", attrs...)
}
