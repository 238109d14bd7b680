package engine

import (
	"context"
	"testing"

	"maverage/internal/domain"
	"maverage/internal/event"
	"maverage/internal/strategy"

	"github.com/shopspring/decimal"
)

func TestCalculateStopLossPrice(t *testing.T) {
	tests := []struct {
		name     string
		market   string
		entry    string
		existing string
		side     domain.PositionSide
		noAction bool
		want     string // "" means no stop
	}{
		{"short initial", "10100", "10000", "0", domain.PositionShort, false, "10500"},
		{"short from entry", "10100", "9500", "0", domain.PositionShort, false, "9975"},
		{"short at loss with no action", "10100", "9500", "0", domain.PositionShort, true, ""},
		{"short keeps tighter stop", "10500", "9500", "10050", domain.PositionShort, false, "10050"},
		{"short in profit with no action", "9000", "10000", "0", domain.PositionShort, true, "9450"},
		{"long initial", "9600", "10000", "0", domain.PositionLong, false, "9500"},
		{"long at loss with no action", "9600", "10000", "0", domain.PositionLong, true, ""},
		{"long keeps higher stop", "10000", "10000", "10600", domain.PositionLong, false, "10600"},
		{"long trails market", "12000", "10000", "9500", domain.PositionLong, true, "11400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CalculateStopLossPrice(d(tt.market), d(tt.entry), d(tt.existing), tt.side, d("5"), tt.noAction)
			if tt.want == "" {
				if ok {
					t.Errorf("Expected no stop, got %s", got)
				}
				return
			}
			if !ok {
				t.Fatalf("Expected stop %s, got none", tt.want)
			}
			if !got.Equal(d(tt.want)) {
				t.Errorf("Stop = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStopLossNeverLoosens(t *testing.T) {
	pct := d("3")
	t.Run("long", func(t *testing.T) {
		stop := decimal.Zero
		for _, m := range []string{"10000", "10000", "10200", "10150", "10150", "11000", "12500"} {
			next, ok := CalculateStopLossPrice(d(m), d("10000"), stop, domain.PositionLong, pct, false)
			if !ok {
				t.Fatalf("no stop at %s", m)
			}
			if next.LessThan(stop) {
				t.Fatalf("stop loosened from %s to %s at %s", stop, next, m)
			}
			stop = next
		}
	})
	t.Run("short", func(t *testing.T) {
		stop := decimal.Zero
		for _, m := range []string{"10000", "9900", "9900", "9950", "9000", "8000"} {
			next, ok := CalculateStopLossPrice(d(m), d("10000"), stop, domain.PositionShort, pct, false)
			if !ok {
				t.Fatalf("no stop at %s", m)
			}
			if !stop.IsZero() && next.GreaterThan(stop) {
				t.Fatalf("stop loosened from %s to %s at %s", stop, next, m)
			}
			stop = next
		}
	})
}

func stopLossFixture(noAction bool) *fixture {
	cfg := testConfig()
	cfg.StopLoss = true
	cfg.NoActionAtLoss = noAction
	return newFixture(cfg, signals(strategy.SignalBuy))
}

func openStops(f *fixture) []domain.Order {
	var out []domain.Order
	for _, o := range ordersOfKind(f.gw.Orders(), domain.OrderKindStop) {
		if status, _ := f.gw.FetchOrderStatus(context.Background(), o.ID); status == domain.OrderStatusOpen {
			out = append(out, o)
		}
	}
	return out
}

func TestTrader_PlacesAndRatchetsStop(t *testing.T) {
	f := stopLossFixture(false)
	ctx := context.Background()

	if err := f.trader.Step(ctx); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if f.trader.StopState() != StopActive {
		t.Fatalf("Expected ACTIVE stop, got %s", f.trader.StopState())
	}
	st := f.trader.State()
	if !st.StopLossPrice.Equal(d("9500")) {
		t.Errorf("Expected stop 9500, got %s", st.StopLossPrice)
	}
	if st.StopLossOrder.Side != domain.SideSell {
		t.Errorf("Expected sell stop for a long, got %s", st.StopLossOrder.Side)
	}

	f.gw.SetPrice(d("11000"))
	if err := f.trader.Step(ctx); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	st = f.trader.State()
	if !st.StopLossPrice.Equal(d("10450")) {
		t.Errorf("Expected ratcheted stop 10450, got %s", st.StopLossPrice)
	}
	if stops := openStops(f); len(stops) != 1 || stops[0].ID != st.StopLossOrder.ID {
		t.Errorf("Expected exactly the new stop open, got %+v", stops)
	}

	f.gw.SetPrice(d("10500"))
	if err := f.trader.Step(ctx); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if got := f.trader.State().StopLossPrice; !got.Equal(d("10450")) {
		t.Errorf("Stop must not loosen, got %s", got)
	}
	if n := len(ordersOfKind(f.gw.Orders(), domain.OrderKindStop)); n != 2 {
		t.Errorf("Expected no new stop order, got %d stops", n)
	}
}

func TestTrader_StopPendingWhileAtLoss(t *testing.T) {
	f := stopLossFixture(true)

	if err := f.trader.Step(context.Background()); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if f.trader.StopState() != StopPending {
		t.Errorf("Expected PENDING stop, got %s", f.trader.StopState())
	}
	if n := len(ordersOfKind(f.gw.Orders(), domain.OrderKindStop)); n != 0 {
		t.Errorf("Expected no stop order, got %d", n)
	}
}

func TestTrader_StoppedOut(t *testing.T) {
	f := stopLossFixture(false)
	ctx := context.Background()

	if err := f.trader.Step(ctx); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	f.gw.SetPrice(d("9400"))
	if err := f.trader.Step(ctx); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	st := f.trader.State()
	if st.LastAction != domain.ActionNone || st.CurrentOrder != nil || st.StopLossOrder != nil || st.StopLossPrice != nil {
		t.Fatalf("Expected cleared state, got %+v", st)
	}
	if f.trader.StopState() != StopNone {
		t.Errorf("Expected NONE stop state, got %s", f.trader.StopState())
	}
	if f.markers.current != (domain.Marker{Action: domain.ActionNone}) {
		t.Errorf("Expected marker NONE, got %+v", f.markers.current)
	}
	last := f.pub.events[len(f.pub.events)-1]
	if last.Kind != event.KindStoppedOut || last.Prefix() != event.PrefixStopLoss {
		t.Errorf("Expected stopped out event, got %+v", last)
	}
	if !last.Order.Price.Equal(d("9500")) {
		t.Errorf("Expected stop price 9500 in event, got %s", last.Order.Price)
	}

	// the next cycle re-enters with the current signal
	if err := f.trader.Step(ctx); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if st := f.trader.State(); st.LastAction != domain.ActionBuy || st.CurrentOrder == nil {
		t.Errorf("Expected re-entry, got %+v", st)
	}
}

func TestTrader_FixesMissingEntryPrice(t *testing.T) {
	cfg := testConfig()
	cfg.StopLoss = true
	cfg.TradeTrials = 0
	f := newFixture(cfg, signals(strategy.SignalSell))

	if err := f.trader.Step(context.Background()); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	st := f.trader.State()
	if st.CurrentOrder.Kind != domain.OrderKindMarket {
		t.Fatalf("Expected market entry, got %s", st.CurrentOrder.Kind)
	}
	if !st.CurrentOrder.Price.Equal(d("10000")) {
		t.Errorf("Expected entry price fixed to 10000, got %s", st.CurrentOrder.Price)
	}
	if !st.StopLossPrice.Equal(d("10500")) {
		t.Errorf("Expected short stop 10500, got %s", st.StopLossPrice)
	}
}

func TestTrader_ReplacesVanishedStop(t *testing.T) {
	for _, status := range []domain.OrderStatus{domain.OrderStatusCanceled, domain.OrderStatusNotFound} {
		t.Run(string(status), func(t *testing.T) {
			f := stopLossFixture(false)
			ctx := context.Background()

			if err := f.trader.Step(ctx); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			gone := f.trader.State().StopLossOrder
			if gone == nil {
				t.Fatal("Expected a stop after the first cycle")
			}
			f.gw.SetOrderStatus(gone.ID, status)

			if err := f.trader.Step(ctx); err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			st := f.trader.State()
			if st.StopLossOrder == nil || st.StopLossOrder.ID == gone.ID {
				t.Fatalf("Expected a replacement stop in the same cycle, got %+v", st.StopLossOrder)
			}
			if f.trader.StopState() != StopActive {
				t.Errorf("Expected ACTIVE stop, got %s", f.trader.StopState())
			}
			if stops := openStops(f); len(stops) != 1 || stops[0].ID != st.StopLossOrder.ID {
				t.Errorf("Expected the replacement stop open on the exchange, got %+v", stops)
			}
			if !st.StopLossPrice.Equal(d("9500")) {
				t.Errorf("Expected stop 9500 at an unchanged price, got %s", st.StopLossPrice)
			}
		})
	}
}
