package engine

import (
	"context"
	"testing"

	"maverage/internal/domain"
	"maverage/internal/strategy"

	"github.com/shopspring/decimal"
)

// BenchmarkCalculateStopLossPrice measures the ratchet computation of one cycle.
func BenchmarkCalculateStopLossPrice(b *testing.B) {
	entry := decimal.NewFromInt(50000)
	stop := decimal.NewFromInt(48000)
	pct := decimal.NewFromInt(3)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		market := decimal.NewFromInt(int64(50000 + i%2000))
		stop, _ = CalculateStopLossPrice(market, entry, stop, domain.PositionLong, pct, false)
	}
}

// BenchmarkTrader_Step measures a full cycle against the paper exchange
// with an open position and an active stop.
func BenchmarkTrader_Step(b *testing.B) {
	cfg := testConfig()
	cfg.StopLoss = true
	f := newFixture(cfg, signals(strategy.SignalBuy))
	ctx := context.Background()
	if err := f.trader.Step(ctx); err != nil {
		b.Fatalf("Step failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		f.trader.Step(ctx)
	}
}
