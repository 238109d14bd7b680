package report

import (
	"context"
	"fmt"

	"maverage/internal/domain"
	"maverage/internal/execution"
	"maverage/internal/strategy"

	"github.com/shopspring/decimal"
)

// MayerSource returns the current Mayer multiple, nil when unavailable.
type MayerSource interface {
	Fetch(ctx context.Context) *domain.MayerMultiple
}

// Collector reads the figures of a report from the exchange and the rate history.
type Collector struct {
	Exchange *execution.Resilient
	Pair     domain.Pair
	Strategy strategy.Strategy
	Markers  domain.MarkerStore
	Mayer    MayerSource
	// NetDeposits overrides what the exchange reports when positive.
	NetDeposits decimal.Decimal
}

// Collect fills a snapshot except for the daily figures.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	s := Snapshot{Pair: c.Pair}

	mBal, err := c.Exchange.FetchMarginBalance(ctx)
	if err != nil {
		return s, fmt.Errorf("fetch margin balance: %w", err)
	}
	s.MarginBalance = mBal

	if c.NetDeposits.IsPositive() {
		net := c.NetDeposits
		s.NetDeposits = &net
	} else {
		net, ok, err := c.Exchange.FetchNetDeposits(ctx)
		if err != nil {
			return s, fmt.Errorf("fetch net deposits: %w", err)
		}
		if ok {
			s.NetDeposits = &net
		}
	}

	if s.Price, err = c.Exchange.FetchPrice(ctx); err != nil {
		return s, fmt.Errorf("fetch price: %w", err)
	}
	if s.Wallet, err = c.Exchange.FetchWalletBalance(ctx); err != nil {
		return s, fmt.Errorf("fetch wallet balance: %w", err)
	}
	if s.Leverage, err = c.Exchange.FetchLeverage(ctx); err != nil {
		return s, fmt.Errorf("fetch leverage: %w", err)
	}
	if s.Position, err = c.position(ctx, s.Price); err != nil {
		return s, err
	}

	if c.Strategy != nil {
		if d, err := c.Strategy.Evaluate(ctx); err == nil {
			s.ShortMA, s.LongMA = &d.Short, &d.Long
		}
	}
	s.Action = string(domain.ActionNone)
	if c.Markers != nil {
		if m, err := c.Markers.ReadMarker(); err == nil && m.Action != "" {
			s.Action = m.Code()
		}
	}
	if c.Mayer != nil {
		s.Mayer = c.Mayer.Fetch(ctx)
	}
	return s, nil
}

// position returns the open position in quote currency. Exchanges with
// funding rows and no open trade report the larger leg of the account.
func (c *Collector) position(ctx context.Context, price decimal.Decimal) (*decimal.Decimal, error) {
	pos, err := c.Exchange.FetchPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch position: %w", err)
	}
	if pos.IsOpen() {
		v := pos.QuoteNotional
		return &v, nil
	}

	funding, err := c.Exchange.FetchFundingBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch funding balances: %w", err)
	}
	if funding.IsZero() {
		return nil, nil
	}
	v := funding.Fiat
	if crypto := funding.Crypto.Mul(price); crypto.GreaterThan(v) {
		v = crypto
	}
	return &v, nil
}
