// Package sizing computes order amounts for each supported exchange.
//
// Every function here is pure: the caller gathers an Account snapshot once per
// decision and the policy turns it into an amount in the exchange's unit, or
// reports that no order should be placed.
package sizing

import (
	"context"
	"fmt"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// DefaultFeeDivisor leaves room for trading fees on every exchange.
	DefaultFeeDivisor = decimal.RequireFromString("1.01")
	// KrakenFeeDivisor is the extra margin Kraken needs for its opening fee and rollover.
	KrakenFeeDivisor = decimal.RequireFromString("1.04")
	// BitmexMinOrderSize is the smallest amount worth sending to BitMEX.
	BitmexMinOrderSize = decimal.RequireFromString("0.0001")
	// DefaultMinOrderSize applies to every other exchange.
	DefaultMinOrderSize = decimal.RequireFromString("0.001")

	// closeDivisor converts a short position back to the amount needed to close it.
	closeDivisor = decimal.RequireFromString("0.99")
)

// Params are the configured sizing knobs.
type Params struct {
	ShortPercent       decimal.Decimal
	Leverage           decimal.Decimal
	ApplyLeverage      bool
	MinOrderSize       decimal.Decimal
	FeeDivisor         decimal.Decimal
	ExchangeFeeDivisor decimal.Decimal
}

// leverage returns the multiplier applied to balances. It is 1 unless leverage is applied.
func (p Params) leverage() decimal.Decimal {
	if p.ApplyLeverage && p.Leverage.IsPositive() {
		return p.Leverage
	}
	return one
}

func (p Params) fee() decimal.Decimal {
	if p.FeeDivisor.IsPositive() {
		return p.FeeDivisor
	}
	return DefaultFeeDivisor
}

func (p Params) exchangeFee() decimal.Decimal {
	if p.ExchangeFeeDivisor.IsPositive() {
		return p.ExchangeFeeDivisor
	}
	return one
}

// Account is the snapshot a policy sizes against. Fields a policy does not
// need stay zero.
type Account struct {
	Price    decimal.Decimal
	Crypto   domain.Balance
	Fiat     domain.Balance
	Margin   domain.Balance
	Position *domain.Position
	Funding  domain.FundingBalances
}

// AccountSource is the read side of the exchange a policy gathers from.
type AccountSource interface {
	FetchBalance(ctx context.Context, currency string) (domain.Balance, error)
	FetchPosition(ctx context.Context) (*domain.Position, error)
	FetchMarginBalance(ctx context.Context) (domain.Balance, error)
	FetchFundingBalances(ctx context.Context) (domain.FundingBalances, error)
}

// Policy holds the exchange specific sizing rules.
type Policy interface {
	Name() string
	// Gather reads what the policy needs from the exchange.
	Gather(ctx context.Context, src AccountSource, pair domain.Pair, price decimal.Decimal) (Account, error)
	// SellSize and BuySize return false when no order should be placed.
	SellSize(acct Account, p Params) (decimal.Decimal, bool)
	BuySize(acct Account, p Params) (decimal.Decimal, bool)
	// StopSize returns the amount of the protective stop, false when the exchange has no stop order.
	StopSize(acct Account, existing *domain.Order, p Params) (decimal.Decimal, bool)
	// UsedMarginPercent is the share of the balance currently committed.
	UsedMarginPercent(acct Account, p Params) decimal.Decimal
	// FundingCurrency returns the currency the order is funded in, "" when not applicable.
	FundingCurrency(side domain.Side, acct Account, pair domain.Pair) string
	// ClosesBeforeEntry reports whether open trades must be closed before an entry on side.
	ClosesBeforeEntry(side domain.Side, p Params) bool
	DefaultMinOrderSize() decimal.Decimal
	DefaultExchangeFeeDivisor() decimal.Decimal
}

// New returns the policy for the named exchange.
func New(exchange string) (Policy, error) {
	switch exchange {
	case "bitmex":
		return BitmexPolicy{}, nil
	case "kraken":
		return KrakenPolicy{}, nil
	case "liquid":
		return LiquidPolicy{}, nil
	case "paper":
		// The paper exchange models a BitMEX-style inverse margin account.
		return BitmexPolicy{}, nil
	default:
		return nil, fmt.Errorf("no sizing policy for exchange %q", exchange)
	}
}

// WithDefaults fills unset params from the policy.
func WithDefaults(pol Policy, p Params) Params {
	if !p.MinOrderSize.IsPositive() {
		p.MinOrderSize = pol.DefaultMinOrderSize()
	}
	if !p.FeeDivisor.IsPositive() {
		p.FeeDivisor = DefaultFeeDivisor
	}
	if !p.ExchangeFeeDivisor.IsPositive() {
		p.ExchangeFeeDivisor = pol.DefaultExchangeFeeDivisor()
	}
	return p
}

// finalize applies the exchange fee divisor, rounds to 8 places and enforces the minimum.
func finalize(size decimal.Decimal, p Params) (decimal.Decimal, bool) {
	size = size.Div(p.exchangeFee()).Round(8)
	if !size.GreaterThan(p.MinOrderSize) {
		return decimal.Zero, false
	}
	return size, true
}

// percentOf returns part/total*100, or zero for an empty total.
func percentOf(part, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return part.Div(total).Mul(hundred)
}

// shortShare sizes the remaining room up to the short target: total * diff% / fee.
func shortShare(total, used decimal.Decimal, p Params) (decimal.Decimal, bool) {
	diff := p.ShortPercent.Sub(used)
	if !diff.IsPositive() {
		return decimal.Zero, false
	}
	return total.Mul(diff).Div(hundred).Div(p.fee()), true
}
