package sizing

import (
	"context"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// BitmexPolicy sizes inverse contracts against the base currency margin balance.
type BitmexPolicy struct{}

func (BitmexPolicy) Name() string { return "bitmex" }

func (BitmexPolicy) DefaultMinOrderSize() decimal.Decimal        { return BitmexMinOrderSize }
func (BitmexPolicy) DefaultExchangeFeeDivisor() decimal.Decimal { return one }

func (BitmexPolicy) Gather(ctx context.Context, src AccountSource, pair domain.Pair, price decimal.Decimal) (Account, error) {
	acct := Account{Price: price}
	var err error
	if acct.Crypto, err = src.FetchBalance(ctx, pair.Base); err != nil {
		return acct, err
	}
	if acct.Position, err = src.FetchPosition(ctx); err != nil {
		return acct, err
	}
	return acct, nil
}

func (b BitmexPolicy) UsedMarginPercent(acct Account, p Params) decimal.Decimal {
	if acct.Position.IsOpen() {
		total := acct.Crypto.Total.Mul(p.leverage())
		return percentOf(acct.Position.HomeNotional.Abs(), total)
	}
	return hundred.Sub(percentOf(acct.Crypto.Free, acct.Crypto.Total))
}

// SellSize flips an open long into the configured short share, or tops up a
// short until the target share is reached.
func (b BitmexPolicy) SellSize(acct Account, p Params) (decimal.Decimal, bool) {
	total := acct.Crypto.Total.Mul(p.leverage())
	pos := acct.Position
	if pos.IsOpen() {
		hn := pos.HomeNotional
		if hn.IsPositive() {
			diff := total.Sub(hn.Mul(p.fee())).Mul(p.ShortPercent).Div(hundred)
			factor := hundred.Add(p.ShortPercent).Div(hundred)
			return finalize(hn.Mul(factor).Add(diff).Add(pos.UnrealizedPnl), p)
		}
		if b.UsedMarginPercent(acct, p).GreaterThan(p.ShortPercent) {
			return decimal.Zero, false
		}
	}
	size, ok := shortShare(total, b.UsedMarginPercent(acct, p), p)
	if !ok {
		return decimal.Zero, false
	}
	return finalize(size, p)
}

// BuySize closes any short and goes long with the whole (leveraged) balance.
func (BitmexPolicy) BuySize(acct Account, p Params) (decimal.Decimal, bool) {
	total := acct.Crypto.Total.Mul(p.leverage())
	pos := acct.Position
	if !pos.IsOpen() {
		return finalize(total.Div(p.fee()), p)
	}
	hn := pos.HomeNotional
	base := total.Add(pos.UnrealizedPnl)
	if hn.IsNegative() {
		base = base.Add(hn.Abs().Div(closeDivisor))
	} else {
		base = base.Sub(hn.Div(closeDivisor))
	}
	return finalize(base.Div(p.fee()), p)
}

// StopSize protects the whole position in contracts.
func (BitmexPolicy) StopSize(acct Account, existing *domain.Order, p Params) (decimal.Decimal, bool) {
	if existing != nil {
		return existing.Amount, true
	}
	if !acct.Position.IsOpen() {
		return decimal.Zero, false
	}
	size := acct.Position.QuoteNotional.Abs()
	return size, size.IsPositive()
}

func (BitmexPolicy) FundingCurrency(domain.Side, Account, domain.Pair) string { return "" }

func (BitmexPolicy) ClosesBeforeEntry(domain.Side, Params) bool { return false }
