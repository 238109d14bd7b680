package sizing

import (
	"context"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// LiquidPolicy sizes orders funded from either leg of a trading account.
type LiquidPolicy struct{}

func (LiquidPolicy) Name() string { return "liquid" }

func (LiquidPolicy) DefaultMinOrderSize() decimal.Decimal        { return DefaultMinOrderSize }
func (LiquidPolicy) DefaultExchangeFeeDivisor() decimal.Decimal { return one }

// Gather falls back to the wallet balances when the trading account is empty.
func (LiquidPolicy) Gather(ctx context.Context, src AccountSource, pair domain.Pair, price decimal.Decimal) (Account, error) {
	acct := Account{Price: price}
	var err error
	if acct.Funding, err = src.FetchFundingBalances(ctx); err != nil {
		return acct, err
	}
	if !acct.Funding.IsZero() {
		return acct, nil
	}
	crypto, err := src.FetchBalance(ctx, pair.Base)
	if err != nil {
		return acct, err
	}
	fiat, err := src.FetchBalance(ctx, pair.Quote)
	if err != nil {
		return acct, err
	}
	acct.Crypto, acct.Fiat = crypto, fiat
	acct.Funding = domain.FundingBalances{Crypto: crypto.Total, Fiat: fiat.Total}
	return acct, nil
}

func (LiquidPolicy) UsedMarginPercent(acct Account, _ Params) decimal.Decimal {
	return hundred.Sub(percentOf(acct.Crypto.Free, acct.Crypto.Total))
}

// fiatInCrypto reports whether the fiat leg outweighs the crypto leg.
func fiatInCrypto(acct Account) (decimal.Decimal, bool) {
	fiat := domain.ToCrypto(acct.Funding.Fiat, acct.Price)
	return fiat, fiat.GreaterThan(acct.Funding.Crypto.Abs())
}

func (LiquidPolicy) SellSize(acct Account, p Params) (decimal.Decimal, bool) {
	total := acct.Funding.Crypto
	if fiat, ok := fiatInCrypto(acct); ok {
		total = fiat
	}
	return finalize(total.Mul(p.ShortPercent).Div(hundred).Div(p.fee()), p)
}

func (LiquidPolicy) BuySize(acct Account, p Params) (decimal.Decimal, bool) {
	if _, ok := fiatInCrypto(acct); ok {
		return finalize(domain.ToCrypto(acct.Funding.Fiat.Div(p.fee()), acct.Price), p)
	}
	return finalize(acct.Funding.Crypto.Abs().Div(p.fee()), p)
}

// StopSize is always false: the stop is a property of the open trade.
func (LiquidPolicy) StopSize(Account, *domain.Order, Params) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

// FundingCurrency picks the leg that carries more value.
func (LiquidPolicy) FundingCurrency(_ domain.Side, acct Account, pair domain.Pair) string {
	if _, ok := fiatInCrypto(acct); ok {
		return pair.Quote
	}
	return pair.Base
}

// ClosesBeforeEntry closes open trades before every buy, and before a sell when trading leveraged.
func (LiquidPolicy) ClosesBeforeEntry(side domain.Side, p Params) bool {
	if side == domain.SideBuy {
		return true
	}
	return p.ApplyLeverage && p.Leverage.GreaterThan(one)
}
