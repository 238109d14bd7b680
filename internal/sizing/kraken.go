package sizing

import (
	"context"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// KrakenPolicy sizes spot margin orders where leverage is chosen per order.
type KrakenPolicy struct{}

func (KrakenPolicy) Name() string { return "kraken" }

func (KrakenPolicy) DefaultMinOrderSize() decimal.Decimal        { return DefaultMinOrderSize }
func (KrakenPolicy) DefaultExchangeFeeDivisor() decimal.Decimal { return KrakenFeeDivisor }

func (KrakenPolicy) Gather(ctx context.Context, src AccountSource, pair domain.Pair, price decimal.Decimal) (Account, error) {
	acct := Account{Price: price}
	var err error
	if acct.Crypto, err = src.FetchBalance(ctx, pair.Base); err != nil {
		return acct, err
	}
	if acct.Fiat, err = src.FetchBalance(ctx, pair.Quote); err != nil {
		return acct, err
	}
	if acct.Margin, err = src.FetchMarginBalance(ctx); err != nil {
		return acct, err
	}
	if acct.Position, err = src.FetchPosition(ctx); err != nil {
		return acct, err
	}
	return acct, nil
}

func (KrakenPolicy) UsedMarginPercent(acct Account, _ Params) decimal.Decimal {
	if !acct.Margin.Total.IsPositive() {
		return decimal.Zero
	}
	return hundred.Sub(percentOf(acct.Margin.Free, acct.Margin.Total))
}

// sellMultiplier is the leverage a Kraken short is opened with.
func sellMultiplier(p Params) decimal.Decimal {
	if p.ApplyLeverage && p.Leverage.GreaterThan(one) {
		return p.Leverage.Add(one)
	}
	return decimal.NewFromInt(2)
}

func (k KrakenPolicy) SellSize(acct Account, p Params) (decimal.Decimal, bool) {
	total := acct.Crypto.Total.Mul(sellMultiplier(p))
	size, ok := shortShare(total, k.UsedMarginPercent(acct, p), p)
	if !ok {
		return decimal.Zero, false
	}
	return finalize(size, p)
}

// BuySize converts the fiat balance to base currency. Without fiat the free
// crypto balance is used.
func (KrakenPolicy) BuySize(acct Account, p Params) (decimal.Decimal, bool) {
	lev := p.leverage()
	size := domain.ToCrypto(acct.Fiat.Total.Mul(lev).Div(p.fee()), acct.Price)
	if size.IsZero() {
		size = acct.Crypto.Free.Mul(lev).Div(p.fee())
	}
	return finalize(size, p)
}

// StopSize protects the position equity.
func (KrakenPolicy) StopSize(acct Account, existing *domain.Order, p Params) (decimal.Decimal, bool) {
	if existing != nil {
		return existing.Amount, true
	}
	if !acct.Position.IsOpen() {
		return decimal.Zero, false
	}
	size := acct.Position.Size.Abs().Div(p.exchangeFee()).Div(p.fee()).Round(8)
	return size, size.IsPositive()
}

func (KrakenPolicy) FundingCurrency(domain.Side, Account, domain.Pair) string { return "" }

func (KrakenPolicy) ClosesBeforeEntry(domain.Side, Params) bool { return false }
