package domain

import "github.com/shopspring/decimal"

// Balance is a normalized account balance. Gateways fill absent fields with zero.
type Balance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// IsZero reports whether nothing is held at all.
func (b Balance) IsZero() bool {
	return b.Free.IsZero() && b.Used.IsZero() && b.Total.IsZero()
}

// FundingBalances holds the per-currency balances of a trading account
// (exchanges that fund margin positions in either currency of the pair).
type FundingBalances struct {
	Crypto decimal.Decimal `json:"crypto"`
	Fiat   decimal.Decimal `json:"fiat"`
}

// IsZero reports whether both legs are empty.
func (f FundingBalances) IsZero() bool {
	return f.Crypto.IsZero() && f.Fiat.IsZero()
}

// ToCrypto converts a fiat amount to base currency at price, rounded to 8 places.
func ToCrypto(amount, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return amount.DivRound(price, 8)
}
