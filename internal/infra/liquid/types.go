package liquid

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const (
	BaseURL = "https://api.liquid.com"
)

// leverageLevels are the margin levels Liquid accepts.
var leverageLevels = []int64{2, 4, 5, 10, 25}

type errorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

type product struct {
	ID               json.Number     `json:"id"`
	CurrencyPairCode string          `json:"currency_pair_code"`
	MarketBid        decimal.Decimal `json:"market_bid"`
}

type tradingAccount struct {
	ID                   json.Number     `json:"id"`
	CurrencyPairCode     string          `json:"currency_pair_code"`
	FundingCurrency      string          `json:"funding_currency"`
	LeverageLevel        decimal.Decimal `json:"leverage_level"`
	CurrentLeverageLevel decimal.Decimal `json:"current_leverage_level"`
	Equity               decimal.Decimal `json:"equity"`
	Margin               decimal.Decimal `json:"margin"`
	FreeMargin           decimal.Decimal `json:"free_margin"`
	Position             decimal.Decimal `json:"position"`
	Balance              decimal.Decimal `json:"balance"`
	Pnl                  decimal.Decimal `json:"pnl"`
}

type accountBalance struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type orderRequest struct {
	OrderType       string `json:"order_type"`
	ProductID       string `json:"product_id"`
	Side            string `json:"side"`
	Quantity        string `json:"quantity"`
	Price           string `json:"price,omitempty"`
	LeverageLevel   int64  `json:"leverage_level,omitempty"`
	FundingCurrency string `json:"funding_currency,omitempty"`
	OrderDirection  string `json:"order_direction,omitempty"`
	TrailValueType  string `json:"trail_value_type,omitempty"`
	TrailValue      string `json:"trail_value,omitempty"`
	ClientOrderID   string `json:"client_order_id"`
}

type orderResponse struct {
	ID        json.Number      `json:"id"`
	OrderType string           `json:"order_type"`
	Side      string           `json:"side"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price"`
	AvgPrice  *decimal.Decimal `json:"average_price"`
	Status    string           `json:"status"`
	CreatedAt int64            `json:"created_at"`
}

type orderList struct {
	Models []orderResponse `json:"models"`
}

type trade struct {
	ID               json.Number     `json:"id"`
	CurrencyPairCode string          `json:"currency_pair_code"`
	Side             string          `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	StopLoss         decimal.Decimal `json:"stop_loss"`
	Status           string          `json:"status"`
}

type tradeList struct {
	Models []trade `json:"models"`
}
