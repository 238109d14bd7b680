package kraken

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const (
	BaseURL = "https://api.kraken.com"
)

// assetCodes maps ISO codes to Kraken asset names.
var assetCodes = map[string]string{
	"BTC": "XXBT",
	"XBT": "XXBT",
	"ETH": "XETH",
	"USD": "ZUSD",
	"EUR": "ZEUR",
}

// assetCode returns the Kraken asset name of an ISO currency code.
func assetCode(currency string) string {
	if code, ok := assetCodes[currency]; ok {
		return code
	}
	return currency
}

// envelope is the wrapper of every Kraken answer.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type tickerInfo struct {
	Bid []string `json:"b"`
}

type balanceEx struct {
	Balance   decimal.Decimal `json:"balance"`
	HoldTrade decimal.Decimal `json:"hold_trade"`
}

type tradeBalance struct {
	EquivalentBalance decimal.Decimal `json:"eb"`
	TradeBalance      decimal.Decimal `json:"tb"`
	Margin            decimal.Decimal `json:"m"`
	UnrealizedPnl     decimal.Decimal `json:"n"`
	Equity            decimal.Decimal `json:"e"`
	FreeMargin        decimal.Decimal `json:"mf"`
	MarginLevel       decimal.Decimal `json:"ml"`
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type orderInfo struct {
	Status string  `json:"status"`
	OpenTm float64 `json:"opentm"`
	Descr  struct {
		Type      string          `json:"type"`
		OrderType string          `json:"ordertype"`
		Price     decimal.Decimal `json:"price"`
	} `json:"descr"`
	Vol       decimal.Decimal `json:"vol"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stopprice"`
}

type ordersResult struct {
	Open   map[string]orderInfo `json:"open"`
	Closed map[string]orderInfo `json:"closed"`
}

type ledgerResult struct {
	Ledger map[string]struct {
		Asset  string          `json:"asset"`
		Type   string          `json:"type"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"ledger"`
}
