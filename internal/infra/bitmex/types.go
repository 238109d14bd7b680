package bitmex

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BaseURLMainnet = "https://www.bitmex.com"
	BaseURLTestnet = "https://testnet.bitmex.com"
	WSURLMainnet   = "wss://ws.bitmex.com/realtime"
	WSURLTestnet   = "wss://ws.testnet.bitmex.com/realtime"

	// DefaultSymbol is the perpetual XBT/USD swap.
	DefaultSymbol = "XBTUSD"

	maxRetries   = 10
	baseDelay    = 1 * time.Second
	maxDelay     = 60 * time.Second
	pingInterval = 5 * time.Second
	readTimeout  = 30 * time.Second

	// marginCurrency is the satoshi denominated settlement currency.
	marginCurrency = "XBt"
)

// satoshi converts XBt amounts to BTC.
var satoshi = decimal.New(1, -8)

var two = decimal.NewFromInt(2)

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

type instrument struct {
	Symbol   string           `json:"symbol"`
	BidPrice *decimal.Decimal `json:"bidPrice"`
}

type userMargin struct {
	Currency        string          `json:"currency"`
	WalletBalance   decimal.Decimal `json:"walletBalance"`
	MarginBalance   decimal.Decimal `json:"marginBalance"`
	AvailableMargin decimal.Decimal `json:"availableMargin"`
	MarginLeverage  decimal.Decimal `json:"marginLeverage"`
}

type userWallet struct {
	Currency  string          `json:"currency"`
	Deposited decimal.Decimal `json:"deposited"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
}

type position struct {
	Symbol             string           `json:"symbol"`
	IsOpen             bool             `json:"isOpen"`
	CurrentQty         decimal.Decimal  `json:"currentQty"`
	HomeNotional       decimal.Decimal  `json:"homeNotional"`
	ForeignNotional    decimal.Decimal  `json:"foreignNotional"`
	UnrealisedGrossPnl decimal.Decimal  `json:"unrealisedGrossPnl"`
	AvgEntryPrice      *decimal.Decimal `json:"avgEntryPrice"`
}

type orderRequest struct {
	Symbol   string      `json:"symbol"`
	Side     string      `json:"side"`
	OrderQty json.Number `json:"orderQty"`
	Price    json.Number `json:"price,omitempty"`
	StopPx   json.Number `json:"stopPx,omitempty"`
	OrdType  string      `json:"ordType"`
	ClOrdID  string      `json:"clOrdID"`
}

type orderResponse struct {
	OrderID      string           `json:"orderID"`
	ClOrdID      string           `json:"clOrdID"`
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	OrderQty     decimal.Decimal  `json:"orderQty"`
	Price        *decimal.Decimal `json:"price"`
	StopPx       *decimal.Decimal `json:"stopPx"`
	AvgPx        *decimal.Decimal `json:"avgPx"`
	OrdType      string           `json:"ordType"`
	OrdStatus    string           `json:"ordStatus"`
	Timestamp    time.Time        `json:"timestamp"`
	TransactTime time.Time        `json:"transactTime"`
}

type leverageRequest struct {
	Symbol   string      `json:"symbol"`
	Leverage json.Number `json:"leverage"`
}

// quoteMessage is the realtime quote table frame.
type quoteMessage struct {
	Table  string       `json:"table"`
	Action string       `json:"action"`
	Data   []quoteEntry `json:"data"`
}

type quoteEntry struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bidPrice"`
	Timestamp time.Time       `json:"timestamp"`
}
