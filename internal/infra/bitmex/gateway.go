// Package bitmex implements the exchange gateway and the realtime quote
// worker for the BitMEX inverse XBTUSD swap.
package bitmex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"maverage/internal/domain"
	"maverage/internal/infra/rest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options configures the gateway.
type Options struct {
	APIKey    string
	APISecret string
	Symbol    string
	Pair      domain.Pair
	BaseURL   string
	Testnet   bool
	RateLimit time.Duration
	UserAgent string
}

// Gateway is the BitMEX REST gateway (Boundary Layer).
// Amounts of created orders are in base currency, amounts of stops and of
// returned orders are contracts (USD).
type Gateway struct {
	client *rest.Client
	signer *Signer
	symbol string
	pair   domain.Pair
	logger *slog.Logger
}

// New creates a BitMEX gateway.
func New(opts Options, restOpts ...rest.Option) *Gateway {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = BaseURLMainnet
		if opts.Testnet {
			baseURL = BaseURLTestnet
		}
	}
	symbol := opts.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}
	if opts.UserAgent != "" {
		restOpts = append([]rest.Option{rest.WithUserAgent(opts.UserAgent)}, restOpts...)
	}
	return &Gateway{
		client: rest.NewClient("bitmex", baseURL, opts.RateLimit, restOpts...),
		signer: NewSigner(opts.APIKey, opts.APISecret),
		symbol: symbol,
		pair:   opts.Pair,
		logger: slog.Default().With("module", "bitmex_gateway"),
	}
}

func (g *Gateway) Name() string { return "bitmex" }

// call signs and sends a request and decodes the JSON answer into out.
func (g *Gateway) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return domain.NewFatalNetworkError(op, err)
		}
	}

	resp, err := g.client.Do(ctx, rest.Request{
		Op:      op,
		Method:  method,
		Path:    path,
		Body:    raw,
		Headers: g.signer.GenerateHeaders(method, path, string(raw)),
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		var e errorResponse
		_ = json.Unmarshal(resp.Body, &e)
		if resp.Status == http.StatusNotFound && strings.Contains(strings.ToLower(e.Error.Message), "not found") {
			return fmt.Errorf("%s: %w", op, domain.ErrOrderNotFound)
		}
		return g.client.StatusError(op, resp.Status, e.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return domain.NewNetworkError(op, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func filter(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// FetchPrice returns the best bid of the swap.
func (g *Gateway) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	var instruments []instrument
	q := url.Values{"symbol": {g.symbol}, "columns": {"bidPrice"}}
	if err := g.call(ctx, "fetch_price", http.MethodGet, "/api/v1/instrument", q, nil, &instruments); err != nil {
		return decimal.Zero, err
	}
	for _, in := range instruments {
		if in.BidPrice != nil && in.BidPrice.IsPositive() {
			return *in.BidPrice, nil
		}
	}
	return decimal.Zero, domain.NewNetworkError("fetch_price", errors.New("no bid price"))
}

func (g *Gateway) margin(ctx context.Context, op string) (userMargin, error) {
	var m userMargin
	err := g.call(ctx, op, http.MethodGet, "/api/v1/user/margin", url.Values{"currency": {marginCurrency}}, nil, &m)
	return m, err
}

// FetchMarginBalance returns free and total margin in BTC.
func (g *Gateway) FetchMarginBalance(ctx context.Context) (domain.Balance, error) {
	m, err := g.margin(ctx, "fetch_margin_balance")
	if err != nil {
		return domain.Balance{}, err
	}
	free := m.AvailableMargin.Mul(satoshi)
	total := m.MarginBalance.Mul(satoshi)
	return domain.Balance{Free: free, Used: total.Sub(free), Total: total}, nil
}

// FetchBalance returns the margin account for the base currency. BitMEX holds no fiat.
func (g *Gateway) FetchBalance(ctx context.Context, currency string) (domain.Balance, error) {
	if currency != g.pair.Base && currency != "XBT" {
		return domain.Balance{}, nil
	}
	return g.FetchMarginBalance(ctx)
}

func (g *Gateway) FetchLeverage(ctx context.Context) (decimal.Decimal, error) {
	m, err := g.margin(ctx, "fetch_leverage")
	if err != nil {
		return decimal.Zero, err
	}
	return m.MarginLeverage, nil
}

func (g *Gateway) FetchWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	m, err := g.margin(ctx, "fetch_wallet_balance")
	if err != nil {
		return decimal.Zero, err
	}
	return m.WalletBalance.Mul(satoshi), nil
}

// FetchNetDeposits returns deposited minus withdrawn in BTC.
func (g *Gateway) FetchNetDeposits(ctx context.Context) (decimal.Decimal, error) {
	var w userWallet
	if err := g.call(ctx, "fetch_net_deposits", http.MethodGet, "/api/v1/user/wallet", url.Values{"currency": {marginCurrency}}, nil, &w); err != nil {
		return decimal.Zero, err
	}
	return w.Deposited.Sub(w.Withdrawn).Mul(satoshi), nil
}

// FetchPosition returns nil when no position with an entry price is open.
func (g *Gateway) FetchPosition(ctx context.Context) (*domain.Position, error) {
	var positions []position
	q := url.Values{"filter": {filter(map[string]string{"symbol": g.symbol})}}
	if err := g.call(ctx, "fetch_position", http.MethodGet, "/api/v1/position", q, nil, &positions); err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.AvgEntryPrice == nil || p.CurrentQty.IsZero() {
			continue
		}
		side := domain.PositionLong
		if p.CurrentQty.IsNegative() {
			side = domain.PositionShort
		}
		return &domain.Position{
			Side:          side,
			Size:          p.CurrentQty.Abs(),
			HomeNotional:  p.HomeNotional,
			QuoteNotional: p.ForeignNotional,
			UnrealizedPnl: p.UnrealisedGrossPnl.Mul(satoshi),
		}, nil
	}
	return nil, nil
}

// roundHalf rounds a price to the 0.5 tick of the swap.
func roundHalf(p decimal.Decimal) decimal.Decimal {
	return p.Mul(two).RoundBank(0).Div(two)
}

func sideName(s domain.Side) string {
	if s == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}

func (g *Gateway) placeOrder(ctx context.Context, op string, req orderRequest) (*domain.Order, error) {
	req.Symbol = g.symbol
	req.ClOrdID = uuid.NewString()
	var resp orderResponse
	if err := g.call(ctx, op, http.MethodPost, "/api/v1/order", nil, req, &resp); err != nil {
		return nil, err
	}
	o := toOrder(resp)
	g.logger.Info("Order Placed Successfully",
		slog.String("oid", o.ID),
		slog.String("side", string(o.Side)),
		slog.String("type", resp.OrdType),
		slog.String("qty", o.Amount.String()),
	)
	return &o, nil
}

// CreateLimitOrder converts amount to contracts at the rounded price.
func (g *Gateway) CreateLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal, _ string) (*domain.Order, error) {
	price = roundHalf(price)
	qty := price.Mul(amount).Floor()
	return g.placeOrder(ctx, "create_limit_order", orderRequest{
		Side:     sideName(side),
		OrderQty: json.Number(qty.String()),
		Price:    json.Number(price.String()),
		OrdType:  "Limit",
	})
}

// CreateMarketOrder converts amount to contracts at the current bid.
func (g *Gateway) CreateMarketOrder(ctx context.Context, side domain.Side, amount decimal.Decimal, _ string) (*domain.Order, error) {
	price, err := g.FetchPrice(ctx)
	if err != nil {
		return nil, err
	}
	qty := amount.Mul(price).RoundBank(0)
	return g.placeOrder(ctx, "create_market_order", orderRequest{
		Side:     sideName(side),
		OrderQty: json.Number(qty.String()),
		OrdType:  "Market",
	})
}

// CreateStopOrder places a stop market order; amount is in contracts.
func (g *Gateway) CreateStopOrder(ctx context.Context, side domain.Side, amount, stopPrice decimal.Decimal) (*domain.Order, error) {
	return g.placeOrder(ctx, "create_stop_order", orderRequest{
		Side:     sideName(side),
		OrderQty: json.Number(amount.Round(0).String()),
		StopPx:   json.Number(roundHalf(stopPrice).String()),
		OrdType:  "Stop",
	})
}

func (g *Gateway) CancelOrder(ctx context.Context, id string) error {
	var resp []orderResponse
	body := map[string]string{"orderID": id}
	if err := g.call(ctx, "cancel_order", http.MethodDelete, "/api/v1/order", nil, body, &resp); err != nil {
		return err
	}
	if len(resp) == 0 {
		return fmt.Errorf("cancel_order %s: %w", id, domain.ErrOrderNotFound)
	}
	return nil
}

func (g *Gateway) FetchOrderStatus(ctx context.Context, id string) (domain.OrderStatus, error) {
	var orders []orderResponse
	q := url.Values{"filter": {filter(map[string]string{"orderID": id})}}
	if err := g.call(ctx, "fetch_order_status", http.MethodGet, "/api/v1/order", q, nil, &orders); err != nil {
		return "", err
	}
	if len(orders) == 0 {
		return domain.OrderStatusNotFound, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}
	return mapStatus(orders[0].OrdStatus), nil
}

func (g *Gateway) listOrders(ctx context.Context, op string, f map[string]any) ([]domain.Order, error) {
	var resp []orderResponse
	q := url.Values{
		"symbol":  {g.symbol},
		"filter":  {filter(f)},
		"count":   {"3"},
		"reverse": {"true"},
	}
	if err := g.call(ctx, op, http.MethodGet, "/api/v1/order", q, nil, &resp); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(resp))
	for _, r := range resp {
		orders = append(orders, toOrder(r))
	}
	slices.SortStableFunc(orders, func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return orders, nil
}

func (g *Gateway) FetchOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return g.listOrders(ctx, "fetch_open_orders", map[string]any{"open": true})
}

func (g *Gateway) FetchClosedOrders(ctx context.Context) ([]domain.Order, error) {
	return g.listOrders(ctx, "fetch_closed_orders", map[string]any{"ordStatus": "Filled"})
}

// SetLeverage sets isolated leverage; zero switches to cross margin.
func (g *Gateway) SetLeverage(ctx context.Context, value decimal.Decimal) error {
	req := leverageRequest{Symbol: g.symbol, Leverage: json.Number(value.String())}
	if err := g.call(ctx, "set_leverage", http.MethodPost, "/api/v1/position/leverage", nil, req, nil); err != nil {
		return err
	}
	g.logger.Info("Leverage set", slog.String("leverage", value.String()))
	return nil
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "Filled":
		return domain.OrderStatusClosed
	case "Canceled", "Rejected":
		return domain.OrderStatusCanceled
	default:
		// New, PartiallyFilled, PendingNew
		return domain.OrderStatusOpen
	}
}

func toOrder(r orderResponse) domain.Order {
	o := domain.Order{
		ID:        r.OrderID,
		Side:      domain.SideBuy,
		Kind:      domain.OrderKindLimit,
		Amount:    r.OrderQty,
		CreatedAt: r.Timestamp,
	}
	if r.Side == "Sell" {
		o.Side = domain.SideSell
	}
	switch r.OrdType {
	case "Stop", "StopLimit":
		o.Kind = domain.OrderKindStop
		if r.StopPx != nil {
			o.Price = *r.StopPx
		}
	case "Market":
		o.Kind = domain.OrderKindMarket
		if r.AvgPx != nil {
			o.Price = *r.AvgPx
		}
	default:
		if r.Price != nil {
			o.Price = *r.Price
		}
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.TransactTime
	}
	return o
}
