// Package liquid implements the exchange gateway for Liquid margin trading.
// A position is funded from either leg of the pair; its stop is a property of
// the open trade.
package liquid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"maverage/internal/domain"
	"maverage/internal/infra/rest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options configures the gateway.
type Options struct {
	APIKey        string
	APISecret     string
	Pair          domain.Pair
	BaseURL       string
	RateLimit     time.Duration
	UserAgent     string
	Leverage      decimal.Decimal
	ApplyLeverage bool
}

// Gateway is the Liquid REST gateway. Amounts are in base currency.
type Gateway struct {
	client   *rest.Client
	signer   *Signer
	pair     domain.Pair
	leverage decimal.Decimal
	apply    bool
	logger   *slog.Logger

	mu        sync.Mutex
	productID string
}

var (
	one = decimal.NewFromInt(1)
	// dust is the minimal wallet balance considered held.
	dust = decimal.New(1, -7)
)

// New creates a Liquid gateway.
func New(opts Options, restOpts ...rest.Option) *Gateway {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}
	if opts.UserAgent != "" {
		restOpts = append([]rest.Option{rest.WithUserAgent(opts.UserAgent)}, restOpts...)
	}
	return &Gateway{
		client:   rest.NewClient("liquid", baseURL, opts.RateLimit, restOpts...),
		signer:   NewSigner(opts.APIKey, opts.APISecret),
		pair:     opts.Pair,
		leverage: opts.Leverage,
		apply:    opts.ApplyLeverage,
		logger:   slog.Default().With("module", "liquid_gateway"),
	}
}

func (g *Gateway) Name() string { return "liquid" }

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
	headers, err := g.signer.GenerateHeaders(path)
	if err != nil {
		return domain.NewFatalNetworkError(op, err)
	}

	resp, err := g.client.Do(ctx, rest.Request{Op: op, Method: method, Path: path, Body: raw, Headers: headers})
	if err != nil {
		return err
	}
	if !resp.OK() {
		msg := errorMessage(resp.Body)
		if resp.Status == http.StatusNotFound {
			return fmt.Errorf("%s: %s: %w", op, msg, domain.ErrOrderNotFound)
		}
		return g.client.StatusError(op, resp.Status, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return domain.NewNetworkError(op, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// errorMessage flattens both error shapes Liquid answers with.
func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return strings.TrimSpace(string(body))
	}
	if e.Message != "" {
		return e.Message
	}
	fields := make([]string, 0, len(e.Errors))
	for field, reasons := range e.Errors {
		fields = append(fields, field+": "+strings.Join(reasons, ","))
	}
	sort.Strings(fields)
	return strings.Join(fields, "; ")
}

func (g *Gateway) pairCode() string {
	return g.pair.Base + g.pair.Quote
}

func (g *Gateway) product(ctx context.Context, op string) (product, error) {
	var products []product
	if err := g.call(ctx, op, http.MethodGet, "/products", nil, nil, &products); err != nil {
		return product{}, err
	}
	for _, p := range products {
		if p.CurrencyPairCode == g.pairCode() {
			g.mu.Lock()
			g.productID = p.ID.String()
			g.mu.Unlock()
			return p, nil
		}
	}
	return product{}, fmt.Errorf("liquid product %s: %w", g.pairCode(), domain.ErrInvalidSymbol)
}

func (g *Gateway) productIDFor(ctx context.Context, op string) (string, error) {
	g.mu.Lock()
	id := g.productID
	g.mu.Unlock()
	if id != "" {
		return id, nil
	}
	p, err := g.product(ctx, op)
	if err != nil {
		return "", err
	}
	return p.ID.String(), nil
}

// FetchPrice returns the market bid of the pair.
func (g *Gateway) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	p, err := g.product(ctx, "fetch_price")
	if err != nil {
		return decimal.Zero, err
	}
	if !p.MarketBid.IsPositive() {
		return decimal.Zero, domain.NewNetworkError("fetch_price", errors.New("no bid price"))
	}
	return p.MarketBid, nil
}

func (g *Gateway) tradingAccounts(ctx context.Context, op string) ([]tradingAccount, error) {
	var all []tradingAccount
	if err := g.call(ctx, op, http.MethodGet, "/trading_accounts", nil, nil, &all); err != nil {
		return nil, err
	}
	rows := all[:0]
	for _, a := range all {
		if a.CurrencyPairCode == g.pairCode() {
			rows = append(rows, a)
		}
	}
	return rows, nil
}

func (g *Gateway) walletBalances(ctx context.Context, op string) ([]accountBalance, error) {
	var bals []accountBalance
	err := g.call(ctx, op, http.MethodGet, "/accounts/balance", nil, nil, &bals)
	return bals, err
}

// FetchBalance returns the trading account funded in currency, or the wallet
// balance when no such account exists.
func (g *Gateway) FetchBalance(ctx context.Context, currency string) (domain.Balance, error) {
	rows, err := g.tradingAccounts(ctx, "fetch_balance")
	if err != nil {
		return domain.Balance{}, err
	}
	for _, a := range rows {
		if a.FundingCurrency == currency {
			return domain.Balance{Free: a.FreeMargin, Used: a.Margin, Total: a.Equity}, nil
		}
	}
	bals, err := g.walletBalances(ctx, "fetch_balance")
	if err != nil {
		return domain.Balance{}, err
	}
	for _, b := range bals {
		if b.Currency == currency {
			return domain.Balance{Free: b.Balance, Total: b.Balance}, nil
		}
	}
	return domain.Balance{}, nil
}

// FetchFundingBalances returns the balance of each funding leg of the pair.
func (g *Gateway) FetchFundingBalances(ctx context.Context) (domain.FundingBalances, error) {
	rows, err := g.tradingAccounts(ctx, "fetch_funding_balances")
	if err != nil {
		return domain.FundingBalances{}, err
	}
	var f domain.FundingBalances
	for _, a := range rows {
		switch a.FundingCurrency {
		case g.pair.Base:
			f.Crypto = a.Balance
		case g.pair.Quote:
			f.Fiat = a.Balance
		}
	}
	return f, nil
}

func (g *Gateway) marginRow(ctx context.Context, op string) (*tradingAccount, error) {
	rows, err := g.tradingAccounts(ctx, op)
	if err != nil {
		return nil, err
	}
	var found *tradingAccount
	for i := range rows {
		if rows[i].LeverageLevel.IsPositive() {
			found = &rows[i]
		}
	}
	return found, nil
}

func (g *Gateway) FetchMarginBalance(ctx context.Context) (domain.Balance, error) {
	row, err := g.marginRow(ctx, "fetch_margin_balance")
	if err != nil || row == nil {
		return domain.Balance{}, err
	}
	return domain.Balance{Free: row.FreeMargin, Used: row.Margin, Total: row.Equity}, nil
}

func (g *Gateway) FetchLeverage(ctx context.Context) (decimal.Decimal, error) {
	row, err := g.marginRow(ctx, "fetch_leverage")
	if err != nil || row == nil {
		return decimal.Zero, err
	}
	return row.CurrentLeverageLevel, nil
}

// FetchWalletBalance returns the wallet in base currency; a pure fiat wallet
// is converted at the current bid.
func (g *Gateway) FetchWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	bals, err := g.walletBalances(ctx, "fetch_wallet_balance")
	if err != nil {
		return decimal.Zero, err
	}
	crypto, fiat := decimal.Zero, decimal.Zero
	for _, b := range bals {
		switch {
		case b.Currency == g.pair.Quote:
			fiat = b.Balance
		case b.Currency == g.pair.Base && b.Balance.GreaterThan(dust):
			crypto = b.Balance
		}
	}
	if crypto.IsZero() && fiat.IsPositive() {
		price, err := g.FetchPrice(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		return domain.ToCrypto(fiat, price), nil
	}
	return crypto, nil
}

// FetchPosition returns the open margin position of the pair.
func (g *Gateway) FetchPosition(ctx context.Context) (*domain.Position, error) {
	rows, err := g.tradingAccounts(ctx, "fetch_position")
	if err != nil {
		return nil, err
	}
	for _, a := range rows {
		if a.Position.IsZero() {
			continue
		}
		side := domain.PositionLong
		if a.Position.IsNegative() {
			side = domain.PositionShort
		}
		return &domain.Position{
			Side:          side,
			Size:          a.Position.Abs(),
			HomeNotional:  a.Position,
			QuoteNotional: a.Margin.Mul(a.CurrentLeverageLevel),
			UnrealizedPnl: a.Pnl,
		}, nil
	}
	return nil, nil
}

// leverageLevel is the accepted level closest to the configuration: the
// configured one when Liquid offers it, else 2, none below 2.
func (g *Gateway) leverageLevel() int64 {
	if g.leverage.LessThan(decimal.NewFromInt(2)) {
		return 0
	}
	if g.leverage.IsInteger() && slices.Contains(leverageLevels, g.leverage.IntPart()) {
		return g.leverage.IntPart()
	}
	return 2
}

func sideName(s domain.Side) string {
	if s == domain.SideSell {
		return "sell"
	}
	return "buy"
}

func (g *Gateway) placeOrder(ctx context.Context, op string, side domain.Side, req orderRequest) (*domain.Order, error) {
	pid, err := g.productIDFor(ctx, op)
	if err != nil {
		return nil, err
	}
	req.ProductID = pid
	req.Side = sideName(side)
	req.ClientOrderID = uuid.NewString()
	if req.LeverageLevel > 0 {
		req.OrderDirection = "netout"
	}

	var resp orderResponse
	body := map[string]orderRequest{"order": req}
	if err := g.call(ctx, op, http.MethodPost, "/orders", nil, body, &resp); err != nil {
		return nil, err
	}
	o := toOrder(resp)
	g.logger.Info("Order Placed Successfully",
		slog.String("oid", o.ID),
		slog.String("type", req.OrderType),
		slog.String("side", req.Side),
		slog.String("funding", req.FundingCurrency),
		slog.Int64("leverage", req.LeverageLevel),
	)
	return &o, nil
}

func (g *Gateway) CreateLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal, funding string) (*domain.Order, error) {
	req := orderRequest{OrderType: "limit", Quantity: amount.String(), Price: price.String()}
	level := g.leverageLevel()
	switch {
	case g.apply && level > 0:
		req.FundingCurrency = funding
		req.LeverageLevel = level
	case side == domain.SideSell:
		req.FundingCurrency = funding
		req.LeverageLevel = 2
	}
	return g.placeOrder(ctx, "create_limit_order", side, req)
}

func (g *Gateway) CreateMarketOrder(ctx context.Context, side domain.Side, amount decimal.Decimal, funding string) (*domain.Order, error) {
	req := orderRequest{OrderType: "market", Quantity: amount.String()}
	switch {
	case side == domain.SideSell:
		req.FundingCurrency = funding
		req.LeverageLevel = 2
	case g.apply && g.leverage.GreaterThan(one):
		req.FundingCurrency = funding
		req.LeverageLevel = g.leverage.IntPart()
	}
	return g.placeOrder(ctx, "create_market_order", side, req)
}

// CreateStopOrder is not offered; stops are attached to trades with UpdateStopOrder.
func (g *Gateway) CreateStopOrder(context.Context, domain.Side, decimal.Decimal, decimal.Decimal) (*domain.Order, error) {
	return nil, domain.ErrUnsupported
}

// CreateTrailingStop places a native trailing stop of percent.
func (g *Gateway) CreateTrailingStop(ctx context.Context, side domain.Side, amount, percent decimal.Decimal) (*domain.Order, error) {
	req := orderRequest{
		OrderType:      "trailing_stop",
		Quantity:       amount.String(),
		TrailValueType: "percentage",
		TrailValue:     percent.String(),
	}
	if level := g.leverageLevel(); level > 0 {
		req.LeverageLevel = level
	}
	o, err := g.placeOrder(ctx, "create_trailing_stop", side, req)
	if err != nil {
		return nil, err
	}
	o.Kind = domain.OrderKindStop
	return o, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, id string) error {
	return g.call(ctx, "cancel_order", http.MethodPut, "/orders/"+url.PathEscape(id)+"/cancel", nil, nil, nil)
}

func (g *Gateway) FetchOrderStatus(ctx context.Context, id string) (domain.OrderStatus, error) {
	var resp orderResponse
	if err := g.call(ctx, "fetch_order_status", http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return "", err
	}
	return mapStatus(resp.Status), nil
}

func (g *Gateway) listOrders(ctx context.Context, op, status string) ([]domain.Order, error) {
	pid, err := g.productIDFor(ctx, op)
	if err != nil {
		return nil, err
	}
	var list orderList
	q := url.Values{"product_id": {pid}, "status": {status}, "limit": {"3"}}
	if err := g.call(ctx, op, http.MethodGet, "/orders", q, nil, &list); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(list.Models))
	for _, r := range list.Models {
		orders = append(orders, toOrder(r))
	}
	slices.SortStableFunc(orders, func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return orders, nil
}

func (g *Gateway) FetchOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return g.listOrders(ctx, "fetch_open_orders", "live")
}

func (g *Gateway) FetchClosedOrders(ctx context.Context) ([]domain.Order, error) {
	return g.listOrders(ctx, "fetch_closed_orders", "filled")
}

// SetLeverage is not available: Liquid takes the level per order.
func (g *Gateway) SetLeverage(context.Context, decimal.Decimal) error {
	return domain.ErrUnsupported
}

// CloseAllPositions closes every open trade at market.
func (g *Gateway) CloseAllPositions(ctx context.Context) error {
	if err := g.call(ctx, "close_all_positions", http.MethodPut, "/trades/close_all", nil, nil, nil); err != nil {
		return err
	}
	g.logger.Info("Closed all positions")
	return nil
}

func (g *Gateway) openTrade(ctx context.Context, op string) (*trade, error) {
	var list tradeList
	if err := g.call(ctx, op, http.MethodGet, "/trades", url.Values{"status": {"open"}}, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Models {
		if list.Models[i].CurrencyPairCode == g.pairCode() {
			return &list.Models[i], nil
		}
	}
	return nil, nil
}

// UpdateStopOrder moves the stop loss of the open trade. It returns nil when
// no trade is open.
func (g *Gateway) UpdateStopOrder(ctx context.Context, side domain.Side, stopPrice decimal.Decimal) (*domain.Order, error) {
	tr, err := g.openTrade(ctx, "update_stop_order")
	if err != nil || tr == nil {
		return nil, err
	}
	body := map[string]map[string]string{"trade": {"stop_loss": stopPrice.StringFixed(2)}}
	if err := g.call(ctx, "update_stop_order", http.MethodPut, "/trades/"+tr.ID.String(), nil, body, nil); err != nil {
		return nil, err
	}
	g.logger.Info("Updated stop loss", slog.String("trade", tr.ID.String()), slog.String("price", stopPrice.StringFixed(2)))
	return &domain.Order{
		ID:        tr.ID.String(),
		Side:      side,
		Kind:      domain.OrderKindStop,
		Price:     stopPrice,
		Amount:    tr.Quantity,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// FetchStopStatus reports the stop open while a trade is open.
func (g *Gateway) FetchStopStatus(ctx context.Context, _ domain.Order) (domain.OrderStatus, error) {
	tr, err := g.openTrade(ctx, "fetch_stop_status")
	if err != nil {
		return "", err
	}
	if tr == nil {
		return domain.OrderStatusClosed, nil
	}
	return domain.OrderStatusOpen, nil
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusClosed
	case "cancelled", "canceled":
		return domain.OrderStatusCanceled
	default:
		// live, partially_filled
		return domain.OrderStatusOpen
	}
}

func toOrder(r orderResponse) domain.Order {
	o := domain.Order{
		ID:        r.ID.String(),
		Side:      domain.SideBuy,
		Kind:      domain.OrderKindLimit,
		Amount:    r.Quantity,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.Side == "sell" {
		o.Side = domain.SideSell
	}
	switch r.OrderType {
	case "market", "market_with_range":
		o.Kind = domain.OrderKindMarket
	case "stop", "trailing_stop":
		o.Kind = domain.OrderKindStop
	}
	if r.Price != nil {
		o.Price = *r.Price
	}
	if o.Kind == domain.OrderKindMarket && r.AvgPrice != nil && r.AvgPrice.IsPositive() {
		o.Price = *r.AvgPrice
	}
	return o
}
