// Package kraken implements the exchange gateway for Kraken spot margin trading.
package kraken

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
	APIKey        string
	APISecret     string
	Pair          domain.Pair
	Symbol        string
	BaseURL       string
	RateLimit     time.Duration
	UserAgent     string
	Leverage      decimal.Decimal
	ApplyLeverage bool
}

// Gateway is the Kraken REST gateway. Amounts are in base currency.
type Gateway struct {
	client   *rest.Client
	signer   *Signer
	pair     domain.Pair
	symbol   string
	leverage decimal.Decimal
	apply    bool
	logger   *slog.Logger
}

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// transientPrefixes mark Kraken errors that clear up by waiting.
var transientPrefixes = []string{"EAPI:Rate limit", "EService:", "EGeneral:Temporary", "EOrder:Rate limit"}

// New creates a Kraken gateway.
func New(opts Options, restOpts ...rest.Option) (*Gateway, error) {
	signer, err := NewSigner(opts.APIKey, opts.APISecret)
	if err != nil {
		return nil, &domain.ConfigError{Field: "exchange.api_secret", Err: err}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}
	symbol := opts.Symbol
	if symbol == "" {
		symbol = assetCode(opts.Pair.Base) + assetCode(opts.Pair.Quote)
	}
	if opts.UserAgent != "" {
		restOpts = append([]rest.Option{rest.WithUserAgent(opts.UserAgent)}, restOpts...)
	}
	return &Gateway{
		client:   rest.NewClient("kraken", baseURL, opts.RateLimit, restOpts...),
		signer:   signer,
		pair:     opts.Pair,
		symbol:   symbol,
		leverage: opts.Leverage,
		apply:    opts.ApplyLeverage,
		logger:   slog.Default().With("module", "kraken_gateway"),
	}, nil
}

func (g *Gateway) Name() string { return "kraken" }

func (g *Gateway) public(ctx context.Context, op, method string, query url.Values, out any) error {
	path := "/0/public/" + method
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	resp, err := g.client.Do(ctx, rest.Request{Op: op, Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	return g.decode(op, resp, out)
}

func (g *Gateway) private(ctx context.Context, op, method string, form url.Values, out any) error {
	path := "/0/private/" + method
	if form == nil {
		form = url.Values{}
	}
	nonce := g.signer.Nonce()
	form.Set("nonce", nonce)
	postData := form.Encode()

	resp, err := g.client.Do(ctx, rest.Request{
		Op:      op,
		Method:  http.MethodPost,
		Path:    path,
		Body:    []byte(postData),
		Headers: g.signer.GenerateHeaders(path, nonce, postData),
	})
	if err != nil {
		return err
	}
	return g.decode(op, resp, out)
}

func (g *Gateway) decode(op string, resp *rest.Response, out any) error {
	var env envelope
	jsonErr := json.Unmarshal(resp.Body, &env)
	if !resp.OK() {
		return g.client.StatusError(op, resp.Status, strings.Join(env.Error, "; "))
	}
	if jsonErr != nil {
		return domain.NewNetworkError(op, fmt.Errorf("failed to parse response: %w", jsonErr))
	}
	if len(env.Error) > 0 {
		return g.classify(op, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return domain.NewNetworkError(op, fmt.Errorf("failed to parse result: %w", err))
	}
	return nil
}

func (g *Gateway) classify(op string, errs []string) error {
	msg := strings.Join(errs, "; ")
	if strings.Contains(msg, "Unknown order") || strings.Contains(msg, "Invalid order") {
		return fmt.Errorf("%s: %s: %w", op, msg, domain.ErrOrderNotFound)
	}
	for _, p := range transientPrefixes {
		if strings.Contains(msg, p) {
			return domain.NewNetworkError(op, errors.New(msg))
		}
	}
	return g.client.Reject(op, msg)
}

// FetchPrice returns the best bid.
func (g *Gateway) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	var result map[string]tickerInfo
	if err := g.public(ctx, "fetch_price", "Ticker", url.Values{"pair": {g.symbol}}, &result); err != nil {
		return decimal.Zero, err
	}
	for _, t := range result {
		if len(t.Bid) == 0 {
			continue
		}
		bid, err := decimal.NewFromString(t.Bid[0])
		if err == nil && bid.IsPositive() {
			return bid, nil
		}
	}
	return decimal.Zero, domain.NewNetworkError("fetch_price", errors.New("no bid price"))
}

// FetchBalance returns the spot balance; amounts held by open orders are used.
func (g *Gateway) FetchBalance(ctx context.Context, currency string) (domain.Balance, error) {
	var result map[string]balanceEx
	if err := g.private(ctx, "fetch_balance", "BalanceEx", nil, &result); err != nil {
		return domain.Balance{}, err
	}
	b, ok := result[assetCode(currency)]
	if !ok {
		return domain.Balance{}, nil
	}
	return domain.Balance{Free: b.Balance.Sub(b.HoldTrade), Used: b.HoldTrade, Total: b.Balance}, nil
}

func (g *Gateway) tradeBalance(ctx context.Context, op string) (tradeBalance, error) {
	var tb tradeBalance
	err := g.private(ctx, op, "TradeBalance", url.Values{"asset": {assetCode(g.pair.Base)}}, &tb)
	return tb, err
}

// FetchMarginBalance returns free margin, used margin and equity in base currency.
func (g *Gateway) FetchMarginBalance(ctx context.Context) (domain.Balance, error) {
	tb, err := g.tradeBalance(ctx, "fetch_margin_balance")
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{Free: tb.FreeMargin, Used: tb.Margin, Total: tb.Equity}, nil
}

// FetchLeverage returns the margin level in percent.
func (g *Gateway) FetchLeverage(ctx context.Context) (decimal.Decimal, error) {
	tb, err := g.tradeBalance(ctx, "fetch_leverage")
	if err != nil {
		return decimal.Zero, err
	}
	return tb.MarginLevel, nil
}

func (g *Gateway) FetchWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	tb, err := g.tradeBalance(ctx, "fetch_wallet_balance")
	if err != nil {
		return decimal.Zero, err
	}
	return tb.TradeBalance, nil
}

// FetchPosition infers the position from the balances: it is long when the
// crypto leg outweighs the fiat leg. Size is the margin equity.
func (g *Gateway) FetchPosition(ctx context.Context) (*domain.Position, error) {
	tb, err := g.tradeBalance(ctx, "fetch_position")
	if err != nil {
		return nil, err
	}
	if !tb.Equity.IsPositive() {
		return nil, nil
	}
	price, err := g.FetchPrice(ctx)
	if err != nil {
		return nil, err
	}
	crypto, err := g.FetchBalance(ctx, g.pair.Base)
	if err != nil {
		return nil, err
	}
	fiat, err := g.FetchBalance(ctx, g.pair.Quote)
	if err != nil {
		return nil, err
	}

	side := domain.PositionShort
	home := tb.Equity.Neg()
	if crypto.Total.Mul(price).GreaterThan(fiat.Total) {
		side = domain.PositionLong
		home = tb.Equity
	}
	return &domain.Position{
		Side:          side,
		Size:          tb.Equity,
		HomeNotional:  home,
		QuoteNotional: tb.Equity.Sub(tb.FreeMargin).Mul(price).Round(2),
		UnrealizedPnl: tb.UnrealizedPnl,
	}, nil
}

// FetchNetDeposits sums the deposit and withdrawal ledger entries of the base asset.
func (g *Gateway) FetchNetDeposits(ctx context.Context) (decimal.Decimal, error) {
	net := decimal.Zero
	for _, kind := range []string{"deposit", "withdrawal"} {
		var res ledgerResult
		form := url.Values{"asset": {assetCode(g.pair.Base)}, "type": {kind}}
		if err := g.private(ctx, "fetch_net_deposits", "Ledgers", form, &res); err != nil {
			return decimal.Zero, err
		}
		for _, entry := range res.Ledger {
			net = net.Add(entry.Amount)
		}
	}
	return net, nil
}

func (g *Gateway) levered() bool {
	return g.apply && g.leverage.GreaterThan(one)
}

func sideName(s domain.Side) string {
	if s == domain.SideSell {
		return "sell"
	}
	return "buy"
}

func (g *Gateway) addOrder(ctx context.Context, op string, side domain.Side, kind domain.OrderKind, form url.Values) (*domain.Order, error) {
	form.Set("pair", g.symbol)
	form.Set("type", sideName(side))
	form.Set("cl_ord_id", uuid.NewString())

	var res addOrderResult
	if err := g.private(ctx, op, "AddOrder", form, &res); err != nil {
		return nil, err
	}
	if len(res.TxID) == 0 {
		return nil, g.client.Reject(op, "no transaction id in answer")
	}
	amount, _ := decimal.NewFromString(form.Get("volume"))
	price, _ := decimal.NewFromString(form.Get("price"))
	o := &domain.Order{
		ID:        res.TxID[0],
		Side:      side,
		Kind:      kind,
		Price:     price,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	g.logger.Info("Order Placed Successfully", slog.String("oid", o.ID), slog.String("descr", res.Descr.Order))
	return o, nil
}

// CreateLimitOrder opens or extends a margin position. Buys are charged fees
// in quote currency; sells open with one step more leverage, or 2 without leverage.
func (g *Gateway) CreateLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal, _ string) (*domain.Order, error) {
	form := url.Values{
		"ordertype": {"limit"},
		"price":     {price.String()},
		"volume":    {amount.String()},
	}
	if side == domain.SideBuy {
		form.Set("oflags", "fcib")
		if g.levered() {
			form.Set("leverage", g.leverage.String())
		}
	} else {
		lev := two
		if g.levered() {
			lev = g.leverage.Add(one)
		}
		form.Set("leverage", lev.String())
	}
	return g.addOrder(ctx, "create_limit_order", side, domain.OrderKindLimit, form)
}

func (g *Gateway) CreateMarketOrder(ctx context.Context, side domain.Side, amount decimal.Decimal, _ string) (*domain.Order, error) {
	form := url.Values{
		"ordertype": {"market"},
		"volume":    {amount.String()},
	}
	if side == domain.SideBuy {
		form.Set("oflags", "fcib")
	}
	if g.levered() {
		form.Set("leverage", g.leverage.String())
	}
	return g.addOrder(ctx, "create_market_order", side, domain.OrderKindMarket, form)
}

func (g *Gateway) CreateStopOrder(ctx context.Context, side domain.Side, amount, stopPrice decimal.Decimal) (*domain.Order, error) {
	form := url.Values{
		"ordertype": {"stop-loss"},
		"price":     {stopPrice.Round(1).String()},
		"volume":    {amount.String()},
	}
	return g.addOrder(ctx, "create_stop_order", side, domain.OrderKindStop, form)
}

func (g *Gateway) CancelOrder(ctx context.Context, id string) error {
	var res struct {
		Count int `json:"count"`
	}
	if err := g.private(ctx, "cancel_order", "CancelOrder", url.Values{"txid": {id}}, &res); err != nil {
		return err
	}
	if res.Count == 0 {
		return fmt.Errorf("cancel_order %s: %w", id, domain.ErrOrderNotFound)
	}
	return nil
}

func (g *Gateway) FetchOrderStatus(ctx context.Context, id string) (domain.OrderStatus, error) {
	var res map[string]orderInfo
	if err := g.private(ctx, "fetch_order_status", "QueryOrders", url.Values{"txid": {id}}, &res); err != nil {
		return "", err
	}
	info, ok := res[id]
	if !ok {
		return domain.OrderStatusNotFound, fmt.Errorf("order %s: %w", id, domain.ErrOrderNotFound)
	}
	return mapStatus(info.Status), nil
}

func (g *Gateway) FetchOpenOrders(ctx context.Context) ([]domain.Order, error) {
	var res ordersResult
	if err := g.private(ctx, "fetch_open_orders", "OpenOrders", nil, &res); err != nil {
		return nil, err
	}
	return toOrders(res.Open, ""), nil
}

// FetchClosedOrders returns filled orders only; canceled ones are skipped.
func (g *Gateway) FetchClosedOrders(ctx context.Context) ([]domain.Order, error) {
	var res ordersResult
	if err := g.private(ctx, "fetch_closed_orders", "ClosedOrders", nil, &res); err != nil {
		return nil, err
	}
	return toOrders(res.Closed, "closed"), nil
}

// SetLeverage is not available: Kraken takes leverage per order.
func (g *Gateway) SetLeverage(context.Context, decimal.Decimal) error {
	return domain.ErrUnsupported
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "closed":
		return domain.OrderStatusClosed
	case "canceled", "expired":
		return domain.OrderStatusCanceled
	default:
		// pending, open
		return domain.OrderStatusOpen
	}
}

func toOrders(m map[string]orderInfo, status string) []domain.Order {
	orders := make([]domain.Order, 0, len(m))
	for id, info := range m {
		if status != "" && info.Status != status {
			continue
		}
		orders = append(orders, toOrder(id, info))
	}
	slices.SortStableFunc(orders, func(a, b domain.Order) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return orders
}

func toOrder(id string, info orderInfo) domain.Order {
	o := domain.Order{
		ID:        id,
		Side:      domain.SideBuy,
		Kind:      domain.OrderKindLimit,
		Price:     info.Descr.Price,
		Amount:    info.Vol,
		CreatedAt: time.UnixMilli(int64(info.OpenTm * 1000)).UTC(),
	}
	if info.Descr.Type == "sell" {
		o.Side = domain.SideSell
	}
	switch {
	case strings.HasPrefix(info.Descr.OrderType, "stop-loss"):
		o.Kind = domain.OrderKindStop
	case info.Descr.OrderType == "market":
		o.Kind = domain.OrderKindMarket
	}
	if o.Kind != domain.OrderKindStop && info.Price.IsPositive() {
		o.Price = info.Price
	}
	return o
}
