package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// FillMode controls how the paper exchange treats new orders.
type FillMode int

const (
	// FillImmediate fills every limit and market order on creation.
	FillImmediate FillMode = iota
	// FillMarketOnly leaves limit orders open until canceled.
	FillMarketOnly
)

// PaperGateway is an in-memory inverse margin account. The balance is held in
// base currency and the position is tracked as a signed base notional.
type PaperGateway struct {
	mu       sync.Mutex
	price    decimal.Decimal
	wallet   decimal.Decimal
	position decimal.Decimal
	leverage decimal.Decimal
	fillMode FillMode
	nextID   int
	orders   []*paperOrder
	failures map[string][]error
	calls    map[string]int
	now      func() time.Time
}

type paperOrder struct {
	order  domain.Order
	status domain.OrderStatus
}

// NewPaperGateway creates a paper account holding wallet in base currency.
func NewPaperGateway(wallet, price decimal.Decimal) *PaperGateway {
	return &PaperGateway{
		price:    price,
		wallet:   wallet,
		leverage: decimal.Zero,
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

func (p *PaperGateway) Name() string { return "paper" }

// SetPrice moves the market and triggers stops crossed by the new price.
func (p *PaperGateway) SetPrice(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = price
	for _, o := range p.orders {
		if o.status != domain.OrderStatusOpen || !o.order.IsStop() {
			continue
		}
		long := o.order.Side == domain.SideSell
		if (long && price.LessThanOrEqual(o.order.Price)) || (!long && price.GreaterThanOrEqual(o.order.Price)) {
			o.status = domain.OrderStatusClosed
			p.position = decimal.Zero
		}
	}
}

// SetFillMode changes how new orders are filled.
func (p *PaperGateway) SetFillMode(m FillMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillMode = m
}

// SetPosition overrides the signed base notional.
func (p *PaperGateway) SetPosition(homeNotional decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = homeNotional
}

// AddOrder seeds an order with the given status, for reconciliation scenarios.
func (p *PaperGateway) AddOrder(o domain.Order, status domain.OrderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.ID == "" {
		o.ID = p.newID()
	}
	p.orders = append(p.orders, &paperOrder{order: o, status: status})
}

// SetOrderStatus changes the status of a known order.
func (p *PaperGateway) SetOrderStatus(id string, status domain.OrderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o := p.find(id); o != nil {
		o.status = status
	}
}

// Fail queues errors returned by the next calls of op.
func (p *PaperGateway) Fail(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], errs...)
}

// Calls returns how many times op was invoked.
func (p *PaperGateway) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Orders returns every order placed, oldest first.
func (p *PaperGateway) Orders() []domain.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Order, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o.order)
	}
	return out
}

// Position returns the signed base notional.
func (p *PaperGateway) Position() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// enter records the call and pops a queued failure. Callers hold p.mu.
func (p *PaperGateway) enter(op string) error {
	p.calls[op]++
	if q := p.failures[op]; len(q) > 0 {
		p.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (p *PaperGateway) newID() string {
	p.nextID++
	return "paper-" + strconv.Itoa(p.nextID)
}

func (p *PaperGateway) find(id string) *paperOrder {
	for _, o := range p.orders {
		if o.order.ID == id {
			return o
		}
	}
	return nil
}

func (p *PaperGateway) fill(o *paperOrder) {
	o.status = domain.OrderStatusClosed
	if o.order.Side == domain.SideBuy {
		p.position = p.position.Add(o.order.Amount)
	} else {
		p.position = p.position.Sub(o.order.Amount)
	}
}

func (p *PaperGateway) FetchPrice(_ context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("fetch_price"); err != nil {
		return decimal.Zero, err
	}
	return p.price, nil
}

func (p *PaperGateway) FetchBalance(_ context.Context, _ string) (domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("fetch_balance"); err != nil {
		return domain.Balance{}, err
	}
	used := decimal.Min(p.position.Abs(), p.wallet)
	return domain.Balance{Free: p.wallet.Sub(used), Used: used, Total: p.wallet}, nil
}

func (p *PaperGateway) FetchPosition(_ context.Context) (*domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("fetch_position"); err != nil {
		return nil, err
	}
	if p.position.IsZero() {
		return nil, nil
	}
	side := domain.PositionLong
	if p.position.IsNegative() {
		side = domain.PositionShort
	}
	return &domain.Position{
		Side:          side,
		Size:          p.position.Mul(p.price).Round(0),
		HomeNotional:  p.position,
		QuoteNotional: p.position.Mul(p.price).Round(0),
	}, nil
}

func (p *PaperGateway) FetchMarginBalance(_ context.Context) (domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("fetch_margin_balance"); err != nil {
		return domain.Balance{}, err
	}
	used := decimal.Min(p.position.Abs(), p.wallet)
	return domain.Balance{Free: p.wallet.Sub(used), Used: used, Total: p.wallet}, nil
}

func (p *PaperGateway) FetchLeverage(_ context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("fetch_leverage"); err != nil {
		return decimal.Zero, err
	}
	if !p.wallet.IsPositive() {
		return decimal.Zero, nil
	}
	return p.position.Abs().Div(p.wallet).Round(2), nil
}

func (p *PaperGateway) FetchWalletBalance(_ context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("fetch_wallet_balance"); err != nil {
		return decimal.Zero, err
	}
	return p.wallet, nil
}

func (p *PaperGateway) place(op string, side domain.Side, kind domain.OrderKind, amount, price decimal.Decimal) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(op); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("paper %s: amount must be positive: %w", op, domain.ErrTerminal)
	}
	o := &paperOrder{
		order: domain.Order{
			ID:        p.newID(),
			Side:      side,
			Kind:      kind,
			Price:     price,
			Amount:    amount,
			CreatedAt: p.now(),
		},
		status: domain.OrderStatusOpen,
	}
	p.orders = append(p.orders, o)
	switch {
	case kind == domain.OrderKindMarket:
		p.fill(o)
	case kind == domain.OrderKindLimit && p.fillMode == FillImmediate:
		p.fill(o)
	}
	out := o.order
	if kind == domain.OrderKindMarket {
		// The fill price is only known once the order is read back.
		o.order.Price = p.price
	}
	return &out, nil
}

func (p *PaperGateway) CreateLimitOrder(_ context.Context, side domain.Side, amount, price decimal.Decimal, _ string) (*domain.Order, error) {
	return p.place("create_limit_order", side, domain.OrderKindLimit, amount, price)
}

func (p *PaperGateway) CreateMarketOrder(_ context.Context, side domain.Side, amount decimal.Decimal, _ string) (*domain.Order, error) {
	return p.place("create_market_order", side, domain.OrderKindMarket, amount, decimal.Zero)
}

func (p *PaperGateway) CreateStopOrder(_ context.Context, side domain.Side, amount, stopPrice decimal.Decimal) (*domain.Order, error) {
	return p.place("create_stop_order", side, domain.OrderKindStop, amount, stopPrice)
}

func (p *PaperGateway) CancelOrder(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("cancel_order"); err != nil {
		return err
	}
	o := p.find(id)
	if o == nil {
		return domain.ErrOrderNotFound
	}
	if o.status == domain.OrderStatusOpen {
		o.status = domain.OrderStatusCanceled
	}
	return nil
}

func (p *PaperGateway) FetchOrderStatus(_ context.Context, id string) (domain.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("fetch_order_status"); err != nil {
		return "", err
	}
	o := p.find(id)
	if o == nil {
		return "", domain.ErrOrderNotFound
	}
	return o.status, nil
}

func (p *PaperGateway) listByStatus(op string, status domain.OrderStatus) ([]domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(op); err != nil {
		return nil, err
	}
	var out []domain.Order
	for _, o := range p.orders {
		if o.status == status {
			out = append(out, o.order)
		}
	}
	return out, nil
}

func (p *PaperGateway) FetchOpenOrders(_ context.Context) ([]domain.Order, error) {
	return p.listByStatus("fetch_open_orders", domain.OrderStatusOpen)
}

func (p *PaperGateway) FetchClosedOrders(_ context.Context) ([]domain.Order, error) {
	return p.listByStatus("fetch_closed_orders", domain.OrderStatusClosed)
}

func (p *PaperGateway) SetLeverage(_ context.Context, value decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("set_leverage"); err != nil {
		return err
	}
	p.leverage = value
	return nil
}

// Leverage returns the last leverage set.
func (p *PaperGateway) Leverage() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leverage
}
