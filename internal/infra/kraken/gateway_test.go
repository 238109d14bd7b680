package kraken

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

type recorded struct {
	path string
	form url.Values
}

func newTestGateway(t *testing.T, lev int64, apply bool, answers map[string]string) (*Gateway, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Method == http.MethodPost && r.Header.Get("API-Sign") == "" {
			t.Errorf("private call %s is not signed", r.URL.Path)
		}
		calls = append(calls, recorded{path: r.URL.Path, form: r.PostForm})
		body, ok := answers[r.URL.Path]
		if !ok {
			t.Errorf("unexpected call %s", r.URL.Path)
			body = `{"error":["EGeneral:Unknown method"]}`
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	gw, err := New(Options{
		APIKey:        "key",
		APISecret:     "c2VjcmV0",
		Pair:          domain.Pair{Base: "BTC", Quote: "EUR"},
		BaseURL:       srv.URL,
		Leverage:      decimal.NewFromInt(lev),
		ApplyLeverage: apply,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return gw, &calls
}

const addOrderOK = `{"error":[],"result":{"descr":{"order":"buy 1 XBTEUR @ limit 100"},"txid":["OABC-1"]}}`

func TestFetchPrice(t *testing.T) {
	gw, _ := newTestGateway(t, 1, false, map[string]string{
		"/0/public/Ticker": `{"error":[],"result":{"XXBTZEUR":{"a":["10001.0","1","1.000"],"b":["10000.5","1","1.000"]}}}`,
	})

	price, err := gw.FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("FetchPrice failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("10000.5")) {
		t.Errorf("price = %s", price)
	}
	if gw.symbol != "XXBTZEUR" {
		t.Errorf("symbol = %s", gw.symbol)
	}
}

func TestFetchBalance(t *testing.T) {
	gw, _ := newTestGateway(t, 1, false, map[string]string{
		"/0/private/BalanceEx": `{"error":[],"result":{"XXBT":{"balance":"1.5","hold_trade":"0.5"},"ZEUR":{"balance":"1000","hold_trade":"0"}}}`,
	})

	bal, err := gw.FetchBalance(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("FetchBalance failed: %v", err)
	}
	if !bal.Free.Equal(decimal.NewFromInt(1)) || !bal.Used.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("unexpected balance %+v", bal)
	}

	missing, err := gw.FetchBalance(context.Background(), "USD")
	if err != nil || !missing.Total.IsZero() {
		t.Errorf("expected empty balance for unknown asset, got %+v %v", missing, err)
	}
}

func TestFetchMarginBalance(t *testing.T) {
	gw, calls := newTestGateway(t, 1, false, map[string]string{
		"/0/private/TradeBalance": `{"error":[],"result":{"eb":"2","tb":"1.8","m":"0.3","n":"0.01","e":"1.9","mf":"1.6","ml":"633.33"}}`,
	})
	ctx := context.Background()

	bal, err := gw.FetchMarginBalance(ctx)
	if err != nil {
		t.Fatalf("FetchMarginBalance failed: %v", err)
	}
	if !bal.Free.Equal(decimal.RequireFromString("1.6")) || !bal.Total.Equal(decimal.RequireFromString("1.9")) || !bal.Used.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("unexpected margin %+v", bal)
	}
	if (*calls)[0].form.Get("asset") != "XXBT" {
		t.Errorf("asset = %s", (*calls)[0].form.Get("asset"))
	}

	lev, _ := gw.FetchLeverage(ctx)
	if !lev.Equal(decimal.RequireFromString("633.33")) {
		t.Errorf("margin level = %s", lev)
	}
	wallet, _ := gw.FetchWalletBalance(ctx)
	if !wallet.Equal(decimal.RequireFromString("1.8")) {
		t.Errorf("trade balance = %s", wallet)
	}
}

func TestFetchPositionInfersSide(t *testing.T) {
	answers := map[string]string{
		"/0/private/TradeBalance": `{"error":[],"result":{"e":"0.5","mf":"0.2","m":"0.3","n":"0"}}`,
		"/0/public/Ticker":        `{"error":[],"result":{"XXBTZEUR":{"b":["10000","1","1"]}}}`,
		"/0/private/BalanceEx":    `{"error":[],"result":{"XXBT":{"balance":"0.5","hold_trade":"0"},"ZEUR":{"balance":"100","hold_trade":"0"}}}`,
	}
	gw, _ := newTestGateway(t, 1, false, answers)

	pos, err := gw.FetchPosition(context.Background())
	if err != nil {
		t.Fatalf("FetchPosition failed: %v", err)
	}
	if pos == nil || pos.Side != domain.PositionLong {
		t.Fatalf("expected long, got %+v", pos)
	}
	if !pos.Size.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("size = %s", pos.Size)
	}
}

func TestCreateLimitOrderLeverage(t *testing.T) {
	tests := []struct {
		name     string
		side     domain.Side
		lev      int64
		apply    bool
		leverage string
		oflags   string
	}{
		{"buy without leverage", domain.SideBuy, 1, false, "", "fcib"},
		{"buy with leverage", domain.SideBuy, 3, true, "3", "fcib"},
		{"sell without leverage", domain.SideSell, 1, false, "2", ""},
		{"sell with leverage", domain.SideSell, 3, true, "4", ""},
		{"sell with configured but unapplied leverage", domain.SideSell, 3, false, "2", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, calls := newTestGateway(t, tt.lev, tt.apply, map[string]string{"/0/private/AddOrder": addOrderOK})

			order, err := gw.CreateLimitOrder(context.Background(), tt.side, decimal.RequireFromString("0.25"), decimal.NewFromInt(10000), "")
			if err != nil {
				t.Fatalf("CreateLimitOrder failed: %v", err)
			}
			form := (*calls)[0].form
			if form.Get("leverage") != tt.leverage {
				t.Errorf("leverage = %q, want %q", form.Get("leverage"), tt.leverage)
			}
			if form.Get("oflags") != tt.oflags {
				t.Errorf("oflags = %q, want %q", form.Get("oflags"), tt.oflags)
			}
			if form.Get("ordertype") != "limit" || form.Get("volume") != "0.25" || form.Get("pair") != "XXBTZEUR" {
				t.Errorf("unexpected form %v", form)
			}
			if form.Get("cl_ord_id") == "" || form.Get("nonce") == "" {
				t.Error("expected client order id and nonce")
			}
			if order.ID != "OABC-1" || !order.Amount.Equal(decimal.RequireFromString("0.25")) {
				t.Errorf("unexpected order %+v", order)
			}
		})
	}
}

func TestCreateStopOrder(t *testing.T) {
	gw, calls := newTestGateway(t, 1, false, map[string]string{"/0/private/AddOrder": addOrderOK})

	order, err := gw.CreateStopOrder(context.Background(), domain.SideSell, decimal.RequireFromString("0.4"), decimal.RequireFromString("9500.04"))
	if err != nil {
		t.Fatalf("CreateStopOrder failed: %v", err)
	}
	form := (*calls)[0].form
	if form.Get("ordertype") != "stop-loss" || form.Get("price") != "9500" {
		t.Errorf("unexpected stop form %v", form)
	}
	if !order.IsStop() {
		t.Error("expected stop order")
	}
}

func TestOrderStatus(t *testing.T) {
	gw, _ := newTestGateway(t, 1, false, map[string]string{
		"/0/private/QueryOrders": `{"error":[],"result":{"O1":{"status":"canceled","descr":{"type":"buy","ordertype":"limit","price":"100"},"vol":"1"}}}`,
	})
	status, err := gw.FetchOrderStatus(context.Background(), "O1")
	if err != nil || status != domain.OrderStatusCanceled {
		t.Errorf("status = %s, %v", status, err)
	}

	_, err = gw.FetchOrderStatus(context.Background(), "O2")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestClosedOrdersSkipCanceled(t *testing.T) {
	gw, _ := newTestGateway(t, 1, false, map[string]string{
		"/0/private/ClosedOrders": `{"error":[],"result":{"closed":{
			"O2":{"status":"closed","opentm":1700000200.5,"descr":{"type":"sell","ordertype":"limit","price":"10100"},"vol":"1","price":"10100"},
			"O1":{"status":"closed","opentm":1700000100.0,"descr":{"type":"buy","ordertype":"market","price":"0"},"vol":"1","price":"9900"},
			"O3":{"status":"canceled","opentm":1700000300.0,"descr":{"type":"buy","ordertype":"limit","price":"9000"},"vol":"1"}
		}}}`,
	})

	orders, err := gw.FetchClosedOrders(context.Background())
	if err != nil {
		t.Fatalf("FetchClosedOrders failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "O1" || orders[1].ID != "O2" {
		t.Fatalf("unexpected orders %+v", orders)
	}
	if orders[0].Kind != domain.OrderKindMarket || !orders[0].Price.Equal(decimal.NewFromInt(9900)) {
		t.Errorf("market order should carry the average price, got %+v", orders[0])
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		retriable bool
		terminal  bool
		notFound  bool
	}{
		{"insufficient funds", `{"error":["EOrder:Insufficient funds"]}`, false, true, false},
		{"rate limit", `{"error":["EAPI:Rate limit exceeded"]}`, true, false, false},
		{"unavailable", `{"error":["EService:Unavailable"]}`, true, false, false},
		{"unknown order", `{"error":["EOrder:Unknown order"]}`, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, _ := newTestGateway(t, 1, false, map[string]string{"/0/private/CancelOrder": tt.body})
			err := gw.CancelOrder(context.Background(), "O1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := domain.IsRetriable(err); got != tt.retriable {
				t.Errorf("IsRetriable = %v, want %v", got, tt.retriable)
			}
			if got := domain.IsTerminal(err); got != tt.terminal {
				t.Errorf("IsTerminal = %v, want %v", got, tt.terminal)
			}
			if got := errors.Is(err, domain.ErrOrderNotFound); got != tt.notFound {
				t.Errorf("not found = %v, want %v", got, tt.notFound)
			}
		})
	}
}

func TestSetLeverageUnsupported(t *testing.T) {
	gw, _ := newTestGateway(t, 1, false, nil)
	if err := gw.SetLeverage(context.Background(), decimal.NewFromInt(2)); !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestNetDeposits(t *testing.T) {
	gw, calls := newTestGateway(t, 1, false, map[string]string{
		"/0/private/Ledgers": `{"error":[],"result":{"ledger":{"L1":{"asset":"XXBT","type":"deposit","amount":"1.5"},"L2":{"asset":"XXBT","type":"withdrawal","amount":"-0.5"}}}}`,
	})
	v, err := gw.FetchNetDeposits(context.Background())
	if err != nil {
		t.Fatalf("FetchNetDeposits failed: %v", err)
	}
	// the stub answers both ledger queries with the same entries
	if !v.Equal(decimal.NewFromInt(2)) {
		t.Errorf("net deposits = %s", v)
	}
	if len(*calls) != 2 {
		t.Errorf("expected two ledger queries, got %d", len(*calls))
	}
}
