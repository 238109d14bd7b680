package report

import (
	"strings"
	"testing"
	"time"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

var reportTime = time.Date(2024, 3, 2, 12, 5, 0, 0, time.UTC)

func testBuilder() *Builder {
	return &Builder{
		Instance: "test",
		Host:     "box",
		Version:  "1.0.0",
		URL:      "https://example.org/maverage",
		Settings: Settings{
			DailyReport:             true,
			TradeReport:             true,
			ShortInPercent:          d("100"),
			MAMinutesShort:          144,
			MAMinutesLong:           1400,
			StopLoss:                true,
			StopLossInPercent:       d("5"),
			TradeTrials:             5,
			OrderAdjustSeconds:      90,
			TradeAdvantageInPercent: d("0.02"),
			LeverageDefault:         d("2"),
			ApplyLeverage:           true,
		},
	}
}

func testSnapshot() Snapshot {
	return Snapshot{
		Pair:          domain.Pair{Base: "BTC", Quote: "USD"},
		NetDeposits:   ptr("1"),
		MarginBalance: domain.Balance{Free: d("0.5"), Used: d("0.7"), Total: d("1.2")},
		Price:         d("10000"),
		Wallet:        d("1.1"),
		Leverage:      d("1.5"),
		Position:      ptr("-12000"),
		Today: Today{
			MarginBalance: d("1.2"),
			Price:         d("10000"),
			MarginChange:  ptr("2.5"),
			PriceChange:   ptr("-1.25"),
		},
		ShortMA: ptr("10100.4"),
		LongMA:  ptr("9800.5"),
		Action:  "BUY",
		Mayer:   &domain.MayerMultiple{Current: d("1.1"), Average: d("1.4")},
	}
}

func TestBuilder_PerformanceLines(t *testing.T) {
	text := testBuilder().Daily(testSnapshot(), reportTime).Text

	want := []string{
		"Net deposits BTC:               1.0000",
		"Overall performance in BTC:    +0.2000 (+20.00%)",
		"Wallet balance BTC:             1.1000",
		"Margin balance BTC:             1.2000 (+2.50%)*",
		"BTC price USD:              10000.00   (-1.25%)*",
		"Used margin:                   58.33%",
		"Actual leverage:                1.50x",
		"Position USD:              -12000.00",
		"* (change within 24 hours)",
	}
	for _, line := range want {
		if !strings.Contains(text, line+"\n") {
			t.Errorf("missing line %q in\n%s", line, text)
		}
	}
}

func TestBuilder_Unavailable(t *testing.T) {
	s := testSnapshot()
	s.NetDeposits = nil
	s.Position = nil
	s.Mayer = nil
	s.Today.MarginChange = nil
	s.Today.PriceChange = nil

	c := testBuilder().Daily(s, reportTime)
	for _, line := range []string{
		"Net deposits BTC:               n/a",
		"Overall performance in BTC:     n/a",
		"Margin balance BTC:             1.2000\n",
		"BTC price USD:              10000.00\n",
		"Position USD:                    n/a",
		"Mayer multiple:                 n/a (n/a)",
	} {
		if !strings.Contains(c.Text, line) {
			t.Errorf("missing %q in\n%s", line, c.Text)
		}
	}
	for _, field := range []string{"Net deposits BTC:;n/a", "Margin balance BTC:;1.2000;% n/a", "Position USD:;n/a", "Mayer multiple:;n/a"} {
		if !strings.Contains(c.CSV, field) {
			t.Errorf("missing %q in csv %q", field, c.CSV)
		}
	}
}

func TestBuilder_QuoteMarginPerformance(t *testing.T) {
	b := testBuilder()
	b.QuoteMargin = true
	s := testSnapshot()
	s.MarginBalance.Total = d("15000")

	text := b.Daily(s, reportTime).Text
	if !strings.Contains(text, "Overall performance in BTC:    +0.5000 (+50.00%)") {
		t.Errorf("expected performance converted by price, got\n%s", text)
	}
}

func TestBuilder_PercentLeverage(t *testing.T) {
	b := testBuilder()
	b.PercentLeverage = true
	c := b.Daily(testSnapshot(), reportTime)
	if !strings.Contains(c.Text, "Actual leverage:                1.50%") {
		t.Errorf("expected percent leverage in\n%s", c.Text)
	}
	if !strings.Contains(c.CSV, "Actual leverage:;1.50%") {
		t.Errorf("expected percent leverage in csv %q", c.CSV)
	}
}

func TestBuilder_Advice(t *testing.T) {
	tests := []struct {
		name  string
		mayer domain.MayerMultiple
		want  string
	}{
		{"buy", domain.MayerMultiple{Current: d("1.1"), Average: d("1.4")}, "Mayer multiple:                1.10 (< 1.40 = BUY)"},
		{"hold", domain.MayerMultiple{Current: d("1.8"), Average: d("1.4")}, "Mayer multiple:                1.80 (< 2.40 = HOLD)"},
		{"sell", domain.MayerMultiple{Current: d("2.6"), Average: d("1.4")}, "Mayer multiple:                2.60 (< 1.40 = SELL)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSnapshot()
			s.Mayer = &tt.mayer
			text := testBuilder().Daily(s, reportTime).Text
			if !strings.Contains(text, tt.want) {
				t.Errorf("missing %q in\n%s", tt.want, text)
			}
		})
	}

	text := testBuilder().Daily(testSnapshot(), reportTime).Text
	if !strings.Contains(text, "Moving average 1400/144:       9800/10100 = BUY") {
		t.Errorf("unexpected moving average line in\n%s", text)
	}
}

func TestBuilder_Sections(t *testing.T) {
	b := testBuilder()
	b.Info = "Support: info@example.org"

	trade := b.Trade(testSnapshot(), "limit buy 0.5 @ 9950.0 (o-1)", reportTime)
	if !strings.HasPrefix(trade.Text, "Last trade\n----------\nExecuted: limit buy 0.5 @ 9950.0 (o-1)\n\n\nPerformance\n") {
		t.Errorf("unexpected trade report head:\n%s", trade.Text)
	}
	if trade.CSV != "" {
		t.Errorf("trade reports have no csv line, got %q", trade.CSV)
	}
	if !strings.HasSuffix(trade.Text, "Support: info@example.org\n\nhttps://example.org/maverage\n") {
		t.Errorf("unexpected trade report tail:\n%s", trade.Text)
	}

	daily := b.Daily(testSnapshot(), reportTime)
	if strings.Contains(daily.Text, "Last trade") {
		t.Error("daily report must not contain the trade section")
	}
	for _, line := range []string{
		"Generated:      2024-03-02 12:05:00 UTC",
		"Bot:                       test@box",
		"Version:                      1.0.0",
		"Short in %:                     100",
		"Leverage default:                 2x",
		"Trade advantage in %:          0.02",
	} {
		if !strings.Contains(daily.Text, line) {
			t.Errorf("missing %q in\n%s", line, daily.Text)
		}
	}
	if !strings.HasPrefix(daily.CSV, "test;2024-03-02 12:05:00 UTC;Net deposits BTC:;1.0000;") {
		t.Errorf("unexpected csv head %q", daily.CSV)
	}
	if !strings.HasSuffix(daily.CSV, "Apply leverage:;Y;Support: info@example.org\n") {
		t.Errorf("unexpected csv tail %q", daily.CSV)
	}
}

func TestUsedMarginPercent(t *testing.T) {
	if got := UsedMarginPercent(domain.Balance{Free: d("25"), Total: d("100")}); !got.Equal(d("75")) {
		t.Errorf("expected 75, got %s", got)
	}
	if got := UsedMarginPercent(domain.Balance{Free: d("1")}); !got.IsZero() {
		t.Errorf("expected 0 for an empty account, got %s", got)
	}
}
