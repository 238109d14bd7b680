// Package report renders and delivers the trade and daily reports of an instance.
package report

import (
	"fmt"
	"strings"
	"time"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
)

// Settings are the configuration values echoed in every report.
type Settings struct {
	DailyReport             bool
	TradeReport             bool
	ShortInPercent          decimal.Decimal
	MAMinutesShort          int
	MAMinutesLong           int
	StopLoss                bool
	StopLossInPercent       decimal.Decimal
	NoActionAtLoss          bool
	TradeTrials             int
	OrderAdjustSeconds      int
	TradeAdvantageInPercent decimal.Decimal
	LeverageDefault         decimal.Decimal
	ApplyLeverage           bool
}

// Today holds the current margin balance in base currency and price, with
// the change against the day before when that day was recorded.
type Today struct {
	MarginBalance decimal.Decimal
	Price         decimal.Decimal
	MarginChange  *decimal.Decimal
	PriceChange   *decimal.Decimal
}

// Snapshot is everything read from the exchange and the rate history for one report.
type Snapshot struct {
	Pair domain.Pair
	// NetDeposits is nil when neither configured nor reported by the exchange.
	NetDeposits   *decimal.Decimal
	MarginBalance domain.Balance
	Price         decimal.Decimal
	Wallet        decimal.Decimal
	Leverage      decimal.Decimal
	// Position is the open position in quote currency, nil when unknown.
	Position *decimal.Decimal
	Today    Today
	// ShortMA and LongMA are nil when the history is too short.
	ShortMA *decimal.Decimal
	LongMA  *decimal.Decimal
	Action  string
	Mayer   *domain.MayerMultiple
}

// Content is a rendered report.
type Content struct {
	Text string
	// CSV is the daily line, empty for trade reports.
	CSV string
}

// Builder renders reports for one instance.
type Builder struct {
	Instance string
	Host     string
	Version  string
	Info     string
	URL      string
	Settings Settings
	// QuoteMargin is set when the exchange reports the margin balance in quote currency.
	QuoteMargin bool
	// PercentLeverage is set when the exchange reports leverage as a percentage.
	PercentLeverage bool
}

type part struct {
	mail []string
	csv  []string
}

func (p *part) add(mail, csv string) {
	p.mail = append(p.mail, mail)
	p.csv = append(p.csv, csv)
}

func section(title, body string) string {
	return title + "\n" + strings.Repeat("-", len(title)) + "\n" + body + "\n\n\n"
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func f64(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func changeText(c *decimal.Decimal) string {
	if c == nil {
		return "% n/a"
	}
	return fmt.Sprintf("%+.2f%%", f64(*c))
}

// Daily renders the daily report and its CSV line.
func (b *Builder) Daily(s Snapshot, now time.Time) Content {
	return b.build(s, "", true, now)
}

// Trade renders the report sent after a position change.
func (b *Builder) Trade(s Snapshot, executed string, now time.Time) Content {
	return b.build(s, executed, false, now)
}

func (b *Builder) build(s Snapshot, executed string, daily bool, now time.Time) Content {
	perf := b.performance(s)
	advice := b.advice(s)
	settings := b.settings()

	var text strings.Builder
	if !daily {
		text.WriteString(section("Last trade", fmt.Sprintf("Executed: %17s", executed)))
	}
	text.WriteString(section("Performance", strings.Join(perf.mail, "\n")+"\n* (change within 24 hours)"))
	text.WriteString(section("Assessment / advice", strings.Join(advice.mail, "\n")))
	text.WriteString(section("Your settings", strings.Join(settings.mail, "\n")))
	text.WriteString(section("General", strings.Join(b.general(now), "\n")))
	if b.Info != "" {
		text.WriteString(b.Info + "\n\n")
	}
	text.WriteString(b.URL + "\n")

	c := Content{Text: text.String()}
	if daily {
		c.CSV = b.Instance + ";" + stamp(now) + ";" +
			strings.Join(perf.csv, ";") + ";" +
			strings.Join(advice.csv, ";") + ";" +
			strings.Join(settings.csv, ";") + ";" + b.Info + "\n"
	}
	return c
}

func stamp(now time.Time) string {
	return now.UTC().Format(time.DateTime) + " UTC"
}

func (b *Builder) performance(s Snapshot) part {
	var p part
	base, quote := s.Pair.Base, s.Pair.Quote

	if s.NetDeposits == nil {
		p.add(fmt.Sprintf("Net deposits %s: %17s", base, "n/a"), fmt.Sprintf("Net deposits %s:;n/a", base))
		p.add(fmt.Sprintf("Overall performance in %s: %7s", base, "n/a"), fmt.Sprintf("Overall performance in %s:;n/a", base))
	} else {
		net := *s.NetDeposits
		p.add(fmt.Sprintf("Net deposits %s: %20.4f", base, f64(net)), fmt.Sprintf("Net deposits %s:;%.4f", base, f64(net)))
		abs := s.MarginBalance.Total.Sub(net)
		if b.QuoteMargin {
			abs = domain.ToCrypto(s.MarginBalance.Total, s.Price).Sub(net)
		}
		if net.IsPositive() && !abs.IsZero() {
			rel := hundred.Div(net.Div(abs)).RoundBank(2)
			p.add(fmt.Sprintf("Overall performance in %s: %+10.4f (%+.2f%%)", base, f64(abs), f64(rel)),
				fmt.Sprintf("Overall performance in %s:;%.4f;%+.2f%%", base, f64(abs), f64(rel)))
		} else {
			p.add(fmt.Sprintf("Overall performance in %s: %+10.4f (%% n/a)", base, f64(abs)),
				fmt.Sprintf("Overall performance in %s:;%.4f;%% n/a", base, f64(abs)))
		}
	}

	p.add(fmt.Sprintf("Wallet balance %s: %18.4f", base, f64(s.Wallet)), fmt.Sprintf("Wallet balance %s:;%.4f", base, f64(s.Wallet)))

	mBal := fmt.Sprintf("Margin balance %s: %18.4f", base, f64(s.Today.MarginBalance))
	if s.Today.MarginChange != nil {
		mBal += " (" + changeText(s.Today.MarginChange) + ")*"
	}
	p.add(mBal, fmt.Sprintf("Margin balance %s:;%.4f;%s", base, f64(s.Today.MarginBalance), changeText(s.Today.MarginChange)))

	rate := fmt.Sprintf("%s price %s: %21.2f", base, quote, f64(s.Price))
	if s.Today.PriceChange != nil {
		rate += "   (" + changeText(s.Today.PriceChange) + ")*"
	}
	p.add(rate, fmt.Sprintf("%s price %s:;%.2f;%s", base, quote, f64(s.Price), changeText(s.Today.PriceChange)))

	used := UsedMarginPercent(s.MarginBalance)
	p.add(fmt.Sprintf("Used margin: %23.2f%%", f64(used)), fmt.Sprintf("Used margin:;%.2f%%", f64(used)))

	if b.PercentLeverage {
		p.add(fmt.Sprintf("Actual leverage: %19.2f%%", f64(s.Leverage)), fmt.Sprintf("Actual leverage:;%.2f%%", f64(s.Leverage)))
	} else {
		p.add(fmt.Sprintf("Actual leverage: %19.2fx", f64(s.Leverage)), fmt.Sprintf("Actual leverage:;%.2f", f64(s.Leverage)))
	}

	if s.Position == nil {
		p.add(fmt.Sprintf("Position %s: %22s", quote, "n/a"), fmt.Sprintf("Position %s:;n/a", quote))
	} else {
		p.add(fmt.Sprintf("Position %s: %22.2f", quote, f64(*s.Position)), fmt.Sprintf("Position %s:;%.2f", quote, f64(*s.Position)))
	}
	return p
}

var hundred = decimal.NewFromInt(100)

// UsedMarginPercent is 100 - free/total*100, zero for an empty account.
func UsedMarginPercent(b domain.Balance) decimal.Decimal {
	if !b.Total.IsPositive() {
		return decimal.Zero
	}
	return hundred.Sub(b.Free.Div(b.Total).Mul(hundred))
}

func (b *Builder) advice(s Snapshot) part {
	var p part
	long, short := fmt.Sprint(b.Settings.MAMinutesLong), fmt.Sprint(b.Settings.MAMinutesShort)

	ma := "n/a = " + s.Action
	if s.LongMA != nil && s.ShortMA != nil {
		ma = fmt.Sprintf("%s/%s = %s", s.LongMA.RoundBank(0).String(), s.ShortMA.RoundBank(0).String(), s.Action)
	}
	pad := 13 - len(long) - len(short) + len(ma)
	p.mail = append(p.mail, fmt.Sprintf("Moving average %s/%s: %*s", long, short, pad, ma))

	m := s.Mayer
	if m == nil {
		p.add(fmt.Sprintf("Mayer multiple: %19s (n/a)", "n/a"), "Mayer multiple:;n/a")
		return p
	}
	advice := m.Advice()
	limit := m.Average
	if advice == "HOLD" {
		limit = domain.MayerThreshold
	}
	p.add(fmt.Sprintf("Mayer multiple: %19.2f (< %.2f = %s)", f64(m.Current), f64(limit), advice),
		fmt.Sprintf("Mayer multiple:;%.2f", f64(m.Current)))
	return p
}

func (b *Builder) settings() part {
	var p part
	c := b.Settings
	p.add(fmt.Sprintf("Daily report: %21s", yn(c.DailyReport)), "Daily report:;"+yn(c.DailyReport))
	p.add(fmt.Sprintf("Trade report: %21s", yn(c.TradeReport)), "Trade report:;"+yn(c.TradeReport))
	p.add(fmt.Sprintf("Short in %%: %23s", c.ShortInPercent), "Short in %:;"+c.ShortInPercent.String())
	p.add(fmt.Sprintf("MA minutes short: %17d", c.MAMinutesShort), fmt.Sprintf("MA minutes short:;%d", c.MAMinutesShort))
	p.add(fmt.Sprintf("MA minutes long: %18d", c.MAMinutesLong), fmt.Sprintf("MA minutes long:;%d", c.MAMinutesLong))
	p.add(fmt.Sprintf("Stop loss: %24s", yn(c.StopLoss)), "Stop loss:;"+yn(c.StopLoss))
	p.add(fmt.Sprintf("Stop loss in %%: %19s", c.StopLossInPercent), "Stop loss in %:;"+c.StopLossInPercent.String())
	p.add(fmt.Sprintf("No action at loss: %16s", yn(c.NoActionAtLoss)), "No action at loss:;"+yn(c.NoActionAtLoss))
	p.add(fmt.Sprintf("Trade trials: %21d", c.TradeTrials), fmt.Sprintf("Trade trials:;%d", c.TradeTrials))
	p.add(fmt.Sprintf("Order adjust seconds: %13d", c.OrderAdjustSeconds), fmt.Sprintf("Order adjust seconds:;%d", c.OrderAdjustSeconds))
	p.add(fmt.Sprintf("Trade advantage in %%: %13s", c.TradeAdvantageInPercent), "Trade advantage in %:;"+c.TradeAdvantageInPercent.String())
	p.add(fmt.Sprintf("Leverage default: %17sx", c.LeverageDefault), "Leverage default:;"+c.LeverageDefault.String())
	p.add(fmt.Sprintf("Apply leverage: %19s", yn(c.ApplyLeverage)), "Apply leverage:;"+yn(c.ApplyLeverage))
	return p
}

func (b *Builder) general(now time.Time) []string {
	return []string{
		fmt.Sprintf("Generated: %28s", stamp(now)),
		fmt.Sprintf("Bot: %30s", b.Instance+"@"+b.Host),
		fmt.Sprintf("Version: %26s", b.Version),
	}
}
