package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds the Prometheus collectors of one daemon on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	retries       *prometheus.CounterVec
	terminals     *prometheus.CounterVec
	orders        *prometheus.CounterVec
	stopUpdates   prometheus.Counter
	stoppedOut    prometheus.Counter
	cycles        prometheus.Counter
	ratesRecorded prometheus.Counter
	signal        prometheus.Gauge
	price         prometheus.Gauge
	averages      *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maverage_exchange_retries_total",
			Help: "Retried exchange calls by operation",
		}, []string{"op"}),
		terminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maverage_terminal_errors_total",
			Help: "Exchange calls aborted by a terminal business error",
		}, []string{"op"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maverage_orders_total",
			Help: "Orders placed by side and kind",
		}, []string{"side", "kind"}),
		stopUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maverage_stop_loss_updates_total",
			Help: "Stop-loss orders placed or moved",
		}),
		stoppedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maverage_stopped_out_total",
			Help: "Positions closed by a stop-loss",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maverage_cycles_total",
			Help: "Completed decision cycles",
		}),
		ratesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maverage_rates_recorded_total",
			Help: "Rates written by the recorder",
		}),
		signal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maverage_signal",
			Help: "Last signal: 1 buy, -1 sell, 0 hold",
		}),
		price: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maverage_price",
			Help: "Last observed bid",
		}),
		averages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maverage_moving_average",
			Help: "Moving averages by window",
		}, []string{"window"}),
	}

	m.registry.MustRegister(
		m.retries, m.terminals, m.orders, m.stopUpdates, m.stoppedOut,
		m.cycles, m.ratesRecorded, m.signal, m.price, m.averages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Metrics server started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveRetry counts a retried call.
func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// ObserveTerminal counts a call aborted by a terminal error.
func (m *Metrics) ObserveTerminal(op string) {
	if m == nil {
		return
	}
	m.terminals.WithLabelValues(op).Inc()
}

// ObserveOrder counts a placed order.
func (m *Metrics) ObserveOrder(side, kind string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, kind).Inc()
}

func (m *Metrics) ObserveStopUpdate() {
	if m == nil {
		return
	}
	m.stopUpdates.Inc()
}

func (m *Metrics) ObserveStoppedOut() {
	if m == nil {
		return
	}
	m.stoppedOut.Inc()
}

func (m *Metrics) ObserveCycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) ObserveRateRecorded() {
	if m == nil {
		return
	}
	m.ratesRecorded.Inc()
}

// SetSignal records BUY as 1, SELL as -1 and anything else as 0.
func (m *Metrics) SetSignal(signal string) {
	if m == nil {
		return
	}
	switch signal {
	case "BUY":
		m.signal.Set(1)
	case "SELL":
		m.signal.Set(-1)
	default:
		m.signal.Set(0)
	}
}

func (m *Metrics) SetPrice(price decimal.Decimal) {
	if m == nil {
		return
	}
	m.price.Set(price.InexactFloat64())
}

func (m *Metrics) SetMovingAverages(short, long decimal.Decimal) {
	if m == nil {
		return
	}
	m.averages.WithLabelValues("short").Set(short.InexactFloat64())
	m.averages.WithLabelValues("long").Set(long.InexactFloat64())
}
