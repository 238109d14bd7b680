package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"maverage/internal/domain"
	"maverage/internal/event"
	"maverage/internal/execution"
	"maverage/internal/sizing"
	"maverage/internal/strategy"

	"github.com/shopspring/decimal"
)

// Config holds the trading knobs of one instance.
type Config struct {
	Pair   domain.Pair
	Sizing sizing.Params

	StopLoss           bool
	StopLossPercent    decimal.Decimal
	NoActionAtLoss     bool
	NativeTrailingStop bool

	TradeTrials           int
	OrderAdjust           time.Duration
	PollInterval          time.Duration
	TradeAdvantagePercent decimal.Decimal
	PriceAttempts         int

	LoopMin        time.Duration
	LoopMax        time.Duration
	PostTradePause time.Duration

	// ResetLeverage switches the account to cross margin before the first cycle.
	ResetLeverage bool
	// Reset ignores the persisted action on startup.
	Reset bool
	// DumpPath receives the state when the control loop panics.
	DumpPath string
}

// DefaultPollInterval separates order status polls.
const DefaultPollInterval = 10 * time.Second

// Recorder receives trading outcomes. infra.Metrics implements it.
type Recorder interface {
	ObserveOrder(side, kind string)
	ObserveStopUpdate()
	ObserveStoppedOut()
	ObserveCycle()
	SetSignal(signal string)
	SetPrice(price decimal.Decimal)
	SetMovingAverages(short, long decimal.Decimal)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOrder(string, string)                        {}
func (nopRecorder) ObserveStopUpdate()                                 {}
func (nopRecorder) ObserveStoppedOut()                                 {}
func (nopRecorder) ObserveCycle()                                      {}
func (nopRecorder) SetSignal(string)                                   {}
func (nopRecorder) SetPrice(decimal.Decimal)                           {}
func (nopRecorder) SetMovingAverages(decimal.Decimal, decimal.Decimal) {}

// Publisher is the fire-and-forget sink for trade events. event.Bus implements it.
type Publisher interface {
	Publish(ev event.TradeEvent) bool
}

// DailyHook runs between cycles and while orders are polled, so the daily
// report window is not missed during long order supervision.
type DailyHook func(ctx context.Context, last *domain.Order)

// Trader is the single-threaded control loop: signal, order, fill, stop-loss.
// Run MUST be called from one goroutine; the state is never shared.
type Trader struct {
	cfg      Config
	ex       *execution.Resilient
	policy   sizing.Policy
	strat    strategy.Strategy
	markers  domain.MarkerStore
	events   Publisher
	recorder Recorder
	daily    DailyHook
	now      func() time.Time

	state  *domain.TradingState
	logger *slog.Logger

	// inFlight is set while a pending marker is on disk.
	inFlight bool
}

// Option configures a Trader.
type Option func(*Trader)

// WithPublisher sends trade events to p.
func WithPublisher(p Publisher) Option {
	return func(t *Trader) { t.events = p }
}

// WithRecorder reports trading outcomes.
func WithRecorder(r Recorder) Option {
	return func(t *Trader) {
		if r != nil {
			t.recorder = r
		}
	}
}

// WithDailyHook installs the daily report check.
func WithDailyHook(h DailyHook) Option {
	return func(t *Trader) { t.daily = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trader) { t.now = now }
}

// NewTrader creates the control loop. The state is empty until Recover or Run.
func NewTrader(cfg Config, ex *execution.Resilient, policy sizing.Policy, strat strategy.Strategy, markers domain.MarkerStore, opts ...Option) *Trader {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.Sizing = sizing.WithDefaults(policy, cfg.Sizing)
	t := &Trader{
		cfg:      cfg,
		ex:       ex,
		policy:   policy,
		strat:    strat,
		markers:  markers,
		recorder: nopRecorder{},
		now:      time.Now,
		state:    domain.NewTradingState(),
		logger:   slog.Default().With("module", "trader", "exchange", ex.Gateway().Name()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns a copy of the current state.
func (t *Trader) State() domain.TradingState {
	return *t.state
}

// Run reconciles the state with the exchange and loops until ctx is done.
func (t *Trader) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			t.DumpState(t.cfg.DumpPath)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	if t.cfg.ResetLeverage {
		if err := t.ex.SetLeverage(ctx, decimal.Zero); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("Could not reset leverage", slog.Any("error", err))
		}
	}
	if err := t.Recover(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("recover state: %w", err)
	}
	t.logger.Info("Trader started",
		slog.String("last_action", string(t.state.LastAction)),
		slog.Bool("stop_loss", t.cfg.StopLoss),
	)

	loop := execution.Jitter{Min: t.cfg.LoopMin, Max: t.cfg.LoopMax}
	for {
		if err := t.Step(ctx); err != nil {
			if ctx.Err() != nil {
				t.logger.Info("Trader stopping...")
				return nil
			}
			t.logger.Error("Cycle failed", slog.Any("error", err))
		}
		t.tick(ctx)
		if err := t.ex.Sleep(ctx, loop.Draw()); err != nil {
			t.logger.Info("Trader stopping...")
			return nil
		}
	}
}

// Step runs one decision cycle.
func (t *Trader) Step(ctx context.Context) error {
	defer t.recorder.ObserveCycle()

	action, ok := t.signal(ctx)
	if ok && action != t.state.LastAction {
		t.logger.Info("Signal changed",
			slog.String("from", string(t.state.LastAction)),
			slog.String("to", string(action)),
		)
		order, err := t.enter(ctx, action)
		if err != nil {
			return err
		}
		if order == nil {
			t.logger.Warn("Transition skipped, keeping state", slog.String("action", string(action)))
			t.restoreMarker()
		} else if err := t.afterTrade(ctx, action, order); err != nil {
			return err
		}
	}

	if t.cfg.StopLoss && t.state.CurrentOrder != nil {
		return t.protect(ctx)
	}
	return nil
}

// signal evaluates the strategy. HOLD and errors are reported as false.
func (t *Trader) signal(ctx context.Context) (domain.Action, bool) {
	d, err := t.strat.Evaluate(ctx)
	if err != nil {
		t.logger.Warn("No signal this cycle", slog.Any("error", err))
		return domain.ActionNone, false
	}
	t.recorder.SetSignal(d.Signal.String())
	t.recorder.SetMovingAverages(d.Short, d.Long)
	action := d.Signal.Action()
	return action, action.IsTrade()
}

func (t *Trader) afterTrade(ctx context.Context, action domain.Action, order *domain.Order) error {
	if old := t.state.StopLossOrder; old != nil && !t.ex.CanUpdateStop() {
		if _, err := t.ex.CancelOrder(ctx, *old); err != nil {
			t.logger.Warn("Could not cancel stop of previous position", slog.String("id", old.ID), slog.Any("error", err))
		}
	}
	t.state.ClearPosition()
	t.state.LastAction = action
	t.state.Pending = false
	t.state.CurrentOrder = order
	t.inFlight = false
	t.writeMarker(t.state.Marker())

	t.logger.Info("Filled",
		slog.String("side", string(order.Side)),
		slog.String("kind", string(order.Kind)),
		slog.String("amount", order.Amount.String()),
		slog.String("price", order.Price.String()),
		slog.String("id", order.ID),
	)
	t.publish(event.NewTrade(action, order, t.now()))

	if t.cfg.PostTradePause > 0 {
		return t.ex.Sleep(ctx, t.cfg.PostTradePause)
	}
	return nil
}

func (t *Trader) publish(ev event.TradeEvent) {
	if t.events == nil {
		return
	}
	t.events.Publish(ev)
}

func (t *Trader) tick(ctx context.Context) {
	if t.daily != nil {
		t.daily(ctx, t.state.CurrentOrder)
	}
}

func (t *Trader) writeMarker(m domain.Marker) {
	if err := t.markers.WriteMarker(m); err != nil {
		t.logger.Error("Failed to persist action", slog.String("action", m.Code()), slog.Any("error", err))
	}
}

// markPending persists the transition to action as in flight.
func (t *Trader) markPending(action domain.Action) {
	t.writeMarker(domain.Marker{Action: action, Pending: true})
	t.inFlight = true
}

// restoreMarker drops a pending marker left by an abandoned transition.
func (t *Trader) restoreMarker() {
	if !t.inFlight {
		return
	}
	t.inFlight = false
	t.state.Pending = false
	t.writeMarker(t.state.Marker())
}

// abandon turns an exchange failure into "no action this cycle". Context
// errors are passed through so the loop can stop.
func (t *Trader) abandon(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	t.logger.Warn("Giving up for this cycle", slog.String("op", op), slog.Any("error", err))
	return nil
}

// DumpState writes the trading state to filename for post-mortem analysis.
func (t *Trader) DumpState(filename string) {
	if filename == "" {
		filename = "panic_dump.json"
	}
	t.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		At    time.Time            `json:"at"`
		State *domain.TradingState `json:"state"`
	}{
		At:    t.now().UTC(),
		State: t.state,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		t.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		t.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
