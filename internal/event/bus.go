package event

import (
	"context"
	"log/slog"
	"sync"
)

// Handler consumes events off the trading loop goroutine.
type Handler func(ctx context.Context, ev TradeEvent)

// Bus decouples the trading loop from slow consumers such as the mailer.
// Publish never blocks; events beyond the buffer are dropped and logged.
type Bus struct {
	ch      chan TradeEvent
	handler Handler
	wg      sync.WaitGroup
}

// NewBus creates a bus with the given buffer size.
func NewBus(size int, handler Handler) *Bus {
	if size <= 0 {
		size = 16
	}
	return &Bus{ch: make(chan TradeEvent, size), handler: handler}
}

// Publish enqueues the event and reports whether it was accepted.
func (b *Bus) Publish(ev TradeEvent) bool {
	if b == nil {
		return false
	}
	select {
	case b.ch <- ev:
		return true
	default:
		slog.Warn("Event dropped, bus full", slog.String("kind", string(ev.Kind)))
		return false
	}
}

// Start runs the bus in its own goroutine. Wait returns once it has drained.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Run(ctx)
	}()
}

// Run delivers events until ctx is done, then drains what is buffered.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.ch:
					b.deliver(context.WithoutCancel(ctx), ev)
				default:
					return
				}
			}
		case ev := <-b.ch:
			b.deliver(ctx, ev)
		}
	}
}

// Wait blocks until the goroutine launched by Start has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) deliver(ctx context.Context, ev TradeEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", slog.Any("panic", r))
		}
	}()
	if b.handler != nil {
		b.handler(ctx, ev)
	}
}
