package bitmex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// QuoteWorker keeps the latest bid of the swap from the realtime quote table.
// It implements domain.LiveTicker.
type QuoteWorker struct {
	url    string
	symbol string

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	bid       decimal.Decimal
	updatedAt time.Time
	connected bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQuoteWorker creates a worker for symbol on the given realtime endpoint.
func NewQuoteWorker(wsURL, symbol string) *QuoteWorker {
	if wsURL == "" {
		wsURL = WSURLMainnet
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}
	return &QuoteWorker{url: wsURL, symbol: symbol}
}

// Connect starts the connection loop in the background.
func (w *QuoteWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// LastPrice returns the latest bid and when it was received.
func (w *QuoteWorker) LastPrice() (decimal.Decimal, time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.bid.IsPositive() {
		return decimal.Zero, time.Time{}, false
	}
	return w.bid, w.updatedAt, true
}

// Connected reports whether the socket is currently up.
func (w *QuoteWorker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func backoff(retry int) time.Duration {
	d := baseDelay << min(retry, 6)
	return min(d, maxDelay)
}

func (w *QuoteWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("BitMEX quote connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // Infinite retry loop for monitoring
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(retryCount)):
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *QuoteWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	go w.pingLoop(ctx, conn)
	slog.Info("BitMEX quote stream connected", slog.String("symbol", w.symbol))
	return nil
}

func (w *QuoteWorker) subscribe() error {
	req := map[string]any{"op": "subscribe", "args": []string{"quote:" + w.symbol}}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

// pingLoop ends when ctx is done or the connection it was started for is replaced.
func (w *QuoteWorker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			current := w.conn
			w.mu.RUnlock()
			if current != conn {
				return
			}
			w.threadSafeWrite(websocket.TextMessage, []byte("ping"))
		}
	}
}

func (w *QuoteWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *QuoteWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		if string(msg) == "pong" {
			continue
		}
		w.handleMessage(msg)
	}
}

func (w *QuoteWorker) handleMessage(msg []byte) {
	var frame quoteMessage
	if err := json.Unmarshal(msg, &frame); err != nil || frame.Table != "quote" {
		return
	}
	for _, q := range frame.Data {
		if q.Symbol != w.symbol || !q.BidPrice.IsPositive() {
			continue
		}
		at := q.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		w.mu.Lock()
		if !at.Before(w.updatedAt) {
			w.bid = q.BidPrice
			w.updatedAt = at
		}
		w.mu.Unlock()
	}
}

func (w *QuoteWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect stops the worker and waits for it.
func (w *QuoteWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
