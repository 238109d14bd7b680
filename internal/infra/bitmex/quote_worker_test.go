package bitmex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func TestQuoteWorkerHandleMessage(t *testing.T) {
	w := NewQuoteWorker("", "XBTUSD")

	if _, _, ok := w.LastPrice(); ok {
		t.Fatal("expected no price before the first quote")
	}

	w.handleMessage([]byte(`{"table":"quote","action":"insert","data":[{"symbol":"ETHUSD","bidPrice":300,"timestamp":"2024-05-01T10:00:00.000Z"}]}`))
	if _, _, ok := w.LastPrice(); ok {
		t.Error("quotes of other symbols must be ignored")
	}

	w.handleMessage([]byte(`{"table":"quote","action":"insert","data":[{"symbol":"XBTUSD","bidPrice":10000.5,"timestamp":"2024-05-01T10:00:01.000Z"}]}`))
	w.handleMessage([]byte(`{"table":"quote","action":"insert","data":[{"symbol":"XBTUSD","bidPrice":9000,"timestamp":"2024-05-01T10:00:00.000Z"}]}`))

	bid, at, ok := w.LastPrice()
	if !ok || !bid.Equal(decimal.RequireFromString("10000.5")) {
		t.Errorf("expected latest bid 10000.5, got %s", bid)
	}
	if at.Second() != 1 {
		t.Errorf("unexpected quote time %v", at)
	}

	w.handleMessage([]byte(`not json`))
}

func TestQuoteWorkerStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil || !strings.Contains(string(msg), "quote:XBTUSD") {
			t.Errorf("unexpected subscribe frame %q", msg)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"table":"quote","action":"insert","data":[{"symbol":"XBTUSD","bidPrice":12345,"timestamp":"2024-05-01T10:00:00.000Z"}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	w := NewQuoteWorker("ws"+strings.TrimPrefix(srv.URL, "http"), "XBTUSD")
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer w.Disconnect()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if bid, _, ok := w.LastPrice(); ok {
			if !bid.Equal(decimal.NewFromInt(12345)) {
				t.Errorf("bid = %s", bid)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no quote received")
}

func TestBackoff(t *testing.T) {
	if backoff(0) != baseDelay {
		t.Errorf("backoff(0) = %v", backoff(0))
	}
	if backoff(100) != maxDelay {
		t.Errorf("backoff must be capped, got %v", backoff(100))
	}
}
