package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the last trading direction taken by the daemon.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	// ActionNone is the state before the first trade and after a stop-loss exit.
	ActionNone Action = "NONE"
)

const pendingPrefix = "-"

// markerWidth is the number of characters of the action code kept in the marker file.
const markerWidth = 5

// ActionFor maps an order side to the action it establishes.
func ActionFor(s Side) Action {
	if s == SideSell {
		return ActionSell
	}
	return ActionBuy
}

// Side returns the order side that establishes the action.
func (a Action) Side() Side {
	if a == ActionSell {
		return SideSell
	}
	return SideBuy
}

// IsTrade reports whether the action is BUY or SELL.
func (a Action) IsTrade() bool {
	return a == ActionBuy || a == ActionSell
}

// Marker is the persisted form of the last action. An empty Action means nothing was persisted.
type Marker struct {
	Action  Action
	Pending bool
}

// Code returns the marker code, e.g. "-BUY", truncated to the marker width.
func (m Marker) Code() string {
	code := string(m.Action)
	if m.Pending {
		code = pendingPrefix + code
	}
	if len(code) > markerWidth {
		code = code[:markerWidth]
	}
	return strings.TrimRight(code, " ")
}

// Format renders the marker file content.
func (m Marker) Format(now time.Time) string {
	return fmt.Sprintf("%s (since %s UTC)", m.Code(), now.UTC().Format("2006-01-02T15:04:05"))
}

// ParseMarker reads the marker file content. Unknown codes map to NONE.
func ParseMarker(content string) Marker {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return Marker{}
	}
	code := strings.ToUpper(fields[0])
	var m Marker
	if strings.HasPrefix(code, pendingPrefix) {
		m.Pending = true
		code = strings.TrimPrefix(code, pendingPrefix)
	}
	switch Action(code) {
	case ActionBuy, ActionSell:
		m.Action = Action(code)
	default:
		m.Action = ActionNone
		m.Pending = false
	}
	return m
}

// TradingState is owned by the control loop and mirrored to the marker file.
type TradingState struct {
	LastAction    Action           `json:"last_action"`
	Pending       bool             `json:"pending"`
	CurrentOrder  *Order           `json:"current_order,omitempty"`
	StopLossOrder *Order           `json:"stop_loss_order,omitempty"`
	StopLossPrice *decimal.Decimal `json:"stop_loss_price,omitempty"`
}

// NewTradingState returns the initial state.
func NewTradingState() *TradingState {
	return &TradingState{LastAction: ActionNone}
}

// Marker returns the persisted form of the state.
func (s *TradingState) Marker() Marker {
	return Marker{Action: s.LastAction, Pending: s.Pending}
}

// ClearPosition forgets the entry and its protective stop.
func (s *TradingState) ClearPosition() {
	s.CurrentOrder = nil
	s.StopLossOrder = nil
	s.StopLossPrice = nil
}
