package domain

import (
	"errors"
	"strings"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch_price", "create_order")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ExchangeError is a rejection reported by the exchange itself.
// Business rejections are retriable unless their message carries a terminal marker.
type ExchangeError struct {
	Exchange string
	Op       string
	Code     string
	Message  string
}

func (e *ExchangeError) Error() string {
	msg := e.Exchange + " " + e.Op + ": " + e.Message
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	return msg
}

func (e *ExchangeError) IsRetriable() bool {
	return !containsTerminalMarker(e.Message)
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TerminalMarkers are lower-case fragments of exchange messages that mean
// retrying cannot succeed: insufficient funds, size or margin below limits,
// liquidation constraints, already closed positions.
var TerminalMarkers = []string{
	"insufficient",
	"nsufficient",
	"too low",
	"not_enough",
	"margin below",
	"margin_below",
	"liquidation price",
	"closed_already",
	"zero margin",
}

// IsTerminal reports whether the error text carries a terminal business marker.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	return containsTerminalMarker(err.Error())
}

func containsTerminalMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range TerminalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

var (
	// ErrOrderNotFound is returned when the exchange does not know the order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnsupported is returned for capabilities an exchange does not offer. Not retriable.
	ErrUnsupported = errors.New("operation not supported by exchange")

	// ErrTerminal wraps business rejections that must not be retried.
	ErrTerminal = errors.New("terminal exchange error")

	// ErrAttemptsExhausted is returned by bounded retries after the last attempt.
	ErrAttemptsExhausted = errors.New("attempts exhausted")

	// ErrInvalidSymbol is returned when a pair is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInsufficientRates is returned when the rate store has fewer samples than a window needs.
	ErrInsufficientRates = errors.New("not enough rate history")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
