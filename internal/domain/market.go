package domain

import (
	"fmt"
	"strings"
)

// Pair is a BASE/QUOTE market such as BTC/USD.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair parses "BASE/QUOTE".
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return Pair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}, nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Code returns the concatenated pair code, e.g. BTCUSD.
func (p Pair) Code() string {
	return p.Base + p.Quote
}
