package asset

import (
	"fmt"
	"strings"
)

type Class string

const (
	Stock  Class = "stock"
	Crypto Class = "crypto"
	Future Class = "future"
	Forex  Class = "forex"
)

func ParseClass(value string) (Class, error) {
	switch Class(strings.ToLower(strings.TrimSpace(value))) {
	case Stock, "":
		return Stock, nil
	case Crypto:
		return Crypto, nil
	case Future:
		return Future, nil
	case Forex:
		return Forex, nil
	default:
		return "", fmt.Errorf("unknown asset class: %s", value)
	}
}

// Instrument identifies something that can be held or traded. Quote is only
// meaningful for crypto pairs.
type Instrument struct {
	Symbol string `json:"symbol"`
	Class  Class  `json:"class,omitempty"`
	Quote  string `json:"quote,omitempty"`
}

func NewStock(symbol string) Instrument {
	return Instrument{Symbol: strings.ToUpper(symbol), Class: Stock}
}

func NewCrypto(symbol, quote string) Instrument {
	return Instrument{Symbol: strings.ToUpper(symbol), Class: Crypto, Quote: strings.ToUpper(quote)}
}

// Key is the identifier used in holdings and price maps.
func (i Instrument) Key() string {
	if i.Class == Crypto && i.Quote != "" {
		return i.Symbol + "/" + i.Quote
	}
	return i.Symbol
}

func (i Instrument) String() string {
	return i.Key()
}

// FromKey rebuilds an instrument from a broker symbol. Symbols containing a
// slash are treated as crypto pairs.
func FromKey(key string, class Class) Instrument {
	if base, quote, ok := strings.Cut(key, "/"); ok {
		return NewCrypto(base, quote)
	}
	if class == Crypto {
		return Instrument{Symbol: strings.ToUpper(key), Class: Crypto}
	}
	if class == "" {
		class = Stock
	}
	return Instrument{Symbol: strings.ToUpper(key), Class: class}
}
