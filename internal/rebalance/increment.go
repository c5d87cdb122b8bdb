package rebalance

import (
	"fmt"

	"stratbot/internal/asset"

	"github.com/shopspring/decimal"
)

// IncrementPolicy supplies the smallest order quantity step accepted for an
// instrument.
type IncrementPolicy interface {
	Increment(inst asset.Instrument) decimal.Decimal
}

// IncrementTable resolves increments by symbol first, then asset class, then
// Default.
type IncrementTable struct {
	Default  decimal.Decimal
	ByClass  map[asset.Class]decimal.Decimal
	BySymbol map[string]decimal.Decimal
}

func DefaultIncrements() IncrementTable {
	return IncrementTable{
		Default: decimal.NewFromInt(1),
		ByClass: map[asset.Class]decimal.Decimal{
			asset.Stock:  decimal.NewFromInt(1),
			asset.Future: decimal.NewFromInt(1),
			asset.Crypto: decimal.RequireFromString("0.001"),
			asset.Forex:  decimal.RequireFromString("0.01"),
		},
		BySymbol: map[string]decimal.Decimal{},
	}
}

func (t IncrementTable) Increment(inst asset.Instrument) decimal.Decimal {
	if inc, ok := t.BySymbol[inst.Key()]; ok && inc.IsPositive() {
		return inc
	}
	if inc, ok := t.BySymbol[inst.Symbol]; ok && inc.IsPositive() {
		return inc
	}
	if inc, ok := t.ByClass[inst.Class]; ok && inc.IsPositive() {
		return inc
	}
	return t.Default
}

func (t IncrementTable) Validate() error {
	if !t.Default.IsPositive() {
		return fmt.Errorf("default increment must be > 0, got %s", t.Default)
	}
	for class, inc := range t.ByClass {
		if !inc.IsPositive() {
			return fmt.Errorf("increment for class %s must be > 0, got %s", class, inc)
		}
	}
	for symbol, inc := range t.BySymbol {
		if !inc.IsPositive() {
			return fmt.Errorf("increment for symbol %s must be > 0, got %s", symbol, inc)
		}
	}
	return nil
}

// Truncate rounds qty down to a multiple of increment. A non-positive
// increment leaves qty untouched.
func Truncate(qty, increment decimal.Decimal) decimal.Decimal {
	if !increment.IsPositive() {
		return qty
	}
	return qty.Div(increment).Floor().Mul(increment)
}
