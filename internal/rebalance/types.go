package rebalance

import (
	"errors"

	"stratbot/internal/asset"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid rebalance input")

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

const (
	ReasonPriceUnavailable = "price_unavailable"
)

// Target is the desired fraction of portfolio value for one instrument.
type Target struct {
	Instrument asset.Instrument
	Weight     decimal.Decimal
}

// Holding is the quantity currently held, including quantity committed to
// orders that have not filled yet.
type Holding struct {
	Instrument asset.Instrument
	Qty        decimal.Decimal
}

type Instruction struct {
	Instrument asset.Instrument
	Side       Side
	Qty        decimal.Decimal // truncated, always > 0
	Delta      decimal.Decimal // signed, before truncation
	Price      decimal.Decimal
	Value      decimal.Decimal
	Weight     decimal.Decimal
}

type Skip struct {
	Instrument asset.Instrument
	Reason     string
}

type Plan struct {
	Sells   []Instruction
	Buys    []Instruction
	Skipped []Skip
}

// Instructions returns sells followed by buys.
func (p Plan) Instructions() []Instruction {
	out := make([]Instruction, 0, len(p.Sells)+len(p.Buys))
	out = append(out, p.Sells...)
	return append(out, p.Buys...)
}

func (p Plan) Empty() bool {
	return len(p.Sells) == 0 && len(p.Buys) == 0
}

func (p *Plan) add(instr Instruction) {
	if instr.Side == Sell {
		p.Sells = append(p.Sells, instr)
		return
	}
	p.Buys = append(p.Buys, instr)
}

// Input is everything one rebalancing cycle needs. Prices without an entry
// for an instrument mean the price is unavailable this cycle.
type Input struct {
	PortfolioValue decimal.Decimal
	// Tradeable is the fraction of PortfolioValue the targets apply to.
	// Zero means the whole portfolio.
	Tradeable           decimal.Decimal
	Targets             []Target
	Holdings            map[string]Holding
	Prices              map[string]decimal.Decimal
	LiquidateUntargeted bool
	// Quote is the cash currency symbol; holdings of it are never liquidated.
	Quote string
}

func (in Input) tradeableValue() decimal.Decimal {
	if in.Tradeable.IsZero() {
		return in.PortfolioValue
	}
	return in.PortfolioValue.Mul(in.Tradeable)
}

func (in Input) held(key string) decimal.Decimal {
	if h, ok := in.Holdings[key]; ok {
		return h.Qty
	}
	return decimal.Zero
}

func (in Input) price(key string) (decimal.Decimal, bool) {
	price, ok := in.Prices[key]
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}
