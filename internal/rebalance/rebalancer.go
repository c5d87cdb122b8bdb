package rebalance

import (
	"fmt"
	"sort"

	"stratbot/internal/asset"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Rebalancer turns target weights and current holdings into buy and sell
// instructions. It keeps no state between calls.
type Rebalancer struct {
	increments IncrementPolicy
	log        zerolog.Logger
}

func New(increments IncrementPolicy, log zerolog.Logger) *Rebalancer {
	if increments == nil {
		increments = DefaultIncrements()
	}
	return &Rebalancer{
		increments: increments,
		log:        log.With().Str("component", "rebalancer").Logger(),
	}
}

// Plan computes the instructions that move holdings toward the targets.
// Targets without a usable price are skipped and reported in Plan.Skipped.
func (r *Rebalancer) Plan(in Input) (Plan, error) {
	if err := validate(in); err != nil {
		return Plan{}, err
	}

	var plan Plan
	value := in.tradeableValue()
	targeted := make(map[string]struct{}, len(in.Targets))

	for _, target := range in.Targets {
		key := target.Instrument.Key()
		targeted[key] = struct{}{}

		price, ok := in.price(key)
		if !ok {
			r.log.Warn().Str("symbol", key).Msg("price unavailable, skipping instrument this cycle")
			plan.Skipped = append(plan.Skipped, Skip{Instrument: target.Instrument, Reason: ReasonPriceUnavailable})
			continue
		}

		held := in.held(key)
		desiredValue := value.Mul(target.Weight)
		desiredQty := desiredValue.Div(price)
		delta := desiredQty.Sub(held)

		r.log.Debug().
			Str("symbol", key).
			Str("weight", target.Weight.String()).
			Str("price", price.String()).
			Str("held", held.String()).
			Str("desired", desiredQty.String()).
			Str("delta", delta.String()).
			Msg("target evaluated")

		instr, ok := r.instruction(target.Instrument, delta, price)
		if !ok {
			continue
		}
		instr.Weight = target.Weight
		plan.add(instr)
	}

	if in.LiquidateUntargeted {
		for _, instr := range r.liquidations(in, targeted) {
			plan.add(instr)
		}
	}

	r.log.Info().
		Int("sells", len(plan.Sells)).
		Int("buys", len(plan.Buys)).
		Int("skipped", len(plan.Skipped)).
		Str("portfolio_value", in.PortfolioValue.String()).
		Msg("rebalance planned")

	return plan, nil
}

func (r *Rebalancer) instruction(inst asset.Instrument, delta, price decimal.Decimal) (Instruction, bool) {
	if delta.IsZero() {
		return Instruction{}, false
	}
	side := Buy
	if delta.IsNegative() {
		side = Sell
	}
	qty := Truncate(delta.Abs(), r.increments.Increment(inst))
	if !qty.IsPositive() {
		return Instruction{}, false
	}
	return Instruction{
		Instrument: inst,
		Side:       side,
		Qty:        qty,
		Delta:      delta,
		Price:      price,
		Value:      qty.Mul(price),
	}, true
}

func (r *Rebalancer) liquidations(in Input, targeted map[string]struct{}) []Instruction {
	keys := make([]string, 0, len(in.Holdings))
	for key := range in.Holdings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []Instruction
	for _, key := range keys {
		if _, ok := targeted[key]; ok {
			continue
		}
		holding := in.Holdings[key]
		if !holding.Qty.IsPositive() || isQuote(holding.Instrument, in.Quote) {
			continue
		}
		price, _ := in.price(key)
		instr, ok := r.instruction(holding.Instrument, holding.Qty.Neg(), price)
		if !ok {
			continue
		}
		r.log.Debug().Str("symbol", key).Str("qty", instr.Qty.String()).Msg("liquidating untargeted holding")
		out = append(out, instr)
	}
	return out
}

// Drift is the summed absolute difference between target weights and the
// current weights of the tradeable value.
func Drift(in Input) decimal.Decimal {
	value := in.tradeableValue()
	if !value.IsPositive() {
		return decimal.Zero
	}

	total := decimal.Zero
	targeted := make(map[string]struct{}, len(in.Targets))
	for _, target := range in.Targets {
		key := target.Instrument.Key()
		targeted[key] = struct{}{}
		price, ok := in.price(key)
		if !ok {
			continue
		}
		current := in.held(key).Mul(price).Div(value)
		total = total.Add(target.Weight.Sub(current).Abs())
	}

	if in.LiquidateUntargeted {
		for key, holding := range in.Holdings {
			if _, ok := targeted[key]; ok || isQuote(holding.Instrument, in.Quote) {
				continue
			}
			price, ok := in.price(key)
			if !ok {
				continue
			}
			total = total.Add(holding.Qty.Mul(price).Div(value).Abs())
		}
	}
	return total
}

func isQuote(inst asset.Instrument, quote string) bool {
	return quote != "" && inst.Symbol == quote
}

func validate(in Input) error {
	if in.PortfolioValue.IsNegative() {
		return fmt.Errorf("%w: portfolio value %s is negative", ErrInvalidInput, in.PortfolioValue)
	}
	if in.Tradeable.IsNegative() || in.Tradeable.GreaterThan(one) {
		return fmt.Errorf("%w: tradeable fraction %s outside [0,1]", ErrInvalidInput, in.Tradeable)
	}
	seen := make(map[string]struct{}, len(in.Targets))
	for _, target := range in.Targets {
		key := target.Instrument.Key()
		if key == "" {
			return fmt.Errorf("%w: target without symbol", ErrInvalidInput)
		}
		if target.Weight.IsNegative() || target.Weight.GreaterThan(one) {
			return fmt.Errorf("%w: weight %s for %s outside [0,1]", ErrInvalidInput, target.Weight, key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate target %s", ErrInvalidInput, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
