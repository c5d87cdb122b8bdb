package risk

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stratbot/internal/rebalance"
)

type RiskContext struct {
	// Quantity currently held, including open orders.
	Held decimal.Decimal
	// Zero disables the limit.
	MaxNotional decimal.Decimal
	// Buys smaller than this are not worth an order. Zero disables the limit.
	MinNotional   decimal.Decimal
	KillSwitch    bool
	ExtendedHours bool
	OrderType     string
	TimeInForce   string
}

// Rejection is returned for instructions the gate refuses.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

type Gate struct {
	log zerolog.Logger
}

func NewGate(log zerolog.Logger) Gate {
	return Gate{log: log.With().Str("component", "risk").Logger()}
}

func (g Gate) Evaluate(inst rebalance.Instruction, ctx RiskContext) error {
	notional := inst.Qty.Mul(inst.Price)
	ev := func(e *zerolog.Event) *zerolog.Event {
		return e.Str("symbol", inst.Instrument.Key()).Str("side", string(inst.Side)).
			Str("qty", inst.Qty.String()).Str("notional", notional.String())
	}

	ev(g.log.Debug()).Str("held", ctx.Held.String()).Msg("risk evaluation")

	reject := func(reason string) error {
		ev(g.log.Info()).Str("reason", reason).Msg("risk rejected")
		return &Rejection{Reason: reason}
	}

	if ctx.KillSwitch {
		return reject("kill_switch_enabled")
	}
	if !inst.Qty.IsPositive() {
		return reject("invalid_quantity")
	}
	if inst.Side == rebalance.Sell && !ctx.Held.IsPositive() {
		return reject("no_position_to_sell")
	}
	if ctx.MaxNotional.IsPositive() && notional.GreaterThan(ctx.MaxNotional) {
		return reject("max_notional_exceeded")
	}
	if inst.Side == rebalance.Buy && ctx.MinNotional.IsPositive() && notional.LessThan(ctx.MinNotional) {
		return reject("below_min_notional")
	}
	if ctx.ExtendedHours {
		if ctx.OrderType != "limit" || ctx.TimeInForce != "day" {
			return reject("extended_hours_requires_limit_day")
		}
	}

	ev(g.log.Debug()).Msg("risk approved")
	return nil
}
