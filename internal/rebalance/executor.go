package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Submitter hands a single instruction to the order system and returns the
// broker order id.
type Submitter interface {
	Submit(ctx context.Context, instr Instruction) (string, error)
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

type Result struct {
	Instruction Instruction
	OrderID     string
	Err         error
}

type Report struct {
	Submitted []Result
	Failed    []Result
}

// Executor submits a plan's sells, waits for them to settle, then submits
// the buys. Nothing is retried.
type Executor struct {
	submitter   Submitter
	settleDelay time.Duration
	wait        WaitFunc
	log         zerolog.Logger
}

func NewExecutor(submitter Submitter, settleDelay time.Duration, wait WaitFunc, log zerolog.Logger) *Executor {
	if wait == nil {
		wait = sleep
	}
	return &Executor{
		submitter:   submitter,
		settleDelay: settleDelay,
		wait:        wait,
		log:         log.With().Str("component", "executor").Logger(),
	}
}

func (x *Executor) Execute(ctx context.Context, plan Plan) (Report, error) {
	var report Report
	var errs []error

	if len(plan.Sells) == 0 && len(plan.Buys) == 0 {
		x.log.Info().Msg("no orders to execute")
		return report, nil
	}

	sold := x.submitAll(ctx, plan.Sells, &report, &errs)

	if sold > 0 && len(plan.Buys) > 0 && x.settleDelay > 0 {
		x.log.Debug().Dur("delay", x.settleDelay).Msg("waiting for sells to settle")
		if err := x.wait(ctx, x.settleDelay); err != nil {
			errs = append(errs, fmt.Errorf("buy phase aborted: %w", err))
			return report, errors.Join(errs...)
		}
	}

	x.submitAll(ctx, plan.Buys, &report, &errs)

	return report, errors.Join(errs...)
}

func (x *Executor) submitAll(ctx context.Context, instrs []Instruction, report *Report, errs *[]error) int {
	submitted := 0
	for _, instr := range instrs {
		if err := ctx.Err(); err != nil {
			*errs = append(*errs, err)
			return submitted
		}
		orderID, err := x.submitter.Submit(ctx, instr)
		result := Result{Instruction: instr, OrderID: orderID, Err: err}
		if err != nil {
			x.log.Error().
				Err(err).
				Str("symbol", instr.Instrument.Key()).
				Str("side", string(instr.Side)).
				Str("qty", instr.Qty.String()).
				Msg("order submission failed")
			report.Failed = append(report.Failed, result)
			*errs = append(*errs, fmt.Errorf("%s %s %s: %w", instr.Side, instr.Qty, instr.Instrument.Key(), err))
			continue
		}
		x.log.Info().
			Str("symbol", instr.Instrument.Key()).
			Str("side", string(instr.Side)).
			Str("qty", instr.Qty.String()).
			Str("order_id", orderID).
			Msg("order submitted")
		report.Submitted = append(report.Submitted, result)
		submitted++
	}
	return submitted
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
