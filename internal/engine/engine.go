package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/broker"
	"stratbot/internal/config"
	"stratbot/internal/md"
	"stratbot/internal/rebalance"
	"stratbot/internal/risk"
	"stratbot/internal/state"
	"stratbot/internal/strategy"
)

// Broker is the subset of the brokerage client the engine drives.
type Broker interface {
	Account(ctx context.Context) (broker.Account, error)
	Holdings(ctx context.Context) (map[string]rebalance.Holding, error)
	OpenOrders(ctx context.Context) ([]broker.OrderRef, error)
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error)
	MarketOpen(ctx context.Context) (bool, error)
	CloseAll(ctx context.Context) error
}

type MarketData interface {
	Now() time.Time
	LastPrice(ctx context.Context, inst asset.Instrument) (decimal.Decimal, error)
	Bars(ctx context.Context, inst asset.Instrument, n int, tf md.Timeframe) ([]md.Bar, error)
}

type Engine struct {
	cfg        config.Config
	strategy   strategy.Strategy
	gate       risk.Gate
	broker     Broker
	data       MarketData
	state      *state.Store
	decisions  *DecisionLogger
	rebalancer *rebalance.Rebalancer
	executor   *rebalance.Executor
	equity     *md.RingBuffer
	runID      string
	log        zerolog.Logger
}

func New(cfg config.Config, strat strategy.Strategy, gate risk.Gate, brokerClient Broker, data MarketData, stateStore *state.Store, decisions *DecisionLogger, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		strategy:   strat,
		gate:       gate,
		broker:     brokerClient,
		data:       data,
		state:      stateStore,
		decisions:  decisions,
		rebalancer: rebalance.New(cfg.Increments, log),
		equity:     md.NewRingBuffer(64),
		runID:      decisions.RunID(),
		log:        log.With().Str("component", "engine").Str("strategy", strat.Name()).Logger(),
	}
	e.executor = rebalance.NewExecutor(&router{e: e}, cfg.SettleDelay, broker.WaitForContext, log)
	return e
}

// Cycle runs one allocate, plan and execute pass. Cycles must not overlap;
// the scheduler guarantees that.
func (e *Engine) Cycle(ctx context.Context) error {
	started := time.Now()
	now := e.data.Now()
	name := e.strategy.Name()

	alloc, err := e.strategy.Allocate(ctx, market{data: e.data, broker: e.broker})
	if err != nil {
		e.log.Error().Err(err).Msg("allocation failed")
		e.decisions.Append(Decision{Timestamp: now, Strategy: name, Result: ResultAllocateFailed, RejectReason: err.Error()})
		return fmt.Errorf("allocate: %w", err)
	}
	if e.cfg.RequireOpen {
		open, err := e.marketOpenFor(ctx, alloc)
		if err != nil {
			return err
		}
		if !open {
			e.log.Info().Msg("market closed, skipping cycle")
			e.decisions.Append(Decision{Timestamp: now, Strategy: name, Result: ResultMarketClosed, Reason: alloc.Reason})
			return nil
		}
	}
	if alloc.Hold {
		e.log.Info().Str("reason", alloc.Reason).Msg("strategy holds")
		e.decisions.Append(Decision{Timestamp: now, Strategy: name, Result: ResultHold, Reason: alloc.Reason})
		return e.finish(now, false)
	}
	if snap := e.state.Snapshot(); !snap.Due(alloc.Every) {
		e.log.Info().Int("cycles_since_rebalance", snap.CyclesSinceRebalance).Int("every", alloc.Every).Msg("rebalance not due")
		e.decisions.Append(Decision{Timestamp: now, Strategy: name, Result: ResultCadenceWait, Reason: alloc.Reason})
		return e.finish(now, false)
	}

	account, holdings, err := e.reconcile(ctx)
	if err != nil {
		return err
	}

	in := rebalance.Input{
		PortfolioValue:      account.PortfolioValue,
		Tradeable:           alloc.Tradeable,
		Targets:             alloc.Targets,
		Holdings:            holdings,
		Prices:              e.prices(ctx, alloc.Targets, holdings),
		LiquidateUntargeted: alloc.LiquidateUntargeted,
		Quote:               e.cfg.Quote,
	}

	if alloc.DriftThreshold.IsPositive() {
		drift := rebalance.Drift(in)
		if drift.LessThanOrEqual(alloc.DriftThreshold) {
			e.log.Info().Str("drift", drift.String()).Str("threshold", alloc.DriftThreshold.String()).Msg("drift below threshold")
			e.decisions.Append(Decision{Timestamp: now, Strategy: name, Result: ResultDriftBelow, Reason: alloc.Reason, Drift: drift.String()})
			return e.finish(now, false)
		}
		e.log.Info().Str("drift", drift.String()).Msg("drift above threshold, rebalancing")
	}

	plan, err := e.rebalancer.Plan(in)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	for _, skip := range plan.Skipped {
		e.decisions.Append(Decision{Timestamp: now, Strategy: name, Result: ResultSkipped, Reason: alloc.Reason, Symbol: skip.Instrument.Key(), RejectReason: skip.Reason})
	}

	approved := e.applyRisk(plan, holdings, alloc.Reason)
	if approved.Empty() {
		e.decisions.Append(Decision{Timestamp: now, Strategy: name, Result: ResultNoChange, Reason: alloc.Reason})
		return e.finish(now, true)
	}

	if e.cfg.Mode == config.ModeDryRun {
		for _, instr := range approved.Instructions() {
			d := instructionDecision(name, instr, ResultDryRun)
			d.Reason = alloc.Reason
			e.decisions.Append(d)
		}
		e.log.Info().Int("sells", len(approved.Sells)).Int("buys", len(approved.Buys)).Msg("dry run, orders not submitted")
		return e.finish(now, true)
	}

	report, execErr := e.executor.Execute(ctx, approved)
	for _, failed := range report.Failed {
		d := instructionDecision(name, failed.Instruction, ResultOrderFailed)
		d.Reason = alloc.Reason
		d.RejectReason = failed.Err.Error()
		e.decisions.Append(d)
	}
	e.log.Info().
		Int("submitted", len(report.Submitted)).
		Int("failed", len(report.Failed)).
		Dur("elapsed", time.Since(started)).
		Msg("cycle complete")

	if err := e.finish(now, true); err != nil {
		return errors.Join(execErr, err)
	}
	return execErr
}

// Liquidate cancels open orders and closes every position. It does nothing
// in dry-run mode.
func (e *Engine) Liquidate(ctx context.Context) error {
	if e.cfg.Mode == config.ModeDryRun {
		e.log.Info().Msg("dry run, skipping liquidation")
		return nil
	}
	if err := e.broker.CloseAll(ctx); err != nil {
		return fmt.Errorf("liquidate: %w", err)
	}
	e.decisions.Append(Decision{Timestamp: e.data.Now(), Strategy: e.strategy.Name(), Result: ResultLiquidated})
	return nil
}

// Checkpoint persists the state store.
func (e *Engine) Checkpoint() error {
	if e.cfg.CheckpointPath == "" {
		return nil
	}
	if err := e.state.Save(e.cfg.CheckpointPath); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// marketOpenFor consults the market clock only when the allocation would
// trade something other than crypto, which trades around the clock.
func (e *Engine) marketOpenFor(ctx context.Context, alloc strategy.Allocation) (bool, error) {
	equities := false
	for _, t := range alloc.Targets {
		if t.Instrument.Class != asset.Crypto {
			equities = true
			break
		}
	}
	if !equities && alloc.LiquidateUntargeted {
		holdings, err := e.broker.Holdings(ctx)
		if err != nil {
			return false, fmt.Errorf("market clock holdings: %w", err)
		}
		for _, h := range holdings {
			if h.Instrument.Class != asset.Crypto && h.Instrument.Symbol != e.cfg.Quote && h.Qty.IsPositive() {
				equities = true
				break
			}
		}
	}
	if !equities {
		return true, nil
	}
	open, err := e.broker.MarketOpen(ctx)
	if err != nil {
		return false, fmt.Errorf("market clock: %w", err)
	}
	return open, nil
}

func (e *Engine) finish(now time.Time, rebalanced bool) error {
	e.state.RecordCycle(now, rebalanced)
	return e.Checkpoint()
}

// prices looks up the last price of every target and every held instrument.
// Failures leave the price out; the rebalancer reports those targets as
// skipped.
func (e *Engine) prices(ctx context.Context, targets []rebalance.Target, holdings map[string]rebalance.Holding) map[string]decimal.Decimal {
	insts := make(map[string]asset.Instrument, len(targets)+len(holdings))
	for _, t := range targets {
		insts[t.Instrument.Key()] = t.Instrument
	}
	for key, h := range holdings {
		if h.Instrument.Symbol == e.cfg.Quote {
			continue
		}
		if _, ok := insts[key]; !ok {
			insts[key] = h.Instrument
		}
	}
	keys := make([]string, 0, len(insts))
	for key := range insts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	prices := make(map[string]decimal.Decimal, len(keys))
	for _, key := range keys {
		price, err := e.data.LastPrice(ctx, insts[key])
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", key).Msg("price lookup failed")
			continue
		}
		prices[key] = price
	}
	return prices
}

func (e *Engine) applyRisk(plan rebalance.Plan, holdings map[string]rebalance.Holding, reason string) rebalance.Plan {
	approved := rebalance.Plan{Skipped: plan.Skipped}
	for _, instr := range plan.Instructions() {
		rc := risk.RiskContext{
			Held:          holdings[instr.Instrument.Key()].Qty,
			MaxNotional:   e.cfg.MaxNotional,
			MinNotional:   e.cfg.MinNotional,
			KillSwitch:    e.cfg.KillSwitch,
			ExtendedHours: e.cfg.ExtendedHours,
			OrderType:     e.cfg.OrderType,
			TimeInForce:   e.cfg.TimeInForce,
		}
		if err := e.gate.Evaluate(instr, rc); err != nil {
			d := instructionDecision(e.strategy.Name(), instr, ResultRejected)
			d.Reason = reason
			d.RejectReason = err.Error()
			e.decisions.Append(d)
			continue
		}
		if instr.Side == rebalance.Sell {
			approved.Sells = append(approved.Sells, instr)
		} else {
			approved.Buys = append(approved.Buys, instr)
		}
	}
	return approved
}

// market is the view strategies see.
type market struct {
	data   MarketData
	broker Broker
}

func (m market) Now() time.Time { return m.data.Now() }

func (m market) LastPrice(ctx context.Context, inst asset.Instrument) (decimal.Decimal, error) {
	return m.data.LastPrice(ctx, inst)
}

func (m market) Bars(ctx context.Context, inst asset.Instrument, n int, tf md.Timeframe) ([]md.Bar, error) {
	return m.data.Bars(ctx, inst, n, tf)
}

func (m market) Holdings(ctx context.Context) (map[string]rebalance.Holding, error) {
	return m.broker.Holdings(ctx)
}
