package engine

import (
	"context"
	"fmt"

	"stratbot/internal/broker"
	"stratbot/internal/rebalance"
	"stratbot/internal/state"
)

// reconcile pulls account, holdings and open orders from the broker into the
// state store. Open orders are best effort; the other two are required to
// plan.
func (e *Engine) reconcile(ctx context.Context) (broker.Account, map[string]rebalance.Holding, error) {
	account, err := e.broker.Account(ctx)
	if err != nil {
		return broker.Account{}, nil, fmt.Errorf("reconcile account: %w", err)
	}
	e.state.SetPortfolioValue(account.PortfolioValue)
	e.equity.Add(account.PortfolioValue.InexactFloat64())

	holdings, err := e.broker.Holdings(ctx)
	if err != nil {
		return broker.Account{}, nil, fmt.Errorf("reconcile holdings: %w", err)
	}
	positions := make(map[string]state.Position, len(holdings))
	for key, h := range holdings {
		positions[key] = state.Position{Instrument: h.Instrument, Qty: h.Qty}
	}
	e.state.SetPositions(positions)

	orders, err := e.broker.OpenOrders(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("reconcile open orders failed")
	} else {
		openOrders := make(map[string]state.OpenOrder, len(orders))
		for _, order := range orders {
			openOrders[order.ClientOrderID] = state.OpenOrder{
				ClientOrderID: order.ClientOrderID,
				OrderID:       order.ID,
				Symbol:        order.Symbol,
				Status:        order.Status,
			}
		}
		e.state.SetOpenOrders(openOrders)
	}

	ev := e.log.Info().
		Str("portfolio_value", account.PortfolioValue.String()).
		Str("cash", account.Cash.String()).
		Int("holdings", len(holdings))
	if change, err := e.equity.Change(); err == nil {
		ev = ev.Float64("value_change", change)
	}
	if sma, err := e.equity.SMA(5); err == nil {
		ev = ev.Float64("value_sma5", sma)
	}
	ev.Msg("reconciled")
	return account, holdings, nil
}
