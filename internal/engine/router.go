package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/broker"
	"stratbot/internal/rebalance"
	"stratbot/internal/state"
)

// router turns approved instructions into broker orders. It implements
// rebalance.Submitter.
type router struct {
	e           *Engine
	orderSeqNum uint64
}

func (r *router) Submit(ctx context.Context, instr rebalance.Instruction) (string, error) {
	req, err := r.buildOrder(instr)
	if err != nil {
		return "", err
	}
	ref, err := r.e.broker.PlaceOrder(ctx, req)
	if err != nil {
		return "", err
	}

	decision := instructionDecision(r.e.strategy.Name(), instr, ResultOrderSubmitted)
	decision.OrderID = ref.ID
	decision.ClientOrderID = req.ClientOrderID
	r.e.decisions.Append(decision)

	snapshot := r.e.state.Snapshot()
	snapshot.OpenOrders[req.ClientOrderID] = state.OpenOrder{
		ClientOrderID: req.ClientOrderID,
		OrderID:       ref.ID,
		Symbol:        ref.Symbol,
		Status:        ref.Status,
	}
	r.e.state.SetOpenOrders(snapshot.OpenOrders)
	return ref.ID, nil
}

func (r *router) buildOrder(instr rebalance.Instruction) (broker.OrderRequest, error) {
	cfg := r.e.cfg
	orderType, err := parseOrderType(cfg.OrderType)
	if err != nil {
		return broker.OrderRequest{}, err
	}
	tif, err := parseTimeInForce(cfg.TimeInForce)
	if err != nil {
		return broker.OrderRequest{}, err
	}
	// Crypto orders do not accept day orders.
	if instr.Instrument.Class == asset.Crypto && tif == alpaca.Day {
		tif = alpaca.GTC
	}
	side := alpaca.Buy
	if instr.Side == rebalance.Sell {
		side = alpaca.Sell
	}

	req := broker.OrderRequest{
		Symbol:        instr.Instrument.Key(),
		Qty:           instr.Qty,
		Side:          side,
		Type:          orderType,
		TimeInForce:   tif,
		ClientOrderID: r.nextClientOrderID(),
		ExtendedHours: cfg.ExtendedHours,
	}

	// Liquidations of holdings without a price have nothing to anchor a
	// limit or stop on.
	if !instr.Price.IsPositive() {
		if orderType != alpaca.Market {
			r.e.log.Warn().Str("symbol", req.Symbol).Str("order_type", string(orderType)).Msg("no price, submitting market order")
		}
		req.Type = alpaca.Market
		return req, nil
	}

	places := pricePlaces(instr.Instrument, instr.Price)
	price := instr.Price.Round(places)
	if orderType == alpaca.Limit || orderType == alpaca.StopLimit {
		req.LimitPrice = &price
	}
	if orderType == alpaca.Stop || orderType == alpaca.StopLimit {
		req.StopPrice = &price
	}

	if side == alpaca.Buy && instr.Instrument.Class != asset.Crypto {
		one := decimal.NewFromInt(1)
		if cfg.TakeProfitPct > 0 {
			tp := instr.Price.Mul(one.Add(decimal.NewFromFloat(cfg.TakeProfitPct))).Round(places)
			req.TakeProfit = &tp
		}
		if cfg.StopLossPct > 0 {
			sl := instr.Price.Mul(one.Sub(decimal.NewFromFloat(cfg.StopLossPct))).Round(places)
			req.StopLoss = &sl
		}
	}
	return req, nil
}

// pricePlaces is the number of decimals the broker accepts for an order price:
// cents for stocks at or above a dollar, four places below that, nine for
// crypto.
func pricePlaces(inst asset.Instrument, price decimal.Decimal) int32 {
	switch {
	case inst.Class == asset.Crypto:
		return 9
	case price.LessThan(decimal.NewFromInt(1)):
		return 4
	}
	return 2
}

func (r *router) nextClientOrderID() string {
	seq := atomic.AddUint64(&r.orderSeqNum, 1)
	return fmt.Sprintf("%s-%d", r.e.runID, seq)
}

func parseOrderType(value string) (alpaca.OrderType, error) {
	switch value {
	case "market":
		return alpaca.Market, nil
	case "limit":
		return alpaca.Limit, nil
	case "stop":
		return alpaca.Stop, nil
	case "stop_limit":
		return alpaca.StopLimit, nil
	default:
		return "", fmt.Errorf("unsupported order type: %s", value)
	}
}

func parseTimeInForce(value string) (alpaca.TimeInForce, error) {
	switch value {
	case "day":
		return alpaca.Day, nil
	case "gtc":
		return alpaca.GTC, nil
	case "ioc":
		return alpaca.IOC, nil
	case "fok":
		return alpaca.FOK, nil
	default:
		return "", fmt.Errorf("unsupported time in force: %s", value)
	}
}

func instructionDecision(strategyName string, instr rebalance.Instruction, result string) Decision {
	return Decision{
		Timestamp: time.Now().UTC(),
		Strategy:  strategyName,
		Result:    result,
		Symbol:    instr.Instrument.Key(),
		Side:      string(instr.Side),
		Qty:       instr.Qty.String(),
		Price:     instr.Price.String(),
		Value:     instr.Value.String(),
		Weight:    instr.Weight.String(),
	}
}
