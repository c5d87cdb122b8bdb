package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stratbot/internal/asset"
	"stratbot/internal/rebalance"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type OrderRequest struct {
	Symbol        string
	Qty           decimal.Decimal
	Side          alpaca.Side
	Type          alpaca.OrderType
	TimeInForce   alpaca.TimeInForce
	ClientOrderID string
	ExtendedHours bool
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	// TakeProfit and StopLoss attach exit legs. Both set makes a bracket
	// order, one of them an OTO order.
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

type OrderRef struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Status        string
}

type Account struct {
	PortfolioValue decimal.Decimal
	Equity         decimal.Decimal
	Cash           decimal.Decimal
	BuyingPower    decimal.Decimal
}

type Client struct {
	client *alpaca.Client
	quote  string
	log    zerolog.Logger
}

func New(apiKey, apiSecret, baseURL, quote string, log zerolog.Logger) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &Client{
		client: alpaca.NewClient(opts),
		quote:  strings.ToUpper(quote),
		log:    log.With().Str("component", "broker").Logger(),
	}
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	qty := req.Qty
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
		ExtendedHours: req.ExtendedHours,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
	}
	if req.TakeProfit != nil {
		orderReq.TakeProfit = &alpaca.TakeProfit{LimitPrice: req.TakeProfit}
	}
	if req.StopLoss != nil {
		orderReq.StopLoss = &alpaca.StopLoss{StopPrice: req.StopLoss}
	}
	switch {
	case req.TakeProfit != nil && req.StopLoss != nil:
		orderReq.OrderClass = alpaca.Bracket
	case req.TakeProfit != nil || req.StopLoss != nil:
		orderReq.OrderClass = alpaca.OTO
	}

	order, err := c.client.PlaceOrder(orderReq)
	if err != nil {
		c.log.Error().Err(err).
			Str("side", string(req.Side)).
			Str("symbol", req.Symbol).
			Str("qty", req.Qty.String()).
			Str("type", string(req.Type)).
			Msg("place order failed")
		return OrderRef{}, err
	}

	c.log.Info().
		Str("order_id", order.ID).
		Str("side", string(req.Side)).
		Str("symbol", req.Symbol).
		Str("qty", req.Qty.String()).
		Str("type", string(req.Type)).
		Str("status", string(order.Status)).
		Msg("place order success")
	return OrderRef{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Status:        string(order.Status),
	}, nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]OrderRef, error) {
	orders, err := c.openOrders()
	if err != nil {
		return nil, err
	}
	refs := make([]OrderRef, 0, len(orders))
	for _, order := range orders {
		refs = append(refs, OrderRef{
			ID:            order.ID,
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Status:        string(order.Status),
		})
	}
	return refs, nil
}

// Holdings returns every position plus the unfilled remainder of open
// orders, keyed by instrument key.
func (c *Client) Holdings(ctx context.Context) (map[string]rebalance.Holding, error) {
	positions, err := c.client.GetPositions()
	if err != nil {
		c.log.Error().Err(err).Msg("fetch positions failed")
		return nil, err
	}
	holdings := make(map[string]rebalance.Holding, len(positions))
	for _, pos := range positions {
		inst := c.instrument(pos.Symbol, string(pos.AssetClass))
		holdings[inst.Key()] = rebalance.Holding{Instrument: inst, Qty: pos.Qty}
	}

	orders, err := c.openOrders()
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		if order.Qty == nil {
			continue
		}
		remaining := order.Qty.Sub(order.FilledQty)
		if order.Side == alpaca.Sell {
			remaining = remaining.Neg()
		}
		inst := c.instrument(order.Symbol, string(order.AssetClass))
		h := holdings[inst.Key()]
		h.Instrument = inst
		h.Qty = h.Qty.Add(remaining)
		holdings[inst.Key()] = h
	}

	c.log.Debug().Int("positions", len(positions)).Int("open_orders", len(orders)).Msg("holdings fetched")
	return holdings, nil
}

func (c *Client) Account(ctx context.Context) (Account, error) {
	acct, err := c.client.GetAccount()
	if err != nil {
		c.log.Error().Err(err).Msg("fetch account failed")
		return Account{}, err
	}

	c.log.Info().
		Str("portfolio_value", acct.PortfolioValue.String()).
		Str("cash", acct.Cash.String()).
		Str("buying_power", acct.BuyingPower.String()).
		Msg("account fetched")
	return Account{
		PortfolioValue: acct.PortfolioValue,
		Equity:         acct.Equity,
		Cash:           acct.Cash,
		BuyingPower:    acct.BuyingPower,
	}, nil
}

func (c *Client) MarketOpen(ctx context.Context) (bool, error) {
	clock, err := c.client.GetClock()
	if err != nil {
		c.log.Error().Err(err).Msg("fetch clock failed")
		return false, err
	}
	return clock.IsOpen, nil
}

// CloseAll cancels open orders and liquidates every position.
func (c *Client) CloseAll(ctx context.Context) error {
	orders, err := c.client.CloseAllPositions(alpaca.CloseAllPositionsRequest{CancelOrders: true})
	if err != nil {
		c.log.Error().Err(err).Msg("close all positions failed")
		return fmt.Errorf("close all positions: %w", err)
	}
	c.log.Warn().Int("orders", len(orders)).Msg("liquidation orders submitted")
	return nil
}

func (c *Client) openOrders() ([]alpaca.Order, error) {
	orders, err := c.client.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		c.log.Error().Err(err).Msg("fetch open orders failed")
		return nil, err
	}
	return orders, nil
}

// instrument maps an Alpaca symbol to an instrument. Crypto positions come
// back without the pair separator, e.g. BTCUSD.
func (c *Client) instrument(symbol, assetClass string) asset.Instrument {
	if assetClass != "crypto" {
		return asset.FromKey(symbol, asset.Stock)
	}
	if strings.Contains(symbol, "/") {
		return asset.FromKey(symbol, asset.Crypto)
	}
	if c.quote != "" && strings.HasSuffix(symbol, c.quote) && len(symbol) > len(c.quote) {
		return asset.NewCrypto(strings.TrimSuffix(symbol, c.quote), c.quote)
	}
	return asset.FromKey(symbol, asset.Crypto)
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
