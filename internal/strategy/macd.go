package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/indicators"
	"stratbot/internal/md"
	"stratbot/internal/rebalance"
)

// EMAMACD enters when price is above its long EMA and the MACD line crosses
// above its signal line below zero. The mirrored setup below the EMA exits.
// Exit legs come from the configured take profit and stop loss.
type EMAMACD struct {
	Symbol    string          `json:"symbol"`
	EMAPeriod int             `json:"ema_period"`
	Fast      int             `json:"macd_fast"`
	Slow      int             `json:"macd_slow"`
	Signal    int             `json:"macd_signal"`
	PctCash   decimal.Decimal `json:"pct_cash"`
	Timeframe md.Timeframe    `json:"timeframe"`
}

func defaultEMAMACD() *EMAMACD {
	return &EMAMACD{
		Symbol:    "SPY",
		EMAPeriod: 200,
		Fast:      12,
		Slow:      26,
		Signal:    9,
		PctCash:   decimal.RequireFromString("0.05"),
		Timeframe: md.Minute,
	}
}

func buildEMAMACD(raw json.RawMessage, _ Deps) (Strategy, error) {
	s := defaultEMAMACD()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if s.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if s.EMAPeriod <= 0 || s.Fast <= 0 || s.Signal <= 0 || s.Slow <= s.Fast {
		return nil, errors.New("periods must be positive and macd_slow above macd_fast")
	}
	if !s.PctCash.IsPositive() || s.PctCash.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("pct_cash must be within (0,1]")
	}
	if err := validTimeframe(s.Timeframe); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EMAMACD) Name() string { return "ema_macd" }

func (s *EMAMACD) Allocate(ctx context.Context, m Market) (Allocation, error) {
	inst := asset.NewStock(s.Symbol)
	c, err := closes(ctx, m, inst, max(s.EMAPeriod, s.Slow+s.Signal)+1, s.Timeframe)
	if err != nil {
		return Allocation{}, err
	}
	ema, err := indicators.EMA(c, s.EMAPeriod)
	if err != nil {
		return Allocation{}, fmt.Errorf("ema for %s: %w", s.Symbol, err)
	}
	macd, signal, err := indicators.MACD(c, s.Fast, s.Slow, s.Signal)
	if err != nil {
		return Allocation{}, fmt.Errorf("macd for %s: %w", s.Symbol, err)
	}
	price, err := m.LastPrice(ctx, inst)
	if err != nil {
		return Allocation{}, fmt.Errorf("price for %s: %w", s.Symbol, err)
	}

	switch macdSetup(price.InexactFloat64(), ema, macd, signal) {
	case setupEntry:
		return Allocation{Targets: weighted(inst, s.PctCash), Reason: "macd_cross_up_above_ema"}, nil
	case setupExit:
		return Allocation{Targets: weighted(inst, decimal.Zero), Reason: "macd_cross_down_below_ema"}, nil
	}
	return Allocation{Hold: true, Reason: "no_macd_setup"}, nil
}

type setup int

const (
	setupNone setup = iota
	setupEntry
	setupExit
)

// macdSetup reads the last two points of the MACD and signal lines.
func macdSetup(price, ema float64, macd, signal []float64) setup {
	n := len(macd)
	if n < 2 || len(signal) != n {
		return setupNone
	}
	m0, m1 := macd[n-2], macd[n-1]
	s0, s1 := signal[n-2], signal[n-1]
	switch {
	case price > ema && m1 < 0 && s1 < 0 && m1 > s1 && m0 < s0:
		return setupEntry
	case price < ema && m1 > 0 && s1 > 0 && m1 < s1 && m0 > s0:
		return setupExit
	}
	return setupNone
}

func weighted(inst asset.Instrument, weight decimal.Decimal) []rebalance.Target {
	return []rebalance.Target{{Instrument: inst, Weight: weight}}
}
