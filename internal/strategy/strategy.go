package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/md"
	"stratbot/internal/rebalance"
)

// Market is the read-only view of prices and holdings a strategy decides on.
type Market interface {
	Now() time.Time
	LastPrice(ctx context.Context, inst asset.Instrument) (decimal.Decimal, error)
	Bars(ctx context.Context, inst asset.Instrument, n int, tf md.Timeframe) ([]md.Bar, error)
	Holdings(ctx context.Context) (map[string]rebalance.Holding, error)
}

// Allocation is a strategy's desired portfolio for one cycle.
type Allocation struct {
	Targets []rebalance.Target
	// Sell held instruments that are not targeted.
	LiquidateUntargeted bool
	// Fraction of portfolio value to allocate; zero means all of it.
	Tradeable decimal.Decimal
	// Skip the rebalance while total drift is at or below this value.
	DriftThreshold decimal.Decimal
	// Rebalance only every N cycles; zero or one means every cycle.
	Every int
	// Leave the portfolio untouched this cycle.
	Hold   bool
	Reason string
}

type Strategy interface {
	Name() string
	Allocate(ctx context.Context, m Market) (Allocation, error)
}

// Spec names a strategy and carries its parameters as raw JSON.
type Spec struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Weighting is one entry of a configured basket.
type Weighting struct {
	Symbol string          `json:"symbol"`
	Class  asset.Class     `json:"class,omitempty"`
	Weight decimal.Decimal `json:"weight"`
}

type builder func(params json.RawMessage, deps Deps) (Strategy, error)

var registry = map[string]builder{
	"custom_etf":      buildCustomETF,
	"rate_regime":     buildRateRegime,
	"debt_regime":     buildDebtRegime,
	"double_ema":      buildDoubleEMA,
	"ema_trend":       buildEMATrend,
	"drawdown_switch": buildDrawdownSwitch,
	"rsi_band":        buildRSIBand,
	"momentum":        buildMomentum,
	"buy_the_dip":     buildBuyTheDip,
	"vol_return":      buildVolReturn,
	"ema_macd":        buildEMAMACD,
	"congress":        buildCongress,
	"sentiment":       buildSentiment,
}

// Names lists the registered strategies.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named strategy. Parameters absent from spec.Params keep
// their defaults; unknown parameters are rejected.
func Build(spec Spec, deps Deps) (Strategy, error) {
	b, ok := registry[spec.Name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", spec.Name)
	}
	if deps.Quote == "" {
		deps.Quote = "USD"
	}
	s, err := b(spec.Params, deps)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", spec.Name, err)
	}
	return s, nil
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

func targetsFrom(basket []Weighting, quote string) []rebalance.Target {
	out := make([]rebalance.Target, 0, len(basket))
	for _, w := range basket {
		out = append(out, rebalance.Target{Instrument: instrument(w.Symbol, w.Class, quote), Weight: w.Weight})
	}
	return out
}

func validateBasket(name string, basket []Weighting) error {
	if len(basket) == 0 {
		return fmt.Errorf("%s must not be empty", name)
	}
	total := decimal.Zero
	for _, w := range basket {
		if w.Symbol == "" {
			return fmt.Errorf("%s: symbol is required", name)
		}
		if _, err := asset.ParseClass(string(w.Class)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if w.Weight.IsNegative() || w.Weight.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s: weight for %s must be within [0,1]", name, w.Symbol)
		}
		total = total.Add(w.Weight)
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s: weights sum to %s, more than 1", name, total)
	}
	return nil
}

func instrument(symbol string, class asset.Class, quote string) asset.Instrument {
	if class == asset.Crypto {
		return asset.NewCrypto(symbol, quote)
	}
	inst := asset.NewStock(symbol)
	if class != "" {
		inst.Class = class
	}
	return inst
}

func single(inst asset.Instrument) []rebalance.Target {
	return []rebalance.Target{{Instrument: inst, Weight: decimal.NewFromInt(1)}}
}

func closes(ctx context.Context, m Market, inst asset.Instrument, n int, tf md.Timeframe) ([]float64, error) {
	bars, err := m.Bars(ctx, inst, n, tf)
	if err != nil {
		return nil, fmt.Errorf("bars for %s: %w", inst, err)
	}
	return md.Closes(bars), nil
}

func withLogger(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", "strategy").Str("strategy", name).Logger()
}
