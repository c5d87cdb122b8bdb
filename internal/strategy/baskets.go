package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/macro"
	"stratbot/internal/md"
)

// CustomETF holds a fixed basket.
type CustomETF struct {
	Assets         []Weighting     `json:"assets"`
	DriftThreshold decimal.Decimal `json:"drift_threshold"`
	RebalanceEvery int             `json:"rebalance_period"`

	quote string
}

func defaultCustomETF() *CustomETF {
	third := decimal.RequireFromString("0.32")
	return &CustomETF{
		Assets: []Weighting{
			{Symbol: "BTC", Class: asset.Crypto, Weight: third},
			{Symbol: "ETH", Class: asset.Crypto, Weight: third},
			{Symbol: "LTC", Class: asset.Crypto, Weight: third},
		},
	}
}

func buildCustomETF(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultCustomETF()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if err := validateBasket("assets", s.Assets); err != nil {
		return nil, err
	}
	s.quote = deps.Quote
	return s, nil
}

func (s *CustomETF) Name() string { return "custom_etf" }

func (s *CustomETF) Allocate(_ context.Context, _ Market) (Allocation, error) {
	return Allocation{
		Targets:        targetsFrom(s.Assets, s.quote),
		DriftThreshold: s.DriftThreshold,
		Every:          s.RebalanceEvery,
		Reason:         "fixed_basket",
	}, nil
}

// RateRegime switches between two baskets depending on whether the ten-year
// treasury rate is above Threshold.
type RateRegime struct {
	Series         string      `json:"series"`
	Threshold      float64     `json:"interest_rate"`
	High           []Weighting `json:"high_rate_portfolio"`
	Low            []Weighting `json:"low_rate_portfolio"`
	RebalanceEvery int         `json:"rebalance_period"`

	macro MacroSource
	quote string
	log   zerolog.Logger
}

func defaultRateRegime() *RateRegime {
	w := decimal.RequireFromString
	return &RateRegime{
		Series:    macro.SeriesTenYear,
		Threshold: 2,
		High: []Weighting{
			{Symbol: "TQQQ", Weight: w("0.20")},
			{Symbol: "UPRO", Weight: w("0.10")},
			{Symbol: "UDOW", Weight: w("0.10")},
			{Symbol: "EDC", Weight: w("0.10")},
			{Symbol: "TMF", Weight: w("0.30")},
			{Symbol: "UGL", Weight: w("0.05")},
			{Symbol: "AGQ", Weight: w("0.05")},
			{Symbol: "VIXM", Weight: w("0.10")},
		},
		Low: []Weighting{
			{Symbol: "TQQQ", Weight: w("0.20")},
			{Symbol: "UPRO", Weight: w("0.20")},
			{Symbol: "UDOW", Weight: w("0.20")},
			{Symbol: "EDC", Weight: w("0.15")},
			{Symbol: "TMF", Weight: w("0.05")},
			{Symbol: "UGL", Weight: w("0.05")},
			{Symbol: "AGQ", Weight: w("0.05")},
			{Symbol: "VIXM", Weight: w("0.10")},
		},
		RebalanceEvery: 4,
	}
}

func buildRateRegime(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultRateRegime()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if deps.Macro == nil {
		return nil, errors.New("macro source is required")
	}
	if err := validateBasket("high_rate_portfolio", s.High); err != nil {
		return nil, err
	}
	if err := validateBasket("low_rate_portfolio", s.Low); err != nil {
		return nil, err
	}
	s.macro, s.quote = deps.Macro, deps.Quote
	s.log = withLogger(deps.Log, s.Name())
	return s, nil
}

func (s *RateRegime) Name() string { return "rate_regime" }

func (s *RateRegime) Allocate(ctx context.Context, m Market) (Allocation, error) {
	series, err := s.macro.Series(ctx, s.Series)
	if err != nil {
		return Allocation{}, fmt.Errorf("interest rate: %w", err)
	}
	rate, err := series.ValueAt(m.Now())
	if errors.Is(err, macro.ErrNoObservation) {
		// Every observation is dated after now; use the newest one.
		last, lastErr := series.Last()
		if lastErr != nil {
			return Allocation{}, lastErr
		}
		s.log.Warn().Time("observation", last.Date).Msg("no observation at or before now, using latest")
		rate, err = last.Value, nil
	}
	if err != nil {
		return Allocation{}, err
	}
	s.log.Info().Float64("rate", rate).Float64("threshold", s.Threshold).Msg("interest rate")
	if rate > s.Threshold {
		return Allocation{Targets: targetsFrom(s.High, s.quote), Every: s.RebalanceEvery, Reason: "rate_above_threshold"}, nil
	}
	return Allocation{Targets: targetsFrom(s.Low, s.quote), Every: s.RebalanceEvery, Reason: "rate_at_or_below_threshold"}, nil
}

// DebtRegime splits between two symbols according to how fast debt to GDP is
// growing.
type DebtRegime struct {
	Series      string          `json:"series"`
	Primary     string          `json:"primary_symbol"`
	Secondary   string          `json:"secondary_symbol"`
	ChangeDays  int             `json:"change_days"`
	Threshold   float64         `json:"debt_change_threshold"`
	NormalRatio decimal.Decimal `json:"normal_ratio"`
	BuyRatio    decimal.Decimal `json:"buy_sp_ratio"`

	macro MacroSource
	log   zerolog.Logger
}

func defaultDebtRegime() *DebtRegime {
	return &DebtRegime{
		Series:      macro.SeriesDebtToGDP,
		Primary:     "UPRO",
		Secondary:   "SPY",
		ChangeDays:  300,
		Threshold:   0.15,
		NormalRatio: decimal.RequireFromString("0.6"),
		BuyRatio:    decimal.NewFromInt(1),
	}
}

func buildDebtRegime(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultDebtRegime()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if deps.Macro == nil {
		return nil, errors.New("macro source is required")
	}
	if s.Primary == "" || s.Secondary == "" {
		return nil, errors.New("primary_symbol and secondary_symbol are required")
	}
	if s.ChangeDays <= 0 {
		return nil, errors.New("change_days must be positive")
	}
	for _, r := range []decimal.Decimal{s.NormalRatio, s.BuyRatio} {
		if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("ratio %s must be within [0,1]", r)
		}
	}
	s.macro = deps.Macro
	s.log = withLogger(deps.Log, s.Name())
	return s, nil
}

func (s *DebtRegime) Name() string { return "debt_regime" }

func (s *DebtRegime) Allocate(ctx context.Context, m Market) (Allocation, error) {
	series, err := s.macro.Series(ctx, s.Series)
	if err != nil {
		return Allocation{}, fmt.Errorf("debt to gdp: %w", err)
	}
	change, err := series.DailyForwardFill(m.Now()).Change(s.ChangeDays)
	if err != nil {
		return Allocation{}, err
	}
	ratio, reason := s.NormalRatio, "debt_growth_normal"
	if change > s.Threshold {
		ratio, reason = s.BuyRatio, "debt_growth_high"
	}
	s.log.Info().Float64("debt_change", change).Str("ratio", ratio.String()).Msg("debt regime")
	return Allocation{
		Targets: targetsFrom([]Weighting{
			{Symbol: s.Primary, Weight: ratio},
			{Symbol: s.Secondary, Weight: decimal.NewFromInt(1).Sub(ratio)},
		}, ""),
		Reason: reason,
	}, nil
}

// BuyTheDip holds the normal basket and switches to the dip basket when the
// watched symbol's last daily change is at or below DropLevel.
type BuyTheDip struct {
	Watch          string      `json:"symbol_to_watch"`
	DropLevel      float64     `json:"big_drop_level"`
	Normal         []Weighting `json:"normal_portfolio"`
	Dip            []Weighting `json:"dip_portfolio"`
	RebalanceEvery int         `json:"rebalance_period"`

	quote string
}

func defaultBuyTheDip() *BuyTheDip {
	return &BuyTheDip{
		Watch:     "SPY",
		DropLevel: -0.03,
		Normal: []Weighting{
			{Symbol: "UPRO", Weight: decimal.RequireFromString("0.6")},
			{Symbol: "TMF", Weight: decimal.RequireFromString("0.4")},
		},
		Dip:            []Weighting{{Symbol: "UPRO", Weight: decimal.NewFromInt(1)}},
		RebalanceEvery: 4,
	}
}

func buildBuyTheDip(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultBuyTheDip()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if s.Watch == "" {
		return nil, errors.New("symbol_to_watch is required")
	}
	if err := validateBasket("normal_portfolio", s.Normal); err != nil {
		return nil, err
	}
	if err := validateBasket("dip_portfolio", s.Dip); err != nil {
		return nil, err
	}
	s.quote = deps.Quote
	return s, nil
}

func (s *BuyTheDip) Name() string { return "buy_the_dip" }

func (s *BuyTheDip) Allocate(ctx context.Context, m Market) (Allocation, error) {
	c, err := closes(ctx, m, asset.NewStock(s.Watch), 2, md.Day)
	if err != nil {
		return Allocation{}, err
	}
	if len(c) < 2 || c[len(c)-2] == 0 {
		return Allocation{Targets: targetsFrom(s.Normal, s.quote), Every: s.RebalanceEvery, Reason: "no_prior_close"}, nil
	}
	change := c[len(c)-1]/c[len(c)-2] - 1
	if change <= s.DropLevel {
		return Allocation{Targets: targetsFrom(s.Dip, s.quote), Every: s.RebalanceEvery, Reason: "big_drop"}, nil
	}
	return Allocation{Targets: targetsFrom(s.Normal, s.quote), Every: s.RebalanceEvery, Reason: "normal_market"}, nil
}
