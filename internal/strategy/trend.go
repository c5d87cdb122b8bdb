package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/indicators"
	"stratbot/internal/md"
	"stratbot/internal/rebalance"
)

// DoubleEMA splits the portfolio equally among symbols whose short EMA is
// above the long EMA for both configured pairs.
type DoubleEMA struct {
	Symbols []string `json:"symbols"`
	Short1  int      `json:"ema1_short_length"`
	Long1   int      `json:"ema1_long_length"`
	Short2  int      `json:"ema2_short_length"`
	Long2   int      `json:"ema2_long_length"`

	log zerolog.Logger
}

func defaultDoubleEMA() *DoubleEMA {
	return &DoubleEMA{
		Symbols: []string{"AAPL", "SPY", "TSLA", "NVDA", "MSFT"},
		Short1:  12,
		Long1:   32,
		Short2:  12,
		Long2:   26,
	}
}

func buildDoubleEMA(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultDoubleEMA()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if len(s.Symbols) == 0 {
		return nil, errors.New("symbols must not be empty")
	}
	for _, p := range []int{s.Short1, s.Long1, s.Short2, s.Long2} {
		if p <= 0 {
			return nil, errors.New("ema lengths must be positive")
		}
	}
	s.log = withLogger(deps.Log, s.Name())
	return s, nil
}

func (s *DoubleEMA) Name() string { return "double_ema" }

func (s *DoubleEMA) Allocate(ctx context.Context, m Market) (Allocation, error) {
	lookback := 2 * max(s.Long1, s.Long2, s.Short1, s.Short2)
	var trending []asset.Instrument
	for _, sym := range s.Symbols {
		inst := asset.NewStock(sym)
		c, err := closes(ctx, m, inst, lookback, md.Day)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("skipping symbol")
			continue
		}
		up, err := s.trendingUp(c)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("skipping symbol")
			continue
		}
		if up {
			trending = append(trending, inst)
		}
	}

	alloc := Allocation{LiquidateUntargeted: true, Reason: "none_trending"}
	if len(trending) == 0 {
		return alloc, nil
	}
	weight := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(trending))))
	for _, inst := range trending {
		alloc.Targets = append(alloc.Targets, rebalance.Target{Instrument: inst, Weight: weight})
	}
	alloc.Reason = "trending_up"
	return alloc, nil
}

func (s *DoubleEMA) trendingUp(c []float64) (bool, error) {
	pairs := [][2]int{{s.Short1, s.Long1}, {s.Short2, s.Long2}}
	for _, p := range pairs {
		short, err := indicators.EMA(c, p[0])
		if err != nil {
			return false, err
		}
		long, err := indicators.EMA(c, p[1])
		if err != nil {
			return false, err
		}
		if short <= long {
			return false, nil
		}
	}
	return true, nil
}

// EMATrend holds the leveraged symbol while the base symbol trades at or above
// its EMA and the risk-off symbol otherwise. An empty risk-off symbol means
// cash.
type EMATrend struct {
	Symbol   string `json:"symbol"`
	Leverage string `json:"leverage_symbol"`
	RiskOff  string `json:"risk_off_symbol"`
	Period   int    `json:"period_length"`
}

func defaultEMATrend() *EMATrend {
	return &EMATrend{Symbol: "SPY", Leverage: "UPRO", RiskOff: "SPY", Period: 17}
}

func buildEMATrend(raw json.RawMessage, _ Deps) (Strategy, error) {
	s := defaultEMATrend()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if s.Symbol == "" || s.Leverage == "" {
		return nil, errors.New("symbol and leverage_symbol are required")
	}
	if s.Period <= 0 {
		return nil, errors.New("period_length must be positive")
	}
	return s, nil
}

func (s *EMATrend) Name() string { return "ema_trend" }

func (s *EMATrend) Allocate(ctx context.Context, m Market) (Allocation, error) {
	base := asset.NewStock(s.Symbol)
	c, err := closes(ctx, m, base, s.Period+1, md.Day)
	if err != nil {
		return Allocation{}, err
	}
	ema, err := indicators.EMA(c, s.Period)
	if err != nil {
		return Allocation{}, fmt.Errorf("ema for %s: %w", s.Symbol, err)
	}
	price, err := m.LastPrice(ctx, base)
	if err != nil {
		return Allocation{}, fmt.Errorf("price for %s: %w", s.Symbol, err)
	}

	if price.GreaterThanOrEqual(decimal.NewFromFloat(ema)) {
		return Allocation{Targets: single(asset.NewStock(s.Leverage)), LiquidateUntargeted: true, Reason: "price_above_ema"}, nil
	}
	alloc := Allocation{LiquidateUntargeted: true, Reason: "price_below_ema"}
	if s.RiskOff != "" {
		alloc.Targets = single(asset.NewStock(s.RiskOff))
	}
	return alloc, nil
}

// DrawdownSwitch buys leverage once the base symbol has fallen DropPercent
// from its lookback high.
type DrawdownSwitch struct {
	Symbol      string  `json:"symbol"`
	Leverage    string  `json:"leverage_symbol"`
	Lookback    int     `json:"lookback_days"`
	DropPercent float64 `json:"drop_percent"`
}

func defaultDrawdownSwitch() *DrawdownSwitch {
	return &DrawdownSwitch{Symbol: "SPY", Leverage: "UPRO", Lookback: 300, DropPercent: 0.2}
}

func buildDrawdownSwitch(raw json.RawMessage, _ Deps) (Strategy, error) {
	s := defaultDrawdownSwitch()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if s.Symbol == "" || s.Leverage == "" {
		return nil, errors.New("symbol and leverage_symbol are required")
	}
	if s.Lookback <= 0 {
		return nil, errors.New("lookback_days must be positive")
	}
	if s.DropPercent <= 0 || s.DropPercent >= 1 {
		return nil, errors.New("drop_percent must be within (0,1)")
	}
	return s, nil
}

func (s *DrawdownSwitch) Name() string { return "drawdown_switch" }

func (s *DrawdownSwitch) Allocate(ctx context.Context, m Market) (Allocation, error) {
	base := asset.NewStock(s.Symbol)
	c, err := closes(ctx, m, base, s.Lookback+1, md.Day)
	if err != nil {
		return Allocation{}, err
	}
	high, err := indicators.Max(c)
	if err != nil {
		return Allocation{}, fmt.Errorf("high for %s: %w", s.Symbol, err)
	}
	price, err := m.LastPrice(ctx, base)
	if err != nil {
		return Allocation{}, fmt.Errorf("price for %s: %w", s.Symbol, err)
	}

	if price.InexactFloat64() <= high*(1-s.DropPercent) {
		return Allocation{Targets: single(asset.NewStock(s.Leverage)), LiquidateUntargeted: true, Reason: "drawdown"}, nil
	}
	return Allocation{Targets: single(base), LiquidateUntargeted: true, Reason: "near_high"}, nil
}

// RSIBand holds the main symbol when oversold, the other symbol when
// overbought and a fixed split in between.
type RSIBand struct {
	Main       string          `json:"main_symbol"`
	Other      string          `json:"other_symbol"`
	Lower      float64         `json:"lower_threshold"`
	Upper      float64         `json:"upper_threshold"`
	MiddleMain decimal.Decimal `json:"middle_main_symbol_percentage"`
	Period     int             `json:"period"`
	Timeframe  md.Timeframe    `json:"timeframe"`
}

func defaultRSIBand() *RSIBand {
	return &RSIBand{
		Main:       "SPY",
		Other:      "TLT",
		Lower:      33,
		Upper:      66,
		MiddleMain: decimal.RequireFromString("0.6"),
		Period:     14,
		Timeframe:  md.Minute,
	}
}

func buildRSIBand(raw json.RawMessage, _ Deps) (Strategy, error) {
	s := defaultRSIBand()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if s.Main == "" || s.Other == "" {
		return nil, errors.New("main_symbol and other_symbol are required")
	}
	if s.Lower >= s.Upper {
		return nil, errors.New("lower_threshold must be below upper_threshold")
	}
	if s.MiddleMain.IsNegative() || s.MiddleMain.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("middle_main_symbol_percentage must be within [0,1]")
	}
	if s.Period <= 1 {
		return nil, errors.New("period must be greater than 1")
	}
	if err := validTimeframe(s.Timeframe); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RSIBand) Name() string { return "rsi_band" }

func (s *RSIBand) Allocate(ctx context.Context, m Market) (Allocation, error) {
	main := asset.NewStock(s.Main)
	other := asset.NewStock(s.Other)
	c, err := closes(ctx, m, main, 3*s.Period, s.Timeframe)
	if err != nil {
		return Allocation{}, err
	}
	rsi, err := indicators.RSI(c, s.Period)
	if err != nil {
		return Allocation{}, fmt.Errorf("rsi for %s: %w", s.Main, err)
	}

	switch {
	case rsi < s.Lower:
		return Allocation{Targets: single(main), LiquidateUntargeted: true, Reason: "rsi_below_lower"}, nil
	case rsi > s.Upper:
		return Allocation{Targets: single(other), LiquidateUntargeted: true, Reason: "rsi_above_upper"}, nil
	}
	return Allocation{
		Targets: []rebalance.Target{
			{Instrument: main, Weight: s.MiddleMain},
			{Instrument: other, Weight: decimal.NewFromInt(1).Sub(s.MiddleMain)},
		},
		LiquidateUntargeted: true,
		Reason:              "rsi_middle",
	}, nil
}

// Momentum puts everything in the symbol with the best return over Period
// bars. With FlattenBeforeClose it sells everything in the last
// FlattenMinutes of the regular session.
type Momentum struct {
	Symbols            []string     `json:"symbols"`
	Period             int          `json:"period"`
	Timeframe          md.Timeframe `json:"timeframe"`
	FlattenBeforeClose bool         `json:"flatten_before_close"`
	FlattenMinutes     int          `json:"flatten_minutes"`

	log zerolog.Logger
}

func defaultMomentum() *Momentum {
	return &Momentum{
		Symbols:        []string{"SPY", "GLD", "TLT", "MSFT", "TSLA", "AAPL"},
		Period:         2,
		Timeframe:      md.Minute,
		FlattenMinutes: 5,
	}
}

func buildMomentum(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultMomentum()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if len(s.Symbols) == 0 {
		return nil, errors.New("symbols must not be empty")
	}
	if s.Period <= 0 {
		return nil, errors.New("period must be positive")
	}
	if err := validTimeframe(s.Timeframe); err != nil {
		return nil, err
	}
	if s.FlattenBeforeClose && s.FlattenMinutes <= 0 {
		return nil, errors.New("flatten_minutes must be positive")
	}
	s.log = withLogger(deps.Log, s.Name())
	return s, nil
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) Allocate(ctx context.Context, m Market) (Allocation, error) {
	if s.FlattenBeforeClose && nearClose(m.Now(), time.Duration(s.FlattenMinutes)*time.Minute) {
		return Allocation{LiquidateUntargeted: true, Reason: "flatten_before_close"}, nil
	}
	var best asset.Instrument
	bestReturn := 0.0
	found := false
	for _, sym := range s.Symbols {
		inst := asset.NewStock(sym)
		c, err := closes(ctx, m, inst, s.Period+1, s.Timeframe)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("skipping symbol")
			continue
		}
		r, err := indicators.Momentum(c)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("skipping symbol")
			continue
		}
		s.log.Debug().Str("symbol", sym).Float64("return", r).Msg("momentum")
		if !found || r > bestReturn {
			best, bestReturn, found = inst, r, true
		}
	}
	if !found {
		return Allocation{Hold: true, Reason: "no_momentum_data"}, nil
	}
	return Allocation{Targets: single(best), LiquidateUntargeted: true, Reason: "best_momentum"}, nil
}

// VolReturn compares today's volume-weighted return with its rolling mean and
// goes leveraged when it is below.
type VolReturn struct {
	Safe      string `json:"safe_symbol"`
	Leveraged string `json:"leveraged_symbol"`
	Length    int    `json:"length"`
}

func defaultVolReturn() *VolReturn {
	return &VolReturn{Safe: "SPY", Leveraged: "UPRO", Length: 30}
}

func buildVolReturn(raw json.RawMessage, _ Deps) (Strategy, error) {
	s := defaultVolReturn()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if s.Safe == "" || s.Leveraged == "" {
		return nil, errors.New("safe_symbol and leveraged_symbol are required")
	}
	if s.Length <= 1 {
		return nil, errors.New("length must be greater than 1")
	}
	return s, nil
}

func (s *VolReturn) Name() string { return "vol_return" }

func (s *VolReturn) Allocate(ctx context.Context, m Market) (Allocation, error) {
	safe := asset.NewStock(s.Safe)
	bars, err := m.Bars(ctx, safe, s.Length+1, md.Day)
	if err != nil {
		return Allocation{}, fmt.Errorf("bars for %s: %w", s.Safe, err)
	}
	returns := indicators.PctChange(md.Closes(bars))
	volumes := md.Volumes(bars)
	vr := make([]float64, len(returns))
	for i, r := range returns {
		vr[i] = volumes[i+1] * r
	}
	mean, err := indicators.RollingMean(vr, s.Length)
	if err != nil {
		return Allocation{}, fmt.Errorf("vol x return for %s: %w", s.Safe, err)
	}

	if vr[len(vr)-1] < mean {
		return Allocation{Targets: single(asset.NewStock(s.Leveraged)), LiquidateUntargeted: true, Reason: "vol_return_below_mean"}, nil
	}
	return Allocation{Targets: single(safe), LiquidateUntargeted: true, Reason: "vol_return_above_mean"}, nil
}

var newYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// nearClose reports whether t falls within window of the 16:00 New York
// close on a weekday. Early-close sessions are not recognised.
func nearClose(t time.Time, window time.Duration) bool {
	local := t.In(newYork)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	closing := time.Date(local.Year(), local.Month(), local.Day(), 16, 0, 0, 0, newYork)
	return !local.Before(closing.Add(-window)) && local.Before(closing)
}

func validTimeframe(tf md.Timeframe) error {
	switch tf {
	case md.Minute, md.Hour, md.Day:
		return nil
	}
	return fmt.Errorf("unknown timeframe %q", tf)
}
