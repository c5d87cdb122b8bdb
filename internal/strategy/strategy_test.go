package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratbot/internal/asset"
	"stratbot/internal/indicators"
	"stratbot/internal/macro"
	"stratbot/internal/md"
	"stratbot/internal/rebalance"
	"stratbot/internal/sentiment/reddit"
)

var testNow = time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

type fakeMarket struct {
	bars   map[string][]md.Bar
	prices map[string]decimal.Decimal
	now    time.Time
}

func (f *fakeMarket) Now() time.Time {
	if !f.now.IsZero() {
		return f.now
	}
	return testNow
}

func (f *fakeMarket) LastPrice(_ context.Context, inst asset.Instrument) (decimal.Decimal, error) {
	p, ok := f.prices[inst.Key()]
	if !ok {
		return decimal.Zero, md.ErrNoPrice
	}
	return p, nil
}

func (f *fakeMarket) Bars(_ context.Context, inst asset.Instrument, n int, _ md.Timeframe) ([]md.Bar, error) {
	bars, ok := f.bars[inst.Key()]
	if !ok {
		return nil, errors.New("no bars")
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

func (f *fakeMarket) Holdings(context.Context) (map[string]rebalance.Holding, error) {
	return map[string]rebalance.Holding{}, nil
}

func barsFrom(closes ...float64) []md.Bar {
	out := make([]md.Bar, len(closes))
	for i, c := range closes {
		out[i] = md.Bar{Time: testNow.AddDate(0, 0, i-len(closes)), Close: c, Volume: 1}
	}
	return out
}

func line(n int, start, step float64) []md.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + step*float64(i)
	}
	return barsFrom(closes...)
}

func build(t *testing.T, name, params string, deps Deps) Strategy {
	t.Helper()
	deps.Log = zerolog.Nop()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	s, err := Build(Spec{Name: name, Params: raw}, deps)
	require.NoError(t, err)
	require.Equal(t, name, s.Name())
	return s
}

func weights(a Allocation) map[string]string {
	out := make(map[string]string, len(a.Targets))
	for _, t := range a.Targets {
		out[t.Instrument.Key()] = t.Weight.String()
	}
	return out
}

func TestBuildRejectsUnknownStrategyAndParams(t *testing.T) {
	_, err := Build(Spec{Name: "nope"}, Deps{})
	assert.ErrorContains(t, err, "unknown strategy")

	_, err = Build(Spec{Name: "custom_etf", Params: json.RawMessage(`{"colour":"red"}`)}, Deps{})
	assert.ErrorContains(t, err, "decode params")

	_, err = Build(Spec{Name: "custom_etf", Params: json.RawMessage(`{"assets":[{"symbol":"A","weight":0.7},{"symbol":"B","weight":0.7}]}`)}, Deps{})
	assert.ErrorContains(t, err, "more than 1")

	_, err = Build(Spec{Name: "rate_regime"}, Deps{})
	assert.ErrorContains(t, err, "macro source is required")
}

func TestNamesListsEveryStrategy(t *testing.T) {
	assert.Len(t, Names(), 13)
	assert.Contains(t, Names(), "ema_macd")
	assert.Contains(t, Names(), "sentiment")
}

func TestCustomETFDefaults(t *testing.T) {
	s := build(t, "custom_etf", "", Deps{})
	a, err := s.Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"BTC/USD": "0.32", "ETH/USD": "0.32", "LTC/USD": "0.32"}, weights(a))
	assert.Equal(t, asset.Crypto, a.Targets[0].Instrument.Class)
}

type fakeMacro struct {
	series macro.Series
}

func (f fakeMacro) Series(context.Context, string) (macro.Series, error) { return f.series, nil }

func TestRateRegimeSwitchesBaskets(t *testing.T) {
	obs := func(v float64) fakeMacro {
		return fakeMacro{series: macro.Series{ID: "DGS10", Observations: []macro.Observation{{Date: testNow.AddDate(0, 0, -3), Value: v}}}}
	}

	a, err := build(t, "rate_regime", "", Deps{Macro: obs(4)}).Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, "0.3", weights(a)["TMF"])
	assert.Equal(t, 4, a.Every)

	a, err = build(t, "rate_regime", "", Deps{Macro: obs(1.5)}).Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, "0.05", weights(a)["TMF"])
}

func TestRateRegimeUsesLatestWhenObservationsAreAhead(t *testing.T) {
	src := fakeMacro{series: macro.Series{ID: "DGS10", Observations: []macro.Observation{
		{Date: testNow.AddDate(0, 0, 1), Value: 4.2},
	}}}
	a, err := build(t, "rate_regime", "", Deps{Macro: src}).Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, "rate_above_threshold", a.Reason)

	_, err = build(t, "rate_regime", "", Deps{Macro: fakeMacro{series: macro.Series{ID: "DGS10"}}}).Allocate(context.Background(), &fakeMarket{})
	assert.ErrorIs(t, err, macro.ErrNoObservation)
}

func TestDebtRegimeUsesBuyRatioOnFastGrowth(t *testing.T) {
	src := fakeMacro{series: macro.Series{ID: "GFDEGDQ188S", Observations: []macro.Observation{
		{Date: testNow.AddDate(0, 0, -400), Value: 100},
		{Date: testNow.AddDate(0, 0, -10), Value: 120},
	}}}
	a, err := build(t, "debt_regime", "", Deps{Macro: src}).Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"UPRO": "1", "SPY": "0"}, weights(a))
	assert.Equal(t, "debt_growth_high", a.Reason)

	a, err = build(t, "debt_regime", `{"debt_change_threshold":0.5}`, Deps{Macro: src}).Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"UPRO": "0.6", "SPY": "0.4"}, weights(a))
}

func TestBuyTheDip(t *testing.T) {
	s := build(t, "buy_the_dip", "", Deps{})

	a, err := s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": barsFrom(100, 96)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"UPRO": "1"}, weights(a))
	assert.Equal(t, 4, a.Every)

	a, err = s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": barsFrom(100, 99)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"UPRO": "0.6", "TMF": "0.4"}, weights(a))
}

func TestDoubleEMAWeightsTrendingSymbols(t *testing.T) {
	s := build(t, "double_ema", `{"symbols":["AAPL","SPY","MSFT"]}`, Deps{})
	m := &fakeMarket{bars: map[string][]md.Bar{
		"AAPL": line(80, 100, 1),
		"SPY":  line(80, 200, -1),
	}}
	a, err := s.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AAPL": "1"}, weights(a))
	assert.True(t, a.LiquidateUntargeted)

	a, err = s.Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Empty(t, a.Targets)
	assert.True(t, a.LiquidateUntargeted)
}

func TestEMATrend(t *testing.T) {
	s := build(t, "ema_trend", "", Deps{})
	m := &fakeMarket{
		bars:   map[string][]md.Bar{"SPY": line(18, 100, 1)},
		prices: map[string]decimal.Decimal{"SPY": decimal.NewFromInt(200)},
	}
	a, err := s.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"UPRO": "1"}, weights(a))

	m.prices["SPY"] = decimal.NewFromInt(50)
	a, err = s.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SPY": "1"}, weights(a))

	cash := build(t, "ema_trend", `{"risk_off_symbol":""}`, Deps{})
	a, err = cash.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Empty(t, a.Targets)
	assert.True(t, a.LiquidateUntargeted)
}

func TestDrawdownSwitch(t *testing.T) {
	s := build(t, "drawdown_switch", `{"lookback_days":10}`, Deps{})
	m := &fakeMarket{
		bars:   map[string][]md.Bar{"SPY": barsFrom(90, 100, 95, 85)},
		prices: map[string]decimal.Decimal{"SPY": decimal.NewFromInt(79)},
	}
	a, err := s.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"UPRO": "1"}, weights(a))

	m.prices["SPY"] = decimal.NewFromInt(95)
	a, err = s.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SPY": "1"}, weights(a))
}

func TestRSIBand(t *testing.T) {
	s := build(t, "rsi_band", "", Deps{})

	a, err := s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": line(42, 100, 1)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TLT": "1"}, weights(a))

	a, err = s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": line(42, 200, -1)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SPY": "1"}, weights(a))

	zigzag := make([]float64, 42)
	for i := range zigzag {
		zigzag[i] = 100 + float64(i%2)
	}
	a, err = s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": barsFrom(zigzag...)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SPY": "0.6", "TLT": "0.4"}, weights(a))
}

func TestMomentumPicksBestReturn(t *testing.T) {
	s := build(t, "momentum", `{"symbols":["SPY","GLD","TLT"]}`, Deps{})
	m := &fakeMarket{bars: map[string][]md.Bar{
		"SPY": barsFrom(100, 101, 102),
		"GLD": barsFrom(100, 110, 120),
	}}
	a, err := s.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"GLD": "1"}, weights(a))

	a, err = s.Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.True(t, a.Hold)
}

func TestMomentumFlattensBeforeClose(t *testing.T) {
	s := build(t, "momentum", `{"symbols":["SPY"],"flatten_before_close":true,"flatten_minutes":10}`, Deps{})
	bars := map[string][]md.Bar{"SPY": barsFrom(100, 101, 102)}

	// 15:55 New York on a Monday in June (EDT).
	a, err := s.Allocate(context.Background(), &fakeMarket{bars: bars, now: time.Date(2024, 6, 3, 19, 55, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Empty(t, a.Targets)
	assert.True(t, a.LiquidateUntargeted)
	assert.Equal(t, "flatten_before_close", a.Reason)

	a, err = s.Allocate(context.Background(), &fakeMarket{bars: bars})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SPY": "1"}, weights(a))

	_, err = Build(Spec{Name: "momentum", Params: json.RawMessage(`{"flatten_before_close":true,"flatten_minutes":0}`)}, Deps{Log: zerolog.Nop()})
	assert.Error(t, err)
}

func TestNearClose(t *testing.T) {
	window := 5 * time.Minute
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside window edt", time.Date(2024, 6, 3, 19, 56, 0, 0, time.UTC), true},
		{"window start", time.Date(2024, 6, 3, 19, 55, 0, 0, time.UTC), true},
		{"at close", time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC), false},
		{"midday", time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC), false},
		{"inside window est", time.Date(2024, 1, 8, 20, 57, 0, 0, time.UTC), true},
		{"saturday", time.Date(2024, 6, 8, 19, 57, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nearClose(tc.at, window))
		})
	}
}

func TestMACDSetup(t *testing.T) {
	cases := []struct {
		name   string
		price  float64
		macd   []float64
		signal []float64
		want   setup
	}{
		{"cross up below zero above ema", 110, []float64{-0.5, -0.2}, []float64{-0.3, -0.3}, setupEntry},
		{"cross up but price below ema", 90, []float64{-0.5, -0.2}, []float64{-0.3, -0.3}, setupNone},
		{"cross up above zero", 110, []float64{0.1, 0.5}, []float64{0.2, 0.3}, setupNone},
		{"no cross", 110, []float64{-0.2, -0.1}, []float64{-0.3, -0.3}, setupNone},
		{"cross down above zero below ema", 90, []float64{0.5, 0.2}, []float64{0.3, 0.3}, setupExit},
		{"too short", 110, []float64{-0.2}, []float64{-0.3}, setupNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, macdSetup(tc.price, 100, tc.macd, tc.signal))
		})
	}
}

func TestEMAMACDHoldsWithoutSetup(t *testing.T) {
	s := build(t, "ema_macd", "", Deps{})
	flat := make([]float64, 201)
	for i := range flat {
		flat[i] = 100
	}
	m := &fakeMarket{
		bars:   map[string][]md.Bar{"SPY": barsFrom(flat...)},
		prices: map[string]decimal.Decimal{"SPY": decimal.NewFromInt(100)},
	}
	a, err := s.Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, a.Hold)
	assert.Equal(t, "no_macd_setup", a.Reason)

	_, err = s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": barsFrom(1, 2, 3)}})
	assert.ErrorIs(t, err, indicators.ErrInsufficientData)
}

func TestEMAMACDRejectsBadParams(t *testing.T) {
	for _, params := range []string{`{"pct_cash":"0"}`, `{"macd_fast":26,"macd_slow":12}`, `{"timeframe":"week"}`} {
		_, err := Build(Spec{Name: "ema_macd", Params: json.RawMessage(params)}, Deps{Log: zerolog.Nop()})
		assert.Error(t, err, params)
	}
}

func TestVolReturn(t *testing.T) {
	s := build(t, "vol_return", `{"length":3}`, Deps{})

	a, err := s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": barsFrom(100, 101, 102, 103)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"UPRO": "1"}, weights(a))

	a, err = s.Allocate(context.Background(), &fakeMarket{bars: map[string][]md.Bar{"SPY": barsFrom(100, 100, 101, 103)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SPY": "1"}, weights(a))
}

type fakeCongress struct {
	counts     map[string]int
	refreshErr error
	refreshes  int
	days       int
}

func (f *fakeCongress) Refresh(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeCongress) PurchaseCounts(_ context.Context, _ time.Time, days int) (map[string]int, error) {
	f.days = days
	return f.counts, nil
}

func TestCongressWeightsByPurchaseCount(t *testing.T) {
	src := &fakeCongress{
		counts:     map[string]int{"NVDA": 6, "AAPL": 2, "BRK.B": 5, "MSFT": 4, "GONE": 5},
		refreshErr: errors.New("offline"),
	}
	m := &fakeMarket{prices: map[string]decimal.Decimal{
		"NVDA":  decimal.NewFromInt(100),
		"MSFT":  decimal.NewFromInt(300),
		"BRK.B": decimal.NewFromInt(400),
		"AAPL":  decimal.NewFromInt(180),
	}}
	a, err := build(t, "congress", "", Deps{Congress: src}).Allocate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"NVDA": "0.6", "MSFT": "0.4"}, weights(a))
	assert.True(t, a.LiquidateUntargeted)
	assert.Equal(t, 1, src.refreshes)
	assert.Equal(t, 28, src.days)
}

func TestCongressFallsBackToStableETF(t *testing.T) {
	a, err := build(t, "congress", "", Deps{Congress: &fakeCongress{}}).Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SGOV": "1"}, weights(a))
}

type fakeComments struct {
	bodies []string
}

func (f fakeComments) Comments(context.Context, string, int) ([]reddit.Comment, error) {
	out := make([]reddit.Comment, len(f.bodies))
	for i, b := range f.bodies {
		out[i] = reddit.Comment{PostID: "p", Body: b}
	}
	return out, nil
}

type keywordScorer struct{}

func (keywordScorer) Score(text string) float64 {
	switch {
	case strings.Contains(text, "moon"):
		return 0.8
	case strings.Contains(text, "ok"):
		return 0.2
	case strings.Contains(text, "dump"):
		return -0.5
	}
	return 0
}

func TestSentimentWeightsPositiveSymbols(t *testing.T) {
	src := fakeComments{bodies: []string{
		"bitcoin moon", "btc moon",
		"eth ok", "ethereum ok",
		"doge dump", "dogecoin dump",
		"sol moon",
	}}
	s := build(t, "sentiment", `{"minimum_mentions":1}`, Deps{Comments: src, Scorer: keywordScorer{}})
	a, err := s.Allocate(context.Background(), &fakeMarket{})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"BTC/USD": "0.8", "ETH/USD": "0.2"}, weights(a))
	assert.Equal(t, "0.5", a.Tradeable.String())
	assert.Equal(t, "0.05", a.DriftThreshold.String())
	assert.True(t, a.LiquidateUntargeted)
}
