// Package indicators wraps the technical analysis and statistics routines the
// strategies use. Inputs are closing prices ordered oldest first.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrInsufficientData = errors.New("insufficient data")

// EMA returns the latest exponential moving average over period.
func EMA(closes []float64, period int) (float64, error) {
	if err := need(closes, period); err != nil {
		return 0, err
	}
	return last(talib.Ema(closes, period))
}

// RSI returns the latest relative strength index (0-100).
func RSI(closes []float64, period int) (float64, error) {
	if err := need(closes, period+1); err != nil {
		return 0, err
	}
	return last(talib.Rsi(closes, period))
}

// MACD returns the MACD line and its signal line.
func MACD(closes []float64, fast, slow, signal int) ([]float64, []float64, error) {
	if err := need(closes, slow+signal); err != nil {
		return nil, nil, err
	}
	macd, sig, _ := talib.Macd(closes, fast, slow, signal)
	return macd, sig, nil
}

// Momentum is the fractional return from the first to the last close.
func Momentum(closes []float64) (float64, error) {
	if err := need(closes, 2); err != nil {
		return 0, err
	}
	first := closes[0]
	if first == 0 {
		return 0, fmt.Errorf("%w: first close is zero", ErrInsufficientData)
	}
	return closes[len(closes)-1]/first - 1, nil
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// RollingMean is the mean of the last window values.
func RollingMean(values []float64, window int) (float64, error) {
	if err := need(values, window); err != nil {
		return 0, err
	}
	return stat.Mean(values[len(values)-window:], nil), nil
}

// PctChange returns period-over-period fractional changes; the result is one
// element shorter than values.
func PctChange(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i-1] = values[i]/values[i-1] - 1
		}
	}
	return out
}

func Max(values []float64) (float64, error) {
	if err := need(values, 1); err != nil {
		return 0, err
	}
	return floats.Max(values), nil
}

func need(values []float64, n int) error {
	if n <= 0 {
		return fmt.Errorf("period must be positive, got %d", n)
	}
	if len(values) < n {
		return fmt.Errorf("%w: have %d values, need %d", ErrInsufficientData, len(values), n)
	}
	return nil
}

func last(series []float64) (float64, error) {
	if len(series) == 0 {
		return 0, ErrInsufficientData
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0, ErrInsufficientData
	}
	return v, nil
}
