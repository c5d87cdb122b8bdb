package md

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stratbot/internal/asset"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("price unavailable")

type Timeframe string

const (
	Minute Timeframe = "minute"
	Hour   Timeframe = "hour"
	Day    Timeframe = "day"
)

type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Close
	}
	return out
}

func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Volume
	}
	return out
}

// History serves latest prices and historical bars from Alpaca market data.
type History struct {
	client *marketdata.Client
	feed   marketdata.Feed
	now    func() time.Time
	log    zerolog.Logger
}

func NewHistory(apiKey, apiSecret, feed string, log zerolog.Logger) *History {
	feedType := parseFeed(feed)
	return &History{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		feed: feedType,
		now:  time.Now,
		log:  log.With().Str("component", "market_data").Logger(),
	}
}

func (h *History) Now() time.Time {
	return h.now()
}

// LastPrice returns the latest trade price. Any failure is reported as
// ErrNoPrice so callers can skip the instrument.
func (h *History) LastPrice(ctx context.Context, inst asset.Instrument) (decimal.Decimal, error) {
	var price float64
	if inst.Class == asset.Crypto {
		trade, err := h.client.GetLatestCryptoTrade(inst.Key(), marketdata.GetLatestCryptoTradeRequest{})
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrNoPrice, inst.Key(), err)
		}
		if trade != nil {
			price = trade.Price
		}
	} else {
		trade, err := h.client.GetLatestTrade(inst.Key(), marketdata.GetLatestTradeRequest{Feed: h.feed})
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrNoPrice, inst.Key(), err)
		}
		if trade != nil {
			price = trade.Price
		}
	}
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, inst.Key())
	}
	h.log.Debug().Str("symbol", inst.Key()).Float64("price", price).Msg("latest price")
	return decimal.NewFromFloat(price), nil
}

// Bars returns up to n of the most recent bars, oldest first.
func (h *History) Bars(ctx context.Context, inst asset.Instrument, n int, tf Timeframe) ([]Bar, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bar count must be positive, got %d", n)
	}
	end := h.now()
	start := end.Add(-lookback(n, tf))

	var bars []Bar
	if inst.Class == asset.Crypto {
		raw, err := h.client.GetCryptoBars(inst.Key(), marketdata.GetCryptoBarsRequest{
			TimeFrame: timeFrame(tf),
			Start:     start,
			End:       end,
		})
		if err != nil {
			return nil, fmt.Errorf("crypto bars %s: %w", inst.Key(), err)
		}
		bars = make([]Bar, 0, len(raw))
		for _, b := range raw {
			bars = append(bars, Bar{Time: b.Timestamp, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
		}
	} else {
		raw, err := h.client.GetBars(inst.Key(), marketdata.GetBarsRequest{
			TimeFrame:  timeFrame(tf),
			Adjustment: marketdata.All,
			Start:      start,
			End:        end,
			Feed:       h.feed,
		})
		if err != nil {
			return nil, fmt.Errorf("bars %s: %w", inst.Key(), err)
		}
		bars = make([]Bar, 0, len(raw))
		for _, b := range raw {
			bars = append(bars, Bar{Time: b.Timestamp, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: float64(b.Volume)})
		}
	}

	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	h.log.Debug().Str("symbol", inst.Key()).Str("timeframe", string(tf)).Int("bars", len(bars)).Msg("bars fetched")
	return bars, nil
}

// lookback is a calendar window wide enough to contain n bars once weekends
// and closed sessions are removed.
func lookback(n int, tf Timeframe) time.Duration {
	switch tf {
	case Minute:
		return time.Duration(n)*time.Minute + 4*24*time.Hour
	case Hour:
		return time.Duration(n)*3*time.Hour + 4*24*time.Hour
	default:
		return time.Duration(n*2+10) * 24 * time.Hour
	}
}

func timeFrame(tf Timeframe) marketdata.TimeFrame {
	switch tf {
	case Minute:
		return marketdata.OneMin
	case Hour:
		return marketdata.OneHour
	default:
		return marketdata.OneDay
	}
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
