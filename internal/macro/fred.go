// Package macro fetches economic time series from FRED.
package macro

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://fred.stlouisfed.org/graph/fredgraph.csv"
	// Ten-year treasury constant maturity rate.
	SeriesTenYear = "DGS10"
	// Federal debt as a percent of GDP.
	SeriesDebtToGDP = "GFDEGDQ188S"
)

var ErrNoObservation = errors.New("no observation")

type Observation struct {
	Date  time.Time
	Value float64
}

type Series struct {
	ID           string
	Observations []Observation
}

// ValueAt returns the most recent observation on or before t.
func (s Series) ValueAt(t time.Time) (float64, error) {
	i := sort.Search(len(s.Observations), func(i int) bool {
		return s.Observations[i].Date.After(t)
	})
	if i == 0 {
		return 0, fmt.Errorf("%s at %s: %w", s.ID, t.Format(time.DateOnly), ErrNoObservation)
	}
	return s.Observations[i-1].Value, nil
}

func (s Series) Last() (Observation, error) {
	if len(s.Observations) == 0 {
		return Observation{}, fmt.Errorf("%s: %w", s.ID, ErrNoObservation)
	}
	return s.Observations[len(s.Observations)-1], nil
}

// DailyForwardFill expands a sparse series (quarterly, business days) into one
// observation per calendar day through until, carrying the last value forward.
func (s Series) DailyForwardFill(until time.Time) Series {
	out := Series{ID: s.ID}
	if len(s.Observations) == 0 {
		return out
	}
	until = truncateDay(until)
	next := 0
	var value float64
	for day := truncateDay(s.Observations[0].Date); !day.After(until); day = day.AddDate(0, 0, 1) {
		for next < len(s.Observations) && !truncateDay(s.Observations[next].Date).After(day) {
			value = s.Observations[next].Value
			next++
		}
		out.Observations = append(out.Observations, Observation{Date: day, Value: value})
	}
	return out
}

// Change is the fractional change between the last observation and the one lag
// observations earlier.
func (s Series) Change(lag int) (float64, error) {
	n := len(s.Observations)
	if lag <= 0 || n <= lag {
		return 0, fmt.Errorf("%s change over %d: %w", s.ID, lag, ErrNoObservation)
	}
	base := s.Observations[n-1-lag].Value
	if base == 0 {
		return 0, fmt.Errorf("%s change over %d: zero base value", s.ID, lag)
	}
	return s.Observations[n-1].Value/base - 1, nil
}

// ParseCSV reads the two-column fredgraph CSV export. Missing values ("." or
// empty) are dropped.
func ParseCSV(id string, r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return Series{}, fmt.Errorf("read %s csv: %w", id, err)
	}
	series := Series{ID: id}
	for i, rec := range records {
		if i == 0 || len(rec) < 2 {
			continue
		}
		raw := strings.TrimSpace(rec[1])
		if raw == "" || raw == "." {
			continue
		}
		date, err := time.Parse(time.DateOnly, strings.TrimSpace(rec[0]))
		if err != nil {
			return Series{}, fmt.Errorf("%s row %d: parse date: %w", id, i, err)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Series{}, fmt.Errorf("%s row %d: parse value: %w", id, i, err)
		}
		series.Observations = append(series.Observations, Observation{Date: date, Value: value})
	}
	sort.Slice(series.Observations, func(a, b int) bool {
		return series.Observations[a].Date.Before(series.Observations[b].Date)
	})
	return series, nil
}

type cached struct {
	series  Series
	expires time.Time
}

type Client struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		ttl:     time.Hour,
		now:     time.Now,
		log:     log.With().Str("component", "fred").Logger(),
		cache:   make(map[string]cached),
	}
}

// Series returns the full history for id, served from cache for an hour.
func (c *Client) Series(ctx context.Context, id string) (Series, error) {
	c.mu.Lock()
	if entry, ok := c.cache[id]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.series, nil
	}
	c.mu.Unlock()

	series, err := c.fetch(ctx, id)
	if err != nil {
		return Series{}, err
	}

	c.mu.Lock()
	c.cache[id] = cached{series: series, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	c.log.Debug().Str("series", id).Int("observations", len(series.Observations)).Msg("fetched series")
	return series, nil
}

func (c *Client) fetch(ctx context.Context, id string) (Series, error) {
	u := c.baseURL + "?id=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Series{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Series{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Series{}, fmt.Errorf("fred error %d: %s", resp.StatusCode, string(body))
	}
	return ParseCSV(id, resp.Body)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
