// Package congress tracks stock trades disclosed by members of the US
// Congress, fetched from QuiverQuant and cached in SQLite.
package congress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.quiverquant.com/beta"

type Chamber string

const (
	House  Chamber = "house"
	Senate Chamber = "senate"
)

const TransactionPurchase = "Purchase"

type Trade struct {
	Chamber     Chamber
	Member      string
	Ticker      string
	Transaction string
	Range       string
	Date        time.Time
}

// wire shape of the live trading endpoints; the member field name depends on
// the chamber.
type quiverTrade struct {
	Representative string `json:"Representative"`
	Senator        string `json:"Senator"`
	Ticker         string `json:"Ticker"`
	Transaction    string `json:"Transaction"`
	Range          string `json:"Range"`
	Date           string `json:"Date"`
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Trades returns the live trade feed for one chamber.
func (c *Client) Trades(ctx context.Context, chamber Chamber) ([]Trade, error) {
	if c.token == "" {
		return nil, fmt.Errorf("quiver api token is not configured")
	}
	url := fmt.Sprintf("%s/live/%strading", c.baseURL, chamber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("quiver error %d: %s", resp.StatusCode, string(body))
	}

	var raw []quiverTrade
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	trades := make([]Trade, 0, len(raw))
	for _, r := range raw {
		date, err := parseDate(r.Date)
		if err != nil || r.Ticker == "" {
			continue
		}
		member := r.Representative
		if member == "" {
			member = r.Senator
		}
		trades = append(trades, Trade{
			Chamber:     chamber,
			Member:      member,
			Ticker:      strings.ToUpper(strings.TrimSpace(r.Ticker)),
			Transaction: r.Transaction,
			Range:       r.Range,
			Date:        date,
		})
	}
	return trades, nil
}

func parseDate(s string) (time.Time, error) {
	if len(s) > len(time.DateOnly) {
		s = s[:len(time.DateOnly)]
	}
	return time.Parse(time.DateOnly, s)
}
