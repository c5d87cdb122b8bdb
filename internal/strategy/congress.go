package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/rebalance"
)

// Congress follows stocks that members of Congress bought repeatedly in the
// recent past, weighted by how often they were bought.
type Congress struct {
	DaysToHold  int    `json:"days_to_hold"`
	MinPurchase int    `json:"min_congress_purchase"`
	StableETF   string `json:"stable_etf"`

	source CongressSource
	log    zerolog.Logger
}

func defaultCongress() *Congress {
	return &Congress{DaysToHold: 28, MinPurchase: 4, StableETF: "SGOV"}
}

func buildCongress(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultCongress()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if deps.Congress == nil {
		return nil, errors.New("congress source is required")
	}
	if s.DaysToHold <= 0 || s.MinPurchase <= 0 {
		return nil, errors.New("days_to_hold and min_congress_purchase must be positive")
	}
	if s.StableETF == "" {
		return nil, errors.New("stable_etf is required")
	}
	s.source = deps.Congress
	s.log = withLogger(deps.Log, s.Name())
	return s, nil
}

func (s *Congress) Name() string { return "congress" }

func (s *Congress) Allocate(ctx context.Context, m Market) (Allocation, error) {
	if err := s.source.Refresh(ctx); err != nil {
		s.log.Warn().Err(err).Msg("congress refresh failed, using stored trades")
	}
	counts, err := s.source.PurchaseCounts(ctx, m.Now(), s.DaysToHold)
	if err != nil {
		return Allocation{}, err
	}

	tickers := make([]string, 0, len(counts))
	for t := range counts {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	kept := make(map[string]int64)
	var total int64
	for _, t := range tickers {
		n := counts[t]
		if n < s.MinPurchase {
			continue
		}
		// Share classes and warrants are not tradeable under these names.
		if strings.ContainsAny(t, ".$") {
			continue
		}
		if _, err := m.LastPrice(ctx, asset.NewStock(t)); err != nil {
			s.log.Debug().Err(err).Str("ticker", t).Msg("ticker has no price")
			continue
		}
		kept[t] = int64(n)
		total += int64(n)
	}

	alloc := Allocation{LiquidateUntargeted: true}
	if total == 0 {
		alloc.Targets = single(asset.NewStock(s.StableETF))
		alloc.Reason = "no_congress_purchases"
		return alloc, nil
	}
	for _, t := range tickers {
		n, ok := kept[t]
		if !ok {
			continue
		}
		weight := decimal.NewFromInt(n).Div(decimal.NewFromInt(total)).Truncate(6)
		alloc.Targets = append(alloc.Targets, rebalance.Target{Instrument: asset.NewStock(t), Weight: weight})
	}
	alloc.Reason = "congress_purchases"
	return alloc, nil
}
