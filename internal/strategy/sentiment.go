package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stratbot/internal/asset"
	"stratbot/internal/rebalance"
	"stratbot/internal/sentiment"
)

// Sentiment weights crypto assets by how positively a subreddit talks about
// them.
type Sentiment struct {
	Symbols         map[string][]string `json:"sentiment_symbols"`
	Subreddit       string              `json:"subreddit_name"`
	PostLimit       int                 `json:"post_limit"`
	MinimumMentions int                 `json:"minimum_mentions"`
	Tradeable       decimal.Decimal     `json:"tradeable_portfolio_pct"`
	DriftThreshold  decimal.Decimal     `json:"portfolio_drift_threshold"`
	Class           asset.Class         `json:"class"`

	comments CommentSource
	scorer   sentiment.Scorer
	quote    string
	log      zerolog.Logger
}

func defaultSentiment() *Sentiment {
	return &Sentiment{
		Symbols: map[string][]string{
			"BTC":  {"Bitcoin"},
			"ETH":  {"Ethereum"},
			"SOL":  {"Solana"},
			"LTC":  {"Litecoin"},
			"MKR":  nil,
			"UNI":  {"Uniswap"},
			"SHIB": nil,
			"DOGE": {"Dogecoin"},
		},
		Subreddit:       "cryptocurrency",
		PostLimit:       20,
		MinimumMentions: 5,
		Tradeable:       decimal.RequireFromString("0.5"),
		DriftThreshold:  decimal.RequireFromString("0.05"),
		Class:           asset.Crypto,
	}
}

func buildSentiment(raw json.RawMessage, deps Deps) (Strategy, error) {
	s := defaultSentiment()
	if err := decodeParams(raw, s); err != nil {
		return nil, err
	}
	if deps.Comments == nil || deps.Scorer == nil {
		return nil, errors.New("comment source and scorer are required")
	}
	if len(s.Symbols) == 0 {
		return nil, errors.New("sentiment_symbols must not be empty")
	}
	if s.Subreddit == "" || s.PostLimit <= 0 {
		return nil, errors.New("subreddit_name and a positive post_limit are required")
	}
	if s.Tradeable.LessThanOrEqual(decimal.Zero) || s.Tradeable.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("tradeable_portfolio_pct must be within (0,1]")
	}
	if _, err := asset.ParseClass(string(s.Class)); err != nil {
		return nil, err
	}
	s.comments, s.scorer, s.quote = deps.Comments, deps.Scorer, deps.Quote
	s.log = withLogger(deps.Log, s.Name())
	return s, nil
}

func (s *Sentiment) Name() string { return "sentiment" }

func (s *Sentiment) Allocate(ctx context.Context, _ Market) (Allocation, error) {
	comments, err := s.comments.Comments(ctx, s.Subreddit, s.PostLimit)
	if err != nil {
		return Allocation{}, fmt.Errorf("comments: %w", err)
	}
	analyzer := sentiment.NewAnalyzer(s.Symbols, s.scorer)
	for _, c := range comments {
		analyzer.Parse(c.Body)
	}
	scores := analyzer.Scores()

	symbols := make([]string, 0, len(scores))
	sum := 0.0
	for sym, score := range scores {
		if score.Average > 0 && score.Mentions() > s.MinimumMentions {
			symbols = append(symbols, sym)
			sum += score.Average
		}
	}
	sort.Strings(symbols)

	alloc := Allocation{
		LiquidateUntargeted: true,
		Tradeable:           s.Tradeable,
		DriftThreshold:      s.DriftThreshold,
		Reason:              "sentiment_weights",
	}
	for _, sym := range symbols {
		score := scores[sym]
		weight := decimal.NewFromFloat(score.Average / sum).Truncate(6)
		s.log.Info().Str("symbol", sym).Float64("score", score.Average).Int("mentions", score.Mentions()).
			Str("weight", weight.String()).Msg("sentiment")
		alloc.Targets = append(alloc.Targets, rebalance.Target{Instrument: instrument(sym, s.Class, s.quote), Weight: weight})
	}
	if len(alloc.Targets) == 0 {
		alloc.Reason = "no_positive_sentiment"
	}
	return alloc, nil
}
