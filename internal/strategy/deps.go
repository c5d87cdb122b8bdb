package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stratbot/internal/macro"
	"stratbot/internal/sentiment"
	"stratbot/internal/sentiment/reddit"
)

// Deps carries the external data sources strategies may need. Sources a
// strategy does not use may be nil.
type Deps struct {
	// Quote currency for crypto pairs.
	Quote    string
	Macro    MacroSource
	Congress CongressSource
	Comments CommentSource
	Scorer   sentiment.Scorer
	Log      zerolog.Logger
}

type MacroSource interface {
	Series(ctx context.Context, id string) (macro.Series, error)
}

type CongressSource interface {
	Refresh(ctx context.Context) error
	PurchaseCounts(ctx context.Context, asOf time.Time, days int) (map[string]int, error)
}

type CommentSource interface {
	Comments(ctx context.Context, subreddit string, postLimit int) ([]reddit.Comment, error)
}
