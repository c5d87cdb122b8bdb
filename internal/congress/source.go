package congress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Fetcher interface {
	Trades(ctx context.Context, chamber Chamber) ([]Trade, error)
}

// Source keeps the store in sync with the live feed, fetching at most once a
// day.
type Source struct {
	fetcher  Fetcher
	store    *Store
	chambers []Chamber
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewSource(fetcher Fetcher, store *Store, log zerolog.Logger, chambers ...Chamber) *Source {
	if len(chambers) == 0 {
		chambers = []Chamber{House}
	}
	return &Source{
		fetcher:  fetcher,
		store:    store,
		chambers: chambers,
		interval: 24 * time.Hour,
		now:      time.Now,
		log:      log.With().Str("component", "congress").Logger(),
	}
}

// Refresh pulls the feed when the last successful refresh is older than a day.
// Chambers that fail are reported but do not prevent the others from being
// stored.
func (s *Source) Refresh(ctx context.Context) error {
	last, err := s.store.lastRefresh(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	if !last.IsZero() && now.Sub(last) < s.interval {
		s.log.Debug().Time("last_refresh", last).Msg("congress trades are fresh")
		return nil
	}

	var errs []error
	added := 0
	for _, chamber := range s.chambers {
		trades, err := s.fetcher.Trades(ctx, chamber)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s trades: %w", chamber, err))
			continue
		}
		n, err := s.store.Upsert(ctx, trades)
		if err != nil {
			errs = append(errs, fmt.Errorf("store %s trades: %w", chamber, err))
			continue
		}
		added += n
	}
	if len(errs) == len(s.chambers) {
		return errors.Join(errs...)
	}
	if err := s.store.setLastRefresh(ctx, now); err != nil {
		errs = append(errs, err)
	}
	ev := s.log.Info().Int("new_trades", added)
	if latest, ok, err := s.store.Latest(ctx); err != nil {
		errs = append(errs, err)
	} else if ok {
		ev = ev.Str("newest_trade", latest.Format(time.DateOnly))
	}
	ev.Msg("congress trades refreshed")
	return errors.Join(errs...)
}

// PurchaseCounts counts purchases over the days window ending at asOf.
func (s *Source) PurchaseCounts(ctx context.Context, asOf time.Time, days int) (map[string]int, error) {
	to := asOf
	from := asOf.AddDate(0, 0, -days)
	return s.store.PurchaseCounts(ctx, from, to)
}
