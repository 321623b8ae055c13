package catalog

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"playshelf/internal/common/logging"
	"playshelf/internal/query"
)

// Fetcher resolves reference IDs of one endpoint to names
type Fetcher func(ctx context.Context, endpoint query.Endpoint, ids []int64) (map[int64]string, error)

// Resolver turns games into catalog entries, resolving platform and genre
// names through a long-lived reference cache.
type Resolver struct {
	names  *gocache.Cache
	fetch  Fetcher
	logger logging.Logger
}

// NewResolver creates a Resolver whose names live for ttl
func NewResolver(fetch Fetcher, ttl time.Duration, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Resolver{
		names:  gocache.New(ttl, 2*ttl),
		fetch:  fetch,
		logger: logger.WithFields(logging.String("component", "catalog")),
	}
}

// Entries resolves games in order. Platform and genre lookups for names not
// yet cached run in parallel; either failing fails the whole call.
func (r *Resolver) Entries(ctx context.Context, games []Game) ([]CatalogEntry, error) {
	var platformIDs, genreIDs []int64
	for _, g := range games {
		platformIDs = append(platformIDs, g.Platforms...)
		genreIDs = append(genreIDs, g.Genres...)
	}

	var platforms, genres map[int64]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		platforms, err = r.resolve(gctx, query.EndpointPlatforms, platformIDs)
		return err
	})
	g.Go(func() error {
		var err error
		genres, err = r.resolve(gctx, query.EndpointGenres, genreIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]CatalogEntry, len(games))
	for i, game := range games {
		entries[i] = entry(game, platforms, genres)
	}
	return entries, nil
}

// resolve returns names for ids, fetching only those not cached.
func (r *Resolver) resolve(ctx context.Context, endpoint query.Endpoint, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if name, ok := r.names.Get(cacheKey(endpoint, id)); ok {
			out[id] = name.(string)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	returned := 0
	for start := 0; start < len(missing); start += query.MaxLimit {
		end := start + query.MaxLimit
		if end > len(missing) {
			end = len(missing)
		}
		fetched, err := r.fetch(ctx, endpoint, missing[start:end])
		if err != nil {
			return nil, err
		}
		for id, name := range fetched {
			r.names.SetDefault(cacheKey(endpoint, id), name)
			out[id] = name
		}
		returned += len(fetched)
	}
	if returned < len(missing) {
		r.logger.Debug("Provider did not return every referenced id",
			logging.String("endpoint", string(endpoint)),
			logging.Int("requested", len(missing)),
			logging.Int("returned", returned),
		)
	}
	return out, nil
}

func cacheKey(endpoint query.Endpoint, id int64) string {
	return string(endpoint) + ":" + strconv.FormatInt(id, 10)
}
