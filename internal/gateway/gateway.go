// Package gateway answers game searches and lookups against the provider,
// coordinating the access token, the request budget and the response cache.
//
// A lookup runs strictly in order: translate, check the cache, obtain a token,
// wait for the rate limiter, call the provider, parse, cache. A cache hit
// touches neither the token nor the limiter.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"

	"playshelf/internal/catalog"
	"playshelf/internal/common/cache"
	"playshelf/internal/common/errors"
	commonhttp "playshelf/internal/common/http"
	"playshelf/internal/common/logging"
	"playshelf/internal/metrics"
	"playshelf/internal/oauth2"
	"playshelf/internal/query"
	"playshelf/internal/ratelimit"
	"playshelf/internal/tracing"
)

// Config holds the gateway's provider settings and retry budget
type Config struct {
	BaseURL  string
	ClientID string

	// RequestTimeout bounds every single upstream attempt
	RequestTimeout time.Duration
	CacheTTL       time.Duration
	ReferenceTTL   time.Duration

	// RateLimitRetries is how many 429 responses are absorbed before giving up
	RateLimitRetries  int
	DefaultRetryAfter time.Duration
	MaxRetryAfter     time.Duration

	// UpstreamRetries is how many 5xx, transport or deadline failures are retried
	UpstreamRetries   int
	TokenRetries      int
	RetryInitialDelay time.Duration
}

// DefaultConfig returns the documented defaults for everything but BaseURL and ClientID
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    10 * time.Second,
		CacheTTL:          5 * time.Minute,
		ReferenceTTL:      24 * time.Hour,
		RateLimitRetries:  3,
		DefaultRetryAfter: time.Second,
		MaxRetryAfter:     30 * time.Second,
		UpstreamRetries:   2,
		TokenRetries:      3,
		RetryInitialDelay: 200 * time.Millisecond,
	}
}

func (c Config) validate() error {
	switch {
	case c.ClientID == "":
		return errors.ConfigError("gateway: client ID is required")
	case c.RequestTimeout <= 0:
		return errors.ConfigError("gateway: request timeout must be positive")
	case c.CacheTTL <= 0:
		return errors.ConfigError("gateway: cache ttl must be positive")
	case c.ReferenceTTL <= 0:
		return errors.ConfigError("gateway: reference ttl must be positive")
	case c.RateLimitRetries < 0 || c.UpstreamRetries < 0:
		return errors.ConfigError("gateway: retry counts must not be negative")
	case c.TokenRetries < 1:
		return errors.ConfigError("gateway: token retries must be at least 1")
	case c.DefaultRetryAfter < 0 || c.MaxRetryAfter < c.DefaultRetryAfter:
		return errors.ConfigError("gateway: max retry-after must be at least the default retry-after")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return errors.ConfigError("gateway: base URL is invalid").WithCause(err)
	}
	return nil
}

// TokenSource hands out and revokes provider access tokens
type TokenSource interface {
	GetValidToken(ctx context.Context) (*oauth2.Token, error)
	Invalidate(tok *oauth2.Token) bool
}

// Limiter admits upstream requests
type Limiter interface {
	Acquire(ctx context.Context) (*ratelimit.Permit, error)
}

// Deps are the gateway's collaborators. Tokens, Limiter and Pages are required.
type Deps struct {
	Tokens     TokenSource
	Limiter    Limiter
	Pages      cache.Store[catalog.SearchResultPage]
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     logging.Logger
}

// Gateway is safe for concurrent use
type Gateway struct {
	cfg        Config
	tokens     TokenSource
	limiter    Limiter
	pages      cache.Store[catalog.SearchResultPage]
	resolver   *catalog.Resolver
	httpClient *http.Client
	clock      clock.Clock
	logger     logging.Logger
}

// New creates a Gateway
func New(deps Deps, cfg Config) (*Gateway, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Tokens == nil || deps.Limiter == nil || deps.Pages == nil {
		return nil, errors.ConfigError("gateway: token source, limiter and page cache are required")
	}

	g := &Gateway{
		cfg:        cfg,
		tokens:     deps.Tokens,
		limiter:    deps.Limiter,
		pages:      deps.Pages,
		httpClient: deps.HTTPClient,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}
	if g.httpClient == nil {
		// Attempts are bounded by RequestTimeout through their context
		g.httpClient = commonhttp.NewHTTPClient()
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	if g.logger == nil {
		g.logger = logging.GetGlobalLogger()
	}
	g.logger = g.logger.WithFields(logging.String("component", "gateway"))
	g.resolver = catalog.NewResolver(g.references, cfg.ReferenceTTL, g.logger)

	return g, nil
}

// Search returns one page of games matching q
func (g *Gateway) Search(ctx context.Context, q query.SearchQuery) (*catalog.SearchResultPage, error) {
	start := g.clock.Now()
	ctx, span := tracing.StartSpan(ctx, "gateway.search")

	page, err := g.search(ctx, q)

	tracing.End(span, err)
	metrics.RecordOperation("search", outcome(err), start)
	return page, err
}

func (g *Gateway) search(ctx context.Context, q query.SearchQuery) (*catalog.SearchResultPage, error) {
	tq, err := query.Translate(q)
	if err != nil {
		return nil, err
	}
	return g.page(ctx, tq)
}

// GetEntry returns the game with the given provider ID
func (g *Gateway) GetEntry(ctx context.Context, id int64) (*catalog.CatalogEntry, error) {
	start := g.clock.Now()
	ctx, span := tracing.StartSpan(ctx, "gateway.get_entry", attribute.Int64("game.id", id))

	entry, err := g.getEntry(ctx, id)

	tracing.End(span, err)
	metrics.RecordOperation("get_entry", outcome(err), start)
	return entry, err
}

func (g *Gateway) getEntry(ctx context.Context, id int64) (*catalog.CatalogEntry, error) {
	tq, err := query.TranslateLookup(id)
	if err != nil {
		return nil, err
	}
	page, err := g.page(ctx, tq)
	if err != nil {
		return nil, err
	}
	if len(page.Entries) == 0 {
		return nil, errors.NotFoundError("game " + strconv.FormatInt(id, 10))
	}
	return &page.Entries[0], nil
}

// page serves tq from the cache or the provider.
func (g *Gateway) page(ctx context.Context, tq query.TranslatedQuery) (*catalog.SearchResultPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext("search", err)
	}

	key := tq.Key()
	if page, ok := g.pages.Get(ctx, key); ok {
		return &page, nil
	}

	logger := g.logger.WithContext(ctx)

	status, body, err := g.call(ctx, tq)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeValidation) {
			_ = g.pages.Delete(ctx, key)
		}
		return nil, err
	}

	games, err := catalog.ParseGames(status, body)
	if err != nil {
		if appErr, ok := errors.As(err); ok {
			logger.Warn("Unexpected provider response",
				logging.String("endpoint", string(tq.Endpoint)),
				logging.Any("status", appErr.Context["status"]),
				logging.Any("shape", appErr.Context["shape"]),
			)
		}
		return nil, err
	}

	entries, err := g.resolver.Entries(ctx, games)
	if err != nil {
		return nil, err
	}

	page := catalog.SearchResultPage{
		Key:     key,
		Offset:  tq.Offset,
		Limit:   tq.Limit,
		Count:   len(entries),
		Entries: entries,
	}
	if err := g.pages.Set(ctx, key, page, g.cfg.CacheTTL); err != nil {
		logger.Warn("Failed to cache result page", logging.Err(err))
	}
	return &page, nil
}

// references is the resolver's Fetcher
func (g *Gateway) references(ctx context.Context, endpoint query.Endpoint, ids []int64) (map[int64]string, error) {
	tq, err := query.TranslateReference(endpoint, ids)
	if err != nil {
		return nil, err
	}
	status, body, err := g.call(ctx, tq)
	if err != nil {
		return nil, err
	}
	return catalog.ParseReferences(status, body)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.GetType(err))
}
