package app

import (
	"playshelf/internal/catalog"
	"playshelf/internal/circuitbreaker"
	"playshelf/internal/common/cache"
	commonhttp "playshelf/internal/common/http"
	"playshelf/internal/common/logging"
	"playshelf/internal/gateway"
	"playshelf/internal/metrics"
	"playshelf/internal/oauth2"
	"playshelf/internal/ratelimit"
)

const tokenBreakerName = "token-endpoint"

func (app *App) initializeGateway() error {
	cfg := app.Config

	app.Breaker = circuitbreaker.New(tokenBreakerName, circuitbreaker.TokenEndpointConfig, app.Logger,
		func(name string, from, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		})
	metrics.BreakerState.WithLabelValues(tokenBreakerName).Set(float64(circuitbreaker.StateClosed))

	tokenClient := commonhttp.NewHTTPClient(commonhttp.WithTimeout(cfg.RequestTimeout), commonhttp.WithTracing())
	tokens, err := oauth2.NewManager(oauth2.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       cfg.TokenURL,
		SafetyMargin:   cfg.TokenSafetyMargin,
		RequestTimeout: cfg.RequestTimeout,
	}, oauth2.WithBreaker(app.Breaker), oauth2.WithLogger(app.Logger), oauth2.WithHTTPClient(tokenClient))
	if err != nil {
		return err
	}
	app.Tokens = tokens

	limiter, err := ratelimit.New(ratelimit.Config{
		Capacity:        cfg.RateLimitCapacity,
		RefillPerSecond: cfg.RateLimitRefillPerSecond,
		MaxInFlight:     cfg.MaxInFlight,
	})
	if err != nil {
		return err
	}
	app.Limiter = limiter

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Capacity = cfg.CacheCapacity
	cacheCfg.TTL = cfg.CacheTTL
	cacheCfg.Logger = app.Logger
	if app.RedisClient != nil {
		cacheCfg.RedisClient = app.RedisClient.Redis()
	}
	pages, err := cache.New[catalog.SearchResultPage](cacheCfg)
	if err != nil {
		return err
	}
	app.Pages = pages

	gwCfg := gateway.DefaultConfig()
	gwCfg.BaseURL = cfg.IGDBBaseURL
	gwCfg.ClientID = cfg.ClientID
	gwCfg.RequestTimeout = cfg.RequestTimeout
	gwCfg.CacheTTL = cfg.CacheTTL
	gwCfg.ReferenceTTL = cfg.ReferenceTTL
	gwCfg.RateLimitRetries = cfg.RateLimitRetries
	gwCfg.DefaultRetryAfter = cfg.DefaultRetryAfter
	gwCfg.MaxRetryAfter = cfg.MaxRetryAfter
	gwCfg.UpstreamRetries = cfg.UpstreamRetries
	gwCfg.TokenRetries = cfg.TokenRetries
	gwCfg.RetryInitialDelay = cfg.RetryInitialDelay

	gw, err := gateway.New(gateway.Deps{
		Tokens:     tokens,
		Limiter:    limiter,
		Pages:      pages,
		HTTPClient: commonhttp.NewHTTPClient(commonhttp.WithTracing()),
		Logger:     app.Logger,
	}, gwCfg)
	if err != nil {
		return err
	}
	app.Gateway = gw

	app.Logger.Info("Gateway: Ready",
		logging.String("base_url", cfg.IGDBBaseURL),
		logging.Int("rate_limit_capacity", cfg.RateLimitCapacity),
		logging.Int("max_in_flight", cfg.MaxInFlight),
		logging.Bool("shared_cache", app.RedisClient != nil),
	)
	return nil
}
