package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"playshelf/internal/catalog"
	"playshelf/internal/common/errors"
	commonhttp "playshelf/internal/common/http"
	"playshelf/internal/common/logging"
	"playshelf/internal/common/utils"
	"playshelf/internal/metrics"
	"playshelf/internal/oauth2"
	"playshelf/internal/query"
	"playshelf/internal/tracing"
)

// response is one completed upstream attempt
type response struct {
	status int
	header http.Header
	body   []byte
}

// call sends tq until it succeeds or the retry budget for its failure class is
// spent:
//   - 401/403: the token is invalidated and the call retried once
//   - 429: wait per Retry-After, up to RateLimitRetries times
//   - 5xx, transport errors, attempt deadlines: exponential backoff, up to UpstreamRetries times
//
// Everything else is returned as is.
func (g *Gateway) call(ctx context.Context, tq query.TranslatedQuery) (int, []byte, error) {
	endpoint := string(tq.Endpoint)
	logger := g.logger.WithContext(ctx).WithFields(logging.String("endpoint", endpoint))

	var (
		reauthorized bool
		rateLimited  int
		failures     int
	)

	for {
		tok, err := g.token(ctx)
		if err != nil {
			return 0, nil, err
		}

		resp, err := g.attempt(ctx, tq, tok)
		if err != nil {
			if ctx.Err() != nil || !errors.IsRetryable(err) {
				return 0, nil, err
			}
			failures++
			if failures > g.cfg.UpstreamRetries {
				return 0, nil, err
			}
			logger.Warn("Upstream attempt failed, retrying", logging.Err(err), logging.Int("failures", failures))
			if err := g.backoff(ctx, failures); err != nil {
				return 0, nil, err
			}
			continue
		}

		switch {
		case resp.status == http.StatusOK:
			return resp.status, resp.body, nil

		case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
			if reauthorized {
				return 0, nil, errors.AuthError("provider rejected a freshly issued access token", nil).
					WithContext("status", resp.status)
			}
			reauthorized = true
			g.tokens.Invalidate(tok)
			logger.Info("Provider rejected the access token, renewing", logging.Int("status", resp.status))

		case resp.status == http.StatusTooManyRequests:
			wait := g.retryAfter(resp.header)
			rateLimited++
			if rateLimited > g.cfg.RateLimitRetries {
				return 0, nil, errors.RateLimitError(endpoint, wait).WithContext("attempts", rateLimited)
			}
			logger.Warn("Provider rate limited the request, backing off",
				logging.Duration("retry_after", wait), logging.Int("attempt", rateLimited))
			if err := utils.Sleep(ctx, g.clock, wait); err != nil {
				return 0, nil, errors.FromContext("rate limit backoff", err)
			}

		case resp.status >= 500:
			failures++
			err := errors.UpstreamError(fmt.Sprintf("provider returned %d", resp.status), resp.status, nil)
			if failures > g.cfg.UpstreamRetries {
				return 0, nil, err
			}
			logger.Warn("Provider error, retrying", logging.Int("status", resp.status), logging.Int("failures", failures))
			if err := g.backoff(ctx, failures); err != nil {
				return 0, nil, err
			}

		case resp.status == http.StatusBadRequest:
			return 0, nil, errors.ValidationError("query",
				"provider rejected the query: "+providerMessage(resp.body)).WithContext("status", resp.status)

		default:
			return 0, nil, errors.UpstreamError(
				fmt.Sprintf("provider returned %d: %s", resp.status, providerMessage(resp.body)), resp.status, nil)
		}
	}
}

// attempt sends one request through the rate limiter under RequestTimeout.
func (g *Gateway) attempt(ctx context.Context, tq query.TranslatedQuery, tok *oauth2.Token) (*response, error) {
	endpoint := string(tq.Endpoint)

	permit, err := g.limiter.Acquire(ctx)
	if err != nil {
		return nil, nonRetryable(err)
	}
	defer permit.Release()

	ctx, span := tracing.StartSpan(ctx, "gateway.upstream",
		attribute.String("endpoint", endpoint),
		attribute.Int64("rate_limit.wait_ms", permit.Waited.Milliseconds()),
	)
	resp, err := g.send(ctx, tq, tok)
	if resp != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.status))
	}
	tracing.End(span, err)
	return resp, err
}

func (g *Gateway) send(ctx context.Context, tq query.TranslatedQuery, tok *oauth2.Token) (*response, error) {
	endpoint := string(tq.Endpoint)

	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		g.cfg.BaseURL+"/"+endpoint, strings.NewReader(tq.Body))
	if err != nil {
		return nil, errors.InternalError("failed to create upstream request", err)
	}
	req.Header.Set("Client-ID", g.cfg.ClientID)
	req.Header.Set("Authorization", tok.Authorization())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "text/plain")

	start := g.clock.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(endpoint, 0, g.clock.Since(start))
		return nil, g.transportError(ctx, attemptCtx, endpoint, err)
	}

	body, err := commonhttp.ReadBody(resp, commonhttp.DefaultMaxBodyBytes)
	metrics.RecordUpstream(endpoint, resp.StatusCode, g.clock.Since(start))
	if err != nil {
		return nil, g.transportError(ctx, attemptCtx, endpoint, err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// transportError tells a caller that gave up apart from an attempt that ran
// out of time and from a broken connection.
func (g *Gateway) transportError(ctx, attemptCtx context.Context, endpoint string, err error) error {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.FromContext("upstream "+endpoint, ctxErr)
	}
	if stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return errors.TimeoutError("upstream "+endpoint, err)
	}
	return errors.UpstreamError("upstream request failed", 0, err)
}

// token obtains an access token, retrying transient renewal failures.
func (g *Gateway) token(ctx context.Context) (*oauth2.Token, error) {
	var tok *oauth2.Token
	retry := utils.RetryConfig{
		MaxAttempts:   g.cfg.TokenRetries,
		InitialDelay:  g.cfg.RetryInitialDelay,
		MaxDelay:      g.cfg.MaxRetryAfter,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: func(err error) bool {
			return ctx.Err() == nil && errors.IsType(err, errors.ErrTypeAuth) && errors.IsRetryable(err)
		},
		Clock: g.clock,
	}

	err := utils.RetryWithBackoff(ctx, retry, func() error {
		var err error
		tok, err = g.tokens.GetValidToken(ctx)
		return err
	})
	if err == nil {
		return tok, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.FromContext("token acquisition", ctxErr)
	}
	if appErr, ok := errors.As(err); ok {
		return nil, appErr
	}
	return nil, errors.AuthError("token acquisition failed", err)
}

func (g *Gateway) backoff(ctx context.Context, failures int) error {
	d := utils.Backoff(utils.RetryConfig{
		InitialDelay:  g.cfg.RetryInitialDelay,
		MaxDelay:      g.cfg.MaxRetryAfter,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}, failures)
	if err := utils.Sleep(ctx, g.clock, d); err != nil {
		return errors.FromContext("upstream backoff", err)
	}
	return nil
}

// retryAfter reads the provider's hint, capped at MaxRetryAfter.
func (g *Gateway) retryAfter(h http.Header) time.Duration {
	wait, ok := commonhttp.ParseRetryAfter(h.Get("Retry-After"), g.clock.Now())
	if !ok {
		wait = g.cfg.DefaultRetryAfter
	}
	if wait > g.cfg.MaxRetryAfter {
		wait = g.cfg.MaxRetryAfter
	}
	return wait
}

// nonRetryable keeps limiter timeouts from being retried as upstream failures.
func nonRetryable(err error) error {
	if appErr, ok := errors.As(err); ok && appErr.Retryable {
		clone := *appErr
		clone.Retryable = false
		return &clone
	}
	return err
}

// providerMessage extracts a short reason from an error body. Bodies are
// never logged whole.
func providerMessage(body []byte) string {
	var errs []struct {
		Title  string `json:"title"`
		Cause  string `json:"cause"`
		Status int    `json:"status"`
	}
	if json.Unmarshal(body, &errs) == nil && len(errs) > 0 && errs[0].Title != "" {
		if errs[0].Cause != "" {
			return errs[0].Title + ": " + errs[0].Cause
		}
		return errs[0].Title
	}
	var single struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &single) == nil && single.Message != "" {
		return single.Message
	}
	return "response shape " + catalog.ShapeClass(body)
}
