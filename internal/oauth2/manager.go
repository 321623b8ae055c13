package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"playshelf/internal/circuitbreaker"
	"playshelf/internal/common/errors"
	commonhttp "playshelf/internal/common/http"
	"playshelf/internal/common/logging"
	"playshelf/internal/metrics"
)

const (
	renewKey = "token"

	// DefaultRequestTimeout bounds one renewal round-trip when Config leaves it unset
	DefaultRequestTimeout = 10 * time.Second

	maxTokenBodyBytes = 64 << 10
)

// Config holds the client-credentials parameters for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// SafetyMargin renews a token this long before it actually expires
	SafetyMargin time.Duration
	// RequestTimeout bounds a renewal independently of any caller
	RequestTimeout time.Duration
}

// String never prints the client secret.
func (c Config) String() string {
	return fmt.Sprintf("Config{client_id=%s, client_secret=[REDACTED], token_url=%s, safety_margin=%s}",
		c.ClientID, c.TokenURL, c.SafetyMargin)
}

func (c Config) validate() error {
	switch {
	case c.ClientID == "":
		return errors.ConfigError("oauth2: client ID is required")
	case c.ClientSecret == "":
		return errors.ConfigError("oauth2: client secret is required")
	case c.TokenURL == "":
		return errors.ConfigError("oauth2: token URL is required")
	case c.SafetyMargin < 0:
		return errors.ConfigError("oauth2: safety margin must not be negative")
	}
	if _, err := url.ParseRequestURI(c.TokenURL); err != nil {
		return errors.ConfigError("oauth2: token URL is invalid").WithCause(err)
	}
	return nil
}

// Manager obtains, caches and shares the app access token.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	clock      clock.Clock
	breaker    *circuitbreaker.Breaker
	logger     logging.Logger

	// mu guards token; renewals replace it wholesale
	mu    sync.RWMutex
	token *Token

	flight   singleflight.Group
	renewals atomic.Int64
}

// Option customizes a Manager
type Option func(*Manager)

// WithHTTPClient sets the client used for the token endpoint
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithClock sets the clock used for issue times and validity checks
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithInitialToken seeds the cache, e.g. with a token carried over from a previous run
func WithInitialToken(tok *Token) Option {
	return func(m *Manager) {
		m.token = tok
	}
}

// WithBreaker protects the token endpoint with a circuit breaker
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(m *Manager) {
		m.breaker = b
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager. Nothing is fetched until the first GetValidToken.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}

	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.httpClient == nil {
		m.httpClient = commonhttp.NewHTTPClient(commonhttp.WithTimeout(cfg.RequestTimeout))
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	m.logger = m.logger.WithFields(logging.String("component", "oauth2"))

	return m, nil
}

// GetValidToken returns a token that is valid for at least the safety margin.
// A renewal started here is not cancelled when ctx is; ctx only bounds how
// long this caller waits for it.
func (m *Manager) GetValidToken(ctx context.Context) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext("token acquisition", err)
	}

	if tok := m.cached(); tok != nil {
		return tok, nil
	}

	ch := m.flight.DoChan(renewKey, func() (interface{}, error) {
		return m.renew(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, errors.FromContext("token acquisition", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	}
}

// Invalidate drops tok if it is still the cached token and reports whether it
// did. Callers pass the token the provider rejected; a token that was already
// replaced is left alone.
func (m *Manager) Invalidate(tok *Token) bool {
	if tok == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || m.token.AccessToken != tok.AccessToken {
		return false
	}
	m.token = nil
	m.logger.Info("Access token invalidated")
	return true
}

// Renewals returns how many renewal round-trips have been issued
func (m *Manager) Renewals() int64 {
	return m.renewals.Load()
}

func (m *Manager) cached() *Token {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token.Valid(m.clock.Now(), m.cfg.SafetyMargin) {
		return m.token
	}
	return nil
}

// renew runs inside the single flight.
func (m *Manager) renew(callerCtx context.Context) (*Token, error) {
	// A flight that finished just before this one started may have stored a token
	if tok := m.cached(); tok != nil {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), m.cfg.RequestTimeout)
	defer cancel()

	m.renewals.Add(1)
	start := m.clock.Now()

	var tok *Token
	call := func() error {
		var err error
		tok, err = m.requestToken(ctx)
		return err
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(ctx, call)
		if circuitbreaker.IsRejected(err) {
			err = errors.AuthError("token endpoint circuit breaker is open", err)
		}
	} else {
		err = call()
	}

	if err != nil {
		metrics.TokenRenewals.WithLabelValues("failure").Inc()
		m.logger.Error("Token renewal failed", err,
			logging.Bool("retryable", errors.IsRetryable(err)),
		)
		return nil, err
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	metrics.TokenRenewals.WithLabelValues("success").Inc()
	m.logger.Info("Access token renewed",
		logging.Duration("ttl", tok.TTL),
		logging.Duration("elapsed", m.clock.Since(start)),
	)
	return tok, nil
}

// requestToken performs the client-credentials grant.
func (m *Manager) requestToken(ctx context.Context) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", m.cfg.ClientID)
	data.Set("client_secret", m.cfg.ClientSecret)
	data.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.InternalError("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errors.RetryableAuthError("token request failed", stripURL(err))
	}

	body, err := commonhttp.ReadBody(resp, maxTokenBodyBytes)
	if err != nil {
		return nil, errors.RetryableAuthError("failed to read token response", err).
			WithContext("status", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errors.AuthError("malformed token response", err).WithContext("status", resp.StatusCode)
	}
	if tokenResp.AccessToken == "" || tokenResp.ExpiresIn <= 0 {
		return nil, errors.AuthError("token response is missing access_token or expires_in", nil).
			WithContext("status", resp.StatusCode)
	}

	tokenType := tokenResp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &Token{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenType,
		IssuedAt:    m.clock.Now(),
		TTL:         time.Duration(tokenResp.ExpiresIn) * time.Second,
	}, nil
}

// statusError classifies a non-200 token response. 429 and 5xx are transient;
// anything else means the credentials or request are wrong.
func statusError(status int, body []byte) *errors.AppError {
	// Twitch answers {"status":400,"message":"..."}; RFC 6749 servers use error/error_description
	var errResp struct {
		Message     string `json:"message"`
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	reason := http.StatusText(status)
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Message != "":
			reason = errResp.Message
		case errResp.Error != "" && errResp.Description != "":
			reason = errResp.Error + ": " + errResp.Description
		case errResp.Error != "":
			reason = errResp.Error
		}
	}

	msg := fmt.Sprintf("token endpoint returned %d: %s", status, reason)
	var appErr *errors.AppError
	if status == http.StatusTooManyRequests || status >= 500 {
		appErr = errors.RetryableAuthError(msg, nil)
	} else {
		appErr = errors.AuthError(msg, nil)
	}
	return appErr.WithContext("status", status)
}

// stripURL drops the request URL from transport errors so logs never carry it.
func stripURL(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		return urlErr.Err
	}
	return err
}
