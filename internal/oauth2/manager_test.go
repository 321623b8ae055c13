package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"playshelf/internal/circuitbreaker"
	"playshelf/internal/common/errors"
	"playshelf/internal/common/logging"
)

// tokenServer is a stub token endpoint that counts calls and can be held open.
type tokenServer struct {
	*httptest.Server
	calls   atomic.Int32
	status  atomic.Int32
	body    atomic.Value // string; overrides the generated token body
	release chan struct{}
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.status.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if ts.release != nil {
			<-ts.release
		}

		status := int(ts.status.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		if body, ok := ts.body.Load().(string); ok && body != "" {
			_, _ = w.Write([]byte(body))
			return
		}
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"status":` + fmt.Sprint(status) + `,"message":"stub failure"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: fmt.Sprintf("token-%d", n),
			ExpiresIn:   3600,
			TokenType:   "bearer",
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestManager(t *testing.T, url string, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	m, err := NewManager(Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		TokenURL:       url,
		SafetyMargin:   time.Minute,
		RequestTimeout: 2 * time.Second,
	}, opts...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestToken_Valid(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := &Token{AccessToken: "abc", IssuedAt: issued, TTL: time.Hour}

	tests := []struct {
		name   string
		token  *Token
		now    time.Time
		margin time.Duration
		want   bool
	}{
		{"fresh", tok, issued.Add(time.Minute), time.Minute, true},
		{"just before margin", tok, issued.Add(58*time.Minute + 59*time.Second), time.Minute, true},
		{"at margin boundary", tok, issued.Add(59 * time.Minute), time.Minute, false},
		{"expired", tok, issued.Add(2 * time.Hour), 0, false},
		{"nil token", nil, issued, 0, false},
		{"empty value", &Token{IssuedAt: issued, TTL: time.Hour}, issued, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Valid(tt.now, tt.margin); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToken_RedactsSecrets(t *testing.T) {
	tok := &Token{AccessToken: "super-secret", TokenType: "bearer", TTL: time.Hour}

	for _, out := range []string{tok.String(), fmt.Sprintf("%v", tok), fmt.Sprintf("%#v", tok)} {
		if strings.Contains(out, "super-secret") {
			t.Errorf("token formatting leaked the credential: %s", out)
		}
	}
	if tok.Authorization() != "Bearer super-secret" {
		t.Errorf("Authorization() = %q", tok.Authorization())
	}

	cfg := Config{ClientID: "id", ClientSecret: "hunter2"}
	if strings.Contains(cfg.String(), "hunter2") {
		t.Errorf("Config.String() leaked the secret: %s", cfg.String())
	}
}

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing client id", Config{ClientSecret: "s", TokenURL: "http://x"}},
		{"missing secret", Config{ClientID: "c", TokenURL: "http://x"}},
		{"missing url", Config{ClientID: "c", ClientSecret: "s"}},
		{"bad url", Config{ClientID: "c", ClientSecret: "s", TokenURL: "not a url"}},
		{"negative margin", Config{ClientID: "c", ClientSecret: "s", TokenURL: "http://x", SafetyMargin: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			if !errors.IsType(err, errors.ErrTypeConfig) {
				t.Errorf("NewManager() error = %v, want config error", err)
			}
		})
	}
}

func TestGetValidToken_SendsClientCredentials(t *testing.T) {
	var form atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		form.Store(r.PostForm.Encode())
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":5000,"token_type":"bearer"}`))
	}))
	defer server.Close()

	mock := clock.NewMock()
	m := newTestManager(t, server.URL, WithClock(mock))

	tok, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}

	if got := form.Load().(string); got != "client_id=client-id&client_secret=client-secret&grant_type=client_credentials" {
		t.Errorf("form = %s", got)
	}
	if tok.AccessToken != "abc" || tok.TTL != 5000*time.Second || !tok.IssuedAt.Equal(mock.Now()) {
		t.Errorf("token = %+v", *tok)
	}
}

func TestGetValidToken_CachedTokenSkipsNetwork(t *testing.T) {
	ts := newTokenServer(t)
	mock := clock.NewMock()
	initial := &Token{AccessToken: "initial", IssuedAt: mock.Now(), TTL: time.Hour}
	m := newTestManager(t, ts.URL, WithClock(mock), WithInitialToken(initial))

	for i := 0; i < 10; i++ {
		tok, err := m.GetValidToken(context.Background())
		if err != nil {
			t.Fatalf("GetValidToken() error = %v", err)
		}
		if tok.AccessToken != "initial" {
			t.Fatalf("AccessToken = %s, want initial", tok.AccessToken)
		}
	}

	if ts.calls.Load() != 0 || m.Renewals() != 0 {
		t.Errorf("calls = %d, renewals = %d; want 0", ts.calls.Load(), m.Renewals())
	}
}

func TestGetValidToken_ExpiredTokenIsRenewed(t *testing.T) {
	ts := newTokenServer(t)
	mock := clock.NewMock()
	initial := &Token{AccessToken: "initial", IssuedAt: mock.Now(), TTL: time.Hour}
	m := newTestManager(t, ts.URL, WithClock(mock), WithInitialToken(initial))

	mock.Add(2 * time.Hour)

	tok, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok.AccessToken != "token-1" {
		t.Errorf("AccessToken = %s, want token-1", tok.AccessToken)
	}
	if ts.calls.Load() != 1 || m.Renewals() != 1 {
		t.Errorf("calls = %d, renewals = %d; want 1", ts.calls.Load(), m.Renewals())
	}
}

func TestGetValidToken_RenewsInsideSafetyMargin(t *testing.T) {
	ts := newTokenServer(t)
	mock := clock.NewMock()
	initial := &Token{AccessToken: "initial", IssuedAt: mock.Now(), TTL: time.Hour}
	m := newTestManager(t, ts.URL, WithClock(mock), WithInitialToken(initial))

	// 59m30s in: still 30s of real validity but inside the 60s margin
	mock.Add(59*time.Minute + 30*time.Second)

	tok, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok.AccessToken == "initial" {
		t.Error("token inside the safety margin was returned")
	}
}

func TestGetValidToken_ConcurrentCallersShareOneRenewal(t *testing.T) {
	ts := newTokenServer(t)
	ts.release = make(chan struct{})
	m := newTestManager(t, ts.URL)

	const callers = 50
	var wg sync.WaitGroup
	tokens := make([]*Token, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidToken(context.Background())
		}(i)
	}

	// Hold the renewal open long enough for every caller to join it
	time.Sleep(100 * time.Millisecond)
	close(ts.release)
	wg.Wait()

	if got := ts.calls.Load(); got != 1 {
		t.Fatalf("token endpoint calls = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d got a different token", i)
		}
	}
}

func TestGetValidToken_FailureDoesNotReuseStaleToken(t *testing.T) {
	ts := newTokenServer(t)
	ts.status.Store(http.StatusServiceUnavailable)

	mock := clock.NewMock()
	stale := &Token{AccessToken: "stale", IssuedAt: mock.Now(), TTL: time.Hour}
	m := newTestManager(t, ts.URL, WithClock(mock), WithInitialToken(stale))
	mock.Add(time.Hour)

	tok, err := m.GetValidToken(context.Background())
	if tok != nil {
		t.Fatalf("GetValidToken() returned %v on failure", tok)
	}
	if !errors.IsType(err, errors.ErrTypeAuth) || !errors.IsRetryable(err) {
		t.Fatalf("error = %v, want retryable auth error", err)
	}

	// The next call tries again rather than remembering the failure
	ts.status.Store(http.StatusOK)
	tok, err = m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok.AccessToken != "token-2" {
		t.Errorf("AccessToken = %s, want token-2", tok.AccessToken)
	}
	if m.Renewals() != 2 {
		t.Errorf("Renewals() = %d, want 2", m.Renewals())
	}
}

func TestGetValidToken_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		contains  string
	}{
		{"bad credentials", http.StatusBadRequest, `{"status":400,"message":"invalid client secret"}`, false, "invalid client secret"},
		{"rfc error", http.StatusUnauthorized, `{"error":"invalid_client","error_description":"unknown client"}`, false, "invalid_client: unknown client"},
		{"throttled", http.StatusTooManyRequests, "", true, "429"},
		{"server error", http.StatusBadGateway, "<html>", true, "Bad Gateway"},
		{"malformed body", http.StatusOK, `{"access_token":`, false, "malformed"},
		{"missing expiry", http.StatusOK, `{"access_token":"abc"}`, false, "missing"},
		{"wrong shape", http.StatusOK, `[]`, false, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t)
			ts.status.Store(int32(tt.status))
			if tt.body != "" {
				ts.body.Store(tt.body)
			}
			m := newTestManager(t, ts.URL)

			_, err := m.GetValidToken(context.Background())
			if !errors.IsType(err, errors.ErrTypeAuth) {
				t.Fatalf("error = %v, want auth error", err)
			}
			if errors.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", errors.IsRetryable(err), tt.retryable)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.contains)
			}
			if strings.Contains(err.Error(), "client-secret") {
				t.Errorf("error leaked the client secret: %v", err)
			}
		})
	}
}

func TestGetValidToken_TransportErrorIsRetryable(t *testing.T) {
	ts := newTokenServer(t)
	url := ts.URL
	ts.Close()

	m := newTestManager(t, url)
	_, err := m.GetValidToken(context.Background())
	if !errors.IsType(err, errors.ErrTypeAuth) || !errors.IsRetryable(err) {
		t.Fatalf("error = %v, want retryable auth error", err)
	}
}

func TestGetValidToken_CallerCancellationDoesNotAbortRenewal(t *testing.T) {
	ts := newTokenServer(t)
	ts.release = make(chan struct{})
	m := newTestManager(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.GetValidToken(ctx)
		done <- err
	}()

	for ts.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.IsType(err, errors.ErrTypeCanceled) {
			t.Fatalf("error = %v, want canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller was not released promptly")
	}

	// The renewal finishes in the background and is reused
	close(ts.release)
	var tok *Token
	var err error
	for i := 0; i < 100; i++ {
		tok, err = m.GetValidToken(context.Background())
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GetValidToken() error = %v", err)
	}
	if tok.AccessToken != "token-1" || ts.calls.Load() != 1 {
		t.Errorf("token = %s after %d calls; want token-1 after 1", tok.AccessToken, ts.calls.Load())
	}
}

func TestGetValidToken_CancelledBeforeCall(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.GetValidToken(ctx); !errors.IsType(err, errors.ErrTypeCanceled) {
		t.Fatalf("error = %v, want canceled", err)
	}
	if ts.calls.Load() != 0 {
		t.Errorf("token endpoint called %d times", ts.calls.Load())
	}
}

func TestInvalidate_CompareAndClear(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts.URL)

	first, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !m.Invalidate(first) {
		t.Fatal("Invalidate(current) = false, want true")
	}
	if m.Invalidate(first) {
		t.Fatal("second Invalidate(first) = true, want false")
	}

	second, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.AccessToken == first.AccessToken {
		t.Fatal("expected a renewed token after invalidation")
	}

	// A late 401 carrying the old token must not throw away the new one
	if m.Invalidate(first) {
		t.Error("Invalidate(stale) cleared the renewed token")
	}
	if m.Invalidate(nil) {
		t.Error("Invalidate(nil) = true")
	}
	if ts.calls.Load() != 2 {
		t.Errorf("token endpoint calls = %d, want 2", ts.calls.Load())
	}
}

func TestGetValidToken_BreakerOpen(t *testing.T) {
	ts := newTokenServer(t)
	ts.status.Store(http.StatusInternalServerError)

	breaker := circuitbreaker.New("token-test", circuitbreaker.Config{
		MaxFailures:           2,
		Timeout:               time.Minute,
		MaxConcurrentRequests: 1,
	}, logging.NewNopLogger(), nil)
	m := newTestManager(t, ts.URL, WithBreaker(breaker))

	for i := 0; i < 2; i++ {
		_, _ = m.GetValidToken(context.Background())
	}

	_, err := m.GetValidToken(context.Background())
	if !errors.IsType(err, errors.ErrTypeAuth) || errors.IsRetryable(err) {
		t.Fatalf("error = %v, want non-retryable auth error", err)
	}
	if !circuitbreaker.IsRejected(err) {
		t.Errorf("error = %v, want breaker rejection in chain", err)
	}
	if ts.calls.Load() != 2 {
		t.Errorf("token endpoint calls = %d, want 2", ts.calls.Load())
	}
}
