package oauth2

import (
	"fmt"
	"time"
)

// TokenResponse is the token endpoint's JSON body (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token is an app access token and the moment it was issued.
type Token struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	TTL         time.Duration
}

// ExpiresAt returns IssuedAt + TTL
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// Valid reports whether the token may still be used at now, keeping margin in reserve.
func (t *Token) Valid(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt().Add(-margin))
}

// Authorization renders the Authorization header value. The provider expects
// "Bearer" regardless of the case the token endpoint reports.
func (t *Token) Authorization() string {
	return "Bearer " + t.AccessToken
}

// String never prints the credential.
func (t *Token) String() string {
	if t == nil {
		return "<nil token>"
	}
	return fmt.Sprintf("Token{type=%s, access_token=[REDACTED], issued_at=%s, ttl=%s}",
		t.TokenType, t.IssuedAt.Format(time.RFC3339), t.TTL)
}

// GoString keeps %#v from leaking the credential.
func (t *Token) GoString() string {
	return t.String()
}
