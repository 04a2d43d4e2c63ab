// Package auth provides bearer-token acquisition for outbound batch requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrEmptyToken is returned when a provider yields an empty token.
var ErrEmptyToken = errors.New("empty bearer token")

// TokenProvider produces a valid bearer token on demand.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken is a fixed token, e.g. a Weaviate API key.
type StaticToken string

// Token returns the static token.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrEmptyToken
	}
	return string(s), nil
}

// FromTokenSource adapts an oauth2.TokenSource (OIDC client credentials,
// refresh tokens, ...) to a TokenProvider.
func FromTokenSource(ts oauth2.TokenSource) TokenProvider {
	return TokenFunc(func(ctx context.Context) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", fmt.Errorf("oauth2 token: %w", err)
		}
		if tok.AccessToken == "" {
			return "", ErrEmptyToken
		}
		return tok.AccessToken, nil
	})
}

// CachedProvider caches a fetched token until shortly before its JWT "exp"
// claim. Tokens that are not JWTs, or carry no exp, are cached for Fallback.
type CachedProvider struct {
	fetch    TokenFunc
	leeway   time.Duration
	fallback time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCachedProvider wraps fetch with expiry-aware caching.
func NewCachedProvider(fetch TokenFunc, leeway, fallback time.Duration) *CachedProvider {
	return &CachedProvider{
		fetch:    fetch,
		leeway:   leeway,
		fallback: fallback,
		now:      time.Now,
	}
}

// Token returns the cached token or fetches a new one.
func (c *CachedProvider) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrEmptyToken
	}

	c.token = tok
	c.expires = c.expiry(tok)
	return tok, nil
}

// expiry returns the instant after which tok must be refetched.
func (c *CachedProvider) expiry(tok string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Add(-c.leeway)
		}
	}
	return c.now().Add(c.fallback)
}

type tokenKey struct{}

// ContextWithToken attaches a bearer token to ctx for the transport to send.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token attached by ContextWithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey{}).(string)
	return tok, ok && tok != ""
}

// BearerTransport sets the Authorization header from the request context.
type BearerTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	tok, ok := TokenFromContext(req.Context())
	if !ok {
		return base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+tok)
	return base.RoundTrip(clone)
}
