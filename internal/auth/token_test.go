package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "importer",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = StaticToken("").Token(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestFromTokenSource(t *testing.T) {
	p := FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "oidc-token"}))
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oidc-token", tok)

	p = FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{}))
	_, err = p.Token(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestCachedProvider_UsesJWTExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fetches := 0
	p := NewCachedProvider(func(ctx context.Context) (string, error) {
		fetches++
		return signedToken(t, now.Add(10*time.Minute)), nil
	}, time.Minute, time.Hour)
	p.now = func() time.Time { return now }

	_, err := p.Token(context.Background())
	require.NoError(t, err)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	// Within the leeway window the token is refetched
	now = now.Add(9*time.Minute + 30*time.Second)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestCachedProvider_OpaqueTokenUsesFallback(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fetches := 0
	p := NewCachedProvider(func(ctx context.Context) (string, error) {
		fetches++
		return "opaque-api-key", nil
	}, time.Minute, 5*time.Minute)
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := p.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fetches)

	now = now.Add(6 * time.Minute)
	_, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestCachedProvider_FetchError(t *testing.T) {
	p := NewCachedProvider(func(ctx context.Context) (string, error) {
		return "", errors.New("idp down")
	}, time.Minute, time.Minute)

	_, err := p.Token(context.Background())
	assert.EqualError(t, err, "idp down")
}

func TestBearerTransport(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := &http.Client{Transport: &BearerTransport{}}

	ctx := ContextWithToken(context.Background(), "tok-1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer tok-1", got)
	assert.Empty(t, req.Header.Get("Authorization"), "caller request must not be mutated")

	req, err = http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, got)
}
