package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_Fresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"empty", Credential{}, false},
		{"expired", Credential{AccessToken: "t", ExpiresAt: now.Add(-time.Minute)}, false},
		{"inside leeway", Credential{AccessToken: "t", ExpiresAt: now.Add(10 * time.Second)}, false},
		{"fresh", Credential{AccessToken: "t", ExpiresAt: now.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.Fresh(now))
		})
	}
}

func newTokenServer(t *testing.T, calls *int, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.FormValue("grant_type"))
		assert.Equal(t, "importer", r.FormValue("username"))
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}))
}

func newTestClient(tokenURL string) *Client {
	return NewClient(Config{
		TokenURL: tokenURL,
		ClientID: "pipeline",
		Username: "importer",
		Password: "pw",
	})
}

func TestClient_FetchesAndCaches(t *testing.T) {
	var calls int
	srv := newTokenServer(t, &calls, map[string]any{
		"access_token": "tok-1",
		"expires_in":   3600,
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	cred, err := c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, 5*time.Second)

	// Second call must come from the cache.
	_, err = c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_RefreshesWhenStale(t *testing.T) {
	var calls int
	srv := newTokenServer(t, &calls, map[string]any{
		"access_token": "tok",
		"expires_in":   3600,
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Credential(context.Background())
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClient_ExpiryFromJWTClaim(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "importer",
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	var calls int
	srv := newTokenServer(t, &calls, map[string]any{
		"access_token": signed, // no expires_in: expiry comes from the claim
	})
	defer srv.Close()

	cred, err := newTestClient(srv.URL).Credential(context.Background())
	require.NoError(t, err)
	assert.True(t, cred.ExpiresAt.Equal(exp), "expiry %v, want %v", cred.ExpiresAt, exp)
}

func TestClient_OpaqueTokenGetsDefaultExpiry(t *testing.T) {
	var calls int
	srv := newTokenServer(t, &calls, map[string]any{
		"access_token": "opaque-token",
	})
	defer srv.Close()

	cred, err := newTestClient(srv.URL).Credential(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), cred.ExpiresAt, 5*time.Second)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Credential(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_MissingAccessToken(t *testing.T) {
	var calls int
	srv := newTokenServer(t, &calls, map[string]any{"token_type": "bearer"})
	defer srv.Close()

	_, err := newTestClient(srv.URL).Credential(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token")
}
