// Package auth obtains and holds the bearer credential for the destination
// API. The credential is fetched once per run through an OAuth password
// grant; the gateway checks freshness before every outbound call.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Credential is an access token with a known expiry.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Fresh reports whether the credential exists and has not expired.
// A small leeway guards against the token expiring mid-flight.
func (c Credential) Fresh(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return now.Add(30 * time.Second).Before(c.ExpiresAt)
}

// Provider supplies the current credential.
type Provider interface {
	Credential(ctx context.Context) (Credential, error)
}

// Static is a fixed credential, used in tests and for pre-issued tokens.
type Static struct {
	Cred Credential
}

func (s Static) Credential(_ context.Context) (Credential, error) {
	return s.Cred, nil
}

// Config holds the token endpoint and resource-owner credentials.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Client fetches tokens via the OAuth resource-owner password grant and
// caches the result until it goes stale.
type Client struct {
	cfg  Config
	http *http.Client

	mu   sync.Mutex
	cred Credential

	now func() time.Time
}

// NewClient creates a token client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Credential returns the cached credential, refreshing it when stale.
func (c *Client) Credential(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cred.Fresh(c.now()) {
		return c.cred, nil
	}

	cred, err := c.fetch(ctx)
	if err != nil {
		return Credential{}, err
	}
	c.cred = cred
	zap.L().Info("credential refreshed", zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

func (c *Client) fetch(ctx context.Context) (Credential, error) {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"username":      {c.cfg.Username},
		"password":      {c.cfg.Password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, eris.Wrap(err, "auth: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, eris.Wrap(err, "auth: token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, eris.Wrap(err, "auth: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, eris.Errorf("auth: token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, eris.Wrap(err, "auth: decode token response")
	}
	if tr.AccessToken == "" {
		return Credential{}, eris.New("auth: token response missing access_token")
	}

	return Credential{
		AccessToken: tr.AccessToken,
		ExpiresAt:   expiry(tr, c.now()),
	}, nil
}

// expiry derives the token expiry from expires_in, falling back to the JWT
// exp claim when the endpoint omits it. Claims are deliberately not verified;
// only the server can validate the token, we just need the deadline.
func expiry(tr tokenResponse, now time.Time) time.Time {
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	// No expiry anywhere: assume a short-lived token.
	return now.Add(5 * time.Minute)
}
