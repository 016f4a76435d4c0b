// Package gateway issues authenticated HTTP requests to the destination
// platform under a circuit breaker. Every outbound call in the pipeline
// passes through here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refdata-migrate/internal/auth"
	"github.com/sells-group/refdata-migrate/internal/resilience"
)

// ErrCredentialStale is returned when the held credential is missing or
// expired. The request is never sent; the caller logs the error and still
// resolves its completion-counter entry so the stage cannot stall.
var ErrCredentialStale = eris.New("gateway: credential missing or expired")

// Response is the portion of an HTTP response the pipeline consumes.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response status is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	return eris.Wrap(json.Unmarshal(r.Body, out), "gateway: decode response")
}

// Form is a multipart form payload.
type Form struct {
	Fields map[string]string
}

// Client is the outbound interface the dispatch engine and orchestrator use.
type Client interface {
	// Send issues a request. payload may be nil, a string (raw text), a Form
	// (multipart), or any JSON-encodable value (object or array).
	Send(ctx context.Context, method, url string, payload any) (*Response, error)
}

// Gateway implements Client over net/http with a circuit breaker and
// freshness-checked bearer authentication.
type Gateway struct {
	http    *http.Client
	creds   auth.Provider
	breaker *resilience.Breaker
	now     func() time.Time
}

// Options configures the gateway.
type Options struct {
	Credentials  auth.Provider
	MaxFailures  int
	CallTimeout  time.Duration
	ResetTimeout time.Duration
}

// New creates a gateway.
func New(opts Options) *Gateway {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		MaxFailures:  opts.MaxFailures,
		CallTimeout:  opts.CallTimeout,
		ResetTimeout: opts.ResetTimeout,
		Fallback: func(err error) {
			zap.L().Error("destination call failed", zap.Error(err))
		},
	})
	return &Gateway{
		http:    &http.Client{}, // per-call timeout comes from the breaker context
		creds:   opts.Credentials,
		breaker: breaker,
		now:     time.Now,
	}
}

// Send implements Client.
func (g *Gateway) Send(ctx context.Context, method, url string, payload any) (*Response, error) {
	cred, err := g.creds.Credential(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "gateway: obtain credential")
	}
	if !cred.Fresh(g.now()) {
		return nil, ErrCredentialStale
	}

	var resp *Response
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := g.buildRequest(ctx, method, url, payload, cred.AccessToken)
		if err != nil {
			return err
		}

		httpResp, err := g.http.Do(req)
		if err != nil {
			return eris.Wrapf(err, "gateway: %s %s", method, url)
		}
		defer httpResp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return eris.Wrapf(err, "gateway: read body from %s", url)
		}

		resp = &Response{StatusCode: httpResp.StatusCode, Body: body}
		logResponse(method, url, resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) buildRequest(ctx context.Context, method, url string, payload any, token string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType = "application/json"
	)

	switch p := payload.(type) {
	case nil:
	case string:
		body = bytes.NewReader([]byte(p))
	case Form:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range p.Fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, eris.Wrap(err, "gateway: write form field")
			}
		}
		if err := w.Close(); err != nil {
			return nil, eris.Wrap(err, "gateway: close form")
		}
		body = &buf
		contentType = w.FormDataContentType()
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, eris.Wrap(err, "gateway: encode payload")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, eris.Wrapf(err, "gateway: build %s %s", method, url)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

const logBodyLimit = 512

// logResponse records every response at the response-category level:
// 2xx at info, anything else at warn, with a truncated body.
func logResponse(method, url string, resp *Response) {
	body := resp.Body
	if len(body) > logBodyLimit {
		body = body[:logBodyLimit]
	}

	fields := []zap.Field{
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body),
	}
	if resp.OK() {
		zap.L().Info("destination request succeeded", fields...)
	} else {
		zap.L().Warn("destination request failed", fields...)
	}
}
