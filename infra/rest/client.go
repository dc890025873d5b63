// Package rest implements backend.Backend over the dispatch REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kilianp07/dispatchsync/auth"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/logger"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
)

// Config configures the API client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RatePerSecond caps outgoing requests. Zero disables throttling.
	RatePerSecond float64
	Burst         int
	Auth          auth.Conf
}

// Client talks to the dispatch API. It is safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	creds   *auth.ClientCred
	log     logger.Logger
}

var _ backend.Backend = (*Client)(nil)

// New builds a client for cfg.BaseURL.
func New(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: base url is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("rest: invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     logger.OrNop(log),
	}
	if cfg.Auth.Enabled() {
		if err := cfg.Auth.Validate(); err != nil {
			return nil, err
		}
		c.creds = auth.NewClientCred(cfg.Auth)
	}
	return c, nil
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base + "/" + strings.Join(escaped, "/")
}

// request describes one API call.
type request struct {
	method      string
	path        []string
	body        io.Reader
	contentType string
}

func (c *Client) get(ctx context.Context, out any, path ...string) error {
	return c.do(ctx, request{method: http.MethodGet, path: path}, out)
}

func (c *Client) sendJSON(ctx context.Context, method string, payload, out any, path ...string) error {
	req := request{method: method, path: path}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		req.body = bytes.NewReader(raw)
		req.contentType = "application/json"
	}
	return c.do(ctx, req, out)
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	target := c.endpoint(r.path...)
	req, err := http.NewRequestWithContext(ctx, r.method, target, r.body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.creds != nil {
		if err := c.creds.SetAuthHeader(req); err != nil {
			return err
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debugw("api call", map[string]any{
		"method": r.method, "url": target, "status": resp.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
	})

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", backend.ErrNotFound, strings.Join(r.path, "/"))
	case resp.StatusCode == http.StatusUnauthorized && c.creds != nil:
		c.creds.Invalidate()
	}

	var env backend.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Code == "" {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("%s %s: unexpected status %d", r.method, target, resp.StatusCode)
		}
		if err == nil {
			err = errors.New("missing envelope code")
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Code == backend.CodeOK && resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", r.method, target, resp.StatusCode)
	}
	return env.Decode(out)
}
