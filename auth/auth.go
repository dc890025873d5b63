// Package auth obtains bearer tokens for the dispatch API with the OAuth2
// client credentials flow.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCred caches a token and refreshes it once it expires.
type ClientCred struct {
	conf clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClientCred(conf Conf) *ClientCred {
	return &ClientCred{conf: conf.toOauth2Config()}
}

// Token returns a valid access token, requesting a new one when the cached
// token is missing or expired.
func (c *ClientCred) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() {
		return c.token, nil
	}
	tok, err := c.conf.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return tok, nil
}

// Invalidate drops the cached token so the next request fetches a new one.
// Used after the API answers 401.
func (c *ClientCred) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// SetAuthHeader stamps r with the bearer token.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	tok, err := c.Token(r.Context())
	if err != nil {
		return err
	}
	tok.SetAuthHeader(r)
	return nil
}
