package config

import (
	"fmt"
	"time"
)

// APIConfig configures the live view HTTP server.
type APIConfig struct {
	Addr string `json:"addr"`
	// AllowedOrigins restricts websocket upgrades. Empty allows same origin only.
	AllowedOrigins []string `json:"allowed_origins"`
	// KeepaliveSeconds is the websocket ping period.
	KeepaliveSeconds int `json:"keepalive_seconds"`
	// Token guards the mutation log endpoint. Empty disables the endpoint.
	Token string `json:"token"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.KeepaliveSeconds <= 0 {
		c.KeepaliveSeconds = 30
	}
}

// Validate checks mandatory fields.
func (c APIConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("api: addr is required")
	}
	return nil
}

// Keepalive returns the websocket ping period.
func (c APIConfig) Keepalive() time.Duration {
	return time.Duration(c.KeepaliveSeconds) * time.Second
}
