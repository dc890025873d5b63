package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/dispatchsync/auth"
	"github.com/kilianp07/dispatchsync/infra/rest"
)

// Backend modes.
const (
	BackendREST   = "rest"
	BackendMemory = "memory"
)

// BackendConfig selects and configures the dispatch API client.
type BackendConfig struct {
	// Mode is "rest" or "memory". The memory backend runs the stand-in
	// optimizer in process and is meant for demos and tests.
	Mode           string    `json:"mode"`
	BaseURL        string    `json:"base_url"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	RatePerSecond  float64   `json:"rate_per_second"`
	Burst          int       `json:"burst"`
	Auth           auth.Conf `json:"auth"`
	// SeedPath optionally names a scenario file whose depots, vehicles and
	// orders are loaded into the memory backend at startup.
	SeedPath string `json:"seed_path"`
}

// SetDefaults applies sane defaults.
func (c *BackendConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = BackendREST
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
}

// Validate checks mandatory fields.
func (c BackendConfig) Validate() error {
	switch c.Mode {
	case BackendREST:
		if c.BaseURL == "" {
			return fmt.Errorf("backend: base_url is required in rest mode")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("backend: unknown mode %s", c.Mode)
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("backend: rate_per_second must be >= 0")
	}
	return c.Auth.Validate()
}

// REST returns the client settings.
func (c BackendConfig) REST() rest.Config {
	return rest.Config{
		BaseURL:       c.BaseURL,
		Timeout:       time.Duration(c.TimeoutSeconds) * time.Second,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
		Auth:          c.Auth,
	}
}
