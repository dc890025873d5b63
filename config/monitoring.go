package config

import (
	"fmt"
	"time"
)

// SentryConfig enables error reporting of failed backend writes and
// recovered panics. Monitoring is off while DSN is empty.
type SentryConfig struct {
	DSN              string            `json:"dsn"`
	Environment      string            `json:"environment"`
	Release          string            `json:"release"`
	TracesSampleRate float64           `json:"traces_sample_rate"`
	FlushSeconds     int               `json:"flush_seconds"`
	Tags             map[string]string `json:"tags"`
}

// SetDefaults applies sane defaults.
func (c *SentryConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.FlushSeconds <= 0 {
		c.FlushSeconds = 2
	}
}

// Validate checks the sample rate.
func (c SentryConfig) Validate() error {
	if c.TracesSampleRate < 0 || c.TracesSampleRate > 1 {
		return fmt.Errorf("sentry: traces_sample_rate must be within [0, 1]")
	}
	return nil
}

// FlushTimeout bounds how long shutdown waits for queued events.
func (c SentryConfig) FlushTimeout() time.Duration {
	if c.FlushSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.FlushSeconds) * time.Second
}
