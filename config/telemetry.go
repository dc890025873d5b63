package config

import (
	"fmt"
	"time"
)

// Telemetry transports.
const (
	TransportMQTT   = "mqtt"
	TransportRedis  = "redis"
	TransportMemory = "memory"
	TransportNone   = "none"
)

// TelemetryConfig holds configuration for the live vehicle feed.
type TelemetryConfig struct {
	Transport string `json:"transport"`
	// MaxAgeSeconds is how long a sample overrides the snapshot position.
	// Zero means samples never expire.
	MaxAgeSeconds          int `json:"max_age_seconds"`
	ReconnectMaxSeconds    int `json:"reconnect_max_seconds"`
	PublishIntervalSeconds int `json:"publish_interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *TelemetryConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = TransportMQTT
	}
	if c.ReconnectMaxSeconds <= 0 {
		c.ReconnectMaxSeconds = 30
	}
	if c.PublishIntervalSeconds <= 0 {
		c.PublishIntervalSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c TelemetryConfig) Validate() error {
	switch c.Transport {
	case TransportMQTT, TransportRedis, TransportMemory, TransportNone:
	default:
		return fmt.Errorf("telemetry: unknown transport %s", c.Transport)
	}
	if c.MaxAgeSeconds < 0 {
		return fmt.Errorf("telemetry: max_age_seconds must be >= 0")
	}
	return nil
}

func (c TelemetryConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

func (c TelemetryConfig) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxSeconds) * time.Second
}

func (c TelemetryConfig) PublishInterval() time.Duration {
	return time.Duration(c.PublishIntervalSeconds) * time.Second
}
