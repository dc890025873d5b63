package config

import (
	"fmt"
	"time"
)

// CacheConfig tunes the snapshot store.
type CacheConfig struct {
	// StaleSeconds ages cached values; zero keeps them fresh until invalidated.
	StaleSeconds int `json:"stale_seconds"`
	// RefetchTimeoutSeconds bounds the wait for subscribed keys after a mutation.
	RefetchTimeoutSeconds int `json:"refetch_timeout_seconds"`
	// RefetchIntervalSeconds polls watched keys so changes made by other
	// clients show up without a notification. Zero disables polling.
	RefetchIntervalSeconds int `json:"refetch_interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *CacheConfig) SetDefaults() {
	if c.RefetchTimeoutSeconds <= 0 {
		c.RefetchTimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c CacheConfig) Validate() error {
	if c.StaleSeconds < 0 || c.RefetchIntervalSeconds < 0 {
		return fmt.Errorf("cache: durations must be >= 0")
	}
	return nil
}

func (c CacheConfig) StaleTime() time.Duration {
	return time.Duration(c.StaleSeconds) * time.Second
}

func (c CacheConfig) RefetchTimeout() time.Duration {
	return time.Duration(c.RefetchTimeoutSeconds) * time.Second
}

func (c CacheConfig) RefetchInterval() time.Duration {
	return time.Duration(c.RefetchIntervalSeconds) * time.Second
}

// NotificationConfig enables the push notification listener. Notifications
// arrive on mqtt.notification_topic.
type NotificationConfig struct {
	Enabled               bool `json:"enabled"`
	RefetchTimeoutSeconds int  `json:"refetch_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *NotificationConfig) SetDefaults() {
	if c.RefetchTimeoutSeconds <= 0 {
		c.RefetchTimeoutSeconds = 5
	}
}

func (c NotificationConfig) RefetchTimeout() time.Duration {
	return time.Duration(c.RefetchTimeoutSeconds) * time.Second
}
