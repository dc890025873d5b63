package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/dispatchsync/core/metrics"
	"github.com/kilianp07/dispatchsync/infra/mqtt"
	"github.com/kilianp07/dispatchsync/infra/redisfeed"
)

type Config struct {
	Backend       BackendConfig      `json:"backend"`
	MQTT          mqtt.Config        `json:"mqtt"`
	Redis         redisfeed.Config   `json:"redis"`
	Telemetry     TelemetryConfig    `json:"telemetry"`
	Cache         CacheConfig        `json:"cache"`
	Notifications NotificationConfig `json:"notifications"`
	Metrics       metrics.Config     `json:"metrics"`
	Logging       LoggingConfig      `json:"logging"`
	Sentry        SentryConfig       `json:"sentry"`
	API           APIConfig          `json:"api"`
}

// Load reads path and applies K_ prefixed environment overrides, e.g.
// K_BACKEND__BASE_URL sets backend.base_url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Backend.SetDefaults()
	c.Telemetry.SetDefaults()
	c.Cache.SetDefaults()
	c.Notifications.SetDefaults()
	c.Logging.SetDefaults()
	c.API.SetDefaults()
	c.Sentry.SetDefaults()
	if c.Telemetry.Transport == TransportMQTT || c.Notifications.Enabled {
		c.MQTT.SetDefaults()
	}
	if c.Telemetry.Transport == TransportRedis {
		c.Redis.SetDefaults()
	}
}

// Validate checks every section. Broker settings are only required when a
// component uses them.
func (c Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Sentry.Validate(); err != nil {
		return err
	}
	if c.Telemetry.Transport == TransportMQTT || c.Notifications.Enabled {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	if c.Telemetry.Transport == TransportRedis {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	return nil
}
