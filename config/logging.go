package config

import (
	"fmt"

	"github.com/kilianp07/dispatchsync/core/mutation/audit"
)

// LoggingConfig defines the process log level and the mutation audit log.
type LoggingConfig struct {
	// Level is debug, info, warn or error. APP_LOG_LEVEL takes precedence.
	Level string       `json:"level"`
	Audit audit.Config `json:"audit"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	c.Audit.SetDefaults()
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %s", c.Level)
	}
	return c.Audit.Validate()
}
