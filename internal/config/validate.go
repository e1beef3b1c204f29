package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks configuration invariants that Load cannot repair.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.APIBind) != "" {
		if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
			return fmt.Errorf("api_bind %q: %w", c.Paths.APIBind, err)
		}
	}
	if strings.TrimSpace(c.Paths.SettingsPath) == "" {
		return fmt.Errorf("settings_path must not be empty")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging format %q: must be console or json", c.Logging.Format)
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return fmt.Errorf("history path must not be empty when history is enabled")
	}
	return nil
}
