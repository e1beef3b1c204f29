package config

import "strings"

// normalize expands user paths and fills in zero values after decoding.
func (c *Config) normalize() error {
	pathFields := []*string{
		&c.Paths.DataDir,
		&c.Paths.LogDir,
		&c.Paths.UploadDir,
		&c.Paths.ConvertedDir,
		&c.Paths.SettingsPath,
		&c.History.Path,
	}
	for _, field := range pathFields {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}

	if c.Monitor.PollMaxAttempts <= 0 {
		c.Monitor.PollMaxAttempts = defaultPollMaxAttempts
	}
	if c.Monitor.PollIntervalSeconds <= 0 {
		c.Monitor.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Monitor.SettleDelayMillis < 0 {
		c.Monitor.SettleDelayMillis = defaultSettleDelayMillis
	}
	if c.Monitor.KeepaliveSeconds <= 0 {
		c.Monitor.KeepaliveSeconds = defaultKeepaliveSeconds
	}
	if c.Convert.TimeoutSeconds <= 0 {
		c.Convert.TimeoutSeconds = defaultConvertTimeout
	}
	if c.History.RetentionDays < 0 {
		c.History.RetentionDays = 0
	}
	c.Logging.Format = strings.TrimSpace(c.Logging.Format)
	c.Logging.Level = strings.TrimSpace(c.Logging.Level)
	return nil
}
