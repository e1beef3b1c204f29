package config

const (
	defaultDataDir             = "~/.local/share/opdeck"
	defaultLogDir              = "~/.local/share/opdeck/logs"
	defaultUploadDir           = "~/.local/share/opdeck/uploads"
	defaultConvertedDir        = "~/.local/share/opdeck/converted"
	defaultSettingsPath        = "~/.config/opdeck/settings.json"
	defaultAPIBind             = "127.0.0.1:7391"
	defaultPollMaxAttempts     = 30
	defaultPollIntervalSeconds = 1
	defaultSettleDelayMillis   = 1500
	defaultKeepaliveSeconds    = 30
	defaultConvertTimeout      = 120
	defaultHistoryPath         = "~/.local/share/opdeck/history.db"
	defaultHistoryRetention    = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			UploadDir:    defaultUploadDir,
			ConvertedDir: defaultConvertedDir,
			SettingsPath: defaultSettingsPath,
			APIBind:      defaultAPIBind,
		},
		Monitor: Monitor{
			PollMaxAttempts:     defaultPollMaxAttempts,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			SettleDelayMillis:   defaultSettleDelayMillis,
			KeepaliveSeconds:    defaultKeepaliveSeconds,
		},
		Convert: Convert{
			TimeoutSeconds: defaultConvertTimeout,
		},
		History: History{
			Enabled:       true,
			Path:          defaultHistoryPath,
			RetentionDays: defaultHistoryRetention,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
