// Package config loads and validates the opdeck configuration file.
//
// Configuration lives in a TOML file (default ~/.config/opdeck/config.toml)
// and covers daemon paths, the API bind address, device monitor timing, and
// logging. Runtime user preferences (developer mode, manual mount paths) are
// not part of this file; they live in the settings store so the UI can change
// them without a daemon restart.
package config
