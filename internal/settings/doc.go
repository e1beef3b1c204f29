// Package settings persists user preferences as a JSON key-value file.
//
// Unlike the TOML daemon configuration, these values change at runtime
// through the HTTP API: developer mode, manually selected mount paths, and
// the cache of last auto-detected paths. The store serializes all access
// behind its own mutex and writes the file atomically.
package settings
