// Package history persists device status changes to SQLite so the CLI and
// the API can answer "what happened while I was away".
package history
