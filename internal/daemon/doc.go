// Package daemon wires the monitor, settings store, history log, and HTTP
// API into the single-instance background process behind "opdeck serve".
package daemon
