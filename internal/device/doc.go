// Package device holds the static catalog of supported samplers and the
// USB identifier normalization rules used to match hot-plug notifications
// against it.
package device
