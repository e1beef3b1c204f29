// Package mount discovers where a supported sampler's filesystem is mounted.
// Root enumeration is platform specific (macOS volumes, Windows drive
// letters); validation of a candidate root against a device kind is shared.
package mount
