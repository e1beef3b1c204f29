// Command opdeck runs the sampler device daemon and talks to it from the
// command line.
package main
