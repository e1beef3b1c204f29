// Package usb abstracts USB device discovery behind a small capability
// interface. Linux gets a udev netlink implementation; every other platform
// gets a no-op source, and callers fall back to mount scanning.
package usb
