package usb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/crawler"
	"github.com/pilebones/go-udev/netlink"

	"opdeck/internal/device"
	"opdeck/internal/logging"
)

// enumerateIdle bounds how long Enumerate waits for the sysfs crawl to
// produce another device before treating the walk as finished; the crawler
// never closes its queue.
const enumerateIdle = 500 * time.Millisecond

// udevSource watches the kernel uevent socket for USB attach/detach events
// from the vendors in the device catalog.
type udevSource struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewPlatformSource returns the udev netlink source.
func NewPlatformSource(logger *slog.Logger) Source {
	return &udevSource{logger: logging.NewComponentLogger(logger, "usb-source")}
}

func (s *udevSource) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	queue := make(chan crawler.Device)
	errs := make(chan error)
	quit := crawler.ExistingDevices(queue, errs, crawlMatcher())
	defer close(quit)

	idle := time.NewTimer(enumerateIdle)
	defer idle.Stop()

	var devices []DeviceInfo
	for {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		case d := <-queue:
			devices = append(devices, infoFromEnv(d.Env))
			idle.Reset(enumerateIdle)
		case err := <-errs:
			return devices, fmt.Errorf("crawl sysfs: %w", err)
		case <-idle.C:
			return devices, nil
		}
	}
}

func (s *udevSource) StartMonitoring(ctx context.Context, onConnect, onDisconnect func(DeviceInfo)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return fmt.Errorf("connect netlink socket: %w", err)
	}

	s.conn = conn
	s.quit = make(chan struct{})
	s.running = true

	go s.monitorLoop(ctx, conn, s.quit, onConnect, onDisconnect)

	s.logger.Info("usb monitoring started",
		logging.String(logging.FieldEventType, "usb_monitor_started"))
	return nil
}

func (s *udevSource) StopMonitoring() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.running = false

	s.logger.Info("usb monitoring stopped",
		logging.String(logging.FieldEventType, "usb_monitor_stopped"))
}

func (s *udevSource) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}, onConnect, onDisconnect func(DeviceInfo)) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, eventMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			info := infoFromEnv(uevent.Env)
			switch uevent.Action {
			case netlink.ADD:
				if onConnect != nil {
					onConnect(info)
				}
			case netlink.REMOVE:
				if onDisconnect != nil {
					onDisconnect(info)
				}
			}
		case err := <-errs:
			s.logger.Warn("usb monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "usb_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "hot-plug detection may miss events"))
		}
	}
}

// eventMatcher accepts usb_device add/remove uevents from catalog vendors.
// Interface-level events are excluded so each plug yields one callback.
func eventMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	for _, vendorID := range catalogVendors() {
		rules.AddRule(netlink.RuleDefinition{
			Action: &action,
			Env: map[string]string{
				"SUBSYSTEM":    "usb",
				"DEVTYPE":      "usb_device",
				"ID_VENDOR_ID": fmt.Sprintf("%04x", vendorID),
			},
		})
	}
	return rules
}

// crawlMatcher filters the sysfs walk. Raw uevent files carry the kernel's
// PRODUCT=vendor/product/bcd triple instead of udev's ID_* properties.
func crawlMatcher() netlink.Matcher {
	rules := &netlink.RuleDefinitions{}
	for _, vendorID := range catalogVendors() {
		rules.AddRule(netlink.RuleDefinition{
			Env: map[string]string{
				"DEVTYPE": "usb_device",
				"PRODUCT": fmt.Sprintf("^%x/", vendorID),
			},
		})
	}
	return rules
}

func catalogVendors() []int64 {
	var vendors []int64
	seen := map[int64]bool{}
	for _, kind := range device.All() {
		if seen[kind.VendorID] {
			continue
		}
		seen[kind.VendorID] = true
		vendors = append(vendors, kind.VendorID)
	}
	return vendors
}

// infoFromEnv maps event properties onto DeviceInfo. Identifier values stay
// as the hex strings the kernel and udev report.
func infoFromEnv(env map[string]string) DeviceInfo {
	info := DeviceInfo{
		VendorID:  env["ID_VENDOR_ID"],
		ProductID: env["ID_MODEL_ID"],
		Name:      env["ID_MODEL"],
	}
	if info.VendorID == "" || info.ProductID == "" {
		if vendor, product, ok := splitProductTriple(env["PRODUCT"]); ok {
			info.VendorID = vendor
			info.ProductID = product
		}
	}
	for _, key := range []string{"ID_USB_CLASS_FROM_DATABASE", "ID_USB_INTERFACES"} {
		if v := env[key]; v != "" {
			info.Class = v
			break
		}
	}
	return info
}

// splitProductTriple parses the kernel's PRODUCT value ("2367/c/100").
// Components are unpadded hex; they are left-padded back to four characters
// so downstream normalization treats them as hex rather than decimal.
func splitProductTriple(value string) (vendor, product string, ok bool) {
	parts := strings.Split(value, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return zeroPad4(parts[0]), zeroPad4(parts[1]), true
}

func zeroPad4(s string) string {
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}
