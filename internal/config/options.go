// Package config defines the Options surface consumed by the Supervisor
// (spec C8) plus the optional TOML file (C10) used to seed its defaults.
package config

import (
	"fmt"
	"net"
	"time"
)

// WatchMode is the policy applied by the Watcher on conflict.
type WatchMode string

// Watch policies, per spec §3.
const (
	WatchFail WatchMode = "fail"
	WatchQuit WatchMode = "quit"
	WatchLog  WatchMode = "log"
	WatchNo   WatchMode = "no"
)

// ParseWatchMode validates a CLI/file watch-mode string.
func ParseWatchMode(s string) (WatchMode, error) {
	switch WatchMode(s) {
	case WatchFail, WatchQuit, WatchLog, WatchNo:
		return WatchMode(s), nil
	default:
		return "", fmt.Errorf("invalid watch mode %q: must be one of fail, quit, log, no", s)
	}
}

// broadcastMAC is the default Ethernet destination for announcements.
var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Options is the fully-resolved configuration for a single run, populated
// from CLI flags (optionally seeded by a TOML file) before Run begins.
type Options struct {
	Interface string
	IP        net.IP
	PrefixLen int

	MAC    net.HardwareAddr // zero value means "use the interface's MAC"
	Target net.HardwareAddr // zero value means "use broadcastMAC"

	LogLevel string

	Interval    time.Duration
	Delay       time.Duration
	WatchDelay  time.Duration
	Jitter      time.Duration
	Count       int
	ARPReply    bool
	WatchMode   WatchMode
	WatchNow    bool // watch_immediately
	ManageIP    bool
	DieIfExists bool
	KeepForeign bool // remove_preexisting

	Once bool

	MetricsAddr string // C9 addition; empty disables the exporter
	ConfigPath  string // C10 addition; path to an optional TOML file
}

// Defaults returns the Options populated with spec.md §6's CLI defaults.
func Defaults() Options {
	return Options{
		PrefixLen:  32,
		Target:     append(net.HardwareAddr{}, broadcastMAC...),
		LogLevel:   "error",
		Interval:   10 * time.Second,
		Delay:      0,
		WatchDelay: 0,
		Jitter:     1 * time.Second,
		Count:      0,
		ARPReply:   false,
		WatchMode:  WatchFail,
		WatchNow:   false,
		ManageIP:   true,
	}
}

// ApplyOnce implements the `once` convenience flag: forces delay=0,
// jitter=0, count=1, watch_mode=No. Must run before Validate.
func (o *Options) ApplyOnce() {
	if !o.Once {
		return
	}
	o.Delay = 0
	o.Jitter = 0
	o.Count = 1
	o.WatchMode = WatchNo
}

// Validate checks the invariants from spec.md §3 and §4.7 step 1.
func (o *Options) Validate() error {
	if o.Interface == "" {
		return fmt.Errorf("interface must not be empty")
	}
	if o.IP == nil || o.IP.To4() == nil {
		return fmt.Errorf("ip must be a valid IPv4 address")
	}
	if o.PrefixLen < 0 || o.PrefixLen > 32 {
		return fmt.Errorf("prefix length %d out of range [0, 32]", o.PrefixLen)
	}
	if o.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if o.Jitter < 0 {
		return fmt.Errorf("jitter must be non-negative")
	}
	if o.Jitter > o.Interval {
		return fmt.Errorf("jitter (%s) must not exceed interval (%s)", o.Jitter, o.Interval)
	}
	if o.Delay < 0 {
		return fmt.Errorf("delay must be non-negative")
	}
	if o.WatchDelay < 0 {
		return fmt.Errorf("watch-delay must be non-negative")
	}
	if o.Count < 0 {
		return fmt.Errorf("count must be non-negative")
	}
	switch o.WatchMode {
	case WatchFail, WatchQuit, WatchLog, WatchNo:
	default:
		return fmt.Errorf("invalid watch mode %q", o.WatchMode)
	}
	return nil
}
