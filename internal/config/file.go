package config

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
)

// FileOptions mirrors Options for the optional TOML file (C10). Every
// field is a pointer so Merge can tell "absent" from "explicit zero value".
type FileOptions struct {
	Interface   *string `toml:"interface"`
	IP          *string `toml:"ip"`
	MAC         *string `toml:"mac"`
	Target      *string `toml:"target"`
	LogLevel    *string `toml:"log_level"`
	Interval    *string `toml:"interval"`
	Delay       *string `toml:"delay"`
	WatchDelay  *string `toml:"watch_delay"`
	Jitter      *string `toml:"jitter"`
	Count       *int    `toml:"count"`
	ARPReply    *bool   `toml:"arp_reply"`
	WatchMode   *string `toml:"watch"`
	WatchNow    *bool   `toml:"watch_immediately"`
	ManageIP    *bool   `toml:"manage_ip"`
	DieIfExists *bool   `toml:"die_if_ip_exists"`
	KeepForeign *bool   `toml:"remove_pre_existing_ip"`
	MetricsAddr *string `toml:"metrics_addr"`
}

// LoadFile parses a TOML document at path into FileOptions.
func LoadFile(path string) (*FileOptions, error) {
	var f FileOptions
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &f, nil
}

// Merge overlays fields from f onto o, but only for fields the caller has
// not already set explicitly on the command line (explicit tracks flag
// names via flag.Visit in cmd/garpd). File values never override an
// explicit CLI flag.
func Merge(o *Options, f *FileOptions, explicit map[string]bool) error {
	set := func(name string) bool { return !explicit[name] }

	if f.Interface != nil && set("interface") {
		o.Interface = *f.Interface
	}
	if f.IP != nil && set("ip") {
		ip, prefix, err := ParseCIDROrIP(*f.IP)
		if err != nil {
			return fmt.Errorf("config file ip: %w", err)
		}
		o.IP = ip
		o.PrefixLen = prefix
	}
	if f.MAC != nil && set("mac") {
		mac, err := net.ParseMAC(*f.MAC)
		if err != nil {
			return fmt.Errorf("config file mac: %w", err)
		}
		o.MAC = mac
	}
	if f.Target != nil && set("target") {
		mac, err := net.ParseMAC(*f.Target)
		if err != nil {
			return fmt.Errorf("config file target: %w", err)
		}
		o.Target = mac
	}
	if f.LogLevel != nil && set("log") {
		o.LogLevel = *f.LogLevel
	}
	if f.Interval != nil && set("interval") {
		d, err := time.ParseDuration(*f.Interval)
		if err != nil {
			return fmt.Errorf("config file interval: %w", err)
		}
		o.Interval = d
	}
	if f.Delay != nil && set("delay") {
		d, err := time.ParseDuration(*f.Delay)
		if err != nil {
			return fmt.Errorf("config file delay: %w", err)
		}
		o.Delay = d
	}
	if f.WatchDelay != nil && set("watch-delay") {
		d, err := time.ParseDuration(*f.WatchDelay)
		if err != nil {
			return fmt.Errorf("config file watch_delay: %w", err)
		}
		o.WatchDelay = d
	}
	if f.Jitter != nil && set("jitter") {
		d, err := time.ParseDuration(*f.Jitter)
		if err != nil {
			return fmt.Errorf("config file jitter: %w", err)
		}
		o.Jitter = d
	}
	if f.Count != nil && set("count") {
		o.Count = *f.Count
	}
	if f.ARPReply != nil && set("arp-reply") {
		o.ARPReply = *f.ARPReply
	}
	if f.WatchMode != nil && set("watch") {
		wm, err := ParseWatchMode(*f.WatchMode)
		if err != nil {
			return fmt.Errorf("config file watch: %w", err)
		}
		o.WatchMode = wm
	}
	if f.WatchNow != nil && set("watch-immediately") {
		o.WatchNow = *f.WatchNow
	}
	if f.ManageIP != nil && set("unmanaged-ip") {
		o.ManageIP = *f.ManageIP
	}
	if f.DieIfExists != nil && set("die-if-ip-exists") {
		o.DieIfExists = *f.DieIfExists
	}
	if f.KeepForeign != nil && set("remove-pre-existing-ip") {
		o.KeepForeign = *f.KeepForeign
	}
	if f.MetricsAddr != nil && set("metrics-addr") {
		o.MetricsAddr = *f.MetricsAddr
	}
	return nil
}

// ParseCIDROrIP parses either a bare IPv4 address (implying /32) or a
// CIDR, returning the address and its prefix length.
func ParseCIDROrIP(s string) (net.IP, int, error) {
	if ip, ipnet, err := net.ParseCIDR(s); err == nil {
		ones, _ := ipnet.Mask.Size()
		return ip, ones, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, 0, fmt.Errorf("invalid address %q", s)
	}
	return ip, 32, nil
}
