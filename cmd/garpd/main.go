// Command garpd sends gratuitous ARP announcements for a virtual IP and
// optionally watches for competing announcements from another host.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/netwatch/garpd/internal/config"
	"github.com/netwatch/garpd/internal/logging"
	"github.com/netwatch/garpd/internal/metrics"
	"github.com/netwatch/garpd/internal/supervisor"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := config.Defaults()

	fs := flag.NewFlagSet("garpd", flag.ContinueOnError)

	var ipStr, macStr, targetStr, configPath string
	var showVersion bool

	fs.StringVar(&opts.Interface, "interface", opts.Interface, "network interface to announce on (required)")
	fs.StringVar(&ipStr, "ip", "", "virtual IP to announce, optionally CIDR (required)")
	fs.StringVar(&macStr, "mac", "", "hardware address to announce (default: interface MAC)")
	fs.StringVar(&targetStr, "target", "", "Ethernet destination address (default: broadcast)")
	fs.StringVar(&opts.LogLevel, "log", opts.LogLevel, "log level: no, error, warn, info, debug, trace")
	fs.DurationVar(&opts.Interval, "interval", opts.Interval, "time between announcements")
	fs.DurationVar(&opts.Delay, "delay", opts.Delay, "delay before the first announcement")
	fs.DurationVar(&opts.WatchDelay, "watch-delay", opts.WatchDelay, "delay before the watcher starts receiving")
	fs.DurationVar(&opts.Jitter, "jitter", opts.Jitter, "upper bound of random jitter added to interval")
	fs.IntVar(&opts.Count, "count", opts.Count, "number of announcements to send; 0 means unlimited")
	fs.BoolVar(&opts.ARPReply, "arp-reply", opts.ARPReply, "send ARP replies instead of ARP requests")
	watchStr := fs.String("watch", string(opts.WatchMode), "conflict policy: fail, quit, log, no")
	fs.BoolVar(&opts.WatchNow, "watch-immediately", opts.WatchNow, "start watching before the first announcement")
	manageIPNeg := fs.Bool("unmanaged-ip", !opts.ManageIP, "do not add or remove the announced address")
	fs.BoolVar(&opts.DieIfExists, "die-if-ip-exists", opts.DieIfExists, "fail if the address already exists on the interface")
	fs.BoolVar(&opts.KeepForeign, "remove-pre-existing-ip", opts.KeepForeign, "take ownership of a pre-existing address and remove it on exit")
	fs.BoolVar(&opts.Once, "once", opts.Once, "send exactly one announcement and exit (forces delay=0, jitter=0, watch=no)")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "address to serve Prometheus metrics on, e.g. :9101 (default: disabled)")
	fs.StringVar(&configPath, "config", "", "path to an optional TOML config file")
	fs.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		fmt.Println("garpd", version)
		return 0
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if ipStr != "" {
		ip, prefix, err := config.ParseCIDROrIP(ipStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "garpd:", err)
			return 2
		}
		opts.IP = ip
		opts.PrefixLen = prefix
	}
	if macStr != "" {
		mac, err := net.ParseMAC(macStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "garpd: invalid --mac:", err)
			return 2
		}
		opts.MAC = mac
	}
	if targetStr != "" {
		mac, err := net.ParseMAC(targetStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "garpd: invalid --target:", err)
			return 2
		}
		opts.Target = mac
	}
	if explicit["watch"] {
		wm, err := config.ParseWatchMode(*watchStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "garpd:", err)
			return 2
		}
		opts.WatchMode = wm
	}
	if explicit["unmanaged-ip"] {
		opts.ManageIP = !*manageIPNeg
		explicit["manage_ip"] = true
	}
	opts.ConfigPath = configPath

	if configPath != "" {
		fileOpts, err := config.LoadFile(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "garpd:", err)
			return 1
		}
		if err := config.Merge(&opts, fileOpts, explicit); err != nil {
			fmt.Fprintln(os.Stderr, "garpd:", err)
			return 1
		}
	}

	log := logging.Setup(opts.LogLevel, "supervisor", os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, opts.MetricsAddr); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if err := supervisor.Run(ctx, &opts, log); err != nil {
		log.Error("exiting with error", "error", err)
		return 1
	}
	return 0
}
