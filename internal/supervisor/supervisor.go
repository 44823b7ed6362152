// Package supervisor owns the run's lifecycle: preflight validation,
// orchestration of the Announcer and Watcher, signal handling, and
// crash-safe cleanup of any managed address (spec C7).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/netwatch/garpd/internal/addrmgr"
	"github.com/netwatch/garpd/internal/announcer"
	"github.com/netwatch/garpd/internal/arpframe"
	"github.com/netwatch/garpd/internal/config"
	"github.com/netwatch/garpd/internal/linkchan"
	"github.com/netwatch/garpd/internal/metrics"
	"github.com/netwatch/garpd/internal/oneshot"
	"github.com/netwatch/garpd/internal/watcher"
)

// linkChannel is the combined send/receive/close surface the Supervisor
// needs from a link channel; *linkchan.Channel satisfies it.
type linkChannel interface {
	announcer.Sender
	watcher.Receiver
	Close()
}

// AddressManager is the address-control surface the Supervisor needs;
// *addrmgr.Manager satisfies it. Tests inject a fake so preflight and
// teardown logic can be exercised without a live netlink socket.
type AddressManager interface {
	Find(ifIndex int, ip net.IP) (*addrmgr.Record, error)
	Add(ifIndex int, ip net.IP, prefixLen int) error
	Delete(r *addrmgr.Record) error
}

// Deps overrides the Supervisor's real dependencies for testing. Zero
// value Deps uses the real netlink-backed AddressManager and pcap-backed
// link channel.
type Deps struct {
	AddrMgr      AddressManager
	OpenLink     func(ifaceName string) (linkChannel, error)
	ResolveIface func(ifaceName string) (*net.Interface, error)
}

func (d Deps) resolve() Deps {
	if d.AddrMgr == nil {
		d.AddrMgr = addrmgr.New()
	}
	if d.OpenLink == nil {
		d.OpenLink = func(ifaceName string) (linkChannel, error) {
			return linkchan.Open(ifaceName)
		}
	}
	if d.ResolveIface == nil {
		d.ResolveIface = net.InterfaceByName
	}
	return d
}

// Run executes one full supervised run with the real netlink/pcap
// dependencies. See RunWithDeps for the testable entry point.
func Run(ctx context.Context, opts *config.Options, log *slog.Logger) error {
	return RunWithDeps(ctx, opts, log, Deps{})
}

// RunWithDeps executes one full supervised run: preflight, concurrent
// Announcer/Watcher, and teardown. It returns nil on a clean exit
// (including a policy-driven watcher quit) and a non-nil error
// otherwise; the caller maps that to an exit code.
func RunWithDeps(ctx context.Context, opts *config.Options, log *slog.Logger, deps Deps) error {
	deps = deps.resolve()

	opts.ApplyOnce()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	iface, err := deps.ResolveIface(opts.Interface)
	if err != nil {
		return fmt.Errorf("resolving interface %s: %w", opts.Interface, err)
	}
	if iface.Flags&net.FlagUp == 0 {
		return fmt.Errorf("interface %s is not up", opts.Interface)
	}
	if iface.Flags&net.FlagLoopback != 0 {
		return fmt.Errorf("interface %s is a loopback interface", opts.Interface)
	}
	if iface.Flags&net.FlagPointToPoint != 0 {
		return fmt.Errorf("interface %s is point-to-point", opts.Interface)
	}

	claimMAC := opts.MAC
	if claimMAC == nil {
		claimMAC = iface.HardwareAddr
	}
	if len(claimMAC) == 0 {
		return fmt.Errorf("interface %s has no hardware address and none was supplied", opts.Interface)
	}

	claim := arpframe.Claim{IP: opts.IP.To4(), MAC: claimMAC}

	mgr := deps.AddrMgr
	ipManagedEffective := false

	if opts.ManageIP {
		existing, err := mgr.Find(iface.Index, opts.IP)
		if err != nil {
			return fmt.Errorf("checking for existing address: %w", err)
		}
		switch {
		case existing != nil && opts.DieIfExists:
			return fmt.Errorf("address %s already exists on %s", opts.IP, opts.Interface)
		case existing != nil && !opts.KeepForeign:
			log.Warn("address already present on interface, not taking ownership",
				"ip", opts.IP.String(), "interface", opts.Interface)
			ipManagedEffective = false
		case existing != nil && opts.KeepForeign:
			ipManagedEffective = true
		default:
			if err := mgr.Add(iface.Index, opts.IP, opts.PrefixLen); err != nil {
				return fmt.Errorf("adding managed address: %w", err)
			}
			ipManagedEffective = true
		}
	}
	metrics.ManagedAddress.Set(boolToFloat(ipManagedEffective))

	teardown := func() {
		if !ipManagedEffective {
			return
		}
		rec, err := mgr.Find(iface.Index, opts.IP)
		if err != nil {
			log.Error("teardown: failed to look up managed address", "error", err)
			return
		}
		if rec == nil {
			log.Warn("teardown: managed address already absent", "ip", opts.IP.String())
			metrics.ManagedAddress.Set(0)
			return
		}
		if err := mgr.Delete(rec); err != nil {
			log.Error("teardown: failed to remove managed address", "error", err)
			return
		}
		metrics.ManagedAddress.Set(0)
	}

	ch, err := deps.OpenLink(opts.Interface)
	if err != nil {
		teardown()
		return fmt.Errorf("opening link channel: %w", err)
	}

	shutdown := oneshot.NewSignal()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			shutdown.TryPush()
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var armed *oneshot.Latch
	if opts.WatchNow {
		armed = oneshot.NewFiredLatch()
	} else {
		armed = oneshot.NewLatch()
	}

	target := opts.Target
	if len(target) == 0 {
		target = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}

	annCfg := announcer.Config{
		Claim:    claim,
		Target:   target,
		Interval: opts.Interval,
		Jitter:   opts.Jitter,
		Delay:    opts.Delay,
		Count:    opts.Count,
		ARPReply: opts.ARPReply,
	}
	watchCfg := watcher.Config{
		Claim:      claim,
		WatchDelay: opts.WatchDelay,
		Mode:       opts.WatchMode,
	}

	type result struct {
		from string
		err  error
	}
	results := make(chan result, 2)

	go func() {
		results <- result{"announcer", announcer.Run(runCtx, ch, annCfg, armed, log)}
	}()
	go func() {
		err := watcher.Run(runCtx, ch, watchCfg, armed, log)
		if err == nil && opts.WatchMode == config.WatchNo {
			// A disabled watcher returns at once; it must not end the run
			// before the announcer has sent its frames.
			<-runCtx.Done()
			err = runCtx.Err()
		}
		results <- result{"watcher", err}
	}()

	// Whichever branch wins, the loser may be parked in a blocking
	// pcap read that ctx cancellation alone cannot interrupt — closing
	// the shared channel right away is what actually abandons it.
	var runErr error
	select {
	case <-shutdown.C():
		log.Info("received shutdown signal")
		cancel()
		ch.Close()
		<-results
		<-results
	case r := <-results:
		cancel()
		ch.Close()
		runErr = classifyResult(r.from, r.err)
		<-results
	}

	teardown()

	return runErr
}

// classifyResult turns a worker's raw error into the Supervisor's run
// error, treating context cancellation (our own cancel(), racing the
// other branch) as a clean outcome rather than a failure.
func classifyResult(from string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	var conflict *watcher.ConflictError
	if errors.As(err, &conflict) {
		return err
	}
	return fmt.Errorf("%s: %w", from, err)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
