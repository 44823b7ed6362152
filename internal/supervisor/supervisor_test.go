package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/netwatch/garpd/internal/addrmgr"
	"github.com/netwatch/garpd/internal/config"
)

type fakeAddrMgr struct {
	mu      sync.Mutex
	present *addrmgr.Record
	added   []net.IP
	deleted []net.IP
	addErr  error
}

func (f *fakeAddrMgr) Find(ifIndex int, ip net.IP) (*addrmgr.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present, nil
}

func (f *fakeAddrMgr) Add(ifIndex int, ip net.IP, prefixLen int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, ip)
	f.present = &addrmgr.Record{IfIndex: ifIndex, IP: ip, Prefix: prefixLen}
	return nil
}

func (f *fakeAddrMgr) Delete(r *addrmgr.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, r.IP)
	f.present = nil
	return nil
}

type fakeLinkChannel struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeLinkChannel) Send(frame []byte) error { return nil }

func (f *fakeLinkChannel) Receive() ([]byte, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, errors.New("closed")
	}
	// Block until Close is called; callers abandon this on ctx cancellation.
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, errors.New("closed")
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeLinkChannel) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInterface() *net.Interface {
	return &net.Interface{
		Index:        1,
		Name:         "eth0",
		HardwareAddr: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		Flags:        net.FlagUp,
	}
}

func baseOptions() *config.Options {
	o := config.Defaults()
	o.Interface = "eth0"
	o.IP = net.ParseIP("192.0.2.10")
	o.Once = true // forces a single quick announcement, no jitter
	return &o
}

func TestRunWithDepsAddsAndRemovesManagedAddress(t *testing.T) {
	addrMgr := &fakeAddrMgr{}
	link := &fakeLinkChannel{}

	deps := Deps{
		AddrMgr:      addrMgr,
		ResolveIface: func(string) (*net.Interface, error) { return testInterface(), nil },
		OpenLink:     func(string) (linkChannel, error) { return link, nil },
	}

	err := RunWithDeps(context.Background(), baseOptions(), discardLogger(), deps)
	if err != nil {
		t.Fatalf("RunWithDeps: %v", err)
	}

	if len(addrMgr.added) != 1 {
		t.Fatalf("expected address to be added once, got %d", len(addrMgr.added))
	}
	if len(addrMgr.deleted) != 1 {
		t.Fatalf("expected address to be removed on teardown, got %d deletions", len(addrMgr.deleted))
	}
}

func TestRunWithDepsDieIfIPExists(t *testing.T) {
	addrMgr := &fakeAddrMgr{present: &addrmgr.Record{IfIndex: 1, IP: net.ParseIP("192.0.2.10")}}
	link := &fakeLinkChannel{}

	opts := baseOptions()
	opts.DieIfExists = true

	deps := Deps{
		AddrMgr:      addrMgr,
		ResolveIface: func(string) (*net.Interface, error) { return testInterface(), nil },
		OpenLink:     func(string) (linkChannel, error) { return link, nil },
	}

	err := RunWithDeps(context.Background(), opts, discardLogger(), deps)
	if err == nil {
		t.Fatal("expected error when die_if_ip_exists and address already present")
	}
}

func TestRunWithDepsKeepForeignTakesOwnership(t *testing.T) {
	existing := &addrmgr.Record{IfIndex: 1, IP: net.ParseIP("192.0.2.10")}
	addrMgr := &fakeAddrMgr{present: existing}
	link := &fakeLinkChannel{}

	opts := baseOptions()
	opts.KeepForeign = true

	deps := Deps{
		AddrMgr:      addrMgr,
		ResolveIface: func(string) (*net.Interface, error) { return testInterface(), nil },
		OpenLink:     func(string) (linkChannel, error) { return link, nil },
	}

	err := RunWithDeps(context.Background(), opts, discardLogger(), deps)
	if err != nil {
		t.Fatalf("RunWithDeps: %v", err)
	}
	if len(addrMgr.added) != 0 {
		t.Fatalf("should not Add a pre-existing address, got %d adds", len(addrMgr.added))
	}
	if len(addrMgr.deleted) != 1 {
		t.Fatalf("expected ownership to be released on teardown, got %d deletions", len(addrMgr.deleted))
	}
}

func TestRunWithDepsForeignAddressNotOwnedIsNeverRemoved(t *testing.T) {
	existing := &addrmgr.Record{IfIndex: 1, IP: net.ParseIP("192.0.2.10")}
	addrMgr := &fakeAddrMgr{present: existing}
	link := &fakeLinkChannel{}

	opts := baseOptions() // KeepForeign defaults false, DieIfExists false

	deps := Deps{
		AddrMgr:      addrMgr,
		ResolveIface: func(string) (*net.Interface, error) { return testInterface(), nil },
		OpenLink:     func(string) (linkChannel, error) { return link, nil },
	}

	err := RunWithDeps(context.Background(), opts, discardLogger(), deps)
	if err != nil {
		t.Fatalf("RunWithDeps: %v", err)
	}
	if len(addrMgr.deleted) != 0 {
		t.Fatalf("should never remove an address this run did not take ownership of, got %d deletions", len(addrMgr.deleted))
	}
}

func TestRunWithDepsRejectsLoopbackInterface(t *testing.T) {
	deps := Deps{
		AddrMgr: &fakeAddrMgr{},
		ResolveIface: func(string) (*net.Interface, error) {
			iface := testInterface()
			iface.Flags = net.FlagUp | net.FlagLoopback
			return iface, nil
		},
		OpenLink: func(string) (linkChannel, error) { return &fakeLinkChannel{}, nil },
	}

	if err := RunWithDeps(context.Background(), baseOptions(), discardLogger(), deps); err == nil {
		t.Fatal("expected error for loopback interface")
	}
}

func TestRunWithDepsRejectsDownInterface(t *testing.T) {
	deps := Deps{
		AddrMgr: &fakeAddrMgr{},
		ResolveIface: func(string) (*net.Interface, error) {
			iface := testInterface()
			iface.Flags = 0
			return iface, nil
		},
		OpenLink: func(string) (linkChannel, error) { return &fakeLinkChannel{}, nil },
	}

	if err := RunWithDeps(context.Background(), baseOptions(), discardLogger(), deps); err == nil {
		t.Fatal("expected error for a down interface")
	}
}

func TestRunWithDepsClosesLinkChannelWhenAnnouncerFinishesFirst(t *testing.T) {
	addrMgr := &fakeAddrMgr{}
	link := &fakeLinkChannel{} // Receive blocks until Close

	opts := baseOptions()
	opts.Once = false
	opts.Count = 1
	opts.Delay = 0
	opts.Jitter = 0
	opts.WatchMode = config.WatchFail
	opts.WatchNow = true // Count 1 never arms the Watcher; pre-arm it so it parks in Receive

	deps := Deps{
		AddrMgr:      addrMgr,
		ResolveIface: func(string) (*net.Interface, error) { return testInterface(), nil },
		OpenLink:     func(string) (linkChannel, error) { return link, nil },
	}

	done := make(chan error, 1)
	go func() { done <- RunWithDeps(context.Background(), opts, discardLogger(), deps) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWithDeps: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunWithDeps did not return after the Announcer finished; the blocked Watcher was never abandoned")
	}
}

func TestRunWithDepsClosesLinkChannelOnShutdown(t *testing.T) {
	addrMgr := &fakeAddrMgr{}
	link := &fakeLinkChannel{} // Receive blocks until Close

	opts := baseOptions()
	opts.Once = false
	opts.Count = 0 // unbounded: only a shutdown signal ends the run
	opts.WatchMode = config.WatchFail

	deps := Deps{
		AddrMgr:      addrMgr,
		ResolveIface: func(string) (*net.Interface, error) { return testInterface(), nil },
		OpenLink:     func(string) (linkChannel, error) { return link, nil },
	}

	done := make(chan error, 1)
	go func() { done <- RunWithDeps(context.Background(), opts, discardLogger(), deps) }()

	time.Sleep(20 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("sending SIGTERM: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWithDeps: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunWithDeps did not return after SIGTERM; the blocked Watcher was never abandoned")
	}
}

func TestRunWithDepsUnmanagedIPNeverTouchesAddrMgr(t *testing.T) {
	addrMgr := &fakeAddrMgr{}
	link := &fakeLinkChannel{}

	opts := baseOptions()
	opts.ManageIP = false

	deps := Deps{
		AddrMgr:      addrMgr,
		ResolveIface: func(string) (*net.Interface, error) { return testInterface(), nil },
		OpenLink:     func(string) (linkChannel, error) { return link, nil },
	}

	if err := RunWithDeps(context.Background(), opts, discardLogger(), deps); err != nil {
		t.Fatalf("RunWithDeps: %v", err)
	}
	if len(addrMgr.added) != 0 || len(addrMgr.deleted) != 0 {
		t.Fatalf("unmanaged_ip run must not call Add/Delete, got added=%d deleted=%d", len(addrMgr.added), len(addrMgr.deleted))
	}
}
