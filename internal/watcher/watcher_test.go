package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/netwatch/garpd/internal/arpframe"
	"github.com/netwatch/garpd/internal/config"
	"github.com/netwatch/garpd/internal/oneshot"
)

type fakeReceiver struct {
	mu     sync.Mutex
	frames [][]byte
	idx    int
	block  chan struct{} // closed to unblock a pending Receive with an error
}

func newFakeReceiver(frames [][]byte) *fakeReceiver {
	return &fakeReceiver{frames: frames, block: make(chan struct{})}
}

func (f *fakeReceiver) Receive() ([]byte, error) {
	f.mu.Lock()
	if f.idx < len(f.frames) {
		data := f.frames[f.idx]
		f.idx++
		f.mu.Unlock()
		return data, nil
	}
	f.mu.Unlock()

	<-f.block
	return nil, errors.New("receiver closed")
}

func (f *fakeReceiver) close() {
	close(f.block)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ourClaim() arpframe.Claim {
	return arpframe.Claim{
		IP:  net.ParseIP("192.0.2.10").To4(),
		MAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
	}
}

func competingFrame(t *testing.T, claimIP net.IP) []byte {
	t.Helper()
	competitor := arpframe.Claim{
		IP:  claimIP.To4(),
		MAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
	}
	data, err := arpframe.EncodeGratuitous(competitor, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, arpframe.OpRequest)
	if err != nil {
		t.Fatalf("EncodeGratuitous: %v", err)
	}
	return data
}

func TestRunNoOpWhenWatchModeNo(t *testing.T) {
	recv := newFakeReceiver(nil)
	defer recv.close()

	cfg := Config{Claim: ourClaim(), Mode: config.WatchNo}
	armed := oneshot.NewLatch() // never fired; Run must not wait on it

	err := Run(context.Background(), recv, cfg, armed, discardLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunWaitsForArmedBeforeReceiving(t *testing.T) {
	recv := newFakeReceiver(nil)
	defer recv.close()

	cfg := Config{Claim: ourClaim(), Mode: config.WatchFail}
	armed := oneshot.NewLatch()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, recv, cfg, armed, discardLogger()) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned early before armed fired: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunFailModeReturnsConflictError(t *testing.T) {
	claim := ourClaim()
	frame := competingFrame(t, claim.IP)
	recv := newFakeReceiver([][]byte{frame})
	defer recv.close()

	cfg := Config{Claim: claim, Mode: config.WatchFail}
	armed := oneshot.NewFiredLatch()

	err := Run(context.Background(), recv, cfg, armed, discardLogger())
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Run error = %v, want *ConflictError", err)
	}
}

func TestRunQuitModeReturnsNil(t *testing.T) {
	claim := ourClaim()
	frame := competingFrame(t, claim.IP)
	recv := newFakeReceiver([][]byte{frame})
	defer recv.close()

	cfg := Config{Claim: claim, Mode: config.WatchQuit}
	armed := oneshot.NewFiredLatch()

	if err := Run(context.Background(), recv, cfg, armed, discardLogger()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunLogModeContinuesAfterConflict(t *testing.T) {
	claim := ourClaim()
	frame := competingFrame(t, claim.IP)
	recv := newFakeReceiver([][]byte{frame})

	cfg := Config{Claim: claim, Mode: config.WatchLog}
	armed := oneshot.NewFiredLatch()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, recv, cfg, armed, discardLogger()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	recv.close()

	if err := <-done; !errors.Is(err, context.Canceled) && err != nil {
		t.Fatalf("Run error = %v, want context.Canceled or nil", err)
	}
}

func TestRunIgnoresOwnAnnouncements(t *testing.T) {
	claim := ourClaim()
	data, err := arpframe.EncodeGratuitous(claim, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, arpframe.OpRequest)
	if err != nil {
		t.Fatalf("EncodeGratuitous: %v", err)
	}
	recv := newFakeReceiver([][]byte{data})

	cfg := Config{Claim: claim, Mode: config.WatchFail}
	armed := oneshot.NewFiredLatch()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, recv, cfg, armed, discardLogger()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	recv.close()

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want nil or context.Canceled (own frame must not be a conflict)", err)
	}
}
