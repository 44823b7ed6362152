// Package announcer periodically emits gratuitous ARP frames (spec C5).
package announcer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/netwatch/garpd/internal/arpframe"
	"github.com/netwatch/garpd/internal/metrics"
	"github.com/netwatch/garpd/internal/oneshot"
	"github.com/netwatch/garpd/internal/scheduler"
)

// Sender is the transmit half of a link channel. *linkchan.Channel
// satisfies this; tests supply a fake.
type Sender interface {
	Send(frame []byte) error
}

// Config holds the policy fields the Announcer reads each cycle.
type Config struct {
	Claim    arpframe.Claim
	Target   net.HardwareAddr
	Interval time.Duration
	Jitter   time.Duration
	Delay    time.Duration
	Count    int
	ARPReply bool
}

// Run executes the Announcer protocol from spec §4.5. It fires armed
// after the first successful transmit (unless armed has already fired,
// i.e. watch_immediately pre-fired it), and returns when count is
// reached, ctx is cancelled, or a send fails. A send that reaches count
// returns before armed is fired, so with Count == 1 armed is never fired
// here.
func Run(ctx context.Context, ch Sender, cfg Config, armed *oneshot.Latch, log *slog.Logger) error {
	if cfg.Delay > 0 {
		if err := sleepCtx(ctx, cfg.Delay); err != nil {
			return err
		}
	}

	op := uint16(arpframe.OpRequest)
	if cfg.ARPReply {
		op = arpframe.OpReply
	}

	var n int
	for {
		frame, err := arpframe.EncodeGratuitous(cfg.Claim, cfg.Target, op)
		if err != nil {
			return fmt.Errorf("announcer: %w", err)
		}

		if err := ch.Send(frame); err != nil {
			return fmt.Errorf("announcer: %w", err)
		}
		metrics.FramesSent.Inc()

		n++
		if n < 1<<62 {
			// saturate rather than wrap on pathologically long runs
		} else {
			n = 1 << 62
		}

		log.Info("sent gratuitous ARP",
			"seq", n,
			"src_mac", cfg.Claim.MAC.String(),
			"dst_mac", cfg.Target.String(),
			"op", arpframe.OpName(op),
			"sender_hw", cfg.Claim.MAC.String(),
			"sender_proto", cfg.Claim.IP.String(),
			"target_hw", cfg.Claim.MAC.String(),
			"target_proto", cfg.Claim.IP.String(),
			"gratuitous", true)

		if cfg.Count > 0 && n >= cfg.Count {
			return nil
		}

		armed.Fire()

		if err := sleepCtx(ctx, scheduler.Next(cfg.Interval, cfg.Jitter)); err != nil {
			return err
		}
	}
}

// sleepCtx sleeps for d, or returns ctx.Err() if cancelled first. A
// zero-or-negative duration returns immediately, matching spec §4.5
// step 1's "delay == 0 means start now".
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
