// Package watcher receives ARP traffic and detects conflicting gratuitous
// announcements (spec C6).
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/netwatch/garpd/internal/arpframe"
	"github.com/netwatch/garpd/internal/config"
	"github.com/netwatch/garpd/internal/metrics"
	"github.com/netwatch/garpd/internal/oneshot"
)

// Receiver is the receive half of a link channel. *linkchan.Channel
// satisfies this; tests supply a fake.
type Receiver interface {
	Receive() ([]byte, error)
}

// ConflictError is returned by Run when watch_mode is Fail and a
// competing gratuitous announcement is observed, per spec §4.6 step g.
type ConflictError struct {
	CompetitorMAC net.HardwareAddr
	SenderHW      net.HardwareAddr
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting gratuitous ARP from %s (sender_hw %s)", e.CompetitorMAC, e.SenderHW)
}

// Config holds the policy fields the Watcher reads.
type Config struct {
	Claim      arpframe.Claim
	WatchDelay time.Duration
	Mode       config.WatchMode
}

// Run executes the Watcher protocol from spec §4.6.
func Run(ctx context.Context, ch Receiver, cfg Config, armed *oneshot.Latch, log *slog.Logger) error {
	if cfg.Mode == config.WatchNo {
		return nil
	}

	select {
	case <-armed.Wait():
	case <-ctx.Done():
		return ctx.Err()
	}

	if cfg.WatchDelay > 0 {
		t := time.NewTimer(cfg.WatchDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		data, err := ch.Receive()
		if err != nil {
			select {
			case <-ctx.Done():
				// The Supervisor closed the channel during teardown;
				// this is the expected way the Watcher is abandoned.
				return nil
			default:
				return fmt.Errorf("watcher: %w", err)
			}
		}

		frame, err := arpframe.Decode(data)
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		if !frame.IsARP {
			continue
		}

		log.Debug("observed arp frame",
			"src_mac", frame.SrcMAC.String(),
			"dst_mac", frame.DstMAC.String(),
			"op", arpframe.OpName(frame.Op),
			"hw_type", frame.HWType,
			"proto_type", frame.ProtType,
			"sender_hw", frame.SenderHW.String(),
			"sender_proto", frame.SenderProto.String(),
			"target_hw", frame.TargetHW.String(),
			"target_proto", frame.TargetProto.String(),
			"gratuitous", frame.Gratuitous)

		classify(frame, cfg.Claim.MAC)

		conflict := frame.Gratuitous &&
			frame.SenderProto.Equal(cfg.Claim.IP) &&
			!macEqual(frame.SenderHW, cfg.Claim.MAC)

		if !conflict {
			continue
		}

		metrics.ConflictsDetected.Inc()

		switch cfg.Mode {
		case config.WatchFail:
			return &ConflictError{CompetitorMAC: frame.SrcMAC, SenderHW: frame.SenderHW}
		case config.WatchQuit:
			log.Info("competing gratuitous ARP observed, quitting",
				"competitor_mac", frame.SrcMAC.String(), "sender_hw", frame.SenderHW.String())
			return nil
		case config.WatchLog:
			log.Warn("competing gratuitous ARP observed",
				"competitor_mac", frame.SrcMAC.String(), "sender_hw", frame.SenderHW.String())
		case config.WatchNo:
			// unreachable: filtered at function entry
		}
	}
}

func classify(f arpframe.Frame, ourMAC net.HardwareAddr) {
	switch {
	case f.Op != arpframe.OpRequest && f.Op != arpframe.OpReply:
		metrics.FramesReceived.WithLabelValues(metrics.ClassUnknownOpcode).Inc()
	case !f.Gratuitous:
		metrics.FramesReceived.WithLabelValues(metrics.ClassNonGratuitous).Inc()
	case macEqual(f.SrcMAC, ourMAC):
		metrics.FramesReceived.WithLabelValues(metrics.ClassOurs).Inc()
	default:
		metrics.FramesReceived.WithLabelValues(metrics.ClassGratuitous).Inc()
	}
}

func macEqual(a, b net.HardwareAddr) bool {
	if a == nil || b == nil {
		return len(a) == 0 && len(b) == 0
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
