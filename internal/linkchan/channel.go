// Package linkchan opens a promiscuous L2 send/receive handle on a named
// interface (spec C2).
package linkchan

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

const snaplen = 128 // an Ethernet+ARP frame is 42 bytes; this leaves headroom

// Channel is a promiscuous L2 handle. Send and Receive are safe to call
// concurrently from different goroutines (spec §5: send and receive
// halves are split between the Announcer and the Watcher).
type Channel struct {
	handle *pcap.Handle
}

// Open opens a promiscuous pcap handle on the named interface.
func Open(ifaceName string) (*Channel, error) {
	handle, err := pcap.OpenLive(ifaceName, snaplen, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("opening link channel on %s: %w", ifaceName, err)
	}
	// We only ever need to see ARP traffic; filtering it in-kernel keeps
	// the Watcher from burning cycles decoding unrelated frames.
	if err := handle.SetBPFFilter("arp"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("applying arp filter on %s: %w", ifaceName, err)
	}
	return &Channel{handle: handle}, nil
}

// Send transmits a full Ethernet frame. Per spec §4.2, a send that
// returns "nothing to send" or a transport error is fatal to the caller.
func (c *Channel) Send(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("send: nothing to send")
	}
	if err := c.handle.WritePacketData(frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Receive blocks for one full frame. Any non-frame delivery is a fatal
// channel error to the caller. Closing the handle concurrently (from
// Close) unblocks an in-flight Receive with an error, which is how the
// Supervisor abandons a still-running Watcher on teardown.
func (c *Channel) Receive() ([]byte, error) {
	data, _, err := c.handle.ReadPacketData()
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("receive: non-frame delivery")
	}
	// Copy out of pcap's reused buffer; it is invalidated on the next read.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Close releases the handle. Safe to call once from the Supervisor during
// teardown; closing unblocks any in-flight Receive.
func (c *Channel) Close() {
	c.handle.Close()
}
