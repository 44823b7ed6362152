// Package arpframe encodes and decodes the Ethernet+ARP frames used to
// announce and observe gratuitous ARP (spec C1).
package arpframe

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Opcodes per spec §4.1.
const (
	OpRequest = 1
	OpReply   = 2
)

// Fixed fields for IPv4-over-Ethernet ARP.
const (
	hwTypeEthernet = 1
	protoTypeIPv4  = 0x0800
	hwAddrLen      = 6
	protoAddrLen   = 4
)

// Claim is the quantity being announced: the address and the MAC used as
// both sender hardware address and (per the open question in spec.md §9)
// target hardware address.
type Claim struct {
	IP  net.IP
	MAC net.HardwareAddr
}

// Frame is the decoded shape of an Ethernet+ARP frame, exposing every
// field spec.md §4.1 requires plus the derived Gratuitous bit.
type Frame struct {
	SrcMAC, DstMAC net.HardwareAddr
	EtherType      layers.EthernetType

	IsARP bool // false when EtherType != 0x0806; callers should skip non-ARP frames

	Op       uint16
	HWType   uint16
	ProtType uint16

	SenderHW    net.HardwareAddr
	SenderProto net.IP
	TargetHW    net.HardwareAddr
	TargetProto net.IP

	Gratuitous bool
}

// EncodeGratuitous builds a minimum-size Ethernet II frame carrying a
// gratuitous ARP payload for claim, addressed to target, with the given
// opcode. This is spec §4.1's sole encode path.
func EncodeGratuitous(claim Claim, target net.HardwareAddr, op uint16) ([]byte, error) {
	if len(claim.MAC) != 6 {
		return nil, fmt.Errorf("encode arp: claim MAC must be 6 bytes, got %d", len(claim.MAC))
	}
	ip4 := claim.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("encode arp: claim IP must be IPv4")
	}

	eth := layers.Ethernet{
		SrcMAC:       claim.MAC,
		DstMAC:       target,
		EthernetType: layers.EthernetTypeARP,
	}

	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     hwAddrLen,
		ProtAddressSize:   protoAddrLen,
		Operation:         op,
		SourceHwAddress:   []byte(claim.MAC),
		SourceProtAddress: []byte(ip4),
		// Per spec.md §9's open question, target_hw_addr mirrors claim.MAC
		// even when the Ethernet destination is broadcast.
		DstHwAddress:   []byte(claim.MAC),
		DstProtAddress: []byte(ip4),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("encode arp: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a received frame. A buffer too small to hold an Ethernet
// or ARP header is a decode error that is bubbled up to the caller, per
// spec §4.1. An unknown opcode or hardware type is not an error.
func Decode(data []byte) (Frame, error) {
	var eth layers.Ethernet
	var arp layers.ARP

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &arp)
	parser.IgnoreUnsupported = true

	var decoded []gopacket.LayerType
	if err := parser.DecodeLayers(data, &decoded); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	f := Frame{
		SrcMAC:    eth.SrcMAC,
		DstMAC:    eth.DstMAC,
		EtherType: eth.EthernetType,
	}

	for _, lt := range decoded {
		if lt == layers.LayerTypeARP {
			f.IsARP = true
		}
	}
	if !f.IsARP {
		return f, nil
	}

	f.Op = arp.Operation
	f.HWType = uint16(arp.AddrType)
	f.ProtType = uint16(arp.Protocol)
	f.SenderHW = net.HardwareAddr(arp.SourceHwAddress)
	f.SenderProto = net.IP(arp.SourceProtAddress)
	f.TargetHW = net.HardwareAddr(arp.DstHwAddress)
	f.TargetProto = net.IP(arp.DstProtAddress)
	f.Gratuitous = f.SenderProto.Equal(f.TargetProto)

	return f, nil
}

// OpName renders an ARP opcode for logging. Unknown opcodes are never an
// error — they are rendered as "unknown: N" per spec §4.1.
func OpName(op uint16) string {
	switch op {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	default:
		return fmt.Sprintf("unknown: %d", op)
	}
}
