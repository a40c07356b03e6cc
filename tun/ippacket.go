package tun

import (
	"github.com/xtls/xray-tun-core/common/errors"
	"github.com/xtls/xray-tun-core/common/net"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// IpPacket is a checked, zero-copy view over an IPv4 or IPv6 frame, built on gVisor's header
// package the same way the rest of this module leans on gVisor for wire-format parsing
// instead of hand-rolling it.
type IpPacket struct {
	srcAddr  net.Address
	dstAddr  net.Address
	protocol tcpip.TransportProtocolNumber
	payload  []byte
}

// NewIpPacketChecked parses b as an IPv4 or IPv6 frame.
//
// ok is false when b does not even look like an IP packet (an unrecognized version nibble);
// that case is not an error, just something this package ignores. err is non-nil when the
// version nibble is recognized but the header is truncated or its checksum (IPv4 only) does
// not match, in which case the packet must be dropped and logged.
func NewIpPacketChecked(b []byte) (pkt *IpPacket, ok bool, err error) {
	if len(b) == 0 {
		return nil, false, nil
	}

	switch b[0] >> 4 {
	case 4:
		v4 := header.IPv4(b)
		if !v4.IsValid(len(b)) {
			return nil, true, errors.New("malformed IPv4 header")
		}
		if !v4.IsChecksumValid() {
			return nil, true, errors.New("invalid IPv4 header checksum")
		}
		return &IpPacket{
			srcAddr:  net.IPAddress(v4.SourceAddress().AsSlice()),
			dstAddr:  net.IPAddress(v4.DestinationAddress().AsSlice()),
			protocol: v4.TransportProtocol(),
			payload:  v4.Payload(),
		}, true, nil

	case 6:
		v6 := header.IPv6(b)
		if !v6.IsValid(len(b)) {
			return nil, true, errors.New("malformed IPv6 header")
		}
		return &IpPacket{
			srcAddr:  net.IPAddress(v6.SourceAddress().AsSlice()),
			dstAddr:  net.IPAddress(v6.DestinationAddress().AsSlice()),
			protocol: v6.TransportProtocol(),
			payload:  v6.Payload(),
		}, true, nil

	default:
		return nil, false, nil
	}
}

// SrcAddr returns the packet's source IP address.
func (p *IpPacket) SrcAddr() net.Address { return p.srcAddr }

// DstAddr returns the packet's destination IP address.
func (p *IpPacket) DstAddr() net.Address { return p.dstAddr }

// Protocol returns the packet's transport (next-header) protocol number.
func (p *IpPacket) Protocol() tcpip.TransportProtocolNumber { return p.protocol }

// Payload returns the transport-layer payload carried by this IP packet.
func (p *IpPacket) Payload() []byte { return p.payload }
