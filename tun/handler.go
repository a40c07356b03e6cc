package tun

import (
	"bytes"
	"context"

	"github.com/xtls/xray-tun-core/common/errors"
	"github.com/xtls/xray-tun-core/common/net"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// MaxPacketSize is the capacity given to every PacketBuffer the reactor reads device frames
// into: the largest possible UDP/IP datagram.
const MaxPacketSize = 65535

var ipv4BroadcastBytes = []byte{255, 255, 255, 255}

// TunHandler is the single-threaded reactor that interleaves device reads, TcpTun's and
// UdpTun's egress, and upper-layer keep-alive signals. Device reads and TcpTun's egress are
// each pumped into a channel by a dedicated goroutine, since a single Go select cannot wait
// on a blocking device Read directly; UdpTun's egress is already a channel and is selected on
// as is. UDP's idle-association sweep runs on its
// own task.Periodic timer owned by UdpTun rather than as a select branch here, started lazily
// and stopping itself once the association table drains.
type TunHandler struct {
	device        Device
	broadcastAddr net.Address
	tcp           *TcpTun
	udp           *UdpTun

	keepAlive <-chan net.Destination

	frames      chan *PacketBuffer
	deviceErrCh chan error
}

func newTunHandler(device Device, broadcastAddr net.Address, tcp *TcpTun, udp *UdpTun, keepAlive <-chan net.Destination) *TunHandler {
	return &TunHandler{
		device:        device,
		broadcastAddr: broadcastAddr,
		tcp:           tcp,
		udp:           udp,
		keepAlive:     keepAlive,
		frames:        make(chan *PacketBuffer, 1),
		deviceErrCh:   make(chan error, 1),
	}
}

// Run drives the reactor until the device read fails unrecoverably or ctx is cancelled.
// Cancellation is cooperative: Run returns once its current iteration finishes; it is the
// caller's responsibility to close the device afterward to unblock the read goroutine if
// ctx was what caused the return.
func (h *TunHandler) Run(ctx context.Context) error {
	go h.readLoop(ctx)

	tcpEgress := make(chan []byte, 64)
	go h.pumpTCPEgress(ctx, tcpEgress)
	udpEgress := h.udp.Egress()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-h.deviceErrCh:
			return errors.New("tun device read failed").Base(err).AtError()

		case buffer := <-h.frames:
			h.handleFrame(buffer)

		case frame := <-tcpEgress:
			h.writeFrame(frame, "tcp")

		case frame := <-udpEgress:
			h.writeFrame(frame, "udp")

		case peer, ok := <-h.keepAlive:
			if !ok {
				return errors.New("udp keep-alive channel closed unexpectedly").AtError()
			}
			h.udp.KeepAlive(peer)
		}
	}
}

// readLoop blocks on the device's Read in its own goroutine and feeds each frame into
// h.frames, since Go cannot select on a blocking syscall directly.
func (h *TunHandler) readLoop(ctx context.Context) {
	for {
		buffer := NewPacketBuffer(MaxPacketSize)
		n, err := h.device.Read(buffer.Raw())
		if err != nil {
			select {
			case h.deviceErrCh <- err:
			case <-ctx.Done():
			}
			return
		}
		buffer.SetLen(n)

		select {
		case h.frames <- buffer:
		case <-ctx.Done():
			return
		}
	}
}

// pumpTCPEgress relays TcpTun's blocking RecvPacket into a channel the reactor can select
// on, mirroring readLoop's role for the device side.
func (h *TunHandler) pumpTCPEgress(ctx context.Context, out chan<- []byte) {
	for {
		frame, err := h.tcp.RecvPacket(ctx)
		if err != nil {
			return
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame classifies a single device-read frame and routes it to the appropriate
// tunnel. Anything that is not a well-formed, unicast IPv4/IPv6 TCP or UDP packet is logged
// and dropped; ICMP is forwarded into the stack so its built-in handling (echo, unreachable)
// can answer it, and every other transport protocol is dropped with a debug log.
func (h *TunHandler) handleFrame(buffer *PacketBuffer) {
	frame := buffer.Bytes()

	pkt, ok, err := NewIpPacketChecked(frame)
	if err != nil {
		errors.LogError(nil, "dropping malformed IP packet: ", err)
		return
	}
	if !ok {
		errors.LogWarning(nil, "dropping unrecognized non-IP frame of length ", len(frame))
		return
	}

	if isNonUnicast(pkt.SrcAddr(), h.broadcastAddr) || isNonUnicast(pkt.DstAddr(), h.broadcastAddr) {
		errors.LogDebug(nil, "dropping non-unicast packet ", pkt.SrcAddr(), " -> ", pkt.DstAddr())
		return
	}

	switch pkt.Protocol() {
	case header.TCPProtocolNumber:
		h.handleTCP(pkt, frame)
	case header.UDPProtocolNumber:
		h.handleUDP(pkt)
	case header.ICMPv4ProtocolNumber, header.ICMPv6ProtocolNumber:
		h.tcp.DriveInterfaceState(frame)
	default:
		errors.LogDebug(nil, "ignoring IP packet with transport protocol ", pkt.Protocol())
	}
}

func (h *TunHandler) handleTCP(pkt *IpPacket, frame []byte) {
	payload := pkt.Payload()
	if len(payload) < header.TCPMinimumSize {
		errors.LogError(nil, "dropping truncated TCP segment from ", pkt.SrcAddr(), " to ", pkt.DstAddr())
		return
	}
	segment := header.TCP(payload)
	if segment.DataOffset() < header.TCPMinimumSize || int(segment.DataOffset()) > len(payload) {
		errors.LogError(nil, "dropping malformed TCP segment from ", pkt.SrcAddr(), " to ", pkt.DstAddr())
		return
	}

	src := net.TCPDestination(pkt.SrcAddr(), net.Port(segment.SourcePort()))
	dst := net.TCPDestination(pkt.DstAddr(), net.Port(segment.DestinationPort()))

	if err := h.tcp.HandlePacket(src, dst, segment); err != nil {
		errors.LogError(nil, "handle tcp segment ", src, " -> ", dst, " failed: ", err)
	}
	h.tcp.DriveInterfaceState(frame)
}

func (h *TunHandler) handleUDP(pkt *IpPacket) {
	payload := pkt.Payload()
	if len(payload) < header.UDPMinimumSize {
		errors.LogError(nil, "dropping truncated UDP datagram from ", pkt.SrcAddr(), " to ", pkt.DstAddr())
		return
	}
	segment := header.UDP(payload)

	src := net.UDPDestination(pkt.SrcAddr(), net.Port(segment.SourcePort()))
	dst := net.UDPDestination(pkt.DstAddr(), net.Port(segment.DestinationPort()))

	if err := h.udp.HandlePacket(src, dst, segment.Payload()); err != nil {
		errors.LogError(nil, "handle udp datagram ", src, " -> ", dst, " failed: ", err)
	}
}

func (h *TunHandler) writeFrame(frame []byte, proto string) {
	n, err := h.device.Write(frame)
	if err != nil {
		errors.LogError(nil, "tun device write (", proto, ") failed: ", err)
		return
	}
	if n < len(frame) {
		errors.LogWarning(nil, "tun device short write (", proto, "): wrote ", n, " of ", len(frame), " bytes")
	}
}

// isNonUnicast reports whether addr is not a plausible unicast endpoint for a tun client:
// unspecified, multicast, the limited broadcast address 255.255.255.255, or equal to the
// interface's broadcast address.
func isNonUnicast(addr, broadcast net.Address) bool {
	ip := addr.IP()
	if ip == nil {
		return true
	}
	if broadcast != nil {
		if bip := broadcast.IP(); bip != nil && ip.Equal(bip) {
			return true
		}
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.IsUnspecified() || v4.IsMulticast() || bytes.Equal(v4, ipv4BroadcastBytes)
	}
	return ip.IsUnspecified() || ip.IsMulticast()
}
