package tun

import (
	"context"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
)

// channelQueueLen bounds how many outbound packets the gVisor stack's link endpoint will
// buffer for RecvPacket before it starts dropping them. Inbound frames are not queued:
// DriveInterfaceState hands them to the stack directly.
const channelQueueLen = 1024

// VirtDevice bridges the raw IP frames this package reads from and writes to the OS TUN
// device with the gVisor stack.LinkEndpoint a stack.Stack expects to own, using gVisor's
// ready-made channel.Endpoint instead of hand-rolling the push/pull plumbing.
type VirtDevice struct {
	ep *channel.Endpoint
}

// NewVirtDevice creates a VirtDevice with the given path MTU.
func NewVirtDevice(mtu uint32) *VirtDevice {
	return &VirtDevice{ep: channel.New(channelQueueLen, mtu, "")}
}

// Endpoint returns the stack.LinkEndpoint to register with a stack.Stack's NIC.
func (d *VirtDevice) Endpoint() stack.LinkEndpoint { return d.ep }

// DriveInterfaceState injects a raw IP frame read from the OS device into the stack, so its
// internal state machines (TCP handshake/ack/retransmit timers, ARP/NDP) can observe it. The
// frame's network protocol is derived from its version nibble.
func (d *VirtDevice) DriveInterfaceState(frame []byte) {
	if len(frame) == 0 {
		return
	}

	var proto tcpip.NetworkProtocolNumber
	switch frame[0] >> 4 {
	case 4:
		proto = header.IPv4ProtocolNumber
	case 6:
		proto = header.IPv6ProtocolNumber
	default:
		return
	}

	pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithData(append([]byte(nil), frame...)),
	})
	defer pkt.DecRef()
	d.ep.InjectInbound(proto, pkt)
}

// RecvPacket blocks until the stack has a raw IP frame queued for transmission out the
// device, or ctx is done.
func (d *VirtDevice) RecvPacket(ctx context.Context) ([]byte, error) {
	pkt := d.ep.ReadContext(ctx)
	if pkt == nil {
		return nil, ctx.Err()
	}
	defer pkt.DecRef()

	var frame []byte
	for _, view := range pkt.AsSlices() {
		frame = append(frame, view...)
	}
	return frame, nil
}

// Close shuts down the link endpoint, unblocking any pending RecvPacket call.
func (d *VirtDevice) Close() {
	d.ep.Close()
}
