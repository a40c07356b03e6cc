package tun

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/xtls/xray-tun-core/common/buf"
	c "github.com/xtls/xray-tun-core/common/ctx"
	"github.com/xtls/xray-tun-core/common/errors"
	"github.com/xtls/xray-tun-core/common/net"
	"github.com/xtls/xray-tun-core/common/session"
	"github.com/xtls/xray-tun-core/transport"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/waiter"
)

const nicID tcpip.NICID = 1

const (
	tcpRXBufMinSize = tcp.MinBufferSize
	tcpRXBufDefSize = tcp.DefaultReceiveBufferSize
	tcpRXBufMaxSize = 8 << 20

	tcpTXBufMinSize = tcp.MinBufferSize
	tcpTXBufDefSize = tcp.DefaultSendBufferSize
	tcpTXBufMaxSize = 6 << 20
)

const (
	// sniffPeekSize bounds how many of a new connection's initial bytes are handed to the
	// Sniffer before the link is dispatched.
	sniffPeekSize = 8192
	// sniffPeekTimeout bounds how long handleConnection waits for a first segment to sniff
	// before giving up and dispatching with whatever arrived (possibly nothing).
	sniffPeekTimeout = 200 * time.Millisecond
)

// TcpTun embeds a gVisor network stack that performs the TCP three-way handshake on this
// package's behalf and exposes each accepted flow as a transport.Link handed to Dispatcher.
// It never reads or writes raw device frames itself; DriveInterfaceState/RecvPacket move
// frames between it and the reactor.
type TcpTun struct {
	ctx        context.Context
	dispatcher Dispatcher
	sniffer    Sniffer
	acceptOpts AcceptOpts

	device *VirtDevice
	stack  *stack.Stack
}

// NewTcpTun creates the gVisor stack, registers the TCP forwarder, and attaches a VirtDevice
// of the given MTU as its single NIC.
func NewTcpTun(ctx context.Context, dispatcher Dispatcher, sniffer Sniffer, acceptOpts AcceptOpts, mtu uint32) (*TcpTun, error) {
	device := NewVirtDevice(mtu)

	opts := stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, ipv6.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol},
		HandleLocal:        false,
	}
	ipStack := stack.New(opts)

	t := &TcpTun{
		ctx:        ctx,
		dispatcher: dispatcher,
		sniffer:    sniffer,
		acceptOpts: acceptOpts,
		device:     device,
		stack:      ipStack,
	}

	if err := ipStack.CreateNIC(nicID, device.Endpoint()); err != nil {
		return nil, errors.New("create tun NIC: ", err.String())
	}

	ipStack.SetRouteTable([]tcpip.Route{
		{Destination: header.IPv4EmptySubnet, NIC: nicID},
		{Destination: header.IPv6EmptySubnet, NIC: nicID},
	})

	if err := ipStack.SetSpoofing(nicID, true); err != nil {
		return nil, errors.New("enable tun NIC spoofing: ", err.String())
	}
	if err := ipStack.SetPromiscuousMode(nicID, true); err != nil {
		return nil, errors.New("enable tun NIC promiscuous mode: ", err.String())
	}

	cOpt := tcpip.CongestionControlOption("cubic")
	ipStack.SetTransportProtocolOption(tcp.ProtocolNumber, &cOpt)
	sOpt := tcpip.TCPSACKEnabled(true)
	ipStack.SetTransportProtocolOption(tcp.ProtocolNumber, &sOpt)
	mOpt := tcpip.TCPModerateReceiveBufferOption(true)
	ipStack.SetTransportProtocolOption(tcp.ProtocolNumber, &mOpt)

	rxOpt := tcpip.TCPReceiveBufferSizeRangeOption{Min: tcpRXBufMinSize, Default: tcpRXBufDefSize, Max: tcpRXBufMaxSize}
	if err := ipStack.SetTransportProtocolOption(tcp.ProtocolNumber, &rxOpt); err != nil {
		return nil, errors.New("set tcp receive buffer range: ", err.String())
	}
	txOpt := tcpip.TCPSendBufferSizeRangeOption{Min: tcpTXBufMinSize, Default: tcpTXBufDefSize, Max: tcpTXBufMaxSize}
	if err := ipStack.SetTransportProtocolOption(tcp.ProtocolNumber, &txOpt); err != nil {
		return nil, errors.New("set tcp send buffer range: ", err.String())
	}

	forwarder := tcp.NewForwarder(ipStack, 0, 65535, t.forwardTCP)
	ipStack.SetTransportProtocolHandler(tcp.ProtocolNumber, forwarder.HandlePacket)

	return t, nil
}

// forwardTCP completes the TCP three-way handshake for a new flow and hands the resulting
// connection off to handleConnection on its own goroutine.
func (t *TcpTun) forwardTCP(r *tcp.ForwarderRequest) {
	id := r.ID()

	var wq waiter.Queue
	ep, err := r.CreateEndpoint(&wq)
	if err != nil {
		errors.LogError(t.ctx, "tcp handshake with ", net.IPAddress(id.RemoteAddress.AsSlice()), " failed: ", err.String())
		r.Complete(true)
		return
	}

	options := ep.SocketOptions()
	options.SetKeepAlive(t.acceptOpts.KeepAlive)
	if t.acceptOpts.ReceiveBufferSize > 0 {
		options.SetReceiveBufferSize(int64(t.acceptOpts.ReceiveBufferSize), true)
	}
	if t.acceptOpts.SendBufferSize > 0 {
		options.SetSendBufferSize(int64(t.acceptOpts.SendBufferSize), true)
	}

	dest := net.TCPDestination(net.IPAddress(id.LocalAddress.AsSlice()), net.Port(id.LocalPort))
	source := net.TCPDestination(net.IPAddress(id.RemoteAddress.AsSlice()), net.Port(id.RemotePort))

	go t.handleConnection(gonet.NewTCPConn(&wq, ep), source, dest)

	r.Complete(false)
}

// handleConnection wraps an accepted gonet TCP connection in a transport.Link and hands it to
// the Dispatcher. Before dispatching, it peeks the connection's first segment through the
// configured Sniffer so the dispatcher can make its routing decision informed by the sniffed
// protocol, without losing those bytes off the stream it hands down.
func (t *TcpTun) handleConnection(conn *gonet.TCPConn, source, dest net.Destination) {
	defer conn.Close()

	ctx := c.ContextWithID(t.ctx, session.NewID())
	ctx = session.ContextWithInbound(ctx, &session.Inbound{Name: "tun", Source: source})

	ctx, reader := t.sniff(ctx, conn, source, dest)

	errors.LogInfo(ctx, "accepted tcp connection ", source, " -> ", dest)

	link := &transport.Link{
		Reader: buf.NewReader(reader),
		Writer: buf.NewWriter(conn),
	}

	if err := t.dispatcher.DispatchLink(ctx, dest, link); err != nil {
		errors.LogWarningInner(ctx, err, "tcp connection ", source, " -> ", dest, " closed")
	}
}

// sniff peeks at most sniffPeekSize bytes of conn's first segment, feeds them to the
// configured Sniffer, and returns a context stamped with the verdict (via session.Content)
// plus a reader that replays whatever bytes it consumed ahead of the rest of conn, so
// sniffing never drops payload. A nil Sniffer, a read timeout, or a read error all fall back
// to dispatching the connection unsniffed rather than blocking or failing it.
func (t *TcpTun) sniff(ctx context.Context, conn *gonet.TCPConn, source, dest net.Destination) (context.Context, io.Reader) {
	if t.sniffer == nil {
		return ctx, conn
	}

	peek := make([]byte, sniffPeekSize)
	_ = conn.SetReadDeadline(time.Now().Add(sniffPeekTimeout))
	n, err := conn.Read(peek)
	_ = conn.SetReadDeadline(time.Time{})
	if n == 0 {
		if err != nil {
			errors.LogDebug(ctx, "tcp sniff peek ", source, " -> ", dest, ": ", err)
		}
		return ctx, conn
	}
	peek = peek[:n]

	content := &session.Content{}
	if protocol, ok := t.sniffer.Sniff(ctx, peek); ok {
		content.Protocol = protocol
		errors.LogInfo(ctx, "sniffed protocol ", protocol, " for ", source, " -> ", dest)
	}

	return session.ContextWithContent(ctx, content), io.MultiReader(bytes.NewReader(peek), conn)
}

// HandlePacket is called once per inbound TCP segment classified by the reactor. Acceptance
// of new connections is driven entirely by DriveInterfaceState feeding the segment into the
// stack's registered forwarder; this hook only provides per-segment diagnostics.
func (t *TcpTun) HandlePacket(src, dst net.Destination, segment header.TCP) error {
	errors.LogDebug(t.ctx, "tcp segment ", src, " -> ", dst, " flags=", segment.Flags())
	return nil
}

// DriveInterfaceState hands a raw IP frame containing a TCP segment or an ICMP message to the
// embedded stack.
func (t *TcpTun) DriveInterfaceState(frame []byte) {
	t.device.DriveInterfaceState(frame)
}

// RecvPacket blocks until the stack has an outbound frame (data, ACK, RST, retransmit) ready
// to be written back to the device, or ctx is done.
func (t *TcpTun) RecvPacket(ctx context.Context) ([]byte, error) {
	return t.device.RecvPacket(ctx)
}

// Close tears down the embedded stack and aborts any endpoints still alive.
func (t *TcpTun) Close() error {
	t.device.Close()
	t.stack.Close()
	for _, ep := range t.stack.CleanupEndpoints() {
		ep.Abort()
	}
	return nil
}
