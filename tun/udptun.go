package tun

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtls/xray-tun-core/common"
	"github.com/xtls/xray-tun-core/common/buf"
	c "github.com/xtls/xray-tun-core/common/ctx"
	"github.com/xtls/xray-tun-core/common/errors"
	"github.com/xtls/xray-tun-core/common/net"
	"github.com/xtls/xray-tun-core/common/session"
	"github.com/xtls/xray-tun-core/common/signal/done"
	"github.com/xtls/xray-tun-core/common/task"
	"github.com/xtls/xray-tun-core/transport"
	"github.com/xtls/xray-tun-core/transport/pipe"
	"golang.org/x/net/dns/dnsmessage"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

const (
	// udpAssociationBufferLimit bounds the number of not-yet-dispatched bytes a single UDP
	// association's pipe will hold before applying its discard-overflow policy.
	udpAssociationBufferLimit = 16 * 1024
	// udpEgressQueueLen bounds the number of reply frames waiting to be written back to the
	// device before a slow device write starts applying backpressure to every association.
	udpEgressQueueLen = 256
)

// udpAssociation is a single client-source-keyed UDP NAT binding: every datagram from the
// same client source address, regardless of its destination, is dispatched through the same
// association, giving the FullCone-NAT behavior this package's associations are specified to
// have.
type udpAssociation struct {
	writer     *pipe.Writer
	cancel     context.CancelFunc
	lastActive atomic.Int64
}

func (a *udpAssociation) touch() {
	a.lastActive.Store(time.Now().Unix())
}

// UdpTun maintains the table of UDP associations between TUN clients and their outbound
// targets. Unlike TcpTun, it never touches the gVisor stack: replies are built by hand into
// raw UDP/IP frames and pushed onto this package's own egress queue, per this package's
// design notes on bypassing the embedded stack for UDP.
type UdpTun struct {
	ctx          context.Context
	dispatcher   Dispatcher
	interceptDNS *net.Destination
	idleTimeout  time.Duration

	mu    sync.Mutex
	conns map[net.Destination]*udpAssociation

	// checker runs cleanupTask on cleanupTick, started the moment the first association is
	// created and left to stop itself once the table drains, so an idle tun interface has
	// nothing ticking in the background.
	checker *task.Periodic

	egress chan []byte
}

// NewUdpTun creates an UdpTun. interceptDNS, when non-nil, is the destination every datagram
// addressed to port 53 is transparently rewritten to before association lookup. cleanupTick
// is the interval at which the idle-association sweep runs while the table is non-empty.
func NewUdpTun(ctx context.Context, dispatcher Dispatcher, interceptDNS *net.Destination, idleTimeout, cleanupTick time.Duration) *UdpTun {
	u := &UdpTun{
		ctx:          ctx,
		dispatcher:   dispatcher,
		interceptDNS: interceptDNS,
		idleTimeout:  idleTimeout,
		conns:        make(map[net.Destination]*udpAssociation),
		egress:       make(chan []byte, udpEgressQueueLen),
	}
	u.checker = &task.Periodic{Interval: cleanupTick, Execute: u.cleanupTask}
	return u
}

// HandlePacket is called once per inbound UDP datagram classified by the reactor. It looks
// up (or creates) the association keyed by src and forwards payload into it.
func (u *UdpTun) HandlePacket(src, dst net.Destination, payload []byte) error {
	if u.interceptDNS != nil && dst.Port == 53 {
		logDNSQuestion(u.ctx, src, payload)
		dst = *u.interceptDNS
	}

	u.mu.Lock()
	assoc, found := u.conns[src]
	if !found {
		assoc = u.newAssociationLocked(src, dst)
	} else {
		assoc.touch()
	}
	u.mu.Unlock()

	b := buf.New()
	if _, err := b.Write(payload); err != nil {
		b.Release()
		return errors.New("udp payload exceeds buffer capacity").Base(err)
	}
	b.UDP = &dst
	return assoc.writer.WriteMultiBuffer(buf.MultiBuffer{b})
}

// newAssociationLocked creates a fresh association for src and spawns the goroutine that
// dispatches it. u.mu must be held by the caller.
func (u *UdpTun) newAssociationLocked(src, dst net.Destination) *udpAssociation {
	reader, writer := pipe.New(pipe.DiscardOverflow(), pipe.WithSizeLimit(udpAssociationBufferLimit))
	ctx, cancel := context.WithCancel(u.ctx)
	assoc := &udpAssociation{writer: writer, cancel: cancel}
	assoc.touch()
	u.conns[src] = assoc
	if len(u.conns) == 1 {
		common.Must(u.checker.Start())
	}

	closeSignal := done.New()

	go func() {
		defer func() {
			cancel()
			u.mu.Lock()
			if u.conns[src] == assoc {
				delete(u.conns, src)
			}
			u.mu.Unlock()
			common.Must(closeSignal.Close())
			common.Must(common.Close(writer))
		}()

		sessionCtx := c.ContextWithID(ctx, session.NewID())
		sessionCtx = session.ContextWithInbound(sessionCtx, &session.Inbound{Name: "tun", Source: src})

		link := &transport.Link{
			Reader: &buf.TimeoutWrapperReader{Reader: reader},
			// src and dst are reversed here: this writer runs in the direction of packets
			// travelling back to the tun client, so what the association calls dst is now
			// the reply frame's IP source, and src is now its destination.
			Writer: &udpReplyWriter{egress: u.egress, done: closeSignal.Wait(), src: dst, dst: src},
		}

		if err := u.dispatcher.DispatchLink(sessionCtx, dst, link); err != nil {
			errors.LogWarningInner(sessionCtx, err, "udp association ", src, " -> ", dst, " closed")
		}
	}()

	return assoc
}

// RecvPacket blocks until a reply frame is ready to be written back to the device, or ctx is
// done.
func (u *UdpTun) RecvPacket(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-u.egress:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Egress exposes the raw reply-frame channel directly, so the reactor can select on it
// without an extra pump goroutine.
func (u *UdpTun) Egress() <-chan []byte { return u.egress }

// CleanupExpired evicts every association whose last activity exceeds the configured idle
// timeout. It is the testable core of cleanupTask, the task.Periodic-driven sweep that runs
// automatically while the association table is non-empty.
func (u *UdpTun) CleanupExpired() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cleanupExpiredLocked()
}

func (u *UdpTun) cleanupExpiredLocked() {
	if len(u.conns) == 0 {
		return
	}

	now := time.Now().Unix()
	threshold := int64(u.idleTimeout / time.Second)
	for src, assoc := range u.conns {
		if now-assoc.lastActive.Load() > threshold {
			assoc.cancel()
			delete(u.conns, src)
		}
	}
}

// cleanupTask is task.Periodic's Execute callback. Returning an error stops the periodic
// cycle, which newAssociationLocked restarts the next time a client opens a fresh
// association — so an idle tun interface has nothing ticking in the background.
func (u *UdpTun) cleanupTask() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.conns) == 0 {
		return errors.New("no udp associations")
	}
	u.cleanupExpiredLocked()
	return nil
}

// Close stops the cleanup checker. It does not tear down live associations; their
// forwarding goroutines are expected to observe ctx cancellation independently.
func (u *UdpTun) Close() error {
	return u.checker.Close()
}

// KeepAlive refreshes the last-active time of the association bound to peer, if one exists,
// without itself carrying any payload. It is the hook an upper layer uses to prevent an
// otherwise-quiet association (e.g. one serving a long-poll) from being evicted.
func (u *UdpTun) KeepAlive(peer net.Destination) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if assoc, ok := u.conns[peer]; ok {
		assoc.touch()
	}
}

// logDNSQuestion best-effort parses an intercepted DNS query's question section, purely for
// diagnostic logging: a malformed message is silently ignored rather than dropped, since
// interception must never depend on the payload actually being valid DNS.
func logDNSQuestion(ctx context.Context, src net.Destination, payload []byte) {
	var parser dnsmessage.Parser
	if _, err := parser.Start(payload); err != nil {
		return
	}
	question, err := parser.Question()
	if err != nil {
		return
	}
	errors.LogDebug(ctx, "intercepting dns query from ", src, " for ", question.Name.String())
}

// udpReplyWriter re-encapsulates dispatched reply payloads into raw UDP/IP frames and queues
// them on the tun egress channel, entirely independent of the embedded gVisor stack — see
// this package's design notes on why UDP's return path never touches stack.Stack.
type udpReplyWriter struct {
	egress chan<- []byte
	done   <-chan struct{}
	// src is the address on the tun side the reply is to appear to come from.
	src net.Destination
	// dst is the tun client's address the reply is addressed to.
	dst net.Destination
}

func (w *udpReplyWriter) WriteMultiBuffer(mb buf.MultiBuffer) error {
	for _, b := range mb {
		srcAddr := w.src
		if b.UDP != nil {
			srcAddr = *b.UDP
		}

		if srcAddr.Address.Family() != w.dst.Address.Family() {
			errors.LogWarning(nil, "udp reply address family mismatch: expected ", w.dst.Address.Family(), ", got ", srcAddr.Address.Family())
			b.Release()
			continue
		}

		frame, err := buildUDPFrame(srcAddr, w.dst, b.Bytes())
		b.Release()
		if err != nil {
			errors.LogWarning(nil, "build udp reply frame: ", err)
			continue
		}

		select {
		case w.egress <- frame:
		case <-w.done:
			return io.ErrClosedPipe
		}
	}
	return nil
}

// buildUDPFrame encodes payload into a raw UDP datagram wrapped in an IPv4 or IPv6 header,
// with both checksums computed by hand for the FullCone NAT return path.
func buildUDPFrame(src, dst net.Destination, payload []byte) ([]byte, error) {
	isIPv4 := src.Address.Family().IsIPv4()

	udpLen := header.UDPMinimumSize + len(payload)
	ipHdrSize := header.IPv6MinimumSize
	if isIPv4 {
		ipHdrSize = header.IPv4MinimumSize
	}

	frame := make([]byte, ipHdrSize+udpLen)
	srcIP := tcpip.AddrFromSlice(src.Address.IP())
	dstIP := tcpip.AddrFromSlice(dst.Address.IP())

	udpHdr := header.UDP(frame[ipHdrSize:])
	udpHdr.Encode(&header.UDPFields{
		SrcPort: uint16(src.Port),
		DstPort: uint16(dst.Port),
		Length:  uint16(udpLen),
	})
	copy(frame[ipHdrSize+header.UDPMinimumSize:], payload)

	xsum := header.PseudoHeaderChecksum(header.UDPProtocolNumber, srcIP, dstIP, uint16(udpLen))
	udpHdr.SetChecksum(^udpHdr.CalculateChecksum(checksum.Checksum(payload, xsum)))

	if isIPv4 {
		ipHdr := header.IPv4(frame[:ipHdrSize])
		ipHdr.Encode(&header.IPv4Fields{
			TotalLength: uint16(ipHdrSize + udpLen),
			TTL:         64,
			Protocol:    uint8(header.UDPProtocolNumber),
			SrcAddr:     srcIP,
			DstAddr:     dstIP,
		})
		ipHdr.SetChecksum(^ipHdr.CalculateChecksum())
	} else {
		ipHdr := header.IPv6(frame[:ipHdrSize])
		ipHdr.Encode(&header.IPv6Fields{
			PayloadLength:     uint16(udpLen),
			TransportProtocol: header.UDPProtocolNumber,
			HopLimit:          64,
			SrcAddr:           srcIP,
			DstAddr:           dstIP,
		})
	}

	return frame, nil
}
