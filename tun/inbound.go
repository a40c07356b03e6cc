package tun

import (
	"context"
	"net/netip"
	"time"

	"github.com/xtls/xray-tun-core/common/errors"
	"github.com/xtls/xray-tun-core/common/net"
)

const (
	defaultMTU            = 1500
	defaultUDPIdleTimeout = 5 * time.Minute
	defaultUDPCleanupTick = 30 * time.Second
)

// Config carries the construction-time options TunInbound needs: the device to open (or
// adopt by file descriptor), its address, DNS interception, per-connection accept behavior,
// and UDP association lifecycle tuning. There is no option for a peer/destination address.
type Config struct {
	// Name is the interface name to open or create, e.g. "tun0" (linux), "utun4" (darwin).
	Name string
	// Address is the interface's address in CIDR form, e.g. "10.0.0.1/24". Its broadcast
	// address, derived from the prefix, is used to drop non-unicast traffic. The platform
	// device code does not assign this address to the OS interface.
	Address string
	// MTU is the interface's MTU in bytes. Zero means defaultMTU.
	MTU int
	// FD, if non-nil, is an already-open device file descriptor to adopt instead of opening
	// Name directly (used when the platform's embedding application opens the device, e.g. a
	// mobile VPN extension).
	FD *int

	// InterceptDNS, if non-nil, is the destination every UDP datagram addressed to port 53
	// is transparently rewritten to before association lookup.
	InterceptDNS *net.Destination

	AcceptOpts AcceptOpts

	// UDPIdleTimeout is how long a UDP association may go without activity before it is
	// evicted. Zero means defaultUDPIdleTimeout.
	UDPIdleTimeout time.Duration
	// UDPCleanupTick is how often UdpTun's own periodic task sweeps for expired UDP
	// associations while any exist. Zero means defaultUDPCleanupTick.
	UDPCleanupTick time.Duration
	// KeepAlive, if non-nil, lets an upper layer refresh a UDP association's last-active
	// time without routing payload through it (e.g. to keep a long-poll association alive).
	KeepAlive <-chan net.Destination
}

// TunInbound is a user-space TUN inbound: it owns a platform TUN device, embeds a gVisor
// stack to hijack TCP, and terminates UDP into source-keyed associations, dispatching every
// resulting stream through Dispatcher.
type TunInbound struct {
	config     Config
	dispatcher Dispatcher
	sniffer    Sniffer

	address netip.Prefix
}

// NewTunInbound validates config and prepares a TunInbound. It does not open the device yet;
// that happens in Run.
func NewTunInbound(config Config, dispatcher Dispatcher, sniffer Sniffer) (*TunInbound, error) {
	address, err := netip.ParsePrefix(config.Address)
	if err != nil {
		return nil, errors.New("invalid tun address ", config.Address).Base(err).AtWarning()
	}
	if config.MTU <= 0 {
		config.MTU = defaultMTU
	}
	if config.UDPIdleTimeout <= 0 {
		config.UDPIdleTimeout = defaultUDPIdleTimeout
	}
	if config.UDPCleanupTick <= 0 {
		config.UDPCleanupTick = defaultUDPCleanupTick
	}

	return &TunInbound{
		config:     config,
		dispatcher: dispatcher,
		sniffer:    sniffer,
		address:    address,
	}, nil
}

// Run creates the platform TUN device, wires TcpTun and UdpTun to it, and runs the reactor
// to completion. If ready is non-nil, it receives the literal string "tun" exactly once,
// after the device is up, so a supervisor can count started inbounds.
func (in *TunInbound) Run(ctx context.Context, ready chan<- string) error {
	device, mtu, err := newDevice(in.config.Name, in.config.MTU, in.config.FD)
	if err != nil {
		return errors.New("create tun device ", in.config.Name).Base(err)
	}
	errors.LogInfo(ctx, "tun device ", in.config.Name, " up with address ", in.address)

	if ready != nil {
		select {
		case ready <- "tun":
		case <-ctx.Done():
		}
	}

	tcp, err := NewTcpTun(ctx, in.dispatcher, in.sniffer, in.config.AcceptOpts, uint32(mtu))
	if err != nil {
		_ = device.Close()
		return errors.New("create tcp tun").Base(err)
	}
	defer tcp.Close()

	udp := NewUdpTun(ctx, in.dispatcher, in.config.InterceptDNS, in.config.UDPIdleTimeout, in.config.UDPCleanupTick)
	defer udp.Close()

	handler := newTunHandler(device, in.broadcastAddress(), tcp, udp, in.config.KeepAlive)

	runErr := handler.Run(ctx)
	_ = device.Close()
	return runErr
}

// broadcastAddress derives the interface's broadcast address from its configured prefix, by
// setting every host bit to 1.
func (in *TunInbound) broadcastAddress() net.Address {
	base := in.address.Masked().Addr()
	raw := append([]byte(nil), base.AsSlice()...)

	hostBits := base.BitLen() - in.address.Bits()
	for i := len(raw) - 1; hostBits > 0; i-- {
		if hostBits >= 8 {
			raw[i] = 0xff
			hostBits -= 8
			continue
		}
		raw[i] |= 0xff >> (8 - hostBits)
		hostBits = 0
	}

	return net.IPAddress(raw)
}
