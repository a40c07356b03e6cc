// Package tun implements a user-space TUN inbound: it owns a raw IP device, demultiplexes
// every frame it reads by IP/transport protocol, hijacks TCP via an embedded gVisor network
// stack and terminates UDP into source-keyed associations, and hands the resulting streams
// to a Dispatcher exactly the way any other inbound proxy hands off a connection.
package tun

import (
	"context"

	"github.com/xtls/xray-tun-core/common/net"
	"github.com/xtls/xray-tun-core/transport"
)

// Dispatcher is the narrow handle into the proxy core's dispatch pipeline: outbound dialers,
// routing rules and policy all live behind it. The tun core hands it every hijacked TCP
// connection and every UDP association's payload stream as a transport.Link.
type Dispatcher interface {
	DispatchLink(ctx context.Context, destination net.Destination, link *transport.Link) error
}

// Sniffer classifies the protocol of a newly hijacked TCP flow from its initial bytes. Its
// verdict is informational; it never drives control flow inside this package.
type Sniffer interface {
	Sniff(ctx context.Context, firstPayload []byte) (protocol string, ok bool)
}

// AcceptOpts configures the per-connection socket behavior applied to accepted, hijacked TCP
// connections.
type AcceptOpts struct {
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	KeepAlive         bool
}
