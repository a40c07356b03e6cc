package tun

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xnet "github.com/xtls/xray-tun-core/common/net"
	"github.com/xtls/xray-tun-core/transport"
)

// recordingDispatcher records every DispatchLink call and blocks until the call's context is
// cancelled, simulating a long-lived association's forwarding goroutine without needing a real
// outbound dialer.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []xnet.Destination
}

func (d *recordingDispatcher) DispatchLink(ctx context.Context, destination xnet.Destination, link *transport.Link) error {
	d.mu.Lock()
	d.calls = append(d.calls, destination)
	d.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newTestUdpTun(d *recordingDispatcher, idleTimeout time.Duration) (*UdpTun, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	u := NewUdpTun(ctx, d, nil, idleTimeout, time.Hour)
	return u, cancel
}

func waitForCount(t *testing.T, d *recordingDispatcher, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.count() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.GreaterOrEqual(t, d.count(), n, "timed out waiting for dispatch count")
}

func TestUdpTunCreatesAssociationOnFirstPacket(t *testing.T) {
	d := &recordingDispatcher{}
	u, cancel := newTestUdpTun(d, time.Minute)
	defer cancel()
	defer u.Close()

	src := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000))
	dst := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("8.8.8.8").To4()), xnet.Port(53))

	require.NoError(t, u.HandlePacket(src, dst, []byte("ping")))
	waitForCount(t, d, 1)
}

// TestUdpTunReusesAssociationForSameSource is the core FullCone-NAT property: two datagrams
// from the same client source, even addressed to different destinations, share one
// association and thus one dispatch call.
func TestUdpTunReusesAssociationForSameSource(t *testing.T) {
	d := &recordingDispatcher{}
	u, cancel := newTestUdpTun(d, time.Minute)
	defer cancel()
	defer u.Close()

	src := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000))
	dst1 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("8.8.8.8").To4()), xnet.Port(53))
	dst2 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("1.1.1.1").To4()), xnet.Port(53))

	require.NoError(t, u.HandlePacket(src, dst1, []byte("a")))
	waitForCount(t, d, 1)

	require.NoError(t, u.HandlePacket(src, dst2, []byte("b")))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.count(), "a second datagram from the same source must not spawn a second association")
}

func TestUdpTunDistinctSourcesGetDistinctAssociations(t *testing.T) {
	d := &recordingDispatcher{}
	u, cancel := newTestUdpTun(d, time.Minute)
	defer cancel()
	defer u.Close()

	dst := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("8.8.8.8").To4()), xnet.Port(53))
	src1 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000))
	src2 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.3").To4()), xnet.Port(4000))

	require.NoError(t, u.HandlePacket(src1, dst, []byte("a")))
	require.NoError(t, u.HandlePacket(src2, dst, []byte("b")))
	waitForCount(t, d, 2)
}

// TestUdpTunCleanupExpiredEvictsIdleAssociation exercises the idle-eviction sweep directly,
// independent of the task.Periodic timer that drives it in production.
func TestUdpTunCleanupExpiredEvictsIdleAssociation(t *testing.T) {
	d := &recordingDispatcher{}
	u, cancel := newTestUdpTun(d, time.Nanosecond) // anything already sent is instantly stale
	defer cancel()
	defer u.Close()

	src := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000))
	dst := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("8.8.8.8").To4()), xnet.Port(53))

	require.NoError(t, u.HandlePacket(src, dst, []byte("a")))
	waitForCount(t, d, 1)

	time.Sleep(1100 * time.Millisecond) // idleTimeout is truncated to whole seconds internally
	u.CleanupExpired()

	// CleanupExpired removed the idle association from the table and cancelled its dispatch;
	// a fresh packet from the same source must now spawn a brand new association (a second
	// dispatch call).
	require.NoError(t, u.HandlePacket(src, dst, []byte("b")))
	waitForCount(t, d, 2)
}

func TestUdpTunKeepAliveIsNoOpForUnknownPeer(t *testing.T) {
	d := &recordingDispatcher{}
	u, cancel := newTestUdpTun(d, time.Minute)
	defer cancel()
	defer u.Close()

	unknown := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.9").To4()), xnet.Port(1))
	assert.NotPanics(t, func() { u.KeepAlive(unknown) })
}

func TestUdpTunCloseStopsChecker(t *testing.T) {
	d := &recordingDispatcher{}
	u, cancel := newTestUdpTun(d, time.Minute)
	defer cancel()

	src := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000))
	dst := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("8.8.8.8").To4()), xnet.Port(53))
	require.NoError(t, u.HandlePacket(src, dst, []byte("a")))
	waitForCount(t, d, 1)

	assert.NoError(t, u.Close())
}
