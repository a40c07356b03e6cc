package tun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/xtls/xray-tun-core/common/buf"
	xnet "github.com/xtls/xray-tun-core/common/net"
)

func newTestBuffer(t *testing.T, payload []byte) *buf.Buffer {
	t.Helper()
	b := buf.New()
	_, err := b.Write(payload)
	require.NoError(t, err)
	return b
}

func TestBuildUDPFrameIPv4RoundTrips(t *testing.T) {
	src := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("8.8.8.8").To4()), xnet.Port(53))
	dst := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000))
	payload := []byte("reply payload")

	frame, err := buildUDPFrame(src, dst, payload)
	require.NoError(t, err)

	pkt, ok, err := NewIpPacketChecked(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "8.8.8.8", pkt.SrcAddr().String())
	assert.Equal(t, "10.0.0.2", pkt.DstAddr().String())
	assert.Equal(t, header.UDPProtocolNumber, pkt.Protocol())

	udpHdr := header.UDP(pkt.Payload())
	assert.Equal(t, uint16(53), udpHdr.SourcePort())
	assert.Equal(t, uint16(4000), udpHdr.DestinationPort())
	assert.Equal(t, payload, []byte(udpHdr.Payload()))
}

func TestBuildUDPFrameIPv6(t *testing.T) {
	src := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("2001:db8::1")), xnet.Port(53))
	dst := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("2001:db8::2")), xnet.Port(9000))

	frame, err := buildUDPFrame(src, dst, []byte("hi"))
	require.NoError(t, err)

	pkt, ok, err := NewIpPacketChecked(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, xnet.AddressFamilyIPv6, pkt.SrcAddr().Family())
}

func TestUdpReplyWriterAddressFamilyMismatchIsDropped(t *testing.T) {
	egress := make(chan []byte, 1)
	w := &udpReplyWriter{
		egress: egress,
		done:   make(chan struct{}),
		src:    xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000)),
		dst:    xnet.UDPDestination(xnet.IPAddress(net.ParseIP("2001:db8::1")), xnet.Port(9000)),
	}

	b := newTestBuffer(t, []byte("x"))
	err := w.WriteMultiBuffer(buf.MultiBuffer{b})
	assert.NoError(t, err) // mismatch is dropped, not propagated as an error
	assert.Empty(t, egress)
}

func TestUdpReplyWriterEncodesOntoEgress(t *testing.T) {
	egress := make(chan []byte, 1)
	w := &udpReplyWriter{
		egress: egress,
		done:   make(chan struct{}),
		src:    xnet.UDPDestination(xnet.IPAddress(net.ParseIP("8.8.8.8").To4()), xnet.Port(53)),
		dst:    xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(4000)),
	}

	b := newTestBuffer(t, []byte("payload"))
	require.NoError(t, w.WriteMultiBuffer(buf.MultiBuffer{b}))

	select {
	case frame := <-egress:
		pkt, ok, err := NewIpPacketChecked(frame)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "8.8.8.8", pkt.SrcAddr().String())
	default:
		t.Fatal("expected an encoded frame on egress")
	}
}
