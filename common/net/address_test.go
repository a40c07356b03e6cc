package net_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xnet "github.com/xtls/xray-tun-core/common/net"
)

func TestIPAddressEquality(t *testing.T) {
	a := xnet.IPAddress(net.ParseIP("192.168.1.1").To4())
	b := xnet.IPAddress(net.ParseIP("192.168.1.1").To4())
	assert.Equal(t, a, b)
	assert.True(t, a == b, "two ipv4Address values built from equal IPs must compare equal")
}

func TestIPAddressV4MappedCollapsesToV4(t *testing.T) {
	mapped := xnet.IPAddress(net.ParseIP("10.0.0.5")) // 16-byte v4-mapped form
	plain := xnet.IPAddress(net.ParseIP("10.0.0.5").To4())
	assert.Equal(t, plain.Family(), mapped.Family())
	assert.True(t, mapped == plain)
}

func TestIPAddressV6Equality(t *testing.T) {
	a := xnet.IPAddress(net.ParseIP("2001:db8::1"))
	b := xnet.IPAddress(net.ParseIP("2001:db8::1"))
	assert.Equal(t, xnet.AddressFamilyIPv6, a.Family())
	assert.True(t, a == b)
}

func TestDomainAddressEquality(t *testing.T) {
	a := xnet.DomainAddress("example.com")
	b := xnet.DomainAddress("example.com")
	assert.True(t, a == b)
	assert.Equal(t, "example.com", a.Domain())
}

// TestDestinationAsMapKey locks in the fix that made net.Destination usable as a map key: two
// Destinations built independently (as two packets from the same client source would be) must
// compare equal and collide in a map, the way UdpTun's association table depends on.
func TestDestinationAsMapKey(t *testing.T) {
	d1 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(51820))
	d2 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(51820))

	table := map[xnet.Destination]int{}
	table[d1] = 1

	v, ok := table[d2]
	require.True(t, ok, "a logically identical Destination must find the existing map entry")
	assert.Equal(t, 1, v)
}

func TestDestinationAsMapKeyDistinguishesSource(t *testing.T) {
	d1 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.2").To4()), xnet.Port(1111))
	d2 := xnet.UDPDestination(xnet.IPAddress(net.ParseIP("10.0.0.3").To4()), xnet.Port(1111))

	table := map[xnet.Destination]int{d1: 1}
	_, ok := table[d2]
	assert.False(t, ok, "different source addresses must not collide in the association table")
}

func TestParseAddressFallsBackToDomain(t *testing.T) {
	addr := xnet.ParseAddress("not-an-ip.example")
	assert.Equal(t, xnet.AddressFamilyDomain, addr.Family())
	assert.Equal(t, "not-an-ip.example", addr.Domain())
}

func TestIPAddressMalformedLengthFallsBackToUnspecified(t *testing.T) {
	addr := xnet.IPAddress(net.IP{1, 2, 3}) // 3 bytes: neither v4 nor v6
	assert.Equal(t, xnet.AddressFamilyIPv4, addr.Family())
	assert.True(t, addr.IP().IsUnspecified())
}

func TestAnyIPIsUnspecified(t *testing.T) {
	assert.True(t, xnet.AnyIP.IP().IsUnspecified())
	assert.True(t, xnet.AnyIPv6.IP().IsUnspecified())
}
