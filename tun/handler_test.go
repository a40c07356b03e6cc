package tun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	xnet "github.com/xtls/xray-tun-core/common/net"
)

func TestIsNonUnicastUnspecified(t *testing.T) {
	addr := xnet.IPAddress(net.ParseIP("0.0.0.0").To4())
	assert.True(t, isNonUnicast(addr, nil))
}

func TestIsNonUnicastMulticast(t *testing.T) {
	addr := xnet.IPAddress(net.ParseIP("224.0.0.1").To4())
	assert.True(t, isNonUnicast(addr, nil))
}

func TestIsNonUnicastBroadcast(t *testing.T) {
	addr := xnet.IPAddress(net.ParseIP("255.255.255.255").To4())
	assert.True(t, isNonUnicast(addr, nil))
}

func TestIsNonUnicastInterfaceBroadcast(t *testing.T) {
	addr := xnet.IPAddress(net.ParseIP("10.0.0.255").To4())
	broadcast := xnet.IPAddress(net.ParseIP("10.0.0.255").To4())
	assert.True(t, isNonUnicast(addr, broadcast))
}

func TestIsNonUnicastOrdinaryClient(t *testing.T) {
	addr := xnet.IPAddress(net.ParseIP("10.0.0.2").To4())
	broadcast := xnet.IPAddress(net.ParseIP("10.0.0.255").To4())
	assert.False(t, isNonUnicast(addr, broadcast))
}

func TestIsNonUnicastIPv6Multicast(t *testing.T) {
	addr := xnet.IPAddress(net.ParseIP("ff02::1"))
	assert.True(t, isNonUnicast(addr, nil))
}

func TestIsNonUnicastIPv6Unicast(t *testing.T) {
	addr := xnet.IPAddress(net.ParseIP("2001:db8::1"))
	assert.False(t, isNonUnicast(addr, nil))
}
