package net

import (
	"net"
	"strings"

	"github.com/xtls/xray-tun-core/common/errors"
)

// Destination represents a network destination including address and protocol (tcp / udp).
type Destination struct {
	Address Address
	Port    Port
	Network Network
}

// DestinationFromAddr generates a Destination from a net.Addr.
func DestinationFromAddr(addr net.Addr) Destination {
	switch addr := addr.(type) {
	case *net.TCPAddr:
		return TCPDestination(IPAddress(addr.IP), Port(addr.Port))
	case *net.UDPAddr:
		return UDPDestination(IPAddress(addr.IP), Port(addr.Port))
	default:
		panic("net: unknown address type")
	}
}

// ParseDestination converts a destination from its string presentation, e.g. "tcp:1.2.3.4:80".
func ParseDestination(dest string) (Destination, error) {
	d := Destination{
		Address: AnyIP,
		Port:    Port(0),
	}
	switch {
	case strings.HasPrefix(dest, "tcp:"):
		d.Network = Network_TCP
		dest = dest[4:]
	case strings.HasPrefix(dest, "udp:"):
		d.Network = Network_UDP
		dest = dest[4:]
	}

	hstr, pstr, err := net.SplitHostPort(dest)
	if err != nil {
		return d, errors.New("invalid destination: ", dest).Base(err)
	}
	if len(hstr) > 0 {
		d.Address = ParseAddress(hstr)
	}
	if len(pstr) > 0 {
		port, err := PortFromString(pstr)
		if err != nil {
			return d, err
		}
		d.Port = port
	}
	return d, nil
}

// TCPDestination creates a TCP destination with given address.
func TCPDestination(address Address, port Port) Destination {
	return Destination{
		Network: Network_TCP,
		Address: address,
		Port:    port,
	}
}

// UDPDestination creates a UDP destination with given address.
func UDPDestination(address Address, port Port) Destination {
	return Destination{
		Network: Network_UDP,
		Address: address,
		Port:    port,
	}
}

// NetAddr returns the network address in this Destination in string form.
func (d Destination) NetAddr() string {
	if d.Network == Network_TCP || d.Network == Network_UDP {
		host := d.Address.String()
		if d.Address.Family().IsIPv6() {
			// ipv6Address.String is already bracketed; JoinHostPort adds its own brackets.
			host = d.Address.IP().String()
		}
		return net.JoinHostPort(host, d.Port.String())
	}
	return ""
}

// String returns the strings form of this Destination.
func (d Destination) String() string {
	prefix := "unknown:"
	switch d.Network {
	case Network_TCP:
		prefix = "tcp:"
	case Network_UDP:
		prefix = "udp:"
	}
	return prefix + d.NetAddr()
}

// IsValid returns true if this Destination is valid.
func (d Destination) IsValid() bool {
	return d.Network != Network_Unknown
}
