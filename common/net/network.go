package net

// Network is the transport network carrying a Destination's payload.
type Network int32

const (
	Network_Unknown Network = 0
	Network_TCP     Network = 1
	Network_UDP     Network = 2
	Network_UNIX    Network = 3
)

// SystemString returns the name of this network as used by the standard library (e.g. "tcp").
func (n Network) SystemString() string {
	switch n {
	case Network_TCP:
		return "tcp"
	case Network_UDP:
		return "udp"
	case Network_UNIX:
		return "unix"
	default:
		return "unknown"
	}
}

// String implements fmt.Stringer.
func (n Network) String() string {
	return n.SystemString()
}
