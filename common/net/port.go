package net

import (
	"encoding/binary"
	"strconv"

	"github.com/xtls/xray-tun-core/common/errors"
)

// Port represents a network port in TCP and UDP protocol.
type Port uint16

// PortFromBytes converts a byte array to a Port, assuming bytes are in big endian order.
// @unsafe Caller must ensure that the byte array has at least 2 elements.
func PortFromBytes(port []byte) Port {
	return Port(binary.BigEndian.Uint16(port))
}

// PortFromInt converts an integer to a Port.
// @error when the integer is larger than 65535
func PortFromInt(val uint32) (Port, error) {
	if val > 65535 {
		return Port(0), errors.New("invalid port range: ", val)
	}
	return Port(val), nil
}

// PortFromString converts a string to a Port.
// @error when the string is not an integer or the integral value is a not a valid Port.
func PortFromString(s string) (Port, error) {
	val, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Port(0), errors.New("invalid port range: ", s)
	}
	return PortFromInt(uint32(val))
}

// Value return the corresponding uint16 value of a Port.
func (p Port) Value() uint16 {
	return uint16(p)
}

// String returns the string presentation of a Port.
func (p Port) String() string {
	return strconv.Itoa(int(p))
}

// MemoryPortRange is an inclusive [From, To] range of ports, held in memory rather than as a
// wire-format message (this module has no configuration-protocol layer to generate one from).
type MemoryPortRange struct {
	From Port
	To   Port
}

// Contains returns true if the given port falls within this range.
func (r MemoryPortRange) Contains(port Port) bool {
	return r.From <= port && port <= r.To
}

// SinglePortRange returns a MemoryPortRange containing exactly one port.
func SinglePortRange(p Port) MemoryPortRange {
	return MemoryPortRange{From: p, To: p}
}
