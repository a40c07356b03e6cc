package tun

import "github.com/xtls/xray-tun-core/common/errors"

// PacketBuffer is a fixed-capacity region of memory that one device read fills. A read fills
// a prefix of the buffer; SetLen declares how much of it is valid. The reactor allocates a
// fresh PacketBuffer for every read so the filled one can be classified without aliasing
// the next read (see the buffer-handoff note in this package's design notes).
type PacketBuffer struct {
	v   []byte
	len int
}

// NewPacketBuffer allocates a PacketBuffer with the given capacity and zero length.
func NewPacketBuffer(capacity int) *PacketBuffer {
	return &PacketBuffer{v: make([]byte, capacity)}
}

// Cap returns the capacity of the buffer.
func (p *PacketBuffer) Cap() int {
	return len(p.v)
}

// Len returns the number of valid bytes currently declared in the buffer.
func (p *PacketBuffer) Len() int {
	return p.len
}

// Raw exposes the full backing array, for handing to a device Read call.
func (p *PacketBuffer) Raw() []byte {
	return p.v
}

// SetLen declares that the first n bytes of the buffer are valid. A device read that somehow
// reports more bytes than the buffer's capacity is clamped rather than trusted or allowed to
// panic — see the resolved set_len open question in this package's design notes.
func (p *PacketBuffer) SetLen(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(p.v) {
		errors.LogWarning(nil, "device read reported ", n, " bytes into a ", len(p.v), "-byte buffer, clamping")
		n = len(p.v)
	}
	p.len = n
}

// Bytes returns the valid prefix of the buffer.
func (p *PacketBuffer) Bytes() []byte {
	return p.v[:p.len]
}
