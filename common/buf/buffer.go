package buf

import (
	"io"
	"sync"

	"github.com/xtls/xray-tun-core/common/errors"
	"github.com/xtls/xray-tun-core/common/net"
)

// Size of a regular buffer.
const Size = 8192

var ErrBufferFull = errors.New("buffer is full")

// ErrReadTimeout is returned by a TimeoutReader when no data arrives within the deadline.
var ErrReadTimeout = errors.New("io timeout")

var pool = sync.Pool{
	New: func() interface{} {
		return make([]byte, Size)
	},
}

type ownership uint8

const (
	managed ownership = iota
	unmanaged
)

// Buffer is a recyclable allocation of a byte array. Buffer.Release() recycles the buffer
// into an internal buffer pool, in order to recreate a buffer more quickly.
//
// UDP carries a per-datagram address override: on a datagram from a tun client it is the
// datagram's destination; on a reply it is the source address the re-packetized datagram
// should carry when that differs from the association's nominal source.
type Buffer struct {
	v         []byte
	start     int32
	end       int32
	ownership ownership
	UDP       *net.Destination
}

// New creates a Buffer with 0 length and Size capacity, managed.
func New() *Buffer {
	v := pool.Get().([]byte)
	if cap(v) < Size {
		v = make([]byte, Size)
	}
	return &Buffer{v: v[:Size]}
}

// FromBytes creates a Buffer with an existing byte array, unmanaged (never recycled).
func FromBytes(b []byte) *Buffer {
	return &Buffer{
		v:         b,
		end:       int32(len(b)),
		ownership: unmanaged,
	}
}

// Release recycles the buffer into the internal buffer pool.
func (b *Buffer) Release() {
	if b == nil || b.v == nil || b.ownership == unmanaged {
		return
	}
	v := b.v
	b.v = nil
	b.Clear()
	b.UDP = nil
	if cap(v) == Size {
		pool.Put(v[:Size])
	}
}

// Clear clears the content of the buffer, resulting in an empty buffer with Len() == 0.
func (b *Buffer) Clear() {
	b.start = 0
	b.end = 0
}

// Bytes returns the content bytes of this Buffer.
func (b *Buffer) Bytes() []byte {
	return b.v[b.start:b.end]
}

// Len returns the length of the buffer content.
func (b *Buffer) Len() int32 {
	if b == nil {
		return 0
	}
	return b.end - b.start
}

// Cap returns the capacity of the buffer content.
func (b *Buffer) Cap() int32 {
	if b == nil {
		return 0
	}
	return int32(len(b.v))
}

// IsEmpty returns true if the buffer is empty.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Write implements io.Writer.
func (b *Buffer) Write(data []byte) (int, error) {
	n := copy(b.v[b.end:], data)
	b.end += int32(n)
	if n < len(data) {
		return n, ErrBufferFull
	}
	return n, nil
}

// Read implements io.Reader.
func (b *Buffer) Read(data []byte) (int, error) {
	if b.Len() == 0 {
		return 0, io.EOF
	}
	n := copy(data, b.v[b.start:b.end])
	if int32(n) == b.Len() {
		b.Clear()
	} else {
		b.start += int32(n)
	}
	return n, nil
}

// String returns the string form of this Buffer.
func (b *Buffer) String() string {
	return string(b.Bytes())
}
