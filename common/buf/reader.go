package buf

import (
	"io"
)

// SingleReader reads from a standard io.Reader and reports each underlying Read call as a
// single-Buffer MultiBuffer. It is the generic fallback NewReader returns when the source
// isn't already a buf.Reader.
type SingleReader struct {
	io.Reader
}

// ReadMultiBuffer implements Reader.
func (r *SingleReader) ReadMultiBuffer() (MultiBuffer, error) {
	b := New()
	n, err := r.Reader.Read(b.v[b.end:])
	b.end += int32(n)
	if err != nil {
		b.Release()
		return nil, err
	}
	return MultiBuffer{b}, nil
}

// NewReader creates a new Reader from an io.Reader, returning it unchanged if it already
// implements Reader, wrapping it only if it doesn't.
func NewReader(reader io.Reader) Reader {
	if r, ok := reader.(Reader); ok {
		return r
	}
	return &SingleReader{Reader: reader}
}
