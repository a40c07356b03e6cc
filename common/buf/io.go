package buf

import "time"

// MultiBuffer is a list of Buffers. The order of Buffer matters: payload must be read from
// front to back.
type MultiBuffer []*Buffer

// Len returns the total length of this MultiBuffer.
func (mb MultiBuffer) Len() int32 {
	var size int32
	for _, b := range mb {
		size += b.Len()
	}
	return size
}

// ReleaseMulti releases all buffers held by mb and returns a nil MultiBuffer.
func ReleaseMulti(mb MultiBuffer) MultiBuffer {
	for _, b := range mb {
		b.Release()
	}
	return nil
}

// IsEmpty returns true if the MultiBuffer has no content.
func (mb MultiBuffer) IsEmpty() bool {
	return mb.Len() == 0
}

// Reader extends io.Reader with MultiBuffer.
type Reader interface {
	// ReadMultiBuffer reads content from underlying reader and returns a MultiBuffer on
	// success. It returns an error if the reading fails.
	ReadMultiBuffer() (MultiBuffer, error)
}

// TimeoutReader is a Reader that supports reading with a timeout.
type TimeoutReader interface {
	ReadMultiBufferTimeout(time.Duration) (MultiBuffer, error)
}

// Writer extends io.Writer with MultiBuffer.
type Writer interface {
	// WriteMultiBuffer writes a MultiBuffer into underlying writer.
	WriteMultiBuffer(MultiBuffer) error
}

// Interruptible is implemented by readers/writers that can abort a pending operation.
type Interruptible interface {
	Interrupt()
}
