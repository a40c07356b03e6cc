package buf

import (
	"io"
)

// BufferToBytesWriter writes each Buffer in a MultiBuffer to a standard io.Writer in turn,
// releasing it afterward. It is the generic fallback NewWriter returns when the destination
// isn't already a buf.Writer.
type BufferToBytesWriter struct {
	io.Writer
}

// WriteMultiBuffer implements Writer.
func (w *BufferToBytesWriter) WriteMultiBuffer(mb MultiBuffer) error {
	defer ReleaseMulti(mb)

	for _, b := range mb {
		if b.IsEmpty() {
			continue
		}
		if _, err := w.Writer.Write(b.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// NewWriter creates a new Writer from an io.Writer, returning it unchanged if it already
// implements Writer, wrapping it only if it doesn't.
func NewWriter(writer io.Writer) Writer {
	if w, ok := writer.(Writer); ok {
		return w
	}
	return &BufferToBytesWriter{Writer: writer}
}
