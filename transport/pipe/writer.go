package pipe

import "github.com/xtls/xray-tun-core/common/buf"

// Writer is a buf.Writer that writes content into a pipe.
type Writer struct {
	pipe *pipe
}

// WriteMultiBuffer implements buf.Writer.
func (w *Writer) WriteMultiBuffer(mb buf.MultiBuffer) error {
	return w.pipe.writeMultiBuffer(mb)
}

// Close closes the writing end of the pipe. Subsequent reads drain any buffered data and
// then observe io.EOF.
func (w *Writer) Close() error {
	return w.pipe.close()
}
