package pipe

import (
	"io"
	"time"

	"github.com/xtls/xray-tun-core/common/buf"
)

// Reader is a buf.Reader that reads content from a pipe.
type Reader struct {
	pipe *pipe
}

// ReadMultiBuffer implements buf.Reader. It blocks until data is available, the pipe is
// closed, or Interrupt is called.
func (r *Reader) ReadMultiBuffer() (buf.MultiBuffer, error) {
	for {
		select {
		case err := <-r.pipe.errChan:
			return nil, err
		default:
		}

		mb, err := r.pipe.readMultiBuffer()
		if mb != nil || err != nil {
			return mb, err
		}

		select {
		case <-r.pipe.readable:
		case <-r.pipe.done.Wait():
		case err := <-r.pipe.errChan:
			return nil, err
		}
	}
}

// ReadMultiBufferTimeout reads content from a pipe within the given duration, or returns
// buf.ErrReadTimeout otherwise.
func (r *Reader) ReadMultiBufferTimeout(d time.Duration) (buf.MultiBuffer, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case err := <-r.pipe.errChan:
			return nil, err
		default:
		}

		mb, err := r.pipe.readMultiBuffer()
		if mb != nil || err != nil {
			return mb, err
		}

		select {
		case <-r.pipe.readable:
		case <-r.pipe.done.Wait():
		case err := <-r.pipe.errChan:
			return nil, err
		case <-timer.C:
			return nil, buf.ErrReadTimeout
		}
	}
}

// Interrupt implements buf.Interruptible: it makes a pending or future read return an
// error immediately.
func (r *Reader) Interrupt() {
	r.pipe.interrupt()
}

var _ io.Closer = (*Reader)(nil)

// Close implements io.Closer.
func (r *Reader) Close() error {
	return r.pipe.close()
}
