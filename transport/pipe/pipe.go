// Package pipe implements a bounded, in-process conduit of buf.MultiBuffer chunks, used to
// carry a UDP association's payload between the tun reactor and the dispatched Link without
// an intermediate socket.
package pipe

import (
	"io"
	"sync"

	"github.com/xtls/xray-tun-core/common/buf"
	"github.com/xtls/xray-tun-core/common/signal/done"
)

type pipeOption struct {
	limit           int32
	discardOverflow bool
}

// Option configures a pipe created by New.
type Option func(*pipeOption)

// WithSizeLimit sets the maximum number of bytes the pipe will hold before applying its
// overflow policy. A negative limit means unbounded.
func WithSizeLimit(limit int32) Option {
	return func(o *pipeOption) {
		o.limit = limit
	}
}

// DiscardOverflow instructs the pipe to silently drop writes that would exceed its size
// limit, instead of returning buf.ErrBufferFull to the writer.
func DiscardOverflow() Option {
	return func(o *pipeOption) {
		o.discardOverflow = true
	}
}

type pipe struct {
	sync.Mutex

	data    buf.MultiBuffer
	size    int32
	option  pipeOption
	readable chan struct{}
	done    *done.Instance
	errChan chan error
}

// New creates a connected Reader/Writer pair.
func New(opts ...Option) (*Reader, *Writer) {
	o := pipeOption{limit: -1}
	for _, opt := range opts {
		opt(&o)
	}
	p := &pipe{
		option:   o,
		readable: make(chan struct{}, 1),
		done:     done.New(),
		errChan:  make(chan error, 1),
	}
	return &Reader{pipe: p}, &Writer{pipe: p}
}

func (p *pipe) notify() {
	select {
	case p.readable <- struct{}{}:
	default:
	}
}

func (p *pipe) writeMultiBuffer(mb buf.MultiBuffer) error {
	p.Lock()
	if p.done.Done() {
		p.Unlock()
		buf.ReleaseMulti(mb)
		return io.ErrClosedPipe
	}

	n := mb.Len()
	if p.option.limit >= 0 && p.size+n > p.option.limit {
		p.Unlock()
		if p.option.discardOverflow {
			buf.ReleaseMulti(mb)
			return nil
		}
		buf.ReleaseMulti(mb)
		return buf.ErrBufferFull
	}

	p.data = append(p.data, mb...)
	p.size += n
	p.Unlock()
	p.notify()
	return nil
}

func (p *pipe) readMultiBuffer() (buf.MultiBuffer, error) {
	p.Lock()
	if len(p.data) > 0 {
		mb := p.data
		p.data = nil
		p.size = 0
		p.Unlock()
		return mb, nil
	}
	closed := p.done.Done()
	p.Unlock()
	if closed {
		return nil, io.EOF
	}
	return nil, nil
}

// close marks the pipe closed; pending and future reads observe io.EOF once drained.
func (p *pipe) close() error {
	if err := p.done.Close(); err != nil {
		return err
	}
	p.notify()
	return nil
}

func (p *pipe) interrupt() {
	select {
	case p.errChan <- io.ErrClosedPipe:
	default:
	}
	p.notify()
}
