// Package done provides a lightweight, closable liveness signal shared between a resource's
// owner and any goroutines that must stop when the owner closes it.
package done

import "sync"

// Instance is a utility for notifying the closing/closed state of something.
type Instance struct {
	access sync.RWMutex
	c      chan struct{}
	closed bool
}

// New returns a new Instance.
func New() *Instance {
	return &Instance{
		c: make(chan struct{}),
	}
}

// Done returns true if this Instance is closed.
func (d *Instance) Done() bool {
	d.access.RLock()
	defer d.access.RUnlock()
	return d.closed
}

// Wait returns a channel for waiting for close.
func (d *Instance) Wait() <-chan struct{} {
	d.access.RLock()
	defer d.access.RUnlock()
	return d.c
}

// Close marks this Instance done. It is safe to call Close more than once; only the first
// call has an effect.
func (d *Instance) Close() error {
	d.access.Lock()
	defer d.access.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.c)
	return nil
}
