package task

import (
	"sync"
	"time"
)

// Periodic is a task that runs periodically. Execute is invoked immediately when Start is
// called and then every Interval thereafter, until Execute returns an error or Close is
// called. A non-nil error from Execute stops the cycle; it is not itself fatal to the caller.
type Periodic struct {
	// Interval of the task being run.
	Interval time.Duration
	// Execute is the task function.
	Execute func() error

	access  sync.Mutex
	timer   *time.Timer
	running bool
}

func (t *Periodic) hasClosed() bool {
	t.access.Lock()
	defer t.access.Unlock()
	return !t.running
}

func (t *Periodic) runInternal() {
	if err := t.Execute(); err != nil {
		t.access.Lock()
		t.running = false
		t.access.Unlock()
		return
	}

	if t.hasClosed() {
		return
	}

	t.access.Lock()
	defer t.access.Unlock()
	if !t.running {
		return
	}
	t.timer = time.AfterFunc(t.Interval, t.runInternal)
}

// Start starts the task periodically. It also runs the task once immediately.
func (t *Periodic) Start() error {
	t.access.Lock()
	if t.running {
		t.access.Unlock()
		return nil
	}
	t.running = true
	t.access.Unlock()

	go t.runInternal()
	return nil
}

// Close stops the task from running periodically.
func (t *Periodic) Close() error {
	t.access.Lock()
	defer t.access.Unlock()

	t.running = false
	if t.timer != nil {
		t.timer.Stop()
	}

	return nil
}
