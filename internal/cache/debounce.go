package cache

import (
	"sync"
	"time"
)

// DefaultDebounce is the window in which mutations are coalesced into one
// write
const DefaultDebounce = 1500 * time.Millisecond

// Debouncer runs fn once after the last Schedule call in a window. A pending
// run can be forced with Flush or dropped with Stop.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	pending bool
	closed  bool

	run sync.Mutex // serializes fn
}

// NewDebouncer creates a debouncer for fn. A non-positive delay disables the
// timer; Schedule then only marks work as pending until Flush.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Schedule (re)starts the window
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = true
	if d.delay <= 0 {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Pending reports whether a run is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush runs a pending fn now and waits for it
func (d *Debouncer) Flush() {
	d.fire()
}

// Stop drops any pending run without executing it
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.pending = false
}

// Close flushes pending work and rejects further scheduling
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.fire()
}

func (d *Debouncer) fire() {
	d.run.Lock()
	defer d.run.Unlock()

	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.stopLocked()
	d.mu.Unlock()

	d.fn()
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
