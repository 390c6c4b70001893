package utils

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once the delay has
// passed without another trigger.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
	gen   uint64
}

// NewDebouncer creates a debouncer with the given quiet delay
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing any function still waiting
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	d.fn = fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush runs the waiting function immediately. It reports whether one was waiting.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.take()
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Stop drops the waiting function without running it
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.take() != nil
}

// Pending reports whether a function is waiting to run
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	fn := d.take()
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// take must be called with mu held
func (d *Debouncer) take() func() {
	fn := d.fn
	d.fn = nil
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return fn
}
