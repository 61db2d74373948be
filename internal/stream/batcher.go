// Package stream turns an ordered fragment stream from a language model into a single in-flight reply.
// It coalesces fragments into refresh-aligned updates, infers from timing alone whether the model has
// stopped typing, and drives one exchange through its lifecycle until the backend reports completion,
// an error, or the exchange is cancelled.
package stream

import (
	"strings"
	"sync"
	"time"
)

// Scheduler schedules a callback for the next refresh opportunity. The returned stop function cancels
// the callback if it hasn't run yet. Implementations must not run fn synchronously inside Schedule.
type Scheduler interface {
	Schedule(fn func()) (stop func())
}

// FrameScheduler schedules callbacks one frame interval ahead.
type FrameScheduler struct {
	Interval time.Duration
}

// DefaultFrameInterval is roughly one refresh of a 60Hz display.
const DefaultFrameInterval = 16 * time.Millisecond

// Schedule implements Scheduler.
func (f FrameScheduler) Schedule(fn func()) func() {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	t := time.AfterFunc(interval, fn)
	return func() { t.Stop() }
}

// Batcher coalesces rapidly arriving fragments so that its callback fires at most once per scheduled
// refresh, with everything accumulated since the previous flush.
type Batcher struct {
	sched Scheduler
	flush func(string)

	// flushMu serializes callbacks so values are delivered in arrival order.
	flushMu sync.Mutex

	mu        sync.Mutex
	pending   strings.Builder
	scheduled bool
	stop      func()
	closed    bool
}

// NewBatcher creates a Batcher delivering coalesced fragments to flush.
func NewBatcher(sched Scheduler, flush func(string)) *Batcher {
	return &Batcher{
		sched: sched,
		flush: flush,
	}
}

// Accumulate appends fragment to the pending value. The first call after a flush schedules exactly one
// flush on the scheduler; later calls only append.
func (b *Batcher) Accumulate(fragment string) {
	if fragment == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.pending.WriteString(fragment)
	if b.scheduled {
		return
	}
	b.scheduled = true
	b.stop = b.sched.Schedule(b.Flush)
}

// Flush delivers the pending value, if any, and clears it together with the scheduled flag.
func (b *Batcher) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	value := b.pending.String()
	b.pending.Reset()
	b.scheduled = false
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	b.mu.Unlock()

	if value == "" {
		return
	}
	b.flush(value)
}

// Close stops accepting fragments and synchronously flushes what is still pending, so nothing
// accumulated before the end of a stream is lost.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.Flush()
}

// Discard stops accepting fragments and drops the pending value without delivering it.
func (b *Batcher) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.pending.Reset()
	b.scheduled = false
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
}
