// Package loop implements the single-owner cooperative loop that a worker
// drives: callbacks at priority, timers at absolute deadlines, and waits on
// signallable sources. A Loop is owned by exactly one goroutine; every
// submission and every callback happens on that goroutine. The only
// cross-goroutine traffic is the internal completion queue fed by wait
// watchers.
package loop

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/wait"
)

// Priority orders ready callbacks within one scheduling pass.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityLow

	numPriorities
)

// Callback is invoked exactly once with the owning loop and a status:
// nil for success, ErrDeadlineExceeded when a wait timed out, ErrCancelled
// at teardown, or the payload of the fired wait source. A non-nil return
// aborts the current run with that error.
type Callback func(l *Loop, status error) error

type task struct {
	cb     Callback
	status error
}

// Loop multiplexes ready callbacks, timers, and wait-source completions.
type Loop struct {
	ready  [numPriorities][]*task
	timers timerHeap
	seq    uint64

	mu          sync.Mutex
	completions []*task
	watchers    map[*watcher]struct{}
	destroyed   bool
	wake        chan struct{}

	// ops counts registered-but-not-yet-invoked callbacks. Readable from
	// any thread.
	ops atomic.Int64
}

// New creates an empty loop owned by the calling goroutine.
func New() *Loop {
	return &Loop{
		watchers: make(map[*watcher]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Now returns the loop's monotonic clock reading in nanoseconds.
func (l *Loop) Now() int64 {
	return wait.Now()
}

// Call registers cb to run in the current or next pass. FIFO within a
// priority class; PriorityDefault runs before PriorityLow within a pass.
func (l *Loop) Call(cb Callback, priority Priority) error {
	if cb == nil {
		return core.Errorf(core.CodeSubmissionFailed, "nil callback")
	}
	if priority < 0 || priority >= numPriorities {
		return core.Errorf(core.CodeSubmissionFailed, "invalid priority %d", priority)
	}
	if l.isDestroyed() {
		return core.Errorf(core.CodeSubmissionFailed, "loop destroyed")
	}
	l.ready[priority] = append(l.ready[priority], &task{cb: cb})
	l.ops.Add(1)
	return nil
}

// WaitUntil registers cb to fire at or after the absolute deadline (ns).
func (l *Loop) WaitUntil(deadlineNs int64, cb Callback) error {
	if cb == nil {
		return core.Errorf(core.CodeSubmissionFailed, "nil callback")
	}
	if l.isDestroyed() {
		return core.Errorf(core.CodeSubmissionFailed, "loop destroyed")
	}
	l.seq++
	heap.Push(&l.timers, &timerEntry{deadline: deadlineNs, seq: l.seq, cb: cb})
	l.ops.Add(1)
	return nil
}

// WaitOne registers cb to fire when src signals or the deadline elapses,
// whichever comes first. The status distinguishes the two: src.Err() (nil
// for plain events) on signal, ErrDeadlineExceeded on timeout.
func (l *Loop) WaitOne(src wait.Source, deadlineNs int64, cb Callback) error {
	if cb == nil {
		return core.Errorf(core.CodeSubmissionFailed, "nil callback")
	}
	if src == nil {
		return core.Errorf(core.CodeSubmissionFailed, "nil wait source")
	}
	w := &watcher{src: src, deadline: deadlineNs, cb: cb, cancel: make(chan struct{})}
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return core.Errorf(core.CodeSubmissionFailed, "loop destroyed")
	}
	l.watchers[w] = struct{}{}
	l.mu.Unlock()
	l.ops.Add(1)
	go w.run(l)
	return nil
}

// Run executes scheduling passes until stop reports true or a callback
// fails. On failure the remaining ready work is left queued; Destroy
// delivers it a cancelled status.
func (l *Loop) Run(stop func() bool) error {
	for {
		if stop() {
			return nil
		}
		l.collect()
		t := l.pop()
		if t == nil {
			if stop() {
				return nil
			}
			l.block()
			continue
		}
		if err := l.invoke(t); err != nil {
			return err
		}
	}
}

// Pending reports how much work the loop still holds: ready callbacks,
// armed timers, and in-flight waits. Safe from any thread.
func (l *Loop) Pending() int {
	return int(l.ops.Load())
}

// Destroy tears the loop down: every still-registered callback receives
// ErrCancelled exactly once, then further submissions fail. Must run on
// the owner goroutine.
func (l *Loop) Destroy() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	var leftovers []*task
	for w := range l.watchers {
		w.fired = true
		close(w.cancel)
		leftovers = append(leftovers, &task{cb: w.cb})
	}
	l.watchers = nil
	leftovers = append(leftovers, l.completions...)
	l.completions = nil
	l.mu.Unlock()

	for l.timers.Len() > 0 {
		te := heap.Pop(&l.timers).(*timerEntry)
		leftovers = append(leftovers, &task{cb: te.cb})
	}
	for p := 0; p < int(numPriorities); p++ {
		leftovers = append(leftovers, l.ready[p]...)
		l.ready[p] = nil
	}
	for _, t := range leftovers {
		t.status = core.ErrCancelled
		l.invoke(t) //nolint:errcheck // teardown is best effort
	}
}

// collect folds fired completions and due timers into the ready queues.
func (l *Loop) collect() {
	l.mu.Lock()
	if len(l.completions) > 0 {
		l.ready[PriorityDefault] = append(l.ready[PriorityDefault], l.completions...)
		l.completions = l.completions[:0]
	}
	l.mu.Unlock()

	now := l.Now()
	for l.timers.Len() > 0 && l.timers[0].deadline <= now {
		te := heap.Pop(&l.timers).(*timerEntry)
		l.ready[PriorityDefault] = append(l.ready[PriorityDefault], &task{cb: te.cb})
	}
}

func (l *Loop) pop() *task {
	for p := 0; p < int(numPriorities); p++ {
		if q := l.ready[p]; len(q) > 0 {
			t := q[0]
			q[0] = nil
			l.ready[p] = q[1:]
			return t
		}
	}
	return nil
}

// block sleeps until a completion is posted or the nearest timer is due.
func (l *Loop) block() {
	var timerC <-chan time.Time
	if l.timers.Len() > 0 {
		d := time.Duration(l.timers[0].deadline - l.Now())
		if d <= 0 {
			return
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timerC = t.C
	}
	select {
	case <-l.wake:
	case <-timerC:
	}
}

func (l *Loop) invoke(t *task) (err error) {
	l.ops.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err = core.Errorf(core.CodeCallbackFailed, "panic in loop callback: %v", r)
		}
	}()
	if cbErr := t.cb(l, t.status); cbErr != nil {
		if _, ok := cbErr.(*core.Error); ok {
			return cbErr
		}
		return core.Errorf(core.CodeCallbackFailed, "loop callback failed: %v", cbErr)
	}
	return nil
}

func (l *Loop) isDestroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// finishWait posts a watcher's completion onto the loop. At most one of
// signal/timeout/teardown wins per watcher.
func (l *Loop) finishWait(w *watcher, status error) {
	l.mu.Lock()
	if w.fired || l.destroyed {
		l.mu.Unlock()
		return
	}
	w.fired = true
	delete(l.watchers, w)
	l.completions = append(l.completions, &task{cb: w.cb, status: status})
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// watcher bridges one wait-source registration onto the loop. It is the
// only goroutine the loop ever spawns; the callback itself still runs on
// the owner goroutine.
type watcher struct {
	src      wait.Source
	deadline int64
	cb       Callback
	cancel   chan struct{}
	fired    bool // guarded by the loop mutex
}

func (w *watcher) run(l *Loop) {
	var timerC <-chan time.Time
	if w.deadline != wait.Infinite {
		d := time.Duration(w.deadline - wait.Now())
		if d < 0 {
			d = 0
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timerC = t.C
	}
	select {
	case <-w.src.Done():
		l.finishWait(w, w.src.Err())
	case <-timerC:
		l.finishWait(w, core.ErrDeadlineExceeded)
	case <-w.cancel:
	}
}
