// Package worker implements the cooperative worker: one loop, one OS
// thread, and a thread-safe mailbox for cross-thread ingress. A worker is
// the single point of async progress for everything bound to it; no two
// callbacks on the same worker ever run in parallel.
package worker

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/loop"
	obs "github.com/shoalio/shoal/pkg/observability/prometheus"
	"github.com/shoalio/shoal/pkg/wait"
)

// DefaultQuantum bounds how long the loop may block in a single trip
// before returning control for external maintenance. Without it a long
// device wait could defer shutdown and mailbox delivery indefinitely.
const DefaultQuantum = 500 * time.Millisecond

// Options configures a Worker.
type Options struct {
	// Name is the human-readable label used in logs and metrics.
	Name string

	// Quantum is the maximum wall time per transact trip. Zero means
	// DefaultQuantum.
	Quantum time.Duration

	// OwnedThread selects the entrypoint: true workers are driven by
	// Start on their own thread, false workers adopt the caller's thread
	// via RunOnCurrentThread.
	OwnedThread bool

	// Logger defaults to core.NewDefaultLogger.
	Logger core.Logger

	// OnThreadStart runs on the worker thread immediately after the loop
	// is initialized. It is the only integration point for hosting a
	// higher-level scheduler on the worker.
	OnThreadStart func(*Worker)

	// OnThreadStop runs on the worker thread immediately before loop
	// teardown.
	OnThreadStop func(*Worker)
}

// Stats is a point-in-time snapshot of a worker's counters.
type Stats struct {
	Name         string `json:"name"`
	Trips        uint64 `json:"trips"`
	Thunks       uint64 `json:"thunks"`
	MailboxDepth int    `json:"mailbox_depth"`
	PendingOps   int    `json:"pending_ops"`
	Running      bool   `json:"running"`
}

// Worker drives a single-threaded cooperative loop and accepts work from
// other threads through its mailbox.
type Worker struct {
	opts   Options
	logger core.Logger

	// Mailbox state, manipulated both on and off the worker thread.
	mu      sync.Mutex
	pending []func()
	kill    bool
	hasRun  bool

	// Loop state, worker thread only.
	lp      *loop.Loop
	next    []func()
	tripEnd bool

	signalTransact *wait.Event
	signalEnded    *wait.Latch

	trips   atomic.Uint64
	thunks  atomic.Uint64
	running atomic.Bool
}

// New creates a worker. The loop is not created until the worker thread
// starts; all loop access happens on that thread.
func New(opts Options) *Worker {
	if opts.Quantum <= 0 {
		opts.Quantum = DefaultQuantum
	}
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger()
	}
	return &Worker{
		opts:           opts,
		logger:         opts.Logger,
		signalTransact: wait.NewEvent(),
		signalEnded:    wait.NewLatch(),
	}
}

// Name returns the worker's label.
func (w *Worker) Name() string { return w.opts.Name }

// Options returns the options the worker was created with.
func (w *Worker) Options() Options { return w.opts }

func (w *Worker) String() string {
	return fmt.Sprintf("Worker(name='%s')", w.opts.Name)
}

// Stats snapshots the worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	depth := len(w.pending)
	w.mu.Unlock()
	pendingOps := 0
	if w.running.Load() && w.lp != nil {
		pendingOps = w.lp.Pending()
	}
	return Stats{
		Name:         w.opts.Name,
		Trips:        w.trips.Load(),
		Thunks:       w.thunks.Load(),
		MailboxDepth: depth,
		PendingOps:   pendingOps,
		Running:      w.running.Load(),
	}
}

// Start spawns the worker's own thread and returns immediately. Only
// valid for OwnedThread workers, once.
func (w *Worker) Start() error {
	if !w.opts.OwnedThread {
		return core.Misusef("worker %q was not created with an owned thread; use RunOnCurrentThread", w.opts.Name)
	}
	if err := w.markRun(); err != nil {
		return err
	}
	go w.runOnThread()
	return nil
}

// RunOnCurrentThread adopts the calling thread as the worker thread and
// runs the loop inline, returning the terminal status after shutdown.
// Only valid for non-OwnedThread workers, once.
func (w *Worker) RunOnCurrentThread() error {
	if w.opts.OwnedThread {
		return core.Misusef("worker %q owns its thread; use Start", w.opts.Name)
	}
	if err := w.markRun(); err != nil {
		return err
	}
	return w.runOnThread()
}

func (w *Worker) markRun() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasRun {
		return core.Misusef("worker %q has already run; workers are single use", w.opts.Name)
	}
	w.hasRun = true
	return nil
}

// HasRun reports whether the worker's entrypoint was ever invoked.
// Workers are single use; a worker that has run cannot run again.
func (w *Worker) HasRun() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasRun
}

// Kill requests shutdown after the current drain. Callable from any
// thread, idempotent, and does not join; pair with WaitForShutdown.
func (w *Worker) Kill() {
	w.mu.Lock()
	w.kill = true
	w.mu.Unlock()
	w.signalTransact.Set()
}

// WaitForShutdown blocks until the loop has exited and returns the
// terminal status: nil after a clean Kill, or the error that aborted the
// final trip.
func (w *Worker) WaitForShutdown() error {
	return w.signalEnded.Wait()
}

// OnShutdown exposes the ended signal as a wait source so the shutdown
// can be awaited from a loop.
func (w *Worker) OnShutdown() wait.Source {
	return w.signalEnded
}

// CallThreadsafe enqueues cb from any thread. cb runs on the worker
// thread, FIFO with respect to other CallThreadsafe submissions on this
// worker. Submissions that arrive after the final drain are discarded.
func (w *Worker) CallThreadsafe(cb func()) {
	if cb == nil {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, cb)
	depth := len(w.pending)
	w.mu.Unlock()
	obs.GetMetrics().SetMailboxDepth(w.opts.Name, depth)
	w.signalTransact.Set()
}

// CallLowLevel registers cb with the loop at the given priority. Worker
// thread only; the callback fires exactly once with the loop handle and a
// success or cancellation status.
func (w *Worker) CallLowLevel(cb loop.Callback, priority loop.Priority) error {
	if err := w.assertOnThread("CallLowLevel"); err != nil {
		return err
	}
	return w.lp.Call(cb, priority)
}

// WaitUntilLowLevel fires cb at or after the absolute deadline (ns) on
// the worker's clock. Worker thread only.
func (w *Worker) WaitUntilLowLevel(deadlineNs int64, cb loop.Callback) error {
	if err := w.assertOnThread("WaitUntilLowLevel"); err != nil {
		return err
	}
	return w.lp.WaitUntil(deadlineNs, cb)
}

// WaitOneLowLevel fires cb when src is signalled or the deadline elapses;
// the status distinguishes the two. Worker thread only.
func (w *Worker) WaitOneLowLevel(src wait.Source, deadlineNs int64, cb loop.Callback) error {
	if err := w.assertOnThread("WaitOneLowLevel"); err != nil {
		return err
	}
	return w.lp.WaitOne(src, deadlineNs, cb)
}

// Now returns the current absolute time in nanoseconds on the worker's
// clock.
func (w *Worker) Now() int64 {
	return wait.Now()
}

// RelativeToDeadlineNs converts a relative timeout to an absolute
// deadline on the worker's clock.
func (w *Worker) RelativeToDeadlineNs(timeout time.Duration) int64 {
	return wait.DeadlineFromTimeout(timeout)
}

func (w *Worker) assertOnThread(op string) error {
	cur, err := Current()
	if err != nil || cur != w {
		return core.Misusef("%s must be called on the worker thread of %q", op, w.opts.Name)
	}
	return nil
}

// runOnThread is the worker thread entrypoint: loop setup, the trip
// sequence, and guaranteed teardown on every exit path.
func (w *Worker) runOnThread() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.lp = loop.New()
	registerCurrent(w)
	w.running.Store(true)
	obs.GetMetrics().WorkerStarted()
	w.logger.Debugf("worker %q: loop starting", w.opts.Name)

	exitErr := w.callHook(w.opts.OnThreadStart)
	if exitErr == nil {
		exitErr = w.runTrips()
	}

	if hookErr := w.callHook(w.opts.OnThreadStop); hookErr != nil && exitErr == nil {
		exitErr = hookErr
	}
	w.running.Store(false)
	unregisterCurrent()
	w.lp.Destroy()
	obs.GetMetrics().WorkerStopped()

	if exitErr != nil {
		w.logger.Errorf("worker %q: loop exited with error: %v", w.opts.Name, exitErr)
		obs.GetMetrics().RecordCallbackError(w.opts.Name)
	} else {
		w.logger.Debugf("worker %q: loop exited", w.opts.Name)
	}
	w.signalEnded.Set(exitErr)
	return exitErr
}

// runTrips is the outer cycle: drain mailbox, arm the transact watchdog,
// run the loop until it fires, check kill.
func (w *Worker) runTrips() error {
	quantum := int64(w.opts.Quantum)
	for {
		w.mu.Lock()
		w.next, w.pending = w.pending, w.next[:0]
		kill := w.kill
		w.mu.Unlock()

		executed := 0
		var thunkErr error
		for i := range w.next {
			thunk := w.next[i]
			w.next[i] = nil
			if thunkErr = w.runThunk(thunk); thunkErr != nil {
				break
			}
			executed++
		}
		w.next = w.next[:0]
		w.thunks.Add(uint64(executed))
		obs.GetMetrics().RecordThunks(w.opts.Name, executed)
		obs.GetMetrics().SetMailboxDepth(w.opts.Name, 0)
		if thunkErr != nil {
			return thunkErr
		}
		if kill {
			return nil
		}

		w.tripEnd = false
		if err := w.lp.WaitOne(w.signalTransact, w.lp.Now()+quantum, w.onTransact); err != nil {
			return err
		}
		if err := w.lp.Run(func() bool { return w.tripEnd }); err != nil {
			return err
		}
		w.trips.Add(1)
		obs.GetMetrics().RecordTrip(w.opts.Name)
	}
}

// onTransact is the watchdog callback: transact signal or quantum
// deadline, either way control returns to the drain step.
func (w *Worker) onTransact(_ *loop.Loop, status error) error {
	if status != nil && !core.IsDeadlineExceeded(status) && !core.IsCancelled(status) {
		return status
	}
	w.tripEnd = true
	return nil
}

// runThunk shields the trip from panicking callbacks: a panic becomes a
// CallbackFailed status that aborts the trip and surfaces through
// WaitForShutdown.
func (w *Worker) runThunk(thunk func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Errorf(core.CodeCallbackFailed,
				"panic in threadsafe callback on worker %q: %v", w.opts.Name, r)
		}
	}()
	thunk()
	return nil
}

func (w *Worker) callHook(hook func(*Worker)) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = core.Errorf(core.CodeCallbackFailed,
				"panic in thread hook on worker %q: %v", w.opts.Name, r)
		}
	}()
	hook(w)
	return nil
}
