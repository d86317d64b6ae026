// Package process runs user routines on a worker and reports their
// termination through a wait source.
package process

import (
	"fmt"
	"sync/atomic"

	"github.com/shoalio/shoal/pkg/async"
	"github.com/shoalio/shoal/pkg/core"
	obs "github.com/shoalio/shoal/pkg/observability/prometheus"
	"github.com/shoalio/shoal/pkg/wait"
	"github.com/shoalio/shoal/pkg/worker"
)

// State is the process lifecycle phase. Transitions are monotonic:
// Initialized -> Running -> Terminated.
type State int32

const (
	Initialized State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Scope is the slice of the system a process binds to; it supplies the
// worker the routine runs on.
type Scope interface {
	Worker() *worker.Worker
}

// Runner is the user routine. It runs on the worker thread. A nil future
// means the routine finished synchronously; a non-nil future defers
// termination until the future settles. An error terminates the process
// carrying that error.
type Runner interface {
	Run(w *worker.Worker) (async.Future, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(w *worker.Worker) (async.Future, error)

func (f RunnerFunc) Run(w *worker.Worker) (async.Future, error) { return f(w) }

var pidCounter atomic.Int64

func nextPID() int64 { return pidCounter.Add(1) }

// Process packages "run this routine on this worker and signal me when it
// terminates".
type Process struct {
	scope  Scope
	runner Runner
	logger core.Logger

	pid         atomic.Int64
	state       atomic.Int32
	termination *wait.Latch
}

// New creates an unlaunched process bound to scope.
func New(scope Scope, runner Runner) *Process {
	return &Process{
		scope:       scope,
		runner:      runner,
		logger:      core.NewDefaultLogger(),
		termination: wait.NewLatch(),
	}
}

// SetLogger replaces the process logger. Call before Launch.
func (p *Process) SetLogger(logger core.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// PID returns the process id, or 0 before Launch.
func (p *Process) PID() int64 { return p.pid.Load() }

// State returns the current lifecycle phase.
func (p *Process) State() State { return State(p.state.Load()) }

// Scope returns the scope the process was created against.
func (p *Process) Scope() Scope { return p.scope }

func (p *Process) String() string {
	return fmt.Sprintf("Process(pid=%d, state=%s)", p.PID(), p.State())
}

// Launch assigns the pid and schedules the routine on the scope's worker.
// A second Launch is an error.
func (p *Process) Launch() error {
	if p.runner == nil {
		return core.Errorf(core.CodeFailedPrecondition, "process has no runner")
	}
	if !p.state.CompareAndSwap(int32(Initialized), int32(Running)) {
		return core.Misusef("process %d has already been launched", p.PID())
	}
	p.pid.Store(nextPID())
	obs.GetMetrics().ProcessLaunched()
	p.logger.Debugf("%s: launched", p)
	p.scheduleOnWorker()
	return nil
}

// scheduleOnWorker posts the one-shot launch thunk through the worker
// mailbox. The closure holds the only reference that needs to survive the
// thread hop; it keeps the process alive until the routine has run.
func (p *Process) scheduleOnWorker() {
	w := p.scope.Worker()
	self := p
	w.CallThreadsafe(func() {
		self.runOnWorker(w)
	})
}

// runOnWorker invokes the routine on the worker thread. A synchronous
// routine terminates the process immediately; an asynchronous one
// terminates when its future settles. Panics terminate the process with a
// CallbackFailed status instead of unwinding into the loop.
func (p *Process) runOnWorker(w *worker.Worker) {
	defer func() {
		if r := recover(); r != nil {
			p.terminate(core.Errorf(core.CodeCallbackFailed,
				"panic in process %d run: %v", p.PID(), r))
		}
	}()
	fut, err := p.runner.Run(w)
	if err != nil {
		p.terminate(err)
		return
	}
	if fut == nil {
		p.terminate(nil)
		return
	}
	// The handlers hold the process reference until the continuation is
	// done.
	self := p
	fut.OnSuccess(func(interface{}) { self.terminate(nil) })
	fut.OnFailure(func(err error) { self.terminate(err) })
}

// Terminate marks a routine-managed process as finished. Runners that
// orchestrate their own continuations call this exactly once, on-loop.
func (p *Process) Terminate() {
	p.terminate(nil)
}

func (p *Process) terminate(err error) {
	if !p.state.CompareAndSwap(int32(Running), int32(Terminated)) {
		return
	}
	obs.GetMetrics().ProcessTerminated()
	if err != nil {
		p.logger.Debugf("%s: terminated with error: %v", p, err)
	} else {
		p.logger.Debugf("%s: terminated", p)
	}
	p.termination.Set(err)
}

// OnTermination returns the wait source that fires exactly once when the
// process terminates and stays signalled thereafter. Any number of
// observers may wait on it.
func (p *Process) OnTermination() wait.Source {
	return p.termination
}

// CompletionEvent wraps the termination signal for awaiting through a
// hosted scheduler.
func (p *Process) CompletionEvent() *async.CompletionEvent {
	return async.NewCompletionEvent(p.termination)
}
