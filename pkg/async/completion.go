package async

import (
	"context"
	"runtime"

	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/loop"
	"github.com/shoalio/shoal/pkg/wait"
	"github.com/shoalio/shoal/pkg/worker"
)

// CompletionEvent adapts a wait source into an awaitable. The event must
// keep the underlying source alive at least until the registered loop
// callback fires; holding the event in the bridge closure does that.
type CompletionEvent struct {
	src wait.Source
}

// NewCompletionEvent wraps a wait source.
func NewCompletionEvent(src wait.Source) *CompletionEvent {
	return &CompletionEvent{src: src}
}

// Source returns the wrapped wait source.
func (e *CompletionEvent) Source() wait.Source { return e.src }

// Future bridges the event onto w's hosted scheduler: a scheduler future
// is created, an infinite wait-one is posted against the source, and the
// loop callback settles the future with the source's payload. Must be
// called on w's thread.
func (e *CompletionEvent) Future(w *worker.Worker) (Future, error) {
	if e.src == nil {
		return nil, core.Errorf(core.CodeFailedPrecondition, "completion event has no wait source")
	}
	sched, err := For(w)
	if err != nil {
		return nil, err
	}
	fut := sched.NewFuture()
	// The closure retains e, which transitively keeps the wait source
	// valid for the whole registration.
	keep := e
	err = w.WaitOneLowLevel(keep.src, wait.Infinite, func(_ *loop.Loop, status error) error {
		if status != nil {
			fut.Fail(status)
		} else {
			fut.Complete(nil)
		}
		runtime.KeepAlive(keep)
		return nil
	})
	if err != nil {
		fut.Fail(err)
	}
	return fut, nil
}

// Await blocks the calling goroutine until the source fires, routing the
// registration through w's mailbox so the bridge itself runs on-loop.
// Returns the source's payload: nil on success, the stored error
// otherwise.
func (e *CompletionEvent) Await(ctx context.Context, w *worker.Worker) error {
	futCh := make(chan Future, 1)
	w.CallThreadsafe(func() {
		fut, err := e.Future(w)
		if err != nil {
			fut = Failed(err)
		}
		futCh <- fut
	})
	select {
	case fut := <-futCh:
		_, err := fut.Await(ctx)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
