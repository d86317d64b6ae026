package async

import (
	"context"
	"testing"
	"time"

	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/wait"
	"github.com/shoalio/shoal/pkg/worker"
)

// newHostedWorker starts an owned-thread worker with a scheduler
// installed through the thread hooks, the way the system factory does.
func newHostedWorker(t *testing.T, name string) *worker.Worker {
	t.Helper()
	w := worker.New(worker.Options{
		Name:          name,
		Quantum:       100 * time.Millisecond,
		OwnedThread:   true,
		Logger:        core.NewNopLogger(),
		OnThreadStart: func(w *worker.Worker) { Install(w) },
		OnThreadStop:  func(w *worker.Worker) { Uninstall(w) },
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		w.Kill()
		w.WaitForShutdown() //nolint:errcheck
	})
	return w
}

func TestScheduler_InstalledThroughHooks(t *testing.T) {
	w := newHostedWorker(t, "hosted")

	got := make(chan error, 1)
	w.CallThreadsafe(func() {
		_, err := Current()
		got <- err
	})
	select {
	case err := <-got:
		if err != nil {
			t.Errorf("Current() on hosted worker: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestScheduler_ForUnhostedWorkerFails(t *testing.T) {
	w := worker.New(worker.Options{
		Name:        "bare",
		OwnedThread: true,
		Logger:      core.NewNopLogger(),
	})
	if _, err := For(w); err == nil {
		t.Error("For() succeeded for a worker without a scheduler")
	}
}

func TestScheduler_DrainFailsPendingFutures(t *testing.T) {
	w := newHostedWorker(t, "drained")

	futCh := make(chan Future, 1)
	w.CallThreadsafe(func() {
		sched, err := For(w)
		if err != nil {
			t.Errorf("For: %v", err)
			return
		}
		// Never completed; teardown must fail it.
		futCh <- sched.NewFuture()
	})
	fut := <-futCh

	w.Kill()
	if err := w.WaitForShutdown(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := fut.Await(ctx); !core.IsCancelled(err) {
		t.Errorf("pending future after drain: err = %v, want cancelled", err)
	}
}

func TestCompletionEvent_AwaitSeesSignal(t *testing.T) {
	w := newHostedWorker(t, "completion")

	latch := wait.NewLatch()
	go func() {
		time.Sleep(20 * time.Millisecond)
		latch.Set(nil)
	}()

	ev := NewCompletionEvent(latch)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ev.Await(ctx, w); err != nil {
		t.Errorf("Await = %v, want nil", err)
	}
}

func TestCompletionEvent_PropagatesSourceError(t *testing.T) {
	w := newHostedWorker(t, "completion-err")

	latch := wait.NewLatch()
	srcErr := core.Errorf(core.CodeUnknown, "device fault")
	latch.Set(srcErr)

	ev := NewCompletionEvent(latch)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := ev.Await(ctx, w)
	if err == nil {
		t.Fatal("Await = nil, want device fault")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Message != "device fault" {
		t.Errorf("Await = %v, want device fault", err)
	}
}

func TestCompletionEvent_ManyAwaiters(t *testing.T) {
	w := newHostedWorker(t, "completion-many")

	latch := wait.NewLatch()
	const n = 4
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ev := NewCompletionEvent(latch)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs <- ev.Await(ctx, w)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	latch.Set(nil)

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("awaiter %d: %v", i, err)
		}
	}
}
