package process

import (
	"context"
	"testing"
	"time"

	"github.com/shoalio/shoal/pkg/async"
	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/loop"
	"github.com/shoalio/shoal/pkg/worker"
)

type testScope struct {
	w *worker.Worker
}

func (s *testScope) Worker() *worker.Worker { return s.w }

func newScopedWorker(t *testing.T, name string) *testScope {
	t.Helper()
	w := worker.New(worker.Options{
		Name:          name,
		Quantum:       100 * time.Millisecond,
		OwnedThread:   true,
		Logger:        core.NewNopLogger(),
		OnThreadStart: func(w *worker.Worker) { async.Install(w) },
		OnThreadStop:  func(w *worker.Worker) { async.Uninstall(w) },
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		w.Kill()
		w.WaitForShutdown() //nolint:errcheck
	})
	return &testScope{w: w}
}

func awaitTermination(t *testing.T, p *Process, timeout time.Duration) error {
	t.Helper()
	select {
	case <-p.OnTermination().Done():
		return p.OnTermination().Err()
	case <-time.After(timeout):
		t.Fatalf("%s did not terminate within %v", p, timeout)
		return nil
	}
}

func TestProcess_SynchronousRun(t *testing.T) {
	scope := newScopedWorker(t, "sync")
	ran := false
	p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
		ran = true
		return nil, nil
	}))
	p.SetLogger(core.NewNopLogger())

	if p.State() != Initialized {
		t.Fatalf("state = %v before launch", p.State())
	}
	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}
	if err := awaitTermination(t, p, 5*time.Second); err != nil {
		t.Errorf("termination status = %v, want nil", err)
	}
	if !ran {
		t.Error("runner never ran")
	}
	if p.State() != Terminated {
		t.Errorf("state = %v, want terminated", p.State())
	}
	if p.PID() == 0 {
		t.Error("PID not assigned at launch")
	}
}

func TestProcess_AsynchronousRun(t *testing.T) {
	scope := newScopedWorker(t, "async")
	p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
		sched, err := async.For(w)
		if err != nil {
			return nil, err
		}
		fut := sched.NewFuture()
		err = w.WaitUntilLowLevel(w.RelativeToDeadlineNs(30*time.Millisecond),
			func(_ *loop.Loop, status error) error {
				if status != nil {
					fut.Fail(status)
				} else {
					fut.Complete(nil)
				}
				return nil
			})
		return fut, err
	}))
	p.SetLogger(core.NewNopLogger())

	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}
	if err := awaitTermination(t, p, 5*time.Second); err != nil {
		t.Errorf("termination status = %v, want nil", err)
	}
}

func TestProcess_RunErrorTerminatesWithError(t *testing.T) {
	scope := newScopedWorker(t, "runerr")
	wantErr := core.Errorf(core.CodeUnknown, "run failed")
	p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
		return nil, wantErr
	}))
	p.SetLogger(core.NewNopLogger())

	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}
	if err := awaitTermination(t, p, 5*time.Second); err != wantErr {
		t.Errorf("termination status = %v, want %v", err, wantErr)
	}
}

func TestProcess_PanicInRunTerminates(t *testing.T) {
	scope := newScopedWorker(t, "runpanic")
	p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
		panic("user bug")
	}))
	p.SetLogger(core.NewNopLogger())

	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}
	err := awaitTermination(t, p, 5*time.Second)
	if err == nil {
		t.Fatal("termination status = nil after panicking run")
	}
	ce, ok := err.(*core.Error)
	if !ok || ce.Code != core.CodeCallbackFailed {
		t.Errorf("termination status = %v, want CALLBACK_FAILED", err)
	}
}

func TestProcess_DoubleLaunchFails(t *testing.T) {
	scope := newScopedWorker(t, "double")
	p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
		return nil, nil
	}))
	p.SetLogger(core.NewNopLogger())

	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}
	if err := p.Launch(); err == nil {
		t.Error("second Launch succeeded")
	}
}

func TestProcess_PIDsAreMonotonic(t *testing.T) {
	scope := newScopedWorker(t, "pids")
	var pids []int64
	for i := 0; i < 3; i++ {
		p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
			return nil, nil
		}))
		p.SetLogger(core.NewNopLogger())
		if err := p.Launch(); err != nil {
			t.Fatal(err)
		}
		awaitTermination(t, p, 5*time.Second) //nolint:errcheck
		pids = append(pids, p.PID())
	}
	for i := 1; i < len(pids); i++ {
		if pids[i] <= pids[i-1] {
			t.Errorf("pids not monotonic: %v", pids)
		}
	}
}

func TestProcess_AwaitThroughCompletionEvent(t *testing.T) {
	scope := newScopedWorker(t, "await")
	p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
		return nil, nil
	}))
	p.SetLogger(core.NewNopLogger())
	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.CompletionEvent().Await(ctx, scope.Worker()); err != nil {
		t.Errorf("Await = %v, want nil", err)
	}
}

func TestProcess_TerminationObservableByMany(t *testing.T) {
	scope := newScopedWorker(t, "observers")
	release := make(chan struct{})
	p := New(scope, RunnerFunc(func(w *worker.Worker) (async.Future, error) {
		<-release
		return nil, nil
	}))
	p.SetLogger(core.NewNopLogger())
	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}

	const n = 3
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			<-p.OnTermination().Done()
			done <- p.OnTermination().Err()
		}()
	}
	close(release)
	for i := 0; i < n; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("observer %d: %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("observer never saw termination")
		}
	}
}
