package system

import (
	"testing"
	"time"

	"github.com/shoalio/shoal/pkg/async"
	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/loop"
	"github.com/shoalio/shoal/pkg/process"
	"github.com/shoalio/shoal/pkg/worker"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	s := New(Options{
		Name:    "test",
		Quantum: 100 * time.Millisecond,
		Logger:  core.NewNopLogger(),
	})
	t.Cleanup(func() { s.Shutdown() }) //nolint:errcheck
	return s
}

func TestSystem_CreateWorker(t *testing.T) {
	s := newTestSystem(t)

	w, err := s.CreateWorker("w0")
	if err != nil {
		t.Fatal(err)
	}
	if w.Name() != "w0" {
		t.Errorf("worker name = %q", w.Name())
	}

	got, err := s.Worker("w0")
	if err != nil || got != w {
		t.Errorf("Worker(w0) = %v, %v", got, err)
	}

	if _, err := s.CreateWorker("w0"); err == nil {
		t.Error("duplicate worker name accepted")
	}
	if _, err := s.CreateWorker(""); err == nil {
		t.Error("empty worker name accepted")
	}
	if _, err := s.CreateWorker(InitWorkerName); err == nil {
		t.Error("reserved worker name accepted")
	}
}

func TestSystem_WorkersHostSchedulers(t *testing.T) {
	s := newTestSystem(t)
	w, err := s.CreateWorker("hosted")
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan error, 1)
	w.CallThreadsafe(func() {
		_, err := async.Current()
		got <- err
	})
	select {
	case err := <-got:
		if err != nil {
			t.Errorf("scheduler missing on system worker: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestSystem_CreateScope(t *testing.T) {
	s := newTestSystem(t)
	w, err := s.CreateWorker("w0")
	if err != nil {
		t.Fatal(err)
	}

	sc, err := s.CreateScope(w)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Worker() != w {
		t.Error("scope not bound to its worker")
	}
	if len(sc.Devices()) == 0 {
		t.Error("scope has no devices")
	}
	if _, err := sc.Device("cpu0"); err != nil {
		t.Errorf("Device(cpu0): %v", err)
	}
	if _, err := sc.Device("gpu9"); err == nil {
		t.Error("Device(gpu9) succeeded")
	}
	if _, err := s.CreateScope(nil); err == nil {
		t.Error("CreateScope(nil) succeeded")
	}
}

func TestSystem_ShutdownIsIdempotent(t *testing.T) {
	s := newTestSystem(t)
	if _, err := s.CreateWorker("w0"); err != nil {
		t.Fatal(err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if _, err := s.CreateWorker("w1"); err == nil {
		t.Error("CreateWorker succeeded after Shutdown")
	}
}

func TestSystem_RunInForeground(t *testing.T) {
	s := newTestSystem(t)

	result, err := s.RunInForeground(func(w *worker.Worker) (async.Future, error) {
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
					fut.Complete("finished")
				}
				return nil
			})
		return fut, err
	})
	if err != nil {
		t.Fatalf("RunInForeground: %v", err)
	}
	if result != "finished" {
		t.Errorf("result = %v, want finished", result)
	}
}

func TestSystem_RunInForegroundSynchronous(t *testing.T) {
	s := newTestSystem(t)
	ran := false
	result, err := s.RunInForeground(func(w *worker.Worker) (async.Future, error) {
		ran = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("RunInForeground: %v", err)
	}
	if result != nil {
		t.Errorf("result = %v, want nil", result)
	}
	if !ran {
		t.Error("entry routine never ran")
	}
}

func TestSystem_RunInForegroundFailureShutsDown(t *testing.T) {
	s := newTestSystem(t)
	wantErr := core.Errorf(core.CodeUnknown, "entry failed")

	_, err := s.RunInForeground(func(w *worker.Worker) (async.Future, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Errorf("RunInForeground error = %v, want %v", err, wantErr)
	}
	// The failure path shuts the whole system down before returning.
	if _, err := s.CreateWorker("late"); err == nil {
		t.Error("system still accepts workers after foreground failure")
	}
}

func TestSystem_ForegroundRunsProcess(t *testing.T) {
	s := newTestSystem(t)
	w, err := s.CreateWorker("w0")
	if err != nil {
		t.Fatal(err)
	}
	sc, err := s.CreateScope(w)
	if err != nil {
		t.Fatal(err)
	}

	p := process.New(sc, process.RunnerFunc(func(pw *worker.Worker) (async.Future, error) {
		return nil, nil
	}))
	p.SetLogger(core.NewNopLogger())
	if err := p.Launch(); err != nil {
		t.Fatal(err)
	}

	_, err = s.RunInForeground(func(iw *worker.Worker) (async.Future, error) {
		return p.CompletionEvent().Future(iw)
	})
	if err != nil {
		t.Fatalf("RunInForeground: %v", err)
	}
	if p.State() != process.Terminated {
		t.Errorf("process state = %v, want terminated", p.State())
	}
}

func TestSystem_Status(t *testing.T) {
	s := newTestSystem(t)
	if _, err := s.CreateWorker("w0"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateWorker("w1"); err != nil {
		t.Fatal(err)
	}

	st := s.Status()
	if st.Name != "test" {
		t.Errorf("status name = %q", st.Name)
	}
	if len(st.Workers) != 2 {
		t.Errorf("status workers = %d, want 2", len(st.Workers))
	}
	if st.ID == "" {
		t.Error("status id empty")
	}
}
