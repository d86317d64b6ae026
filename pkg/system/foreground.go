package system

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/shoalio/shoal/pkg/async"
	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/worker"
)

// Foreground is the user entry routine for RunInForeground. It runs on
// the init worker's thread; a nil future kills the worker immediately,
// otherwise the future's completion does.
type Foreground func(w *worker.Worker) (async.Future, error)

// RunInForeground donates a thread to the init worker, runs fn on it, and
// blocks until fn's future settles or the process is interrupted.
//
// The loop always runs on a dedicated locked sidecar thread that the
// caller joins, so OS signal delivery (e.g. an interrupt) never lands in
// the middle of a cooperative trip. On interruption or failure the worker
// is killed, the sidecar joined, the system shut down, and the original
// failure returned.
func (s *System) RunInForeground(fn Foreground) (interface{}, error) {
	w := s.InitWorker()

	var (
		resMu     sync.Mutex
		result    interface{}
		resultErr error
	)
	w.CallThreadsafe(func() {
		fut, err := fn(w)
		if err != nil {
			resMu.Lock()
			resultErr = err
			resMu.Unlock()
			w.Kill()
			return
		}
		if fut == nil {
			w.Kill()
			return
		}
		fut.OnSuccess(func(v interface{}) {
			resMu.Lock()
			result = v
			resMu.Unlock()
			w.Kill()
		})
		fut.OnFailure(func(err error) {
			resMu.Lock()
			resultErr = err
			resMu.Unlock()
			w.Kill()
		})
	})

	runDone := make(chan error, 1)
	go func() {
		runDone <- w.RunOnCurrentThread()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var loopErr error
	select {
	case loopErr = <-runDone:
	case sig := <-sigCh:
		s.logger.Warnf("system %s: caught %v, shutting down", s.name, sig)
		w.Kill()
		<-runDone
		s.Shutdown()
		return nil, core.Errorf(core.CodeCancelled, "interrupted by signal %v", sig)
	}

	s.Shutdown()

	resMu.Lock()
	defer resMu.Unlock()
	if resultErr != nil {
		return nil, resultErr
	}
	if loopErr != nil {
		return nil, loopErr
	}
	return result, nil
}
