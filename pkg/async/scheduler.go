package async

import (
	"sync"

	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/worker"
)

// Scheduler is the hosted high-level scheduler for one worker. It is the
// factory for futures that settle on the worker's loop, and it tracks
// pending futures so teardown can fail them instead of leaking awaiters.
//
// A scheduler is installed from the worker's OnThreadStart hook and
// drained from OnThreadStop; the worker itself never learns about it.
type Scheduler struct {
	w *worker.Worker

	mu      sync.Mutex
	pending map[*future]struct{}
}

var (
	schedMu    sync.RWMutex
	schedulers = make(map[*worker.Worker]*Scheduler)
)

// Install creates the scheduler for w and registers it. Meant to be
// called from w's OnThreadStart hook.
func Install(w *worker.Worker) *Scheduler {
	s := &Scheduler{
		w:       w,
		pending: make(map[*future]struct{}),
	}
	schedMu.Lock()
	schedulers[w] = s
	schedMu.Unlock()
	return s
}

// Uninstall drains and removes w's scheduler. Meant to be called from
// w's OnThreadStop hook. Pending futures fail with a cancelled status.
func Uninstall(w *worker.Worker) {
	schedMu.Lock()
	s := schedulers[w]
	delete(schedulers, w)
	schedMu.Unlock()
	if s != nil {
		s.Drain()
	}
}

// For returns the scheduler installed on w.
func For(w *worker.Worker) (*Scheduler, error) {
	schedMu.RLock()
	s := schedulers[w]
	schedMu.RUnlock()
	if s == nil {
		return nil, core.Errorf(core.CodeFailedPrecondition,
			"worker %q does not host a scheduler", w.Name())
	}
	return s, nil
}

// Current returns the scheduler of the worker running on the calling
// thread.
func Current() (*Scheduler, error) {
	w, err := worker.Current()
	if err != nil {
		return nil, err
	}
	return For(w)
}

// Worker returns the worker this scheduler is bound to.
func (s *Scheduler) Worker() *worker.Worker { return s.w }

// NewFuture creates a future tracked by this scheduler. Once it settles,
// either way, it leaves the pending set.
func (s *Scheduler) NewFuture() Future {
	f := newFuture()
	f.onSettle = func() {
		s.mu.Lock()
		delete(s.pending, f)
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.pending[f] = struct{}{}
	s.mu.Unlock()
	return f
}

// Pending reports how many futures have not settled yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Drain fails every pending future with a cancelled status. Awaiters of
// work that can no longer complete unblock instead of hanging.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	leftover := make([]*future, 0, len(s.pending))
	for f := range s.pending {
		leftover = append(leftover, f)
	}
	s.mu.Unlock()
	for _, f := range leftover {
		f.Fail(core.ErrCancelled)
	}
}
