package worker

import (
	"sync"

	"github.com/shoalio/shoal/internal/gid"
	"github.com/shoalio/shoal/pkg/core"
)

// The worker goroutine is locked to its OS thread for the life of the
// loop, so a goroutine-keyed registry gives every callback running on a
// worker a way back to it. The entry is cleared before loop teardown so
// destructor-phase lookups cannot observe a stale worker.
var (
	currentMu sync.RWMutex
	current   = make(map[uint64]*Worker)
)

func registerCurrent(w *Worker) {
	id := gid.Get()
	currentMu.Lock()
	current[id] = w
	currentMu.Unlock()
}

func unregisterCurrent() {
	id := gid.Get()
	currentMu.Lock()
	delete(current, id)
	currentMu.Unlock()
}

// Current returns the worker whose loop is executing on the calling
// thread. Fails with a Misuse error when called off any worker thread.
func Current() (*Worker, error) {
	currentMu.RLock()
	w := current[gid.Get()]
	currentMu.RUnlock()
	if w == nil {
		return nil, core.Misusef("there is no worker associated with this thread")
	}
	return w, nil
}
