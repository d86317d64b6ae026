package system

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shoalio/shoal/pkg/async"
	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/worker"
)

// InitWorkerName is the reserved name of the system's donated-thread
// worker used by the foreground runner.
const InitWorkerName = "__init__"

// Factory builds workers for the system. Replacing it is how an
// embedding environment substitutes its own worker flavor; the default
// installs the hosted async scheduler through the thread hooks.
type Factory func(opts worker.Options) *worker.Worker

// Options configures a System.
type Options struct {
	// Name labels the system in logs and the inspector.
	Name string

	// Quantum is applied to every worker the system creates. Zero means
	// worker.DefaultQuantum.
	Quantum time.Duration

	// Logger defaults to core.NewDefaultLogger.
	Logger core.Logger

	// WorkerFactory defaults to DefaultFactory.
	WorkerFactory Factory
}

// DefaultFactory returns the stock worker factory: it layers the async
// scheduler install/uninstall onto the thread hooks, preserving any hooks
// already present in the options.
func DefaultFactory() Factory {
	return func(opts worker.Options) *worker.Worker {
		userStart := opts.OnThreadStart
		userStop := opts.OnThreadStop
		opts.OnThreadStart = func(w *worker.Worker) {
			async.Install(w)
			if userStart != nil {
				userStart(w)
			}
		}
		opts.OnThreadStop = func(w *worker.Worker) {
			if userStop != nil {
				userStop(w)
			}
			async.Uninstall(w)
		}
		return worker.New(opts)
	}
}

// System owns a fleet of workers, the scopes bound to them, and the init
// worker used for foreground runs. It holds no other process-global
// state.
type System struct {
	id      string
	name    string
	quantum time.Duration
	logger  core.Logger
	factory Factory
	devices []*Device

	mu         sync.Mutex
	workers    map[string]*worker.Worker
	scopes     []*Scope
	initWorker *worker.Worker
	shutdown   bool
}

// New creates a system with a single host CPU device.
func New(opts Options) *System {
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger()
	}
	if opts.WorkerFactory == nil {
		opts.WorkerFactory = DefaultFactory()
	}
	if opts.Name == "" {
		opts.Name = "shoal"
	}
	node := &Node{num: 0}
	return &System{
		id:      "system." + uuid.New().String(),
		name:    opts.Name,
		quantum: opts.Quantum,
		logger:  opts.Logger,
		factory: opts.WorkerFactory,
		devices: []*Device{NewHostCPUDevice("cpu0", node)},
		workers: make(map[string]*worker.Worker),
	}
}

// ID returns the system's unique id.
func (s *System) ID() string { return s.id }

// Name returns the system's label.
func (s *System) Name() string { return s.name }

// Devices returns the system's device handles.
func (s *System) Devices() []*Device { return s.devices }

// CreateWorker creates and starts an owned-thread worker. Names are
// unique within a system.
func (s *System) CreateWorker(name string) (*worker.Worker, error) {
	if name == "" || name == InitWorkerName {
		return nil, core.Misusef("invalid worker name %q", name)
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, core.Errorf(core.CodeFailedPrecondition, "system %s is shut down", s.name)
	}
	if _, exists := s.workers[name]; exists {
		s.mu.Unlock()
		return nil, core.Misusef("worker %q already exists", name)
	}
	w := s.factory(worker.Options{
		Name:        name,
		Quantum:     s.quantum,
		OwnedThread: true,
		Logger:      s.logger,
	})
	s.workers[name] = w
	s.mu.Unlock()

	if err := w.Start(); err != nil {
		s.mu.Lock()
		delete(s.workers, name)
		s.mu.Unlock()
		return nil, err
	}
	s.logger.Infof("system %s: worker %q started", s.name, name)
	return w, nil
}

// Worker looks up a worker by name.
func (s *System) Worker(name string) (*worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == InitWorkerName && s.initWorker != nil {
		return s.initWorker, nil
	}
	w, ok := s.workers[name]
	if !ok {
		return nil, core.Errorf(core.CodeFailedPrecondition, "no worker %q", name)
	}
	return w, nil
}

// InitWorker returns the system's donated-thread worker, creating it on
// first use. It is not started; the caller donates a thread via
// RunOnCurrentThread (usually through RunInForeground).
func (s *System) InitWorker() *worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initWorker == nil {
		s.initWorker = s.factory(worker.Options{
			Name:        InitWorkerName,
			Quantum:     s.quantum,
			OwnedThread: false,
			Logger:      s.logger,
		})
	}
	return s.initWorker
}

// CreateScope binds a scope to w over the system's devices.
func (s *System) CreateScope(w *worker.Worker) (*Scope, error) {
	if w == nil {
		return nil, core.Misusef("scope requires a worker")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, core.Errorf(core.CodeFailedPrecondition, "system %s is shut down", s.name)
	}
	sc := newScope(s, w)
	s.scopes = append(s.scopes, sc)
	return sc, nil
}

// Shutdown kills every worker and waits for their loops to end.
// Idempotent; safe from any thread except a worker's own.
func (s *System) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	workers := make([]*worker.Worker, 0, len(s.workers)+1)
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	if s.initWorker != nil {
		workers = append(workers, s.initWorker)
	}
	s.mu.Unlock()

	s.logger.Infof("system %s: shutting down %d workers", s.name, len(workers))
	for _, w := range workers {
		w.Kill()
	}
	var firstErr error
	for _, w := range workers {
		if !w.HasRun() {
			continue
		}
		if err := w.WaitForShutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logger.Infof("system %s: shutdown complete", s.name)
	return firstErr
}

// Status snapshots the system for the inspector.
func (s *System) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:     s.id,
		Name:   s.name,
		Scopes: len(s.scopes),
	}
	for _, w := range s.workers {
		st.Workers = append(st.Workers, w.Stats())
	}
	if s.initWorker != nil {
		st.Workers = append(st.Workers, s.initWorker.Stats())
	}
	return st
}

// Status is a point-in-time snapshot of the system.
type Status struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Scopes  int            `json:"scopes"`
	Workers []worker.Stats `json:"workers"`
}
