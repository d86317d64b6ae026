package system

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/worker"
)

// Scope groups a set of devices with the worker that dispatches compute
// to them. Processes bind to a scope and run on its worker.
type Scope struct {
	id      string
	system  *System
	worker  *worker.Worker
	devices []*Device
}

// ID returns the scope's unique id.
func (s *Scope) ID() string { return s.id }

// System returns the owning system.
func (s *Scope) System() *System { return s.system }

// Worker returns the worker compute in this scope is dispatched on.
func (s *Scope) Worker() *worker.Worker { return s.worker }

// Devices returns the scope's device set.
func (s *Scope) Devices() []*Device { return s.devices }

// Device looks a device up by name.
func (s *Scope) Device(name string) (*Device, error) {
	for _, d := range s.devices {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, core.Errorf(core.CodeFailedPrecondition, "no device %q in scope %s", name, s.id)
}

func (s *Scope) String() string {
	return fmt.Sprintf("Scope(id=%s, worker=%s)", s.id, s.worker.Name())
}

func newScope(sys *System, w *worker.Worker) *Scope {
	return &Scope{
		id:      "scope." + uuid.New().String(),
		system:  sys,
		worker:  w,
		devices: sys.devices,
	}
}
