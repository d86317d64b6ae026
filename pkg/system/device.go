// Package system assembles workers, scopes, and devices into a runnable
// whole and provides the foreground entrypoint.
package system

import "fmt"

// Node is a NUMA-ish placement hint for a device. The runtime does not
// interpret it; scopes carry it through for callers that do.
type Node struct {
	num int
}

// Num returns the node number.
func (n *Node) Num() int { return n.num }

func (n *Node) String() string { return fmt.Sprintf("Node(%d)", n.num) }

// Device is an inert handle for a compute device bound into scopes.
// Device management proper (enumeration, HAL init) lives outside this
// runtime; the handle exists so scopes have something to bind.
type Device struct {
	name string
	node *Node
}

// NewHostCPUDevice creates the host CPU device handle.
func NewHostCPUDevice(name string, node *Node) *Device {
	return &Device{name: name, node: node}
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Node returns the device's placement node.
func (d *Device) Node() *Node { return d.node }

func (d *Device) String() string { return fmt.Sprintf("Device(%s)", d.name) }
