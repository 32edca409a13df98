package dynamixel

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// PortHandle identifies a port within a PortRegistry.
type PortHandle int

// PortRegistry owns the ports of a program. Registering the same device
// path twice returns the existing port.
type PortRegistry struct {
	mu     sync.Mutex
	ports  []*Port
	byName map[string]PortHandle
	opts   []PortOption
}

// NewPortRegistry creates an empty registry. opts apply to every port it creates.
func NewPortRegistry(opts ...PortOption) *PortRegistry {
	return &PortRegistry{
		byName: make(map[string]PortHandle),
		opts:   opts,
	}
}

// Register returns the handle for name, creating the port on first use.
// opts are applied after the registry defaults and only on creation.
func (r *PortRegistry) Register(name string, opts ...PortOption) PortHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byName[name]; ok {
		return h
	}
	all := make([]PortOption, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)

	h := PortHandle(len(r.ports))
	r.ports = append(r.ports, NewPort(name, all...))
	r.byName[name] = h
	return h
}

// Port resolves a handle.
func (r *PortRegistry) Port(h PortHandle) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h < 0 || int(h) >= len(r.ports) {
		return nil, errors.Errorf("unknown port handle %d", h)
	}
	return r.ports[h], nil
}

// Lookup returns the handle registered for name.
func (r *PortRegistry) Lookup(name string) (PortHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byName[name]
	return h, ok
}

// Len returns the number of registered ports.
func (r *PortRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ports)
}

// CloseAll closes every open port. Ports stay registered.
func (r *PortRegistry) CloseAll() error {
	r.mu.Lock()
	ports := append([]*Port(nil), r.ports...)
	r.mu.Unlock()

	var err error
	for _, p := range ports {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// Group is implemented by every group engine.
type Group interface {
	Port() *Port
	ClearParam()
}

// GroupHandle identifies a group within a GroupRegistry.
type GroupHandle int

// GroupRegistry owns group engines. Handles of removed groups are never reused.
type GroupRegistry struct {
	mu     sync.Mutex
	groups []Group
}

// NewGroupRegistry creates an empty registry.
func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{}
}

// Add registers g and returns its handle.
func (r *GroupRegistry) Add(g Group) GroupHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, g)
	return GroupHandle(len(r.groups) - 1)
}

// Group resolves a handle.
func (r *GroupRegistry) Group(h GroupHandle) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h < 0 || int(h) >= len(r.groups) || r.groups[h] == nil {
		return nil, errors.Errorf("unknown group handle %d", h)
	}
	return r.groups[h], nil
}

// GroupAs resolves a handle to a concrete group engine type.
func GroupAs[T Group](r *GroupRegistry, h GroupHandle) (T, error) {
	var zero T
	g, err := r.Group(h)
	if err != nil {
		return zero, err
	}
	t, ok := g.(T)
	if !ok {
		return zero, errors.Errorf("group %d is a %T", h, g)
	}
	return t, nil
}

// Remove clears and forgets the group.
func (r *GroupRegistry) Remove(h GroupHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h < 0 || int(h) >= len(r.groups) || r.groups[h] == nil {
		return errors.Errorf("unknown group handle %d", h)
	}
	r.groups[h].ClearParam()
	r.groups[h] = nil
	return nil
}

// Len returns the number of live groups.
func (r *GroupRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.CountBy(r.groups, func(g Group) bool { return g != nil })
}

// ClearAll clears and forgets every group.
func (r *GroupRegistry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, g := range r.groups {
		if g != nil {
			g.ClearParam()
			r.groups[i] = nil
		}
	}
}
