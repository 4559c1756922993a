// Package registry implements the pluggable protocol registry (spec.md
// §4.12, component C12): a named map of Protocol factories for each of six
// slots (clients/servers × HTTP/1, HTTP/2, HTTP/3), populated with the
// first-party implementations and augmentable from externally discovered
// alternative codecs.
//
// Grounded on spec.md §6's "protocol registry plugin format" (slot_name,
// plugin_name, factory_reference) and the original `protocols/_registry.py`
// (`_examples/original_source/`)'s `load_entry_points`; Go has no runtime
// entry-points analogue, so LoadPlugins takes a caller-supplied slice
// instead of scanning installed packages (see DESIGN.md Open Question 4).
package registry

import (
	"fmt"
	"sync"

	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
	"github.com/akamai/hface/proto2"
	"github.com/akamai/hface/proto3"
)

// Slot names one of the six (role, version) factory buckets, matching
// spec.md §6's `http{1,2,3}_{clients,servers}` grammar.
type Slot string

const (
	HTTP1Clients Slot = "http1_clients"
	HTTP1Servers Slot = "http1_servers"
	HTTP2Clients Slot = "http2_clients"
	HTTP2Servers Slot = "http2_servers"
	HTTP3Clients Slot = "http3_clients"
	HTTP3Servers Slot = "http3_servers"
)

// DefaultName is the key LoadDefaults registers the first-party
// implementation under in every slot.
const DefaultName = "default"

// Factory constructs a fresh Protocol instance for its slot's (role,
// version). The concrete value also implements proto.ByteStreamProtocol
// (HTTP/1, HTTP/2 slots) or proto.DatagramProtocol (HTTP/3 slots); callers
// that know the slot's version know which to assert to.
type Factory func() proto.Protocol

// Descriptor is one pluggable entry: spec.md §6's (slot_name, plugin_name,
// factory_reference) triple.
type Descriptor struct {
	Slot    Slot
	Name    string
	Factory Factory
}

// Registry holds the named factories for all six slots. Safe for
// concurrent use; lookups happen from connection-accepting goroutines while
// LoadPlugins may run concurrently during startup augmentation.
type Registry struct {
	mu    sync.RWMutex
	slots map[Slot]map[string]Factory
}

// New returns an empty registry. Most callers want New() followed by
// LoadDefaults().
func New() *Registry {
	return &Registry{slots: make(map[Slot]map[string]Factory)}
}

// Register adds or replaces one named factory in a slot.
func (r *Registry) Register(slot Slot, name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.slots[slot]
	if !ok {
		m = make(map[string]Factory)
		r.slots[slot] = m
	}
	m[name] = f
}

// Lookup returns the named factory for a slot, or ok=false if absent.
func (r *Registry) Lookup(slot Slot, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.slots[slot][name]
	return f, ok
}

// LoadDefaults populates DefaultName in every slot with this module's own
// proto1/proto2/proto3 implementations.
func (r *Registry) LoadDefaults() {
	r.Register(HTTP1Clients, DefaultName, func() proto.Protocol { return proto1.New(proto.RoleClient) })
	r.Register(HTTP1Servers, DefaultName, func() proto.Protocol { return proto1.New(proto.RoleServer) })
	r.Register(HTTP2Clients, DefaultName, func() proto.Protocol { return proto2.New(proto.RoleClient) })
	r.Register(HTTP2Servers, DefaultName, func() proto.Protocol { return proto2.New(proto.RoleServer) })
	r.Register(HTTP3Clients, DefaultName, func() proto.Protocol { return proto3.New(proto.RoleClient) })
	r.Register(HTTP3Servers, DefaultName, func() proto.Protocol { return proto3.New(proto.RoleServer) })
}

// LoadPlugins augments the registry from a caller-supplied slice of
// descriptors, this module's substitute for the Python original's
// filesystem entry-point discovery (spec.md §6, §12).
func (r *Registry) LoadPlugins(descriptors []Descriptor) error {
	for _, d := range descriptors {
		if d.Name == "" || d.Factory == nil {
			return fmt.Errorf("registry: invalid plugin descriptor for slot %q", d.Slot)
		}
		r.Register(d.Slot, d.Name, d.Factory)
	}
	return nil
}
