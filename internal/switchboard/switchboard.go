// Package switchboard implements the switch/port subsystem (C8): a
// named directory of PORT-kind endpoints with three layers of dispatch
// policy for traffic arriving from a bound peer — a per-port hook, a
// switch-wide hook, and a default broadcast to compatible siblings —
// plus the in-process xfer family that injects frames the other way,
// out toward each port's bound peer. It is the Go counterpart of the
// original library's ep_switch.c.
package switchboard

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"epfabric/errcode"
	"epfabric/internal/endpoint"
	"epfabric/internal/payload"
)

// MaxNameLen is spec.md §4.7's port-name length bound.
const MaxNameLen = 15

// Hook is a switch-wide on-data callback: (source port name, payload).
type Hook func(portName string, payload []byte)

// PortHook is a per-port on-data callback that overrides Hook for the
// traffic that one named port receives.
type PortHook func(payload []byte)

// Switch is one named directory of ports, plus its dispatch hooks.
type Switch struct {
	reg *endpoint.Registry

	mu        sync.Mutex
	ports     map[string]int // name -> endpoint descriptor
	names     map[int]string // descriptor -> name
	hook      Hook
	portHooks map[string]PortHook
}

// New creates an empty switch bound to reg, the registry its ports
// will be allocated from.
func New(reg *endpoint.Registry) *Switch {
	return &Switch{
		reg:       reg,
		ports:     make(map[string]int),
		names:     make(map[int]string),
		portHooks: make(map[string]PortHook),
	}
}

// Port creates a new PORT-kind endpoint named name, owned by sw.
func (sw *Switch) Port(name string) (int, error) {
	if len(name) == 0 || len(name) > MaxNameLen {
		return -1, errcode.New(errcode.InvalidArgument, "switchboard.Port", "name too long", nil)
	}
	sw.mu.Lock()
	if _, exists := sw.ports[name]; exists {
		sw.mu.Unlock()
		return -1, errcode.New(errcode.Conflict, "switchboard.Port", "name taken", nil)
	}
	sw.mu.Unlock()

	backend := &endpoint.PortBackend{Name: name}
	backend.Dispatch = func(payload []byte) error {
		sw.dispatch(name, payload)
		return nil
	}
	ep, err := sw.reg.Open(endpoint.PORT, "", backend)
	if err != nil {
		return -1, err
	}

	sw.mu.Lock()
	sw.ports[name] = ep.ID
	sw.names[ep.ID] = name
	sw.mu.Unlock()
	return ep.ID, nil
}

// ClosePort closes the port named name: unbinds it (if bound), closes
// the underlying endpoint, and removes it from the switch.
func (sw *Switch) ClosePort(name string) error {
	sw.mu.Lock()
	id, ok := sw.ports[name]
	if !ok {
		sw.mu.Unlock()
		return errcode.New(errcode.NotFound, "switchboard.ClosePort", name, nil)
	}
	delete(sw.ports, name)
	delete(sw.names, id)
	delete(sw.portHooks, name)
	sw.mu.Unlock()
	return sw.reg.Close(id)
}

// SetHook installs (or clears, with nil) the switch-wide on-data hook.
func (sw *Switch) SetHook(h Hook) {
	sw.mu.Lock()
	sw.hook = h
	sw.mu.Unlock()
}

// SetPortHook installs (or clears, with nil) a per-port on-data hook
// that overrides the switch-wide hook for name's traffic only.
func (sw *Switch) SetPortHook(name string, h PortHook) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, ok := sw.ports[name]; !ok {
		return errcode.New(errcode.NotFound, "switchboard.SetPortHook", name, nil)
	}
	if h == nil {
		delete(sw.portHooks, name)
		return nil
	}
	sw.portHooks[name] = h
	return nil
}

// Xfer injects payload into the named port from in-process code: it
// flows out toward the port's bound peer, if any (spec.md §4.7).
func (sw *Switch) Xfer(name string, payload []byte) error {
	ep, err := sw.find(name)
	if err != nil {
		return err
	}
	backend := ep.Backend.(*endpoint.PortBackend)
	backend.Emit(payload)
	return nil
}

// GPIOXfer, SPIXfer, I2CXfer, and SysfsXfer pre-format the kind-
// specific request payload (spec.md §4.5) and forward it into the
// named port, the typed helper family §4.7 calls for.
func (sw *Switch) GPIOXfer(name string, value byte) error {
	return sw.Xfer(name, payload.GPIOOut(value))
}

func (sw *Switch) SPIXfer(name string, tx []byte, read bool) error {
	return sw.Xfer(name, payload.SPI(tx, read))
}

func (sw *Switch) I2CXfer(name string, addr uint16, write []byte, rlen uint16) error {
	return sw.Xfer(name, payload.I2C(addr, write, rlen))
}

func (sw *Switch) SysfsXfer(name string, attr, value string, write bool) error {
	return sw.Xfer(name, payload.Sysfs(attr, value, write))
}

// NameOf returns the port name owning descriptor id, for callers (the
// root package's Close) that only have the descriptor.
func (sw *Switch) NameOf(id int) (string, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	name, ok := sw.names[id]
	return name, ok
}

// PortCount reports how many ports sw currently owns, so a caller can
// enforce spec.md's "a switch is destroyed when no ports remain"
// lifecycle rule before releasing it.
func (sw *Switch) PortCount() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.ports)
}

func (sw *Switch) find(name string) (*endpoint.Endpoint, error) {
	sw.mu.Lock()
	id, ok := sw.ports[name]
	sw.mu.Unlock()
	if !ok {
		return nil, errcode.New(errcode.NotFound, "switchboard", name, nil)
	}
	ep, ok := sw.reg.Find(id)
	if !ok {
		return nil, errcode.New(errcode.NotFound, "switchboard", name, nil)
	}
	return ep, nil
}

// dispatch implements the three-tier policy spec.md §4.7 assigns to a
// payload arriving at a bound port: per-port hook, then switch-wide
// hook, then a default broadcast to every other port whose bound peer
// is compatible with the source's bound peer.
func (sw *Switch) dispatch(srcName string, data []byte) {
	sw.mu.Lock()
	if ph, ok := sw.portHooks[srcName]; ok {
		sw.mu.Unlock()
		ph(data)
		return
	}
	if sw.hook != nil {
		h := sw.hook
		sw.mu.Unlock()
		h(srcName, data)
		return
	}
	sw.mu.Unlock()
	sw.broadcast(srcName, data)
}

// broadcast delivers data to every sibling port except srcName whose
// bound peer is compatible with srcName's bound peer, skipping
// unbound ports. It snapshots the port set before delivering so a
// hook that binds/closes/creates ports mid-broadcast can't corrupt the
// iteration (spec.md's design note on re-entrant on_data).
func (sw *Switch) broadcast(srcName string, data []byte) {
	srcEP, err := sw.find(srcName)
	if err != nil {
		return
	}
	var srcPeerKind endpoint.Kind
	var srcBound bool
	if partnerID := srcEP.PartnerID(); partnerID >= 0 {
		if partner, ok := sw.reg.Find(partnerID); ok {
			srcPeerKind = partner.Kind
			srcBound = true
		}
	}

	sw.mu.Lock()
	names := maps.Keys(sw.ports)
	sw.mu.Unlock()
	slices.Sort(names) // deterministic broadcast order

	for _, name := range names {
		if name == srcName {
			continue
		}
		ep, err := sw.find(name)
		if err != nil {
			continue
		}
		partnerID := ep.PartnerID()
		if partnerID < 0 {
			continue
		}
		if srcBound {
			partner, ok := sw.reg.Find(partnerID)
			if !ok || !endpoint.Compatible(srcPeerKind, partner.Kind) {
				continue
			}
		}
		backend := ep.Backend.(*endpoint.PortBackend)
		backend.Emit(data)
	}
}
