// Package endpoint implements the endpoint registry and the nine
// endpoint kinds (IPC, INET, TTY, GPIO, SPI, I2C, SYSFS, LOOP, PORT),
// the direct counterpart of the original library's ep_core.c/ep.h plus
// the per-kind ep_*.c backends.
package endpoint

import (
	"sync"

	"epfabric/errcode"
	"epfabric/internal/dtable"
	"epfabric/internal/ring"
)

// Kind is the closed set of endpoint backends.
type Kind int

const (
	IPC Kind = iota
	INET
	TTY
	GPIO
	SPI
	I2C
	SYSFS
	LOOP
	PORT
)

func (k Kind) String() string {
	switch k {
	case IPC:
		return "ipc"
	case INET:
		return "inet"
	case TTY:
		return "tty"
	case GPIO:
		return "gpio"
	case SPI:
		return "spi"
	case I2C:
		return "i2c"
	case SYSFS:
		return "sysfs"
	case LOOP:
		return "loop"
	case PORT:
		return "port"
	default:
		return "unknown"
	}
}

// compat bitmasks mirror ep.h's COMPATIBLE_WITH macro family: each
// kind advertises the set of kinds it alone is willing to bind to.
// LOOP and PORT are universally compatible; PORT additionally admits a
// one-directional relaxation (see Compatible below) since a port must
// be bindable to any endpoint kind even when that kind's own mask
// doesn't name PORT explicitly.
type compatMask uint16

const maskAny compatMask = ^compatMask(0)

func bit(k Kind) compatMask { return 1 << uint(k) }

var defaultCompat = map[Kind]compatMask{
	IPC:   maskAny,
	INET:  maskAny,
	TTY:   bit(IPC),
	GPIO:  bit(IPC),
	SPI:   bit(IPC),
	I2C:   bit(IPC),
	SYSFS: bit(IPC),
	LOOP:  maskAny,
	PORT:  maskAny,
}

// Compatible reports whether a and b may be bound together: each side
// must admit the other, unless one side is PORT or LOOP, which admit
// (and are admitted by) everything — the one-directional relaxation
// spec.md §4.4/invariant 6 describes for PORT.
func Compatible(a, b Kind) bool {
	if a == PORT || a == LOOP || b == PORT || b == LOOP {
		return true
	}
	return defaultCompat[a]&bit(b) != 0 && defaultCompat[b]&bit(a) != 0
}

// Backend is the per-kind vtable: Open establishes the underlying
// resource from a parsed URI path, Close releases it, OnData is
// invoked with one complete frame payload destined for the backend
// (e.g. to write out over a TTY/GPIO/etc.), and Kind identifies which
// closed-set member this is.
type Backend interface {
	Open(path string) error
	Close() error
	OnData(payload []byte) error
	Kind() Kind
}

// EndpointAware is implemented by backends that want a reference to
// their own Endpoint record (IPCBackend). Registry.Register calls
// SetEndpoint once, right after allocating the descriptor.
type EndpointAware interface {
	SetEndpoint(ep *Endpoint)
}

// Streamer is implemented by backends fronting a real byte stream
// (IPC, INET, TTY): raw OS-level Read/Write, bridged to the bound peer
// channel by the relay in relay.go.
type Streamer interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Emitter is implemented by backends that send frames toward the bound
// peer without a byte stream: GPIO edge events, SPI/I2C/SYSFS replies
// produced by OnData, and LOOP/PORT in-process xfer calls. The relay
// installs the emit function once binding succeeds, and Unbind clears
// it; the backend calls it with one complete frame payload per event.
type Emitter interface {
	SetEmit(emit func(payload []byte))
}

// Endpoint is a single registered object: a kind, its backend, and
// (once bound) the peer channel and partner id joining it to another
// endpoint.
type Endpoint struct {
	ID      int
	Kind    Kind
	Backend Backend

	mu        sync.Mutex
	peer      *ring.Pair
	partnerID int
	bound     bool
	done      chan struct{} // closed when this bind cycle ends, stops relay goroutines
}

// Bound reports whether this endpoint currently has a live peer channel.
func (e *Endpoint) Bound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bound
}

// PartnerID returns the bound partner's descriptor, or -1 if unbound.
func (e *Endpoint) PartnerID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.bound {
		return -1
	}
	return e.partnerID
}

// Registry is the descriptor table of live endpoints, capacity-bounded
// per spec.md (128 entries by default).
type Registry struct {
	mu    sync.Mutex
	table *dtable.Table[*Endpoint]
}

// DefaultCapacity is spec.md's recommended endpoint table size.
const DefaultCapacity = 128

// NewRegistry builds a registry with the given capacity.
func NewRegistry(capacity int) *Registry {
	return &Registry{table: dtable.New[*Endpoint](capacity)}
}

// Register allocates a descriptor for an already-opened backend.
func (r *Registry) Register(kind Kind, backend Backend) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := &Endpoint{Kind: kind, Backend: backend, partnerID: -1}
	id, err := r.table.Alloc(ep)
	if err != nil {
		return nil, err
	}
	ep.ID = id
	if aware, ok := backend.(EndpointAware); ok {
		aware.SetEndpoint(ep)
	}
	return ep, nil
}

// Find looks up a live endpoint by descriptor.
func (r *Registry) Find(id int) (*Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Get(id)
}

// Unregister removes id from the table without invoking the backend's
// Close. It exists only to roll back a failed Open: the backend's own
// Open already released whatever partial resource it had acquired
// before returning its error, so there is nothing left for Close to do.
func (r *Registry) Unregister(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table.Del(id)
}

// Open is the registry half of spec.md §4.4's open(uri) sequence:
// allocate a descriptor for backend, then invoke its kind-specific
// Open with path. On failure the descriptor is unregistered so no
// half-built endpoint is ever observable to a caller — mirroring
// ep_core.c's register-then-open-then-rollback order.
func (r *Registry) Open(kind Kind, path string, backend Backend) (*Endpoint, error) {
	ep, err := r.Register(kind, backend)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(path); err != nil {
		r.Unregister(ep.ID)
		return nil, err
	}
	return ep, nil
}

// Close unbinds id (if bound), unregisters it, then closes its backend.
func (r *Registry) Close(id int) error {
	r.mu.Lock()
	ep, ok := r.table.Get(id)
	r.mu.Unlock()
	if !ok {
		return errcode.New(errcode.NotFound, "endpoint.Close", "", nil)
	}

	if ep.Bound() {
		if err := r.Unbind(id, ep.PartnerID()); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.table.Del(id)
	r.mu.Unlock()
	return ep.Backend.Close()
}

// Bind joins lh and rh with a fresh bidirectional peer channel of the
// given per-direction byte capacity. Both sides must currently be
// unbound and mutually compatible; binding either condition's failure
// leaves both endpoints untouched (no partial state), matching
// ep_core.c's bind_endpoint.
func (r *Registry) Bind(lhID, rhID int, capacity int) error {
	if lhID == rhID {
		return errcode.New(errcode.InvalidArgument, "endpoint.Bind", "cannot bind an endpoint to itself", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lh, ok := r.table.Get(lhID)
	if !ok {
		return errcode.New(errcode.NotFound, "endpoint.Bind", "lh", nil)
	}
	rh, ok := r.table.Get(rhID)
	if !ok {
		return errcode.New(errcode.NotFound, "endpoint.Bind", "rh", nil)
	}
	if lh.Bound() || rh.Bound() {
		return errcode.New(errcode.Conflict, "endpoint.Bind", "already bound", nil)
	}
	if !Compatible(lh.Kind, rh.Kind) {
		return errcode.New(errcode.Incompatible, "endpoint.Bind", "", nil)
	}

	pair := ring.NewPair(capacity)
	doneLH, doneRH := make(chan struct{}), make(chan struct{})
	lh.mu.Lock()
	lh.peer, lh.partnerID, lh.bound, lh.done = pair, rhID, true, doneLH
	lh.mu.Unlock()
	rh.mu.Lock()
	rh.peer, rh.partnerID, rh.bound, rh.done = pair, lhID, true, doneRH
	rh.mu.Unlock()

	r.startRelay(lh)
	r.startRelay(rh)
	return nil
}

// Unbind tears down the peer channel joining id and its (expected)
// partner. It is idempotent: unbinding an already-unbound endpoint is
// a no-op, matching the original's idempotent unbind_endpoint.
func (r *Registry) Unbind(id, partnerID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.table.Get(id)
	if !ok || !ep.Bound() {
		return nil
	}
	partner, ok := r.table.Get(partnerID)

	ep.mu.Lock()
	if ep.done != nil {
		close(ep.done)
	}
	ep.peer, ep.partnerID, ep.bound, ep.done = nil, -1, false, nil
	ep.mu.Unlock()
	if e, isEmitter := ep.Backend.(Emitter); isEmitter {
		e.SetEmit(nil)
	}

	if ok {
		partner.mu.Lock()
		if partner.done != nil {
			close(partner.done)
		}
		partner.peer, partner.partnerID, partner.bound, partner.done = nil, -1, false, nil
		partner.mu.Unlock()
		if e, isEmitter := partner.Backend.(Emitter); isEmitter {
			e.SetEmit(nil)
		}
	}
	return nil
}

// Peer returns the bound peer channel and partner id, or ok=false if
// id is unbound.
func (e *Endpoint) Peer() (*ring.Pair, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.bound {
		return nil, -1, false
	}
	return e.peer, e.partnerID, true
}

// doneCh returns the channel closed when the current bind cycle ends,
// or nil if unbound.
func (e *Endpoint) doneCh() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
